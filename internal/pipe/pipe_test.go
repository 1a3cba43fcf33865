package pipe_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric5553/pgaudit-collector/internal/pipe"
)

func TestWriterReaderRoundTripSingleChunk(t *testing.T) {
	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	require.NoError(t, w.Write(42, []byte("hello")))

	var got []pipe.Chunk
	r := pipe.NewReader(func(c pipe.Chunk) { got = append(got, c) }, func([]byte) { t.Fatal("unexpected passthrough") })
	r.Feed(buf.Bytes())

	require.Len(t, got, 1)
	assert.Equal(t, uint64(42), got[0].PID)
	assert.True(t, got[0].IsLast)
	assert.Equal(t, "hello", string(got[0].Payload))
}

func TestWriterReaderRoundTripMultiChunk(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), pipe.MaxPayload()*2+100)

	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	require.NoError(t, w.Write(7, payload))

	var chunks []pipe.Chunk
	r := pipe.NewReader(func(c pipe.Chunk) { chunks = append(chunks, c) }, func([]byte) {})
	r.Feed(buf.Bytes())

	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].IsLast)
	assert.False(t, chunks[1].IsLast)
	assert.True(t, chunks[2].IsLast)

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c.Payload...)
	}
	assert.Equal(t, payload, reassembled)
}

func TestReaderFeedInPieces(t *testing.T) {
	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	require.NoError(t, w.Write(1, []byte("partial-delivery")))

	var got []pipe.Chunk
	r := pipe.NewReader(func(c pipe.Chunk) { got = append(got, c) }, func([]byte) {})

	data := buf.Bytes()
	mid := len(data) / 2
	r.Feed(data[:mid])
	assert.Empty(t, got, "incomplete chunk should not dispatch yet")
	r.Feed(data[mid:])
	require.Len(t, got, 1)
	assert.Equal(t, "partial-delivery", string(got[0].Payload))
}

func TestReaderPassthroughOnGarbage(t *testing.T) {
	var passthrough [][]byte
	r := pipe.NewReader(func(pipe.Chunk) { t.Fatal("unexpected chunk") },
		func(p []byte) { passthrough = append(passthrough, append([]byte{}, p...)) })

	r.Feed([]byte("stray stderr output\x00"))
	require.Len(t, passthrough, 1)
	assert.Equal(t, "stray stderr output", string(passthrough[0]))
}

func TestReaderPassthroughThenValidChunk(t *testing.T) {
	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	require.NoError(t, w.Write(3, []byte("ok")))

	var chunks []pipe.Chunk
	var passthrough [][]byte
	r := pipe.NewReader(func(c pipe.Chunk) { chunks = append(chunks, c) },
		func(p []byte) { passthrough = append(passthrough, append([]byte{}, p...)) })

	data := append([]byte("garbage\x00"), buf.Bytes()...)
	r.Feed(data)

	require.Len(t, passthrough, 1)
	assert.Equal(t, "garbage", string(passthrough[0]))
	require.Len(t, chunks, 1)
	assert.Equal(t, "ok", string(chunks[0].Payload))
}

func TestWriteRejectsZeroPID(t *testing.T) {
	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	assert.Error(t, w.Write(0, []byte("x")))
}

func TestWriteEmptyPayloadEmitsNoChunks(t *testing.T) {
	var buf bytes.Buffer
	w := pipe.NewWriter(&buf)
	require.NoError(t, w.Write(1, nil))
	assert.Equal(t, 0, buf.Len())
}
