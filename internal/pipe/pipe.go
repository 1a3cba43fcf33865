// Package pipe implements the atomic chunked framing protocol shared
// between many producer writers and the single collector reader
// (component C1). A chunk is a fixed-prefix frame of at most PIPE_CHUNK
// bytes, written with exactly one atomic write(2) per chunk.
package pipe

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/Eric5553/pgaudit-collector/internal/log"
)

const (
	// posixPipeBufFloor is the minimum PIPE_BUF guaranteed by POSIX when the
	// platform doesn't expose a larger atomic-write guarantee.
	posixPipeBufFloor = 512
	// linuxPipeBuf is PIPE_BUF on Linux, the collector's primary target.
	linuxPipeBuf = 4096
	// maxChunk caps PIPE_CHUNK even on platforms with a larger PIPE_BUF.
	maxChunk = 65536
)

// headerSize is nuls(2) + len(2) + pid(8) + isLast(1).
const headerSize = 2 + 2 + 8 + 1

// ChunkSize is PIPE_CHUNK: min(PIPE_BUF, 65536), floored at the POSIX
// minimum. Computed once at init so the reader and writer always agree.
var ChunkSize = computeChunkSize()

func computeChunkSize() int {
	size := linuxPipeBuf
	if size < posixPipeBufFloor {
		size = posixPipeBufFloor
	}
	if size > maxChunk {
		size = maxChunk
	}
	return size
}

// MaxPayload is the largest payload a single chunk can carry.
func MaxPayload() int { return ChunkSize - headerSize }

// Chunk is one framed unit of the protocol.
type Chunk struct {
	PID     uint64
	IsLast  bool
	Payload []byte
}

// Writer splits a producer's message into atomically-written chunks.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// atomicWriter is satisfied by *os.File; a partial write is surfaced as an
// error rather than silently looping, per spec: a refused or truncated
// write means the chunk is lost, and retrying risks infinite loops and
// interleaving with other producers.
type atomicWriter interface {
	Write(p []byte) (int, error)
}

// Write frames payload as one or more chunks and writes each with exactly
// one call to the underlying writer. pid must be non-zero. A zero-length
// payload emits no chunks at all (every wire-format record has a
// positive encoded size, so this never arises for real audit data).
func (w *Writer) Write(pid uint64, payload []byte) error {
	if pid == 0 {
		return errors.New("pipe: pid must be non-zero")
	}
	if len(payload) == 0 {
		return nil
	}
	maxPayload := MaxPayload()
	for off := 0; off < len(payload); off += maxPayload {
		end := off + maxPayload
		isLast := end >= len(payload)
		if end > len(payload) {
			end = len(payload)
		}
		if err := w.writeChunk(pid, isLast, payload[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeChunk(pid uint64, isLast bool, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	buf[0], buf[1] = 0, 0
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:], pid)
	if isLast {
		buf[12] = 't'
	} else {
		buf[12] = 'f'
	}
	copy(buf[headerSize:], payload)

	n, err := w.w.Write(buf)
	if err != nil {
		return errors.Wrap(err, "pipe: chunk write failed")
	}
	if n != len(buf) {
		// A short write is indistinguishable from a lost chunk: the reader
		// will resync on the next sentinel. We do not retry (spec §4.1).
		return errors.Errorf("pipe: short write, chunk lost (%d of %d bytes)", n, len(buf))
	}
	return nil
}

// ChunkHandler receives a validated chunk.
type ChunkHandler func(c Chunk)

// PassthroughHandler receives non-protocol bytes, copied verbatim.
type PassthroughHandler func(p []byte)

// Reader reassembles chunks out of a byte stream read in up to
// 2*ChunkSize-sized reads, per spec §4.1.
type Reader struct {
	buf          []byte // residue carried across Feed calls
	onChunk      ChunkHandler
	onPassthrough PassthroughHandler
}

func NewReader(onChunk ChunkHandler, onPassthrough PassthroughHandler) *Reader {
	return &Reader{onChunk: onChunk, onPassthrough: onPassthrough}
}

// ReadBufSize is the size callers should use for the buffer passed to a
// single read(2) call feeding this reader, 2*PIPE_CHUNK per spec §4.1/§4.10.
func ReadBufSize() int { return 2 * ChunkSize }

// Feed processes newly-read bytes, dispatching complete chunks and
// passthrough runs, and retains any incomplete trailing chunk for the
// next call.
func (r *Reader) Feed(data []byte) {
	r.buf = append(r.buf, data...)

	for {
		if len(r.buf) < headerSize {
			return
		}
		if r.buf[0] == 0 && r.buf[1] == 0 {
			length := binary.LittleEndian.Uint16(r.buf[2:])
			pid := binary.LittleEndian.Uint64(r.buf[4:])
			isLastByte := r.buf[12]
			maxPayload := MaxPayload()
			valid := length > 0 && int(length) <= maxPayload && pid != 0 &&
				(isLastByte == 't' || isLastByte == 'f')
			if valid {
				need := headerSize + int(length)
				if len(r.buf) < need {
					return // wait for more data
				}
				payload := make([]byte, length)
				copy(payload, r.buf[headerSize:need])
				r.onChunk(Chunk{PID: pid, IsLast: isLastByte == 't', Payload: payload})
				r.buf = r.buf[need:]
				continue
			}
		}
		// Not a valid chunk prefix: scan forward to the next NUL and emit
		// the bytes up to it as non-protocol passthrough (stray stderr
		// output interleaved on the same pipe).
		idx := bytes.IndexByte(r.buf, 0)
		if idx < 0 {
			// No terminator yet in the buffered residue; if it has reached
			// the read buffer size (two chunks), flush all but the last byte to avoid unbounded
			// growth waiting for passthrough data that may never arrive.
			if len(r.buf) >= ReadBufSize() {
				log.Warn("pipe: passthrough run exceeds read buffer, flushing %d bytes", len(r.buf)-1)
				r.onPassthrough(r.buf[:len(r.buf)-1])
				r.buf = r.buf[len(r.buf)-1:]
			}
			return
		}
		if idx > 0 {
			r.onPassthrough(r.buf[:idx])
		}
		r.buf = r.buf[idx:]
		// Skip the single NUL acting as a resync point so we don't loop
		// forever treating it as a zero-length passthrough run.
		if len(r.buf) > 0 {
			r.buf = r.buf[1:]
		}
	}
}

// Pending reports how many bytes of residue Feed is holding for the next
// call (an incomplete chunk or a passthrough run with no NUL yet).
func (r *Reader) Pending() int { return len(r.buf) }
