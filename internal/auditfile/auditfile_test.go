package auditfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

func TestOpenCreatesFileWithRestrictedMode(t *testing.T) {
	dir := t.TempDir()
	m := auditfile.New(dir, 0)
	require.NoError(t, m.Open(0))
	defer m.Close()

	info, err := os.Stat(auditfile.Path(dir, 0))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(auditfile.FileMode), info.Mode().Perm())
	assert.Equal(t, uint32(0), m.Size())
	assert.Equal(t, uint32(0), m.FileNum())
}

func TestOpenReopensExistingFileWithCurrentSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3_adt"), []byte("abcde"), auditfile.FileMode))

	m := auditfile.New(dir, 0)
	require.NoError(t, m.Open(3))
	defer m.Close()
	assert.Equal(t, uint32(5), m.Size())
}

func TestAppendStampsTimeAndGrowsSize(t *testing.T) {
	dir := t.TempDir()
	m := auditfile.New(dir, 0)
	require.NoError(t, m.Open(0))
	defer m.Close()

	rec := &record.Record{Type: record.TypeLoginSuccess, Result: record.ResultOK, Time: 12345}
	now := time.Unix(999, 0)
	n, err := m.Append(rec, now)
	require.NoError(t, err)
	assert.Equal(t, record.EncodedSize(rec), n)
	assert.Equal(t, uint32(n), m.Size())
	// Append overwrites the producer-supplied time with now, never keeping it.
	assert.Equal(t, now.Unix(), rec.Time)

	data, err := os.ReadFile(auditfile.Path(dir, 0))
	require.NoError(t, err)
	got, consumed, err := record.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), consumed)
	assert.Equal(t, now.Unix(), got.Time)
}

func TestAppendPassthroughWritesVerbatimAndGrowsSize(t *testing.T) {
	dir := t.TempDir()
	m := auditfile.New(dir, 0)
	require.NoError(t, m.Open(0))
	defer m.Close()

	n, err := m.AppendPassthrough([]byte("stray stderr"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, uint32(12), m.Size())

	data, err := os.ReadFile(auditfile.Path(dir, 0))
	require.NoError(t, err)
	assert.Equal(t, "stray stderr", string(data))
}

func TestAppendWithNoOpenFileErrors(t *testing.T) {
	m := auditfile.New(t.TempDir(), 0)
	_, err := m.Append(&record.Record{}, time.Now())
	assert.Error(t, err)
}

func TestOpenSwapsOutPriorHandle(t *testing.T) {
	dir := t.TempDir()
	m := auditfile.New(dir, 0)
	require.NoError(t, m.Open(0))
	require.NoError(t, m.Open(1))
	defer m.Close()
	assert.Equal(t, uint32(1), m.FileNum())
}
