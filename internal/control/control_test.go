package control_test

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/collector"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/control"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

func TestQueryReadsDirectlyFromDiskWithoutACollector(t *testing.T) {
	dir := t.TempDir()
	mgr := auditfile.New(dir, 0)
	require.NoError(t, mgr.Open(0))
	_, err := mgr.Append(&record.Record{Type: record.TypeLoginSuccess, Flags: record.FlagLive}, time.Unix(500, 0))
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	idx := index.New(4)
	idx.PushNew(index.Item{CTime: 1, FileNum: 0, FileSize: mgr.Size()})
	require.NoError(t, idx.Save(dir))

	rows, id, err := control.Query(dir, 3, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(500), rows[0].Time)
}

func TestDeleteTombstonesAndReturnsCount(t *testing.T) {
	dir := t.TempDir()
	mgr := auditfile.New(dir, 0)
	require.NoError(t, mgr.Open(0))
	_, err := mgr.Append(&record.Record{Type: record.TypeLoginSuccess, Flags: record.FlagLive}, time.Unix(500, 0))
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	idx := index.New(4)
	idx.PushNew(index.Item{CTime: 1, FileNum: 0, FileSize: mgr.Size()})
	require.NoError(t, idx.Save(dir))

	n, id, err := control.Delete(dir, 3, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, n)

	rows, _, err := control.Query(dir, 3, 0, 1000)
	require.NoError(t, err)
	assert.Empty(t, rows, "deleted record must no longer be returned by a query")
}

func TestFacadeReloadRotateTerminateReachTheCollector(t *testing.T) {
	dir := t.TempDir()
	pr, pw := io.Pipe()
	defer pw.Close()

	cfg := &config.Snapshot{
		AuditEnabled:    true,
		Directory:       dir,
		Timezone:        time.UTC,
		RemainThreshold: 8,
		SpaceLimit:      1 << 30,
		CleanupPolicy:   config.SpacePriority,
	}

	c := collector.New(dir, pr, cfg, nil)
	require.NoError(t, c.Start(time.Now()))
	done := make(chan error, 1)
	go func() { done <- c.Run() }()

	f := control.New(c)
	assert.NotEmpty(t, f.Reload(cfg))
	assert.NotEmpty(t, f.Rotate())
	assert.NotEmpty(t, f.Terminate())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not shut down after Terminate")
	}
}
