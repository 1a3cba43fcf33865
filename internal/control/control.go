// Package control is the operator-facing facade over the collector
// (spec §6 Control surface): reload, rotate, terminate, query, and
// delete. Every call is tagged with a correlation id so multiple
// operators or log lines can be tied back to the same request, mirroring
// the teacher's client-request-id convention.
package control

import (
	"github.com/google/uuid"

	"github.com/Eric5553/pgaudit-collector/internal/collector"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/query"
	"github.com/Eric5553/pgaudit-collector/internal/tombstone"
)

// Facade wires the control-surface operations to a running Collector.
// Query and Delete deliberately do not go through the collector at all:
// per spec §3, they read the index table from disk and stream through
// C8/C9 directly, so they work against a directory even when no
// collector process is attached to it (e.g. inspecting an archived
// snapshot copied elsewhere).
type Facade struct {
	c *collector.Collector
}

// New wires a Facade to a running Collector for reload/rotate/terminate.
func New(c *collector.Collector) *Facade {
	return &Facade{c: c}
}

// Reload queues a new configuration snapshot on the collector loop.
func (f *Facade) Reload(cfg *config.Snapshot) string {
	id := uuid.NewString()
	log.Info("control[%s]: reload requested", id)
	f.c.RequestReload(cfg)
	return id
}

// Rotate forces one rotation on the next loop iteration.
func (f *Facade) Rotate() string {
	id := uuid.NewString()
	log.Info("control[%s]: rotate requested", id)
	f.c.RequestRotate()
	return id
}

// Terminate requests an orderly shutdown.
func (f *Facade) Terminate() string {
	id := uuid.NewString()
	log.Info("control[%s]: terminate requested", id)
	f.c.RequestTerminate()
	return id
}

// Query runs a half-open time-range scan, optionally against a directory
// other than the live audit directory (reading a foreign snapshot per
// spec §4.8).
func Query(dir string, remainThreshold uint32, begin, end int64) ([]query.Row, string, error) {
	id := uuid.NewString()
	log.Info("control[%s]: query [%d, %d) over %s", id, begin, end, dir)
	idx := index.Load(dir, remainThreshold+1)
	rows, err := query.Run(dir, idx, begin, end)
	return rows, id, err
}

// Delete tombstones every live record in [begin, end) under dir,
// returning the number of records affected.
func Delete(dir string, remainThreshold uint32, begin, end int64) (int, string, error) {
	id := uuid.NewString()
	log.Info("control[%s]: delete [%d, %d) over %s", id, begin, end, dir)
	idx := index.Load(dir, remainThreshold+1)
	n, err := tombstone.Run(dir, idx, begin, end)
	return n, id, err
}
