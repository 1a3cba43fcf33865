// Package rotation is the rotation controller (component C6): it decides
// when to close the current audit file and open the next one, and
// computes the next scheduled rotation time.
package rotation

import (
	"time"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/log"
)

// ComputeNextRotationTime returns the next multiple of rotationAge minutes,
// in tz, strictly greater than now. A zero rotationAge disables
// time-based rotation and yields the zero time.
func ComputeNextRotationTime(now time.Time, rotationAge time.Duration, tz *time.Location) time.Time {
	if rotationAge <= 0 {
		return time.Time{}
	}
	local := now.In(tz)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
	elapsed := local.Sub(dayStart)
	n := elapsed / rotationAge
	next := dayStart.Add((n + 1) * rotationAge)
	for !next.After(local) {
		next = next.Add(rotationAge)
	}
	return next
}

// Controller tracks the scheduling state the collector loop consults each
// iteration (spec §4.10 step 4/6).
type Controller struct {
	NextRotationTime time.Time
	RotationDisabled bool
	Requested        bool // external "rotate" control request, coalesced
}

// Recompute refreshes NextRotationTime from the current configuration,
// called at startup and whenever RotationAge changes on reload
// (spec §4.10 step 3).
func (c *Controller) Recompute(now time.Time, cfg *config.Snapshot) {
	c.NextRotationTime = ComputeNextRotationTime(now, cfg.RotationAge, cfg.Timezone)
}

// TimeTriggered reports whether time-based rotation should fire.
func (c *Controller) TimeTriggered(now time.Time, cfg *config.Snapshot) bool {
	return cfg.RotationAge > 0 && !c.NextRotationTime.IsZero() && !now.Before(c.NextRotationTime)
}

// SizeTriggered reports whether size-based rotation should fire: the
// current file at or beyond RotationSize or SpaceLimit (spec §4.6 (ii)).
func (c *Controller) SizeTriggered(curSize uint64, cfg *config.Snapshot) bool {
	if cfg.RotationSize > 0 && curSize >= cfg.RotationSize {
		return true
	}
	return cfg.SpaceLimit > 0 && curSize >= cfg.SpaceLimit
}

// RequestRotate marks an external rotate request. Idempotent: repeated
// requests before the loop services them coalesce into one (spec §5).
func (c *Controller) RequestRotate() { c.Requested = true }

// ClearRequest is called once the pending request has been serviced.
func (c *Controller) ClearRequest() { c.Requested = false }

// Rotate closes the current file (freezing its slot's size into idx and
// accumulating into totalSpace), advances the ring, and opens the next
// file. timeBased selects whether the new slot's creation time is the
// planned NextRotationTime (avoiding name slippage when rotation is
// serviced late, spec §4.6) rather than now.
func (c *Controller) Rotate(mgr *auditfile.Manager, idx *index.Table, totalSpace *uint64, now time.Time, timeBased bool) error {
	oldSize := mgr.Size()
	newFileNum := mgr.FileNum() + 1

	if err := mgr.Open(newFileNum); err != nil {
		if auditfile.IsFileTableFull(err) {
			log.Warn("rotation: %v, keeping current file and retrying next cycle", err)
			return nil
		}
		c.RotationDisabled = true
		log.Error("rotation: failed to open next file, disabling rotation until reload: %v", err)
		return err
	}

	idx.FinalizeCurrent(oldSize)
	*totalSpace += uint64(oldSize)

	creation := now
	if timeBased {
		creation = c.NextRotationTime
	}
	idx.PushNew(index.Item{CTime: creation.Unix(), FileNum: newFileNum, FileSize: 0})
	c.RotationDisabled = false
	c.ClearRequest()
	return nil
}

// OnReload clears RotationDisabled so the next cycle retries opening a
// file, per spec §4.10 step 3 / §4.6.
func (c *Controller) OnReload() {
	c.RotationDisabled = false
}
