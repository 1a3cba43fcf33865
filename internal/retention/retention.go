// Package retention is the retention controller (component C7): it
// reconciles the per-file size, per-file age, total space, and retained
// file count limits, evicting the oldest files until all constraints are
// satisfied again.
package retention

import (
	"os"

	"code.cloudfoundry.org/bytefmt"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/config"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/log"
)

const (
	// spaceIntervalSize is the step at which the overshoot warning
	// escalates: once per additional 10 MiB over SpaceLimit (spec §4.7).
	spaceIntervalSize uint64 = 10 * 1024 * 1024
	// spaceMaximumSize is the absolute ceiling a time-priority policy may
	// never grow total retained space past, regardless of RemainAge.
	spaceMaximumSize uint64 = 1024 * 1024 * 1024 * 1024 // 1 TiB
)

// Controller runs the eviction loop and tracks the running totals and the
// high-water mark used to throttle the overshoot warning.
type Controller struct {
	TotalSpace      uint64
	spaceBeyondSize uint64 // 0 until the first Run seeds it with SpaceLimit; then 10MiB steps
}

// Run evicts files from idx until neither the space nor the count
// constraint is violated, or until only the current (open) file remains.
// It also stops early when the time-priority policy protects the oldest
// file, or when the oldest file cannot be removed. dir is the audit directory the files live under; currentSize is the
// size of the still-open current file, counted toward the space budget
// but never itself evicted.
func (c *Controller) Run(idx *index.Table, dir string, currentSize uint64, cfg *config.Snapshot) {
	if c.spaceBeyondSize == 0 {
		c.spaceBeyondSize = cfg.SpaceLimit
	}
	remainAgeSeconds := int64(cfg.RemainAge.Seconds())

	for c.TotalSpace+currentSize >= cfg.SpaceLimit || idx.Count > cfg.RemainThreshold {
		if idx.BegIdx == idx.CurIdx {
			// Never evict the only (currently open) file.
			break
		}
		victim := idx.Begin()
		next := idx.Successor(idx.BegIdx)

		if idx.Count <= cfg.RemainThreshold &&
			cfg.CleanupPolicy == config.TimePriority &&
			remainAgeSeconds > 0 &&
			c.TotalSpace+currentSize <= spaceMaximumSize {

			overshoot := c.TotalSpace + currentSize - cfg.SpaceLimit
			if overshoot >= c.spaceBeyondSize-cfg.SpaceLimit {
				log.Warn("retention: audit space (%s) exceeds space_limit (%s) by about %s",
					bytefmt.ByteSize(c.TotalSpace+currentSize), bytefmt.ByteSize(cfg.SpaceLimit),
					bytefmt.ByteSize(c.spaceBeyondSize-cfg.SpaceLimit+spaceIntervalSize))
				c.spaceBeyondSize += spaceIntervalSize
			}

			victimAge := idx.LastAuditTime - absTime(victim.CTime)
			keepByVictim := remainAgeSeconds >= victimAge
			keepByNext := next != nil && remainAgeSeconds > idx.LastAuditTime-absTime(next.CTime)
			if keepByVictim || keepByNext {
				break // time-priority policy protects the oldest file(s)
			}
		}

		path := auditfile.Path(dir, victim.FileNum)
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				log.Warn("retention: could not remove audit file %s: %v", path, err)
				break
			}
		}

		switch {
		case (cfg.CleanupPolicy == config.SpacePriority || remainAgeSeconds == 0) &&
			c.TotalSpace+currentSize >= cfg.SpaceLimit:
			log.Warn("retention: audit file total space (%s) exceeds space_limit (%s)",
				bytefmt.ByteSize(c.TotalSpace+currentSize), bytefmt.ByteSize(cfg.SpaceLimit))
		case cfg.CleanupPolicy == config.TimePriority && remainAgeSeconds > 0 &&
			c.TotalSpace+currentSize >= cfg.SpaceLimit:
			log.Warn("retention: based on time-priority policy, the oldest audit file is beyond "+
				"remain_age or total space (%s) exceeds space_limit (%s)",
				bytefmt.ByteSize(c.TotalSpace+currentSize), bytefmt.ByteSize(cfg.SpaceLimit))
		}
		if idx.Count > cfg.RemainThreshold {
			log.Warn("retention: audit file count (%d) exceeds remain_threshold (%d)", idx.Count, cfg.RemainThreshold)
		}
		log.Warn("retention: removed audit file %s", path)

		evicted, ok := idx.EvictOldest()
		if !ok {
			break
		}
		c.TotalSpace -= uint64(evicted.FileSize)
		if err := idx.Save(dir); err != nil {
			log.Error("retention: failed to persist index after eviction: %v", err)
		}
	}
}

func absTime(t int64) int64 {
	if t < 0 {
		return -t
	}
	return t
}
