// Package tombstone is the delete engine (component C9): it marks live
// records in a time range as tombstoned in place, never altering file
// length or any other queryable file.
package tombstone

import (
	"encoding/binary"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/Eric5553/pgaudit-collector/internal/auditfile"
	"github.com/Eric5553/pgaudit-collector/internal/index"
	"github.com/Eric5553/pgaudit-collector/internal/log"
	"github.com/Eric5553/pgaudit-collector/internal/record"
)

// flagsOffset is the byte offset of the Flags field within a record
// header, matching the layout record.Encode writes.
const flagsOffset = 6

// Run marks every live record in [begin, end) as tombstoned, using the
// same file-selection bracket as the query engine (component C8) so a
// delete never has to open a file it couldn't possibly touch. It returns
// the number of records tombstoned.
func Run(dir string, idx *index.Table, begin, end int64) (int, error) {
	total := 0

	var walkErr error
	idx.Walk(func(i uint32, item index.Item) bool {
		isCurrent := i == idx.CurIdx
		next := idx.Successor(i)
		if !index.CanIntersect(item, isCurrent, next, begin, end) {
			return true
		}
		n, err := tombstoneFile(dir, item.FileNum, begin, end)
		if err != nil {
			log.Error("tombstone: file %d: %v", item.FileNum, err)
			walkErr = err
		}
		total += n
		return true
	})

	return total, walkErr
}

// tombstoneFile opens fileNum read-write and flips the Flags field of
// every live record in [begin, end) to FlagTombstoned, seeking back to
// each header in place. A corrupted header stops the scan for this file,
// keeping whatever tombstoning already happened (spec §4.9/§7).
func tombstoneFile(dir string, fileNum uint32, begin, end int64) (int, error) {
	path := auditfile.Path(dir, fileNum)
	fp, err := os.OpenFile(path, os.O_RDWR, auditfile.FileMode)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, pkgerrors.Wrapf(err, "tombstone: open %s", path)
	}
	defer fp.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "tombstone: read %s", path)
	}

	count := 0
	off := 0
	for off < len(data) {
		rec, n, err := record.Decode(data[off:])
		if err != nil {
			log.Error("tombstone: corrupt record header in %s at offset %d: %v", path, off, err)
			break
		}
		if rec.Flags == record.FlagLive && rec.Time >= begin && rec.Time < end {
			if err := markTombstoned(fp, off); err != nil {
				return count, pkgerrors.Wrapf(err, "tombstone: rewrite header at %s:%d", path, off)
			}
			count++
		}
		off += n
	}
	return count, nil
}

// markTombstoned overwrites just the two-byte Flags field of the header
// at byte offset off, leaving every other byte of the file untouched and
// the file length unchanged (idempotent: a second call is a no-op write
// of the same value).
func markTombstoned(fp *os.File, off int) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(record.FlagTombstoned))
	_, err := fp.WriteAt(buf[:], int64(off+flagsOffset))
	return err
}
