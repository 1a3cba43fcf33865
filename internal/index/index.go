// Package index implements the audit index table (component C4): a
// fixed-capacity ring of file descriptors plus metadata that drives
// rotation, retention, and time-bounded queries.
package index

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/Eric5553/pgaudit-collector/internal/log"
)

// FileName is the name of the on-disk index file under the audit directory.
const FileName = "index_table"

// magic is written first and used to detect a foreign-endianness index
// file. The spec leaves the on-disk byte order as an implementation
// choice (host order in the original C collector, not portable across
// hosts); this port canonicalizes to little-endian and refuses to load an
// index file that doesn't start with this magic, rather than guess.
const magic = uint32(0x41445831) // ASCII "ADX1" read as a big-endian uint32

// itemSize is ctime(int64) + filenum(uint32) + filesize(uint32).
const itemSize = 8 + 4 + 4

// headerSize is magic(4) + maxnum(4) + begidx(4) + curidx(4) + count(4) +
// last_audit_time(8).
const headerSize = 4 + 4 + 4 + 4 + 4 + 8

// Item is one slot in the ring: the creation time, file number, and size
// of one audit file. A negative CTime means the system clock was observed
// to go backwards while this file was the active one; its absolute value
// is the original creation time.
type Item struct {
	CTime    int64
	FileNum  uint32
	FileSize uint32
}

// Table is the in-memory ring, mirrored to disk on every mutation.
type Table struct {
	MaxNum        uint32
	BegIdx        uint32
	CurIdx        uint32
	Count         uint32
	LastAuditTime int64
	Data          []Item
}

// New creates an empty table with the given capacity (RemainThreshold+1).
func New(maxNum uint32) *Table {
	if maxNum == 0 {
		maxNum = 1
	}
	return &Table{
		MaxNum: maxNum,
		Data:   make([]Item, maxNum),
	}
}

// Load reads dir/index_table, or returns a fresh empty table (with the
// requested capacity) if the file is absent or malformed. A malformed
// index file is logged and treated as absent per spec §7, never fatal.
func Load(dir string, maxNum uint32) *Table {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("index: failed to read %s, starting fresh: %v", path, err)
		}
		return New(maxNum)
	}
	t, err := decode(data)
	if err != nil {
		log.Warn("index: malformed %s, starting fresh: %v", path, err)
		return New(maxNum)
	}
	return t
}

func decode(data []byte) (*Table, error) {
	if len(data) < headerSize {
		return nil, errors.New("index: file too short for header")
	}
	if m := binary.LittleEndian.Uint32(data[0:]); m != magic {
		return nil, errors.New("index: bad magic (foreign byte order or corrupt file)")
	}
	t := &Table{}
	t.MaxNum = binary.LittleEndian.Uint32(data[4:])
	t.BegIdx = binary.LittleEndian.Uint32(data[8:])
	t.CurIdx = binary.LittleEndian.Uint32(data[12:])
	t.Count = binary.LittleEndian.Uint32(data[16:])
	t.LastAuditTime = int64(binary.LittleEndian.Uint64(data[20:]))

	want := headerSize + int(t.MaxNum)*itemSize
	if len(data) < want {
		return nil, errors.Errorf("index: truncated, want %d bytes have %d", want, len(data))
	}
	t.Data = make([]Item, t.MaxNum)
	off := headerSize
	for i := range t.Data {
		t.Data[i].CTime = int64(binary.LittleEndian.Uint64(data[off:]))
		t.Data[i].FileNum = binary.LittleEndian.Uint32(data[off+8:])
		t.Data[i].FileSize = binary.LittleEndian.Uint32(data[off+12:])
		off += itemSize
	}
	return t, nil
}

func (t *Table) encode() []byte {
	buf := make([]byte, headerSize+len(t.Data)*itemSize)
	binary.LittleEndian.PutUint32(buf[0:], magic)
	binary.LittleEndian.PutUint32(buf[4:], t.MaxNum)
	binary.LittleEndian.PutUint32(buf[8:], t.BegIdx)
	binary.LittleEndian.PutUint32(buf[12:], t.CurIdx)
	binary.LittleEndian.PutUint32(buf[16:], t.Count)
	binary.LittleEndian.PutUint64(buf[20:], uint64(t.LastAuditTime))
	off := headerSize
	for _, it := range t.Data {
		binary.LittleEndian.PutUint64(buf[off:], uint64(it.CTime))
		binary.LittleEndian.PutUint32(buf[off+8:], it.FileNum)
		binary.LittleEndian.PutUint32(buf[off+12:], it.FileSize)
		off += itemSize
	}
	return buf
}

// Save rewrites the index file in full; there is no partial-update path
// (spec §4.4).
func (t *Table) Save(dir string) error {
	path := filepath.Join(dir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, t.encode(), 0o600); err != nil {
		return errors.Wrapf(err, "index: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "index: rename %s to %s", tmp, path)
	}
	return nil
}

// Empty reports whether the ring currently holds no slots.
func (t *Table) Empty() bool { return t.Count == 0 }

// Current returns the slot for the open, still-growing file.
func (t *Table) Current() *Item {
	if t.Empty() {
		return nil
	}
	return &t.Data[t.CurIdx]
}

// Begin returns the oldest retained slot.
func (t *Table) Begin() *Item {
	if t.Empty() {
		return nil
	}
	return &t.Data[t.BegIdx]
}

// successor returns the ring index following i, wrapping at MaxNum.
func (t *Table) successor(i uint32) uint32 {
	return (i + 1) % t.MaxNum
}

// Successor returns the slot ring-following i (the slot created after i),
// or nil if i is the current (last) slot.
func (t *Table) Successor(i uint32) *Item {
	if i == t.CurIdx {
		return nil
	}
	n := t.successor(i)
	return &t.Data[n]
}

// PushNew opens a new slot for a newly-created file, advancing CurIdx. The
// very first call on an empty table occupies BegIdx==CurIdx==0.
func (t *Table) PushNew(item Item) {
	if t.Empty() {
		t.BegIdx = 0
		t.CurIdx = 0
		t.Count = 1
	} else {
		t.CurIdx = t.successor(t.CurIdx)
		t.Count++
	}
	t.Data[t.CurIdx] = item
}

// FinalizeCurrent records the size of the currently-open slot; it is
// called after every append and when the slot is rotated out.
func (t *Table) FinalizeCurrent(size uint32) {
	if !t.Empty() {
		t.Data[t.CurIdx].FileSize = size
	}
}

// NegateCurrentCTime flips the sign of the current slot's CTime to mark a
// wall-clock rewind observed while this file was live (spec §5).
func (t *Table) NegateCurrentCTime() {
	if cur := t.Current(); cur != nil && cur.CTime > 0 {
		cur.CTime = -cur.CTime
	}
}

// EvictOldest removes the BegIdx slot (the caller is responsible for
// unlinking its file first) and advances BegIdx. It refuses to evict the
// only remaining (currently open) slot.
func (t *Table) EvictOldest() (Item, bool) {
	if t.Empty() || t.BegIdx == t.CurIdx {
		return Item{}, false
	}
	victim := t.Data[t.BegIdx]
	t.Data[t.BegIdx] = Item{}
	t.BegIdx = t.successor(t.BegIdx)
	if t.Count > 0 {
		t.Count--
	}
	return victim, true
}

// Resize changes the ring's capacity, as required when RemainThreshold
// changes across restarts (spec §4.4). If the old capacity exceeded the
// new one, shrink is invoked first (typically the retention controller)
// to bring Count within the new capacity before the copy; the on-disk
// index file is removed beforehand so a crash mid-resize starts fresh
// rather than reading a mismatched-capacity file.
func (t *Table) Resize(dir string, newMaxNum uint32, shrink func(*Table) error) error {
	if newMaxNum == t.MaxNum {
		return nil
	}
	if t.MaxNum > newMaxNum {
		if err := os.Remove(filepath.Join(dir, FileName)); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "index: remove index file before resize")
		}
		if shrink != nil {
			if err := shrink(t); err != nil {
				return errors.Wrap(err, "index: shrink before resize")
			}
		}
	}

	newData := make([]Item, newMaxNum)
	n := t.Count
	if uint32(len(newData)) < n {
		n = uint32(len(newData))
	}
	idx := t.BegIdx
	for i := uint32(0); i < n; i++ {
		newData[i] = t.Data[idx]
		idx = t.successor(idx)
	}
	t.Data = newData
	t.MaxNum = newMaxNum
	t.BegIdx = 0
	if n > 0 {
		t.CurIdx = n - 1
	} else {
		t.CurIdx = 0
	}
	t.Count = n
	return t.Save(dir)
}

// CanIntersect is pgaudit_check_system ported from the original
// collector: a slot's bracket is [item.CTime, next.CTime) (or open-ended
// for the current, still-growing file). A non-positive CTime means the
// file spans an observed wall-clock rewind, so it can't be pruned by
// time alone and is always treated as intersecting. Used by the query
// and tombstone engines to skip files that cannot possibly contain a
// record in [begin, end) without opening them.
func CanIntersect(item Item, isCurrent bool, next *Item, begin, end int64) bool {
	if item.CTime <= 0 {
		return true
	}
	if isCurrent {
		return item.CTime < end
	}
	if next == nil || next.CTime <= 0 {
		return item.CTime < end
	}

	lo := item.CTime
	if lo < begin {
		lo = begin
	}
	hi := next.CTime
	if hi > end {
		hi = end
	}
	return lo <= hi
}

// Walk invokes fn for each live slot in ring order from BegIdx to CurIdx
// inclusive, stopping early if fn returns false.
func (t *Table) Walk(fn func(idx uint32, item Item) bool) {
	if t.Empty() {
		return
	}
	idx := t.BegIdx
	for {
		if !fn(idx, t.Data[idx]) {
			return
		}
		if idx == t.CurIdx {
			return
		}
		idx = t.successor(idx)
	}
}
