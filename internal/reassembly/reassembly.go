// Package reassembly implements the per-producer partial-message
// accumulators (component C2): 256 buckets, selected by pid mod 256, each
// an ordered collection of reusable slots.
package reassembly

const numBuckets = 256

type slot struct {
	pid  uint64 // 0 means the slot is inactive and reusable
	data []byte
}

// Buffers holds all 256 buckets. Buckets never shrink; inactive slots are
// reused so bucket growth is bounded by the peak number of concurrent
// in-flight producers that hash to the same bucket.
type Buffers struct {
	buckets [numBuckets][]*slot
}

func New() *Buffers {
	return &Buffers{}
}

// FlushFunc receives a reassembled message for one producer.
type FlushFunc func(pid uint64, message []byte)

// Append accumulates one chunk's payload for pid. On the final chunk it
// invokes flush with the complete message and releases the slot.
func (b *Buffers) Append(pid uint64, payload []byte, isLast bool, flush FlushFunc) {
	bucket := pid % numBuckets
	s := b.findOrAllocate(bucket, pid)
	s.data = append(s.data, payload...)

	if isLast {
		msg := s.data
		s.pid = 0
		s.data = nil
		flush(pid, msg)
	}
}

// findOrAllocate returns the slot already tracking pid, or the first
// inactive (pid==0) slot, extending the bucket if none is free.
func (b *Buffers) findOrAllocate(bucket uint64, pid uint64) *slot {
	list := b.buckets[bucket]
	var free *slot
	for _, s := range list {
		if s.pid == pid {
			return s
		}
		if s.pid == 0 && free == nil {
			free = s
		}
	}
	if free != nil {
		free.pid = pid
		return free
	}
	s := &slot{pid: pid}
	b.buckets[bucket] = append(list, s)
	return s
}

// FlushAll flushes every still-active slot as-is, even if incomplete, to
// avoid losing data at shutdown (spec §4.2).
func (b *Buffers) FlushAll(flush FlushFunc) {
	for i := range b.buckets {
		for _, s := range b.buckets[i] {
			if s.pid != 0 {
				flush(s.pid, s.data)
				s.pid = 0
				s.data = nil
			}
		}
	}
}

// InFlight reports the number of producers with a partial message
// currently buffered, for diagnostics.
func (b *Buffers) InFlight() int {
	n := 0
	for i := range b.buckets {
		for _, s := range b.buckets[i] {
			if s.pid != 0 {
				n++
			}
		}
	}
	return n
}
