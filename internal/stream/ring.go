package stream

import "sync"

// Ring capacity and the size the buffer is trimmed to when capacity is hit.
// Trimming in batches keeps appends amortized O(1) without reslicing on
// every record.
const (
	RingCapacity = 100
	RingTrimTo   = 60
)

// Ring is a bounded, thread-safe buffer of parsed records. The engine's
// tailer writes; status queries read.
type Ring struct {
	mu      sync.Mutex
	records []Record
}

// NewRing creates an empty ring.
func NewRing() *Ring {
	return &Ring{records: make([]Record, 0, RingCapacity)}
}

// Append adds records, trimming to the most recent RingTrimTo entries once
// RingCapacity is exceeded.
func (r *Ring) Append(records ...Record) {
	if len(records) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, records...)
	if len(r.records) > RingCapacity {
		kept := make([]Record, RingTrimTo, RingCapacity)
		copy(kept, r.records[len(r.records)-RingTrimTo:])
		r.records = kept
	}
}

// Snapshot returns a copy of the buffered records, oldest first.
func (r *Ring) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Reset clears the buffer for a new session.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = r.records[:0]
}
