package surface

import (
	"sync"

	"adaptive-player/internal/errs"
	"adaptive-player/internal/model"
)

// MemSink is an in-process Sink usable as both the native-sink stand-in
// (no real media-source-extension backing exists in this repository) and
// as the custom sink base for text/image tracks.
type MemSink struct {
	mu       sync.Mutex
	kind     SinkKind
	typ      model.TrackType
	capacity int // bytes; 0 means unbounded
	used     int
	aborted  bool
	quota    bool
	ranges   []BufferedRange
}

// NewMemSink returns a MemSink with the given capacity (0 = unbounded).
func NewMemSink(kind SinkKind, t model.TrackType, capacity int) *MemSink {
	return &MemSink{kind: kind, typ: t, capacity: capacity}
}

func (m *MemSink) Kind() SinkKind       { return m.kind }
func (m *MemSink) Type() model.TrackType { return m.typ }

// Append accepts data, failing with a quota error once capacity is
// exceeded (buffer-full path, Appending state).
func (m *MemSink) Append(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.aborted {
		return errs.New(errs.KindMedia, "SINK_ABORTED", nil)
	}
	if m.capacity > 0 && m.used+len(data) > m.capacity {
		m.quota = true
		return errs.New(errs.KindMedia, errs.CodeBufferFull, nil)
	}
	m.quota = false
	m.used += len(data)
	return nil
}

// AppendRange records a buffered time range in addition to Append's byte
// accounting; the buffer component calls both so BufferedRanges reflects
// time, not bytes.
func (m *MemSink) AppendRange(start, end float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = append(m.ranges, BufferedRange{Start: start, End: end})
}

// Evict drops buffered ranges within [start, end), freeing an equal share
// of capacity (capacity divided by the range count before eviction) per
// dropped range (garbage-collect path).
func (m *MemSink) Evict(start, end float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.ranges[:0:0]
	freed := 0
	for _, r := range m.ranges {
		if r.Start >= start && r.End <= end {
			freed++
			continue
		}
		out = append(out, r)
	}
	m.ranges = out
	if freed > 0 && m.capacity > 0 {
		share := m.capacity / max(1, len(m.ranges)+freed)
		m.used -= share * freed
		if m.used < 0 {
			m.used = 0
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m *MemSink) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	m.ranges = nil
	m.used = 0
}

func (m *MemSink) BufferedRanges() []BufferedRange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BufferedRange, len(m.ranges))
	copy(out, m.ranges)
	return out
}

func (m *MemSink) Quota() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota
}

// Aborted reports whether Abort has been called, used by tests asserting
// the Surface teardown guarantee.
func (m *MemSink) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}
