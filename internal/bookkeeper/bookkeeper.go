// Package bookkeeper maintains the per-sink segment ledger used for
// gap/overlap detection.
package bookkeeper

import (
	"sort"
	"sync"

	"adaptive-player/internal/model"
)

// Entry is one ledger row: a buffered time range backed by a specific
// segment/representation/adaptation/period tuple.
type Entry struct {
	BufferedStart  float64
	BufferedEnd    float64
	Segment        model.Segment
	Representation model.Representation
	AdaptationID   string
	PeriodID       string
}

func (e Entry) sameSource(o Entry) bool {
	return e.PeriodID == o.PeriodID && e.AdaptationID == o.AdaptationID && e.Representation.ID == o.Representation.ID
}

// Bookkeeper is the ordered ledger for a single sink.
type Bookkeeper struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty Bookkeeper.
func New() *Bookkeeper {
	return &Bookkeeper{}
}

// Insert records a newly-appended segment, merging with an abutting entry
// when (period, adaptation, representation) match, and clipping any
// existing entry it overlaps (newest wins).
func (b *Bookkeeper) Insert(seg model.Segment, rep model.Representation, adaptationID, periodID string, start, end float64) {
	if end <= start {
		return // rejected with a warning by the caller.
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := Entry{
		BufferedStart:  start,
		BufferedEnd:    end,
		Segment:        seg,
		Representation: rep,
		AdaptationID:   adaptationID,
		PeriodID:       periodID,
	}

	out := make([]Entry, 0, len(b.entries)+1)
	inserted := false
	for _, e := range b.entries {
		switch {
		case e.sameSource(next) && e.BufferedEnd >= next.BufferedStart && e.BufferedStart <= next.BufferedEnd:
			// abutting/overlapping same source: coalesce.
			if e.BufferedStart < next.BufferedStart {
				next.BufferedStart = e.BufferedStart
			}
			if e.BufferedEnd > next.BufferedEnd {
				next.BufferedEnd = e.BufferedEnd
			}
		case e.BufferedEnd <= next.BufferedStart || e.BufferedStart >= next.BufferedEnd:
			// no overlap
			out = append(out, e)
		default:
			// overlap with a different source: newest wins, clip the old one.
			if e.BufferedStart < next.BufferedStart {
				out = append(out, Entry{
					BufferedStart:  e.BufferedStart,
					BufferedEnd:    next.BufferedStart,
					Segment:        e.Segment,
					Representation: e.Representation,
					AdaptationID:   e.AdaptationID,
					PeriodID:       e.PeriodID,
				})
			}
			if e.BufferedEnd > next.BufferedEnd {
				out = append(out, Entry{
					BufferedStart:  next.BufferedEnd,
					BufferedEnd:    e.BufferedEnd,
					Segment:        e.Segment,
					Representation: e.Representation,
					AdaptationID:   e.AdaptationID,
					PeriodID:       e.PeriodID,
				})
			}
		}
		_ = inserted
	}
	out = append(out, next)
	sort.Slice(out, func(i, j int) bool { return out[i].BufferedStart < out[j].BufferedStart })
	b.entries = out
}

// EntriesBelowBitrate returns the buffered ranges recorded from a
// representation whose bitrate is strictly less than bitrate, used by a
// representation-switch flush to find segments worth dropping.
func (b *Bookkeeper) EntriesBelowBitrate(bitrate int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Entry
	for _, e := range b.entries {
		if e.Representation.Bitrate < bitrate {
			out = append(out, e)
		}
	}
	return out
}

// Remove drops entries fully contained within [start, end), used after a
// flush evicts the matching ranges from the sink.
func (b *Bookkeeper) Remove(start, end float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.entries[:0:0]
	for _, e := range b.entries {
		if e.BufferedStart >= start && e.BufferedEnd <= end {
			continue
		}
		out = append(out, e)
	}
	b.entries = out
}

// Get returns the entry covering t, if any.
func (b *Bookkeeper) Get(t float64) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		if t >= e.BufferedStart && t < e.BufferedEnd {
			return e, true
		}
	}
	return Entry{}, false
}

// Ranges returns the current covered ranges, ordered ascending.
func (b *Bookkeeper) Ranges() []model.ByteRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.ByteRange, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, model.ByteRange{Start: int64(e.BufferedStart * 1000), End: int64(e.BufferedEnd * 1000)})
	}
	return out
}

// BufferedRange is a sink-reported buffered time range, used by
// Synchronize to prune entries evicted by the browser/platform.
type BufferedRange struct {
	Start float64
	End   float64
}

// Synchronize prunes ledger entries no longer backed by any of the sink's
// reported buffered ranges, keeping the ledger's union of ranges a subset
// of the sink's actual buffered ranges.
func (b *Bookkeeper) Synchronize(sinkRanges []BufferedRange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.entries[:0:0]
	for _, e := range b.entries {
		clipped, ok := clipToAny(e, sinkRanges)
		if ok {
			out = append(out, clipped)
		}
	}
	b.entries = out
}

func clipToAny(e Entry, ranges []BufferedRange) (Entry, bool) {
	for _, r := range ranges {
		start := max(e.BufferedStart, r.Start)
		end := min(e.BufferedEnd, r.End)
		if end > start {
			e.BufferedStart, e.BufferedEnd = start, end
			return e, true
		}
	}
	return e, false
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Registry is the lazy, construct-on-first-use keyed store of per-track
// Bookkeepers. There is no global state: each orchestrator run owns its
// own Registry.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*Bookkeeper
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*Bookkeeper)}
}

// For returns the Bookkeeper for key, creating it on first use.
func (r *Registry) For(key string) *Bookkeeper {
	r.mu.Lock()
	defer r.mu.Unlock()
	bk, ok := r.byKey[key]
	if !ok {
		bk = New()
		r.byKey[key] = bk
	}
	return bk
}

// Delete removes the Bookkeeper for key, e.g. when a track is disposed.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, key)
}
