// Package textsink implements the Overlay/Text Sink custom-sink variant:
// a per-time-range ledger of renderable elements, selected by a clock
// combining a periodic tick and seek/seeked/ended events.
package textsink

import (
	"sort"
	"sync"
	"time"

	"adaptive-player/internal/model"
	"adaptive-player/internal/surface"
)

// Cue is one renderable element with a time-bounded visibility window.
type Cue struct {
	Start   float64
	End     float64
	Payload any
}

// Region hosts the currently-attached element (e.g. a DOM node in a real
// player); here it's a callback pair so tests can observe attach/detach.
type Region struct {
	Attach func(Cue)
	Detach func(Cue)
}

// Sink maintains the cue ledger and drives attach/detach through Region.
type Sink struct {
	mu       sync.Mutex
	typ      model.TrackType
	cues     []Cue
	region   Region
	attached *Cue
	aborted  bool
}

// New returns a text/image Sink rendering into region.
func New(t model.TrackType, region Region) *Sink {
	return &Sink{typ: t, region: region}
}

func (s *Sink) Kind() surface.SinkKind    { return surface.SinkCustom }
func (s *Sink) Type() model.TrackType      { return s.typ }

// Append decodes data into cues; in this minimal implementation data is
// ignored and cues are added via AddCue directly (the real text-parser
// integration is out of scope).
func (s *Sink) Append(data []byte) error { return nil }

// AddCue inserts a cue into the ledger, keeping it sorted by Start.
func (s *Sink) AddCue(c Cue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cues = append(s.cues, c)
	sort.Slice(s.cues, func(i, j int) bool { return s.cues[i].Start < s.cues[j].Start })
}

func (s *Sink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	if s.attached != nil && s.region.Detach != nil {
		s.region.Detach(*s.attached)
	}
	s.attached = nil
	s.cues = nil
}

func (s *Sink) BufferedRanges() []surface.BufferedRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]surface.BufferedRange, len(s.cues))
	for i, c := range s.cues {
		out[i] = surface.BufferedRange{Start: c.Start, End: c.End}
	}
	return out
}

func (s *Sink) Quota() bool { return false }

// updateIntervalEpsilonDivisor spreads selection error across
// sub-intervals: epsilon = interval/3000.
const updateIntervalEpsilonDivisor = 3000.0

// OnTick selects the cue whose [start,end) contains currentTime-epsilon
// and switches the attached element: the previous element is removed
// before the new one is attached; an equal cue (same Start, End and
// Payload values) is a no-op.
func (s *Sink) OnTick(currentTime float64, updateInterval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return
	}

	epsilon := updateInterval.Seconds() / updateIntervalEpsilonDivisor
	t := currentTime - epsilon

	var next *Cue
	for i := range s.cues {
		c := &s.cues[i]
		if t >= c.Start && t < c.End {
			next = c
			break
		}
	}

	switch {
	case next == nil && s.attached == nil:
		return
	case next == nil:
		if s.region.Detach != nil {
			s.region.Detach(*s.attached)
		}
		s.attached = nil
	case s.attached != nil && cueEqual(*s.attached, *next):
		return
	default:
		if s.attached != nil && s.region.Detach != nil {
			s.region.Detach(*s.attached)
		}
		if s.region.Attach != nil {
			s.region.Attach(*next)
		}
		s.attached = next
	}
}

func cueEqual(a, b Cue) bool {
	return a.Start == b.Start && a.End == b.End && a.Payload == b.Payload
}
