// Package model holds the immutable data model shared by the orchestrator
// and its collaborators: manifests, periods, adaptations, representations,
// and segment descriptors.
package model

import "sort"

// TrackType is a track kind within a period.
type TrackType string

const (
	TrackAudio TrackType = "audio"
	TrackVideo TrackType = "video"
	TrackText  TrackType = "text"
	TrackImage TrackType = "image"
)

// Segment is a descriptor only; bytes flow separately through Transport.
type Segment struct {
	ID         string
	Time       float64
	Duration   float64
	MediaRange *ByteRange
	IndexRange *ByteRange
	IsInit     bool
}

// ByteRange is an inclusive byte offset range within a resource.
type ByteRange struct {
	Start int64
	End   int64
}

// Indexer maps a wanted time range to the segments covering it. A real
// indexer is owned by the manifest parser, out of scope here; this
// interface is the seam the orchestrator and buffer depend on.
type Indexer interface {
	SegmentsFor(start, end float64) []Segment
	InitSegment() (Segment, bool)
}

// Representation is a concrete encoding within an Adaptation.
type Representation struct {
	ID          string
	Bitrate     int
	MimeType    string
	Codecs      string
	InitSegment *Segment
	Indexer     Indexer
}

// Adaptation is a selectable variant group for a track type within a period.
// Invariant: Representations is non-empty.
type Adaptation struct {
	ID              string
	Type            TrackType
	Representations []Representation
}

// RepresentationByID returns the representation with the given ID, if any.
func (a *Adaptation) RepresentationByID(id string) (*Representation, bool) {
	for i := range a.Representations {
		if a.Representations[i].ID == id {
			return &a.Representations[i], true
		}
	}
	return nil, false
}

// Period is a contiguous time interval of the presentation with a fixed
// adaptation set. Invariant: periods are non-overlapping and ordered by
// Start within a Manifest.
type Period struct {
	ID          string
	Start       float64
	Duration    *float64 // nil for the last period of a live manifest
	Adaptations map[TrackType][]Adaptation
}

// End returns the period's end time, or ok=false if open-ended (live edge).
func (p *Period) End() (float64, bool) {
	if p.Duration == nil {
		return 0, false
	}
	return p.Start + *p.Duration, true
}

// Contains reports whether t falls within [Start, End) or, for an
// open-ended period, within [Start, +inf).
func (p *Period) Contains(t float64) bool {
	if t < p.Start {
		return false
	}
	end, ok := p.End()
	if !ok {
		return true
	}
	return t < end
}

// PlatformMaxDuration stands in for Infinity: duration=Infinity is
// persisted as this value and never compared as Infinity downstream.
const PlatformMaxDuration = float64(1 << 53)

// Manifest is an immutable per-fetch snapshot. Update merges a refreshed
// snapshot into this one in place, preserving identity of already-seen
// Period objects (period.ID stable across refreshes).
type Manifest struct {
	URL      string
	IsLive   bool
	Periods  []*Period
	duration float64
	version  uint64
}

// NewManifest constructs a manifest snapshot. duration may be
// math.Inf(1); it is clamped to PlatformMaxDuration immediately.
func NewManifest(url string, isLive bool, duration float64, periods []*Period) *Manifest {
	sort.Slice(periods, func(i, j int) bool { return periods[i].Start < periods[j].Start })
	return &Manifest{
		URL:      url,
		IsLive:   isLive,
		Periods:  periods,
		duration: clampDuration(duration),
		version:  1,
	}
}

func clampDuration(d float64) float64 {
	if d > PlatformMaxDuration || d != d { // d != d catches NaN defensively
		return PlatformMaxDuration
	}
	return d
}

// GetDuration returns the manifest's duration, clamped per
// PlatformMaxDuration.
func (m *Manifest) GetDuration() float64 { return m.duration }

// GetURL returns the manifest's source URL.
func (m *Manifest) GetURL() string { return m.URL }

// Version returns the monotonically increasing version bumped on Update.
func (m *Manifest) Version() uint64 { return m.version }

// GetPeriodForTime returns the period containing t, or nil if none does
// (used by the orchestrator to fail MediaStartingTimeNotFound).
func (m *Manifest) GetPeriodForTime(t float64) *Period {
	for _, p := range m.Periods {
		if p.Contains(t) {
			return p
		}
	}
	return nil
}

// NextPeriodAfter returns the first period whose Start is >= t (used for
// period look-ahead spawning). A period starting exactly at t is returned;
// one that began before t and still contains it is not.
func (m *Manifest) NextPeriodAfter(t float64) *Period {
	for _, p := range m.Periods {
		if p.Start >= t {
			return p
		}
	}
	return nil
}

// Update merges a refreshed snapshot into m in place: periods already
// present (by ID) are kept (preserving object identity for subscribers
// holding a *Period), new periods are appended, and duration/IsLive/version
// are refreshed. Update is idempotent: applying the same snapshot twice
// leaves m equal after the first application.
func (m *Manifest) Update(fresh *Manifest) {
	existing := make(map[string]*Period, len(m.Periods))
	for _, p := range m.Periods {
		existing[p.ID] = p
	}

	merged := make([]*Period, 0, len(fresh.Periods))
	changed := m.duration != fresh.duration || m.IsLive != fresh.IsLive
	for _, fp := range fresh.Periods {
		if old, ok := existing[fp.ID]; ok {
			if !periodsEqual(old, fp) {
				*old = *fp
				changed = true
			}
			merged = append(merged, old)
			continue
		}
		merged = append(merged, fp)
		changed = true
	}
	if len(merged) != len(m.Periods) {
		changed = true
	}

	m.Periods = merged
	m.duration = fresh.duration
	m.IsLive = fresh.IsLive
	if changed {
		m.version++
	}
}

func periodsEqual(a, b *Period) bool {
	if a.Start != b.Start {
		return false
	}
	if (a.Duration == nil) != (b.Duration == nil) {
		return false
	}
	if a.Duration != nil && *a.Duration != *b.Duration {
		return false
	}
	return len(a.Adaptations) == len(b.Adaptations)
}
