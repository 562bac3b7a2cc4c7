// Package events defines StreamEvent, the tagged variant emitted to the
// host application.
package events

import "time"

// Kind tags the variant carried by a StreamEvent.
type Kind string

const (
	KindManifestChange      Kind = "manifest_change"
	KindManifestUpdate      Kind = "manifest_update"
	KindAdaptationChange    Kind = "adaptation_change"
	KindRepresentationChange Kind = "representation_change"
	KindBufferFilled        Kind = "buffer_filled"
	KindBufferFinished      Kind = "buffer_finished"
	KindLoaded              Kind = "loaded"
	KindSpeed               Kind = "speed"
	KindStalled             Kind = "stalled"
	KindWarning             Kind = "warning"
	KindFatal               Kind = "fatal"
)

// Range is a clock-relative time interval, e.g. a wanted range.
type Range struct {
	Start float64
	End   float64
}

// StreamEvent is emitted by the orchestrator's merged output stream.
type StreamEvent struct {
	Kind      Kind
	At        time.Time
	StreamID  string
	Track     string // empty for stream-wide events
	PeriodID  string
	Range     *Range
	AdaptationID     string
	RepresentationID string
	Speed     float64
	Stalled   bool
	Err       error
	Message   string
}

func base(kind Kind, streamID string) StreamEvent {
	return StreamEvent{Kind: kind, At: time.Now(), StreamID: streamID}
}

// ManifestChange reports the manifest was (re)loaded from scratch.
func ManifestChange(streamID string) StreamEvent {
	return base(KindManifestChange, streamID)
}

// ManifestUpdate reports an in-place refresh of the existing manifest.
func ManifestUpdate(streamID string) StreamEvent {
	return base(KindManifestUpdate, streamID)
}

// AdaptationChange reports a new adaptation was selected for a track.
func AdaptationChange(streamID, track, periodID, adaptationID string) StreamEvent {
	e := base(KindAdaptationChange, streamID)
	e.Track, e.PeriodID, e.AdaptationID = track, periodID, adaptationID
	return e
}

// RepresentationChange reports an ABR-driven representation switch.
func RepresentationChange(streamID, track, representationID string) StreamEvent {
	e := base(KindRepresentationChange, streamID)
	e.Track, e.RepresentationID = track, representationID
	return e
}

// BufferFilled reports a buffer covered its wanted range.
func BufferFilled(streamID, track string, r Range) StreamEvent {
	e := base(KindBufferFilled, streamID)
	e.Track, e.Range = track, &r
	return e
}

// BufferFinished reports a buffer reached period end, fully covered.
func BufferFinished(streamID, track string, r Range) StreamEvent {
	e := base(KindBufferFinished, streamID)
	e.Track, e.Range = track, &r
	return e
}

// Loaded is the one-shot event fired once playback is ready to start.
func Loaded(streamID string) StreamEvent {
	return base(KindLoaded, streamID)
}

// Speed reports a playback-rate change.
func Speed(streamID string, rate float64) StreamEvent {
	e := base(KindSpeed, streamID)
	e.Speed = rate
	return e
}

// Stalled reports a stall state transition.
func Stalled(streamID string, stalled bool) StreamEvent {
	e := base(KindStalled, streamID)
	e.Stalled = stalled
	return e
}

// Warning reports a non-fatal error; recovery continues.
func Warning(streamID string, err error) StreamEvent {
	e := base(KindWarning, streamID)
	e.Err = err
	return e
}

// Fatal reports a fatal error terminating the orchestrator.
func Fatal(streamID string, err error) StreamEvent {
	e := base(KindFatal, streamID)
	e.Err = err
	return e
}
