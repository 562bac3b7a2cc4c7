// Package surface wraps the presentation element + media-source lifecycle:
// creating/destroying native and custom sinks.
package surface

import (
	"fmt"
	"sync"

	"adaptive-player/internal/model"
	"adaptive-player/internal/timing"
)

// Element is the presentation element contract consumed by the
// orchestrator: src assignment, a media-source extension for
// native sinks, currentTime/playbackRate/duration, ready-state
// transitions, and the {encrypted, seeking, seeked, ended, loadedmetadata,
// canplay, waiting, stalled} event set.
type Element interface {
	timing.Element
	SetSrc(url string)
	ClearSrc()
	SetDuration(d float64)
	// OpenSource opens the media-source extension, returning an object URL
	// to attach as Src. Only called when a Surface is opened with
	// needsMediaSource=true.
	OpenSource() (objectURL string, err error)
	RevokeObjectURL(url string)
}

// SinkKind distinguishes native (platform-backed) from custom (in-process)
// sinks.
type SinkKind int

const (
	SinkNative SinkKind = iota
	SinkCustom
)

// Sink is an append target for parsed media bytes.
type Sink interface {
	Kind() SinkKind
	Type() model.TrackType
	Append(data []byte) error
	Abort()
	BufferedRanges() []BufferedRange
	// Quota reports whether the last Append failed due to a full buffer.
	Quota() bool
}

// BufferedRange mirrors bookkeeper.BufferedRange to avoid a dependency
// cycle; surface is the producer, bookkeeper the consumer.
type BufferedRange struct {
	Start float64
	End   float64
}

// NativeSinkFactory constructs a native sink for a track type/codec, backed
// by the presentation source extension. Supplied by the caller of Open
// since the real media-source-extension API is platform-specific and out
// of scope here.
type NativeSinkFactory func(t model.TrackType, codec string) (Sink, error)

// CustomSinkFactory constructs an in-process queue+renderer sink.
type CustomSinkFactory func(t model.TrackType, options any) (Sink, error)

// Surface exclusively owns sinks; buffers borrow a
// handle for the duration of a period via AddNativeSink/AddCustomSink.
type Surface struct {
	mu              sync.Mutex
	element         Element
	attachedURL     string
	sourceOpen      bool
	metadataReached bool
	sinks           map[model.TrackType]Sink

	newNative NativeSinkFactory
	newCustom CustomSinkFactory
}

// Open either attaches an object-URL-bound source extension or sets Src
// directly to url, per needsMediaSource. It does not reset the element
// first: sinks or an object URL left on it by an earlier Surface are not
// aborted or revoked.
func Open(el Element, url string, needsMediaSource bool, newNative NativeSinkFactory, newCustom CustomSinkFactory) (*Surface, error) {
	s := &Surface{
		element:   el,
		sinks:     make(map[model.TrackType]Sink),
		newNative: newNative,
		newCustom: newCustom,
	}

	if needsMediaSource {
		objURL, err := el.OpenSource()
		if err != nil {
			return nil, fmt.Errorf("open media source: %w", err)
		}
		s.attachedURL = objURL
		s.sourceOpen = true
		el.SetSrc(objURL)
	} else {
		s.attachedURL = url
		el.SetSrc(url)
	}

	return s, nil
}

// AttachedURL returns the URL set on the element (object URL or direct
// src), used by tests to assert the open/teardown round-trip.
func (s *Surface) AttachedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachedURL
}

// MarkMetadataReached records that the element passed HAVE_METADATA,
// closing the window in which native sinks may be added.
func (s *Surface) MarkMetadataReached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataReached = true
}

// AddNativeSink adds a native sink for the given track type/codec. It is
// only valid while the source extension is open and before
// HAVE_METADATA.
func (s *Surface) AddNativeSink(t model.TrackType, codec string) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sourceOpen {
		return nil, fmt.Errorf("add native sink %s: source extension not open", t)
	}
	if s.metadataReached {
		return nil, fmt.Errorf("add native sink %s: HAVE_METADATA already reached", t)
	}
	if existing, ok := s.sinks[t]; ok {
		return existing, nil
	}

	sink, err := s.newNative(t, codec)
	if err != nil {
		return nil, fmt.Errorf("add native sink %s: %w", t, err)
	}
	s.sinks[t] = sink
	return sink, nil
}

// AddCustomSink adds a custom (in-process) sink for the given track type.
func (s *Surface) AddCustomSink(t model.TrackType, options any) (Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sinks[t]; ok {
		return existing, nil
	}

	sink, err := s.newCustom(t, options)
	if err != nil {
		return nil, fmt.Errorf("add custom sink %s: %w", t, err)
	}
	s.sinks[t] = sink
	return sink, nil
}

// RemoveSink aborts and removes the sink for t, if any.
func (s *Surface) RemoveSink(t model.TrackType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.sinks[t]; ok {
		sink.Abort()
		delete(s.sinks, t)
	}
}

// Sink returns the current sink for t, if any.
func (s *Surface) Sink(t model.TrackType) (Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[t]
	return sink, ok
}

// SetDuration forwards to the element, clamping to model.PlatformMaxDuration.
func (s *Surface) SetDuration(d float64) {
	if d > model.PlatformMaxDuration {
		d = model.PlatformMaxDuration
	}
	s.element.SetDuration(d)
}

// Close guarantees, on any exit path: all sinks aborted, object URL
// revoked, element src cleared.
func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for t, sink := range s.sinks {
		sink.Abort()
		delete(s.sinks, t)
	}
	if s.sourceOpen && s.attachedURL != "" {
		s.element.RevokeObjectURL(s.attachedURL)
	}
	s.element.ClearSrc()
	s.attachedURL = ""
	s.sourceOpen = false
}
