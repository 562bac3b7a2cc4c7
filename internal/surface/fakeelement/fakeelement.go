// Package fakeelement implements internal/surface.Element over a virtual
// clock, so the orchestrator is exercisable without a real <video> element.
package fakeelement

import (
	"fmt"
	"math/rand"
	"sync"

	"adaptive-player/internal/timing"
)

// Element is a deterministic, in-memory presentation element.
type Element struct {
	mu sync.Mutex

	currentTime  float64
	duration     float64
	readyState   timing.ReadyState
	playbackRate float64
	paused       bool
	src          string
	sourceOpen   bool
}

// New returns an Element starting paused at t=0 with playback rate 1.0.
func New() *Element {
	return &Element{playbackRate: 1.0, paused: true}
}

func (e *Element) CurrentTime() float64 { e.mu.Lock(); defer e.mu.Unlock(); return e.currentTime }
func (e *Element) Duration() float64    { e.mu.Lock(); defer e.mu.Unlock(); return e.duration }
func (e *Element) ReadyState() timing.ReadyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readyState
}
func (e *Element) PlaybackRate() float64 { e.mu.Lock(); defer e.mu.Unlock(); return e.playbackRate }
func (e *Element) Paused() bool          { e.mu.Lock(); defer e.mu.Unlock(); return e.paused }

func (e *Element) SetSrc(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = url
}

func (e *Element) ClearSrc() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.src = ""
	e.readyState = timing.HaveNothing
}

func (e *Element) Src() string { e.mu.Lock(); defer e.mu.Unlock(); return e.src }

func (e *Element) SetDuration(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.duration = d
}

func (e *Element) OpenSource() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sourceOpen = true
	return fmt.Sprintf("blob:fake/%d", rand.Int63()), nil
}

func (e *Element) RevokeObjectURL(string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sourceOpen = false
}

// SourceOpen reports whether the media-source extension is currently open,
// used by tests to assert the open/teardown round-trip.
func (e *Element) SourceOpen() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.sourceOpen }

// Seek advances currentTime and marks ReadyState back to HaveMetadata,
// mirroring a real seek's readyState regression.
func (e *Element) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentTime = t
	if e.readyState > timing.HaveMetadata {
		e.readyState = timing.HaveMetadata
	}
}

// Advance moves currentTime forward by dt, scaled by PlaybackRate unless
// paused.
func (e *Element) Advance(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.currentTime += dt * e.playbackRate
}

func (e *Element) SetReadyState(rs timing.ReadyState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readyState = rs
}

func (e *Element) SetPlaybackRate(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playbackRate = r
}

func (e *Element) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}
