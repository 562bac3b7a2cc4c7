package timing

import (
	"context"
	"testing"
	"time"

	"adaptive-player/internal/eventbus"
)

type fakeElement struct {
	currentTime  float64
	duration     float64
	readyState   ReadyState
	playbackRate float64
	paused       bool
}

func (f *fakeElement) CurrentTime() float64  { return f.currentTime }
func (f *fakeElement) Duration() float64     { return f.duration }
func (f *fakeElement) ReadyState() ReadyState { return f.readyState }
func (f *fakeElement) PlaybackRate() float64 { return f.playbackRate }
func (f *fakeElement) Paused() bool          { return f.paused }

func TestNewSourceClampsIntervalToMinFrequency(t *testing.T) {
	bus := eventbus.New[Tick](1)
	s := NewSource(&fakeElement{}, bus, time.Second, nil)
	if s.interval != MinFrequency {
		t.Fatalf("expected interval clamped to %v, got %v", MinFrequency, s.interval)
	}
}

func TestRunPublishesTicks(t *testing.T) {
	el := &fakeElement{currentTime: 5, duration: 100, playbackRate: 1}
	bus := eventbus.New[Tick](4)
	ch, _ := bus.Subscribe(context.Background())
	s := NewSource(el, bus, 10*time.Millisecond, func() float64 { return 10 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	select {
	case tick := <-ch:
		if tick.CurrentTime != 5 || tick.Duration != 100 {
			t.Fatalf("unexpected tick: %+v", tick)
		}
	default:
		t.Fatal("expected at least one tick to have been published")
	}
}

func TestSampleMarksStalledWhenGapIsZeroAndPlaying(t *testing.T) {
	el := &fakeElement{paused: false}
	bus := eventbus.New[Tick](1)
	s := NewSource(el, bus, MinFrequency, func() float64 { return 0 })

	tick := s.sample()
	if !tick.Stalled {
		t.Fatal("expected Stalled=true when bufferedGap<=0 and playing")
	}
}

func TestSampleNotStalledWhenPaused(t *testing.T) {
	el := &fakeElement{paused: true}
	bus := eventbus.New[Tick](1)
	s := NewSource(el, bus, MinFrequency, func() float64 { return 0 })

	tick := s.sample()
	if tick.Stalled {
		t.Fatal("a paused element should never be considered stalled")
	}
}

func TestNotifyPublishesImmediately(t *testing.T) {
	el := &fakeElement{currentTime: 42}
	bus := eventbus.New[Tick](1)
	ch, _ := bus.Subscribe(context.Background())
	s := NewSource(el, bus, time.Hour, nil) // interval irrelevant to Notify

	s.Notify(context.Background())

	select {
	case tick := <-ch:
		if tick.CurrentTime != 42 {
			t.Fatalf("got %v, want CurrentTime=42", tick)
		}
	default:
		t.Fatal("expected Notify to publish synchronously")
	}
}
