package textsink

import (
	"testing"
	"time"

	"adaptive-player/internal/model"
)

func TestOnTickAttachesCueCoveringCurrentTime(t *testing.T) {
	var attached, detached []Cue
	region := Region{
		Attach: func(c Cue) { attached = append(attached, c) },
		Detach: func(c Cue) { detached = append(detached, c) },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})
	s.AddCue(Cue{Start: 2, End: 4, Payload: "b"})

	s.OnTick(1, time.Second)

	if len(attached) != 1 || attached[0].Payload != "a" {
		t.Fatalf("expected cue 'a' attached, got %+v", attached)
	}
	if len(detached) != 0 {
		t.Fatalf("expected no detach on first attach, got %+v", detached)
	}
}

func TestOnTickSwitchesCueDetachingPrevious(t *testing.T) {
	var attached, detached []Cue
	region := Region{
		Attach: func(c Cue) { attached = append(attached, c) },
		Detach: func(c Cue) { detached = append(detached, c) },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})
	s.AddCue(Cue{Start: 2, End: 4, Payload: "b"})

	s.OnTick(1, time.Second)
	s.OnTick(3, time.Second)

	if len(attached) != 2 || attached[1].Payload != "b" {
		t.Fatalf("expected cue 'b' attached second, got %+v", attached)
	}
	if len(detached) != 1 || detached[0].Payload != "a" {
		t.Fatalf("expected cue 'a' detached on switch, got %+v", detached)
	}
}

func TestOnTickNoGapIsNoop(t *testing.T) {
	calls := 0
	region := Region{
		Attach: func(c Cue) { calls++ },
		Detach: func(c Cue) { calls++ },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})

	s.OnTick(1, time.Second)
	s.OnTick(1.01, time.Second)

	if calls != 1 {
		t.Fatalf("expected only the first tick to attach, got %d calls", calls)
	}
}

func TestOnTickDetachesWhenNoCueCovers(t *testing.T) {
	var detached []Cue
	region := Region{
		Detach: func(c Cue) { detached = append(detached, c) },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})

	s.OnTick(1, time.Second)
	s.OnTick(5, time.Second)

	if len(detached) != 1 || detached[0].Payload != "a" {
		t.Fatalf("expected the attached cue detached once the clock moves past its range, got %+v", detached)
	}
}

func TestAbortDetachesAndClearsLedger(t *testing.T) {
	var detached []Cue
	region := Region{
		Attach: func(c Cue) {},
		Detach: func(c Cue) { detached = append(detached, c) },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})
	s.OnTick(1, time.Second)

	s.Abort()

	if len(detached) != 1 {
		t.Fatalf("expected Abort to detach the attached cue, got %+v", detached)
	}
	if len(s.BufferedRanges()) != 0 {
		t.Fatal("expected Abort to clear the cue ledger")
	}
}

func TestOnTickAfterAbortIsNoop(t *testing.T) {
	calls := 0
	region := Region{
		Attach: func(c Cue) { calls++ },
		Detach: func(c Cue) { calls++ },
	}
	s := New(model.TrackText, region)
	s.AddCue(Cue{Start: 0, End: 2, Payload: "a"})
	s.Abort()

	s.OnTick(1, time.Second)

	if calls != 0 {
		t.Fatalf("expected no attach/detach activity after Abort, got %d calls", calls)
	}
}
