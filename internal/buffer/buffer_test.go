package buffer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/bookkeeper"
	"adaptive-player/internal/model"
	"adaptive-player/internal/pipeline"
	"adaptive-player/internal/retry"
	"adaptive-player/internal/surface"
	"adaptive-player/internal/transport"
)

type fixedIndexer struct {
	segs []model.Segment
	init model.Segment
}

func (f fixedIndexer) SegmentsFor(start, end float64) []model.Segment {
	var out []model.Segment
	for _, s := range f.segs {
		if (s.Time+s.Duration > start || s.Time >= start) && s.Time < end {
			out = append(out, s)
		}
	}
	return out
}

func (f fixedIndexer) InitSegment() (model.Segment, bool) { return f.init, true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func segPair() transport.Pair {
	return transport.Pair{
		Load: func(ctx context.Context, rc transport.Context) ([]byte, error) {
			return []byte("bytes"), nil
		},
		Parse: func(ctx context.Context, raw []byte, rc transport.Context) (transport.Parsed, error) {
			return transport.Parsed{Bytes: raw}, nil
		},
	}
}

func testPipeline() *pipeline.Pipeline {
	return pipeline.New(model.TrackVideo, segPair(), retry.NewRunner(retry.Options{TotalRetry: 1, RetryDelay: time.Millisecond}, 0), nil)
}

func oneSecPeriod() *model.Period {
	dur := 4.0
	indexer := fixedIndexer{segs: []model.Segment{
		{ID: "s0", Time: 0, Duration: 1},
		{ID: "s1", Time: 1, Duration: 1},
		{ID: "s2", Time: 2, Duration: 1},
		{ID: "s3", Time: 3, Duration: 1},
	}}
	rep := model.Representation{ID: "rep-1", Bitrate: 100, Indexer: indexer}
	return &model.Period{
		ID:       "p1",
		Start:    0,
		Duration: &dur,
		Adaptations: map[model.TrackType][]model.Adaptation{
			model.TrackVideo: {{ID: "a1", Type: model.TrackVideo, Representations: []model.Representation{rep}}},
		},
	}
}

func TestRunWithNilAdaptationExitsImmediately(t *testing.T) {
	b := New(Config{Track: model.TrackVideo, Period: oneSecPeriod()}, nil, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bookkeeper.New(), testPipeline(), nil, discardLogger())

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), func() float64 { return 0 })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return immediately for a nil adaptation")
	}
	if _, open := <-b.Output(); open {
		t.Fatal("expected the output channel to be closed with no emissions")
	}
}

func TestRunFillsAndFinishesOverAFinitePeriod(t *testing.T) {
	period := oneSecPeriod()
	adaptation := &period.Adaptations[model.TrackVideo][0]
	bk := bookkeeper.New()
	b := New(Config{Track: model.TrackVideo, Period: period, WantedBufferAhead: 10}, adaptation, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bk, testPipeline(), nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var sawFinished bool
	go b.Run(ctx, func() float64 { return 0 })

	for o := range b.Output() {
		if o.Kind == OutFinished {
			sawFinished = true
			break
		}
	}
	if !sawFinished {
		t.Fatal("expected the buffer to reach Finished after covering the whole period")
	}
	if b.State() != Finished {
		t.Fatalf("expected state Finished, got %v", b.State())
	}
}

func TestRunEmitsWarningOnNonPositiveDurationSegment(t *testing.T) {
	dur := 2.0
	indexer := fixedIndexer{segs: []model.Segment{{ID: "bad", Time: 0, Duration: 0}}}
	rep := model.Representation{ID: "rep-1", Bitrate: 100, Indexer: indexer}
	period := &model.Period{
		ID: "p1", Start: 0, Duration: &dur,
		Adaptations: map[model.TrackType][]model.Adaptation{
			model.TrackVideo: {{ID: "a1", Type: model.TrackVideo, Representations: []model.Representation{rep}}},
		},
	}
	adaptation := &period.Adaptations[model.TrackVideo][0]
	b := New(Config{Track: model.TrackVideo, Period: period, WantedBufferAhead: 10}, adaptation, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bookkeeper.New(), testPipeline(), nil, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go b.Run(ctx, func() float64 { return 0 })

	deadline := time.After(time.Second)
	for {
		select {
		case o := <-b.Output():
			if o.Kind != OutWarning {
				continue // e.g. the initial representation-change emission
			}
			if o.Err == nil {
				t.Fatalf("expected a warning for the non-positive-duration segment, got %+v", o)
			}
			return
		case <-deadline:
			t.Fatal("expected a warning emission")
		}
	}
}

func TestRunHonorsProtectionGateBeforeFirstAppend(t *testing.T) {
	period := oneSecPeriod()
	adaptation := &period.Adaptations[model.TrackVideo][0]
	var opened atomic.Bool
	gate := func() bool { return opened.Load() }
	b := New(Config{Track: model.TrackVideo, Period: period, WantedBufferAhead: 10, Gate: gate}, adaptation, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bookkeeper.New(), testPipeline(), nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx, func() float64 { return 0 })

	select {
	case o := <-b.Output():
		if o.Kind != OutRepresentationChange {
			t.Fatalf("expected the initial representation pick, got %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an initial representation-change emission")
	}

	select {
	case o, ok := <-b.Output():
		if ok {
			t.Fatalf("expected no further emissions while the gate is closed, got %+v", o)
		}
	case <-time.After(100 * time.Millisecond):
		// expected: nothing emitted yet while gated closed
	}

	opened.Store(true)
	select {
	case o := <-b.Output():
		if o.Kind != OutSegmentsQueued {
			t.Fatalf("expected the first append once the gate opens, got %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the gate to open and an append to proceed")
	}
}

func TestSelectRepresentationUsesFirstWhenNoCoordinator(t *testing.T) {
	period := oneSecPeriod()
	adaptation := &period.Adaptations[model.TrackVideo][0]
	b := New(Config{Track: model.TrackVideo, Period: period}, adaptation, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bookkeeper.New(), testPipeline(), nil, discardLogger())

	rep, switched := b.selectRepresentation(Range{Start: 0, End: 1})
	if !switched || rep.ID != "rep-1" {
		t.Fatalf("expected the lone representation to be selected on first call, got %+v switched=%v", rep, switched)
	}
	_, switchedAgain := b.selectRepresentation(Range{Start: 0, End: 1})
	if switchedAgain {
		t.Fatal("expected no further switch once the sole representation is active")
	}
}

func TestSelectRepresentationUsesCoordinator(t *testing.T) {
	period := oneSecPeriod()
	adaptation := &period.Adaptations[model.TrackVideo][0]
	adaptation.Representations = append(adaptation.Representations, model.Representation{ID: "rep-2", Bitrate: 500})

	coord := abr.New()
	coord.Configure(model.TrackVideo, abr.Config{ManualBitrate: 500})
	b := New(Config{Track: model.TrackVideo, Period: period}, adaptation, surface.NewMemSink(surface.SinkNative, model.TrackVideo, 0), bookkeeper.New(), testPipeline(), coord, discardLogger())

	rep, switched := b.selectRepresentation(Range{Start: 0, End: 1})
	if !switched || rep.ID != "rep-2" {
		t.Fatalf("expected the coordinator's manual bitrate pick, got %+v switched=%v", rep, switched)
	}
}
