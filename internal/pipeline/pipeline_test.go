package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/errs"
	"adaptive-player/internal/eventbus"
	"adaptive-player/internal/model"
	"adaptive-player/internal/retry"
	"adaptive-player/internal/transport"
)

func fixedPair(payload []byte, err error) transport.Pair {
	return transport.Pair{
		Load: func(ctx context.Context, rc transport.Context) ([]byte, error) {
			if err != nil {
				return nil, err
			}
			return payload, nil
		},
		Parse: func(ctx context.Context, raw []byte, rc transport.Context) (transport.Parsed, error) {
			return transport.Parsed{Bytes: raw}, nil
		},
	}
}

func testRunner() *retry.Runner {
	return retry.NewRunner(retry.Options{TotalRetry: 1, RetryDelay: time.Millisecond}, 0)
}

func TestRequestReturnsFetchedBytes(t *testing.T) {
	bus := eventbus.New[abr.Metric](1)
	p := New(model.TrackVideo, fixedPair([]byte("segment-bytes"), nil), testRunner(), bus)

	got, err := p.Request(context.Background(), model.Segment{ID: "s1"}, "rep-1", "seg/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "segment-bytes" {
		t.Fatalf("got %q", got)
	}
}

func TestRequestPublishesThroughputMetric(t *testing.T) {
	bus := eventbus.New[abr.Metric](1)
	ch, _ := bus.Subscribe(context.Background())
	p := New(model.TrackVideo, fixedPair([]byte("1234567890"), nil), testRunner(), bus)

	if _, err := p.Request(context.Background(), model.Segment{ID: "s1"}, "rep-1", "seg/1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case m := <-ch:
		if m.Track != model.TrackVideo || m.Bytes != 10 {
			t.Fatalf("unexpected metric: %+v", m)
		}
	default:
		t.Fatal("expected a throughput metric to be published")
	}
}

func TestRequestCachesInitSegmentPerRepresentation(t *testing.T) {
	calls := 0
	pair := transport.Pair{
		Load: func(ctx context.Context, rc transport.Context) ([]byte, error) {
			calls++
			return []byte("init-bytes"), nil
		},
		Parse: func(ctx context.Context, raw []byte, rc transport.Context) (transport.Parsed, error) {
			return transport.Parsed{Bytes: raw}, nil
		},
	}
	p := New(model.TrackVideo, pair, testRunner(), nil)
	seg := model.Segment{ID: "init", IsInit: true}

	if _, err := p.Request(context.Background(), seg, "rep-1", "init.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Request(context.Background(), seg, "rep-1", "init.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the second init-segment request to be served from cache, got %d loads", calls)
	}
}

func TestRequestInitCacheIsPerRepresentation(t *testing.T) {
	calls := 0
	pair := transport.Pair{
		Load: func(ctx context.Context, rc transport.Context) ([]byte, error) {
			calls++
			return []byte("init-bytes"), nil
		},
		Parse: func(ctx context.Context, raw []byte, rc transport.Context) (transport.Parsed, error) {
			return transport.Parsed{Bytes: raw}, nil
		},
	}
	p := New(model.TrackVideo, pair, testRunner(), nil)
	seg := model.Segment{ID: "init", IsInit: true}

	if _, err := p.Request(context.Background(), seg, "rep-1", "init1.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Request(context.Background(), seg, "rep-2", "init2.mp4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected distinct representations to each fetch their own init segment, got %d loads", calls)
	}
}

func TestRequestClassifiesTransportErrorAsFatalErrsError(t *testing.T) {
	fatal := errs.NewFatal(errs.KindNetwork, errs.CodeSegmentFetchFailed, errors.New("404"))
	p := New(model.TrackVideo, fixedPair(nil, fatal), retry.NewRunner(retry.Options{ShouldRetry: errs.ShouldRetry}, 0), nil)

	_, err := p.Request(context.Background(), model.Segment{ID: "s1"}, "rep-1", "seg/1")
	var e *errs.Error
	if !errs.As(err, &e) || !e.Fatal {
		t.Fatalf("expected the fatal transport error to propagate, got %v", err)
	}
}

func TestRequestClassifiesUnknownErrorAsOther(t *testing.T) {
	p := New(model.TrackVideo, fixedPair(nil, errors.New("boom")), testRunner(), nil)

	_, err := p.Request(context.Background(), model.Segment{ID: "s1"}, "rep-1", "seg/1")
	var e *errs.Error
	if !errs.As(err, &e) || e.Kind != errs.KindOther {
		t.Fatalf("expected an Other-kind error, got %v", err)
	}
}

func TestRequestCancelsPriorInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pair := transport.Pair{
		Load: func(ctx context.Context, rc transport.Context) ([]byte, error) {
			if rc.URL != "seg/1" {
				return []byte("second"), nil
			}
			close(started)
			select {
			case <-release:
				return []byte("late"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		Parse: func(ctx context.Context, raw []byte, rc transport.Context) (transport.Parsed, error) {
			return transport.Parsed{Bytes: raw}, nil
		},
	}
	p := New(model.TrackVideo, pair, retry.NewRunner(retry.Options{TotalRetry: 0}, 0), nil)

	firstErrCh := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), model.Segment{ID: "s1"}, "rep-1", "seg/1")
		firstErrCh <- err
	}()
	<-started

	_, err := p.Request(context.Background(), model.Segment{ID: "s2"}, "rep-1", "seg/2")
	close(release)

	if err != nil {
		t.Fatalf("expected the second (superseding) request to succeed, got %v", err)
	}
	if firstErr := <-firstErrCh; firstErr == nil {
		t.Fatal("expected the superseded first request to fail with a cancellation error")
	}
}
