// Package pipeline implements the per-(track, representation) download +
// parse + cache path with retry/backoff.
package pipeline

import (
	"context"
	"sync"
	"time"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/errs"
	"adaptive-player/internal/eventbus"
	"adaptive-player/internal/model"
	"adaptive-player/internal/retry"
	"adaptive-player/internal/transport"
)

// Result is what a successful Request returns.
type Result struct {
	Bytes   []byte
	Metrics abr.Metric
}

// Pipeline fetches segments for one track, enforcing one in-flight request
// at a time: a new Request cancels the prior one.
type Pipeline struct {
	mu         sync.Mutex
	track      model.TrackType
	transport  transport.Pair
	runner     *retry.Runner
	metricsBus *eventbus.Bus[abr.Metric]

	initCache map[string][]byte // representation ID -> init segment bytes
	cancelCur context.CancelFunc
}

// New returns a Pipeline for track, fetching via pair, retrying per
// runner, and publishing progress metrics onto metricsBus, the shared
// broker the ABR Coordinator consumes.
func New(track model.TrackType, pair transport.Pair, runner *retry.Runner, metricsBus *eventbus.Bus[abr.Metric]) *Pipeline {
	return &Pipeline{
		track:      track,
		transport:  pair,
		runner:     runner,
		metricsBus: metricsBus,
		initCache:  make(map[string][]byte),
	}
}

// Request fetches and parses one segment, cancelling any in-flight
// request for this track first. representationID identifies the owning
// representation for init-segment caching.
func (p *Pipeline) Request(ctx context.Context, seg model.Segment, representationID, url string) ([]byte, error) {
	if seg.IsInit {
		p.mu.Lock()
		if b, ok := p.initCache[representationID]; ok {
			p.mu.Unlock()
			return b, nil
		}
		p.mu.Unlock()
	}

	reqCtx, cancel := p.swapInFlight(ctx)
	defer cancel()

	start := time.Now()
	res, err := retry.Run(reqCtx, p.runner, func(ctx context.Context) (Result, error) {
		raw, err := p.transport.Load(ctx, transport.Context{URL: url})
		if err != nil {
			return Result{}, err
		}
		parsed, err := p.transport.Parse(ctx, raw, transport.Context{URL: url})
		if err != nil {
			return Result{}, err
		}
		return Result{Bytes: parsed.Bytes}, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	elapsed := time.Since(start)
	if p.metricsBus != nil {
		p.metricsBus.Publish(abr.Metric{Track: p.track, Bytes: int64(len(res.Bytes)), Duration: elapsed})
	}

	if seg.IsInit {
		p.mu.Lock()
		p.initCache[representationID] = res.Bytes
		p.mu.Unlock()
	}

	return res.Bytes, nil
}

// swapInFlight cancels any prior in-flight request and starts a new
// cancellable context derived from ctx.
func (p *Pipeline) swapInFlight(ctx context.Context) (context.Context, context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelCur != nil {
		p.cancelCur()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	p.cancelCur = cancel
	return reqCtx, cancel
}

// classify converts a raw transport error into the orchestrator's error
// taxonomy, defaulting to a retryable Other when the transport didn't
// already tag it.
func classify(err error) error {
	var e *errs.Error
	if errs.As(err, &e) {
		return e
	}
	return errs.Other(err)
}
