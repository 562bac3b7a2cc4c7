// Package fake implements internal/transport.Transport over an in-memory
// fixture, with configurable latency and failure injection. It exists so
// the orchestrator is runnable and testable without a real network stack —
// it is not a manifest parser, just a deterministic stand-in for one.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adaptive-player/internal/errs"
	"adaptive-player/internal/model"
	"adaptive-player/internal/transport"
)

// SegmentBytes is the fixed payload size returned for any segment fetch.
const SegmentBytes = 1024

// Transport is a deterministic, in-memory Transport implementation.
type Transport struct {
	mu sync.Mutex

	latency   time.Duration
	manifests []*model.Manifest // successive refreshes, consumed in order
	manifestN int

	failNext    map[string]int // URL -> remaining injected-failure count
	failFatal   map[string]bool
}

// New returns a Transport that serves manifests in sequence (the first
// element is the initial fetch; subsequent elements are served on each
// refresh) with the given simulated network latency.
func New(latency time.Duration, manifests ...*model.Manifest) *Transport {
	return &Transport{
		latency:   latency,
		manifests: manifests,
		failNext:  make(map[string]int),
		failFatal: make(map[string]bool),
	}
}

// InjectFailure arranges for the next n requests to the given URL to fail;
// fatal selects whether the failure is reported as fatal (4xx-equivalent)
// or transient (5xx-equivalent, retryable).
func (t *Transport) InjectFailure(url string, n int, fatal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext[url] = n
	t.failFatal[url] = fatal
}

func (t *Transport) consumeFailure(url string) (shouldFail, fatal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.failNext[url]; n > 0 {
		t.failNext[url] = n - 1
		return true, t.failFatal[url]
	}
	return false, false
}

func (t *Transport) sleep(ctx context.Context) error {
	if t.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(t.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transport builds a transport.Transport bound to this fixture.
func (t *Transport) Transport() transport.Transport {
	return transport.Transport{
		Manifest: transport.Pair{Load: t.loadManifest, Parse: t.parseManifest},
		Segment:  transport.Pair{Load: t.loadSegment, Parse: t.parseSegment},
	}
}

func (t *Transport) loadManifest(ctx context.Context, rc transport.Context) ([]byte, error) {
	if err := t.sleep(ctx); err != nil {
		return nil, err
	}
	if fail, fatal := t.consumeFailure(rc.URL); fail {
		if fatal {
			return nil, errs.NewFatal(errs.KindNetwork, errs.CodeManifestFetchFailed, fmt.Errorf("404 not found: %s", rc.URL))
		}
		return nil, errs.New(errs.KindNetwork, errs.CodeManifestFetchFailed, fmt.Errorf("503 unavailable: %s", rc.URL))
	}
	return []byte("manifest-fixture"), nil
}

func (t *Transport) parseManifest(_ context.Context, _ []byte, _ transport.Context) (transport.Parsed, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.manifestN >= len(t.manifests) {
		if len(t.manifests) == 0 {
			return transport.Parsed{}, errs.NewFatal(errs.KindOther, errs.CodeManifestFetchFailed, fmt.Errorf("no fixture manifests configured"))
		}
		return transport.Parsed{Manifest: t.manifests[len(t.manifests)-1]}, nil
	}
	m := t.manifests[t.manifestN]
	t.manifestN++
	return transport.Parsed{Manifest: m}, nil
}

func (t *Transport) loadSegment(ctx context.Context, rc transport.Context) ([]byte, error) {
	if err := t.sleep(ctx); err != nil {
		return nil, err
	}
	if fail, fatal := t.consumeFailure(rc.URL); fail {
		if fatal {
			return nil, errs.NewFatal(errs.KindNetwork, errs.CodeSegmentFetchFailed, fmt.Errorf("404 not found: %s", rc.URL))
		}
		return nil, errs.New(errs.KindNetwork, errs.CodeSegmentFetchFailed, fmt.Errorf("503 unavailable: %s", rc.URL))
	}
	return make([]byte, SegmentBytes), nil
}

func (t *Transport) parseSegment(_ context.Context, raw []byte, _ transport.Context) (transport.Parsed, error) {
	return transport.Parsed{Bytes: raw}, nil
}
