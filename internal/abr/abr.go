// Package abr implements the ABR Coordinator: consumes
// network metrics and open-request progress, emits the selected
// representation per track.
package abr

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adaptive-player/internal/model"
)

// SafetyFactor is applied to the throughput estimate before picking a
// representation,
const SafetyFactor = 0.8

// Metric is one completed-request observation fed into the throughput
// estimator.
type Metric struct {
	Track    model.TrackType
	Bytes    int64
	Duration time.Duration
}

// Config is the per-track ABR input controlling bitrate selection.
type Config struct {
	InitialBitrate int
	ManualBitrate  int // 0 means "auto"
	MaxAutoBitrate int // 0 means "no cap"
	Throttle       time.Duration
	LimitWidth     int // 0 means "no cap"; representations above this are clipped by index order
	DebounceWindow time.Duration
}

// trackState is the coordinator's per-track estimator + debounce state.
type trackState struct {
	mu         sync.Mutex
	cfg        Config
	window     []Metric
	lastChosen string
	lastEmit   time.Time
	limiter    *rate.Limiter
}

// Coordinator selects representations per track.
type Coordinator struct {
	mu     sync.Mutex
	tracks map[model.TrackType]*trackState
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{tracks: make(map[model.TrackType]*trackState)}
}

// Configure registers (or replaces) a track's Config.
func (c *Coordinator) Configure(t model.TrackType, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lim *rate.Limiter
	if cfg.Throttle > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Throttle), 1)
	}
	c.tracks[t] = &trackState{cfg: cfg, limiter: lim}
}

// Observe records a completed request's throughput sample for a track,
// keeping a bounded sliding window.
func (c *Coordinator) Observe(m Metric) {
	c.mu.Lock()
	ts := c.tracks[m.Track]
	c.mu.Unlock()
	if ts == nil {
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.window = append(ts.window, m)
	if len(ts.window) > 20 {
		ts.window = ts.window[len(ts.window)-20:]
	}
}

// estimateThroughput returns bits per second from the sliding window.
func (ts *trackState) estimateThroughput() float64 {
	if len(ts.window) == 0 {
		return float64(ts.cfg.InitialBitrate)
	}
	var totalBytes int64
	var totalDur time.Duration
	for _, m := range ts.window {
		totalBytes += m.Bytes
		totalDur += m.Duration
	}
	if totalDur <= 0 {
		return float64(ts.cfg.InitialBitrate)
	}
	return float64(totalBytes*8) / totalDur.Seconds()
}

// Select picks the representation to use for a track among the given
// candidates (already clipped to the active adaptation), after LimitWidth
// clipping. It honors a manual override exactly, else closest-<=;
// otherwise it picks the highest bitrate whose value is
// <= estimate*SafetyFactor. It returns ok=false (no representation-change
// event should be emitted) when the pick equals the last reported one,
// when a different pick falls inside the debounce window of the last
// reported change, or when the Throttle limiter denies it.
func (c *Coordinator) Select(t model.TrackType, candidates []model.Representation) (model.Representation, bool) {
	c.mu.Lock()
	ts := c.tracks[t]
	c.mu.Unlock()
	if ts == nil || len(candidates) == 0 {
		return model.Representation{}, false
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	clipped := clip(candidates, ts.cfg)
	if len(clipped) == 0 {
		clipped = candidates
	}
	sort.Slice(clipped, func(i, j int) bool { return clipped[i].Bitrate < clipped[j].Bitrate })

	var chosen model.Representation
	if ts.cfg.ManualBitrate > 0 {
		chosen = closestAtMost(clipped, ts.cfg.ManualBitrate)
	} else {
		estimate := ts.estimateThroughput() * SafetyFactor
		cap := ts.cfg.MaxAutoBitrate
		chosen = highestWithinBudget(clipped, estimate, cap)
	}

	if chosen.ID == ts.lastChosen {
		return chosen, false
	}
	if ts.cfg.DebounceWindow > 0 && !ts.lastEmit.IsZero() && time.Since(ts.lastEmit) < ts.cfg.DebounceWindow {
		return chosen, false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return chosen, false
	}

	ts.lastChosen = chosen.ID
	ts.lastEmit = time.Now()
	return chosen, true
}

func clip(candidates []model.Representation, cfg Config) []model.Representation {
	if cfg.LimitWidth <= 0 {
		return candidates
	}
	// LimitWidth is nominally a resolution clip; without real resolution
	// metadata in the minimal Representation model, approximate it by
	// keeping only the LimitWidth lowest-bitrate candidates.
	sorted := append([]model.Representation(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bitrate < sorted[j].Bitrate })
	if cfg.LimitWidth < len(sorted) {
		sorted = sorted[:cfg.LimitWidth]
	}
	return sorted
}

func closestAtMost(sorted []model.Representation, target int) model.Representation {
	best := sorted[0]
	for _, r := range sorted {
		if r.Bitrate == target {
			return r
		}
		if r.Bitrate <= target {
			best = r
		}
	}
	return best
}

func highestWithinBudget(sorted []model.Representation, budget float64, cap int) model.Representation {
	best := sorted[0]
	for _, r := range sorted {
		if cap > 0 && r.Bitrate > cap {
			continue
		}
		if float64(r.Bitrate) <= budget {
			best = r
		}
	}
	return best
}
