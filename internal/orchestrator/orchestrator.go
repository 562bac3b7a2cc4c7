// Package orchestrator implements the Stream Orchestrator:
// the top-level composition that obtains the manifest, opens the
// presentation surface, spawns per-period per-track adaptation buffers,
// and merges every collaborator's output into one StreamEvent stream.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/bookkeeper"
	"adaptive-player/internal/buffer"
	"adaptive-player/internal/errs"
	"adaptive-player/internal/events"
	"adaptive-player/internal/eventbus"
	"adaptive-player/internal/model"
	"adaptive-player/internal/pipeline"
	"adaptive-player/internal/platform/metrics"
	"adaptive-player/internal/protection"
	"adaptive-player/internal/retry"
	"adaptive-player/internal/surface"
	"adaptive-player/internal/timing"
	"adaptive-player/internal/transport"
)

// Orchestrator composes the manifest fetch, surface, protection driver,
// ABR coordinator, and per-track adaptation buffers into one playback
// engine.
type Orchestrator struct {
	transport transport.Transport
	element   surface.Element
	newNative surface.NativeSinkFactory
	newCustom surface.CustomSinkFactory
	cfg       Config
	log       *slog.Logger
	met       *metrics.Metrics

	streamID string
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	out        *eventbus.Bus[events.StreamEvent]
	tickBus    *eventbus.Bus[timing.Tick]
	metricsBus *eventbus.Bus[abr.Metric]

	surf       *surface.Surface
	manifest   *model.Manifest
	driver     *protection.Driver
	abrCoord   *abr.Coordinator
	bkRegistry *bookkeeper.Registry
	refresh    *rate.Limiter

	pipelineMu sync.Mutex
	pipelines  map[model.TrackType]*pipeline.Pipeline
	runner     *retry.Runner

	timeMu  sync.RWMutex
	curTime float64

	runCtx      context.Context
	periodMu    sync.Mutex
	curPeriod   *model.Period
	trackMu     sync.Mutex
	trackCancel map[model.TrackType]context.CancelFunc

	tracks []model.TrackType
}

// New constructs an Orchestrator. newCustom may be nil to fall back to an
// in-memory MemSink for custom sinks.
func New(tr transport.Transport, element surface.Element, newNative surface.NativeSinkFactory, newCustom surface.CustomSinkFactory, cfg Config, log *slog.Logger, met *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if newCustom == nil {
		newCustom = func(t model.TrackType, _ any) (surface.Sink, error) {
			return surface.NewMemSink(surface.SinkCustom, t, 0), nil
		}
	}
	return &Orchestrator{
		transport:   tr,
		element:     element,
		newNative:   newNative,
		newCustom:   newCustom,
		cfg:         cfg,
		log:         log,
		met:         met,
		abrCoord:    abr.New(),
		bkRegistry:  bookkeeper.NewRegistry(),
		pipelines:   make(map[model.TrackType]*pipeline.Pipeline),
		trackCancel: make(map[model.TrackType]context.CancelFunc),
		refresh:     rate.NewLimiter(rate.Every(maxDuration(cfg.ManifestRefreshThrottle, time.Second)), 1),
	}
}

func maxDuration(d, min time.Duration) time.Duration {
	if d < min {
		return min
	}
	return d
}

// Start runs the ten-step sequence and returns the merged
// StreamEvent output. The returned channel closes when the orchestrator
// terminates (end-of-play or fatal error) or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, url string) (<-chan events.StreamEvent, error) {
	o.streamID = uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.runCtx = runCtx

	// Step 0 (supplemented): validate protection configuration before any
	// sink is created, matching S5's "startup fails ... before any sink is
	// created" contract.
	if err := validateKeySystems(o.cfg.KeySystems); err != nil {
		cancel()
		return nil, err
	}
	if len(o.cfg.KeySystems) > 0 {
		driver, err := protection.Acquire(o.cfg.KeySystems, true)
		if err != nil {
			cancel()
			return nil, err
		}
		o.driver = driver
	}

	o.out = eventbus.New[events.StreamEvent](32)
	o.tickBus = eventbus.New[timing.Tick](4)
	o.metricsBus = eventbus.New[abr.Metric](16)

	// Not tied to runCtx: teardown closes o.out after the surface and
	// protection driver are released, so a closed channel means teardown ran.
	outCh, _ := o.out.Subscribe(nil)

	// Steps 2-4: open Surface + fetch manifest + set duration + pre-create
	// native sinks, wrapped in the Retry Harness.
	o.runner = retry.NewRunner(retry.Options{
		TotalRetry:  o.cfg.RetryOptions.TotalRetry,
		RetryDelay:  o.cfg.RetryOptions.RetryDelay,
		ResetDelay:  o.cfg.RetryOptions.ResetDelay,
		ShouldRetry: errs.ShouldRetry,
		OnRetry: func(err error, n int) {
			o.log.Warn("startup retry", "stream_id", o.streamID, "attempt", n, "error", err)
		},
		ErrorSelector: selectStartupError,
	}, rate.Limit(2))

	manifest, err := retry.Run(runCtx, o.runner, func(ctx context.Context) (*model.Manifest, error) {
		return o.openAndFetch(ctx, url)
	})
	if err != nil {
		cancel()
		return nil, asFatal(err)
	}
	o.manifest = manifest

	// Steps 5-6: compute initial time, locate first period.
	initialTime := resolveStartAt(o.manifest, o.cfg.StartAt)
	firstPeriod := o.manifest.GetPeriodForTime(initialTime)
	if firstPeriod == nil {
		o.teardown()
		cancel()
		return nil, errs.NewFatal(errs.KindMedia, errs.CodeMediaStartingTimeNotFound, fmt.Errorf("no period contains t=%.3f", initialTime))
	}
	o.setCurrentTime(initialTime)
	o.periodMu.Lock()
	o.curPeriod = firstPeriod
	o.periodMu.Unlock()

	// Step 7: build per-track adaptation subjects for every track type
	// present in the first period, configuring the ABR coordinator for
	// each from cfg.TrackConfigs (zero value if the caller left a track
	// unconfigured, which still yields a sane lowest-bitrate-first start).
	for tt := range firstPeriod.Adaptations {
		o.tracks = append(o.tracks, tt)
		o.abrCoord.Configure(tt, o.cfg.TrackConfigs[tt])
	}

	// Step 9 (partial): timing source + clock watcher + metrics fan-in.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		src := timing.NewSource(o.element, o.tickBus, 250*time.Millisecond, o.bufferedGap)
		src.Run(runCtx)
	}()
	o.wg.Add(1)
	go o.runClockWatcher(runCtx)
	o.wg.Add(1)
	go o.runMetricsFanIn(runCtx)

	// Step 8: spawn an Adaptation Buffer per track.
	for _, tt := range o.tracks {
		adaptations := firstPeriod.Adaptations[tt]
		if len(adaptations) == 0 {
			continue
		}
		o.spawnTrack(tt, firstPeriod, &adaptations[0])
	}

	// Step 9: one-shot Loaded event.
	o.out.Publish(events.Loaded(o.streamID))
	o.out.Publish(events.ManifestChange(o.streamID))
	if o.cfg.AutoPlay {
		o.element.(interface{ Play() }).Play() //nolint: the fake element always satisfies this
	}

	// Teardown once runCtx is cancelled (end-of-play, fatal error, or the
	// caller's ctx being cancelled) — a scoped acquisition guarantee: no
	// surface or protection resource outlives the run.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		<-runCtx.Done()
		o.teardown()
	}()

	return outCh, nil
}

func selectStartupError(err error) error {
	var e *errs.Error
	if errs.As(err, &e) {
		e.Fatal = true
		return e
	}
	return errs.NewFatal(errs.KindOther, errs.CodeUnknown, err)
}

func asFatal(err error) error {
	var e *errs.Error
	if errs.As(err, &e) {
		return e
	}
	return errs.NewFatal(errs.KindOther, errs.CodeUnknown, err)
}

// openAndFetch performs steps 2-4 in one retryable unit:
// opening the Surface and fetching the manifest run concurrently ("wait
// for sourceopen in parallel"), then duration is set and native sinks for
// audio/video tracks present in the first period are pre-created before
// HAVE_METADATA.
func (o *Orchestrator) openAndFetch(ctx context.Context, url string) (*model.Manifest, error) {
	var wg sync.WaitGroup
	var surf *surface.Surface
	var openErr error
	var manifest *model.Manifest
	var fetchErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		s, err := surface.Open(o.element, url, o.cfg.NeedsMediaSource, o.newNative, o.newCustom)
		surf, openErr = s, err
	}()
	go func() {
		defer wg.Done()
		m, err := o.fetchManifest(ctx, url)
		manifest, fetchErr = m, err
	}()
	wg.Wait()

	if openErr != nil {
		return nil, errs.New(errs.KindMedia, errs.CodeSourceOpenFailed, openErr)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	surf.SetDuration(manifest.GetDuration())
	if len(manifest.Periods) > 0 {
		for _, tt := range []model.TrackType{model.TrackVideo, model.TrackAudio} {
			adaptations := manifest.Periods[0].Adaptations[tt]
			if len(adaptations) == 0 || len(adaptations[0].Representations) == 0 {
				continue
			}
			rep := adaptations[0].Representations[0]
			if _, err := surf.AddNativeSink(tt, rep.Codecs); err != nil {
				return nil, errs.NewFatal(errs.KindMedia, errs.CodeSourceOpenFailed, err)
			}
		}
	}
	surf.MarkMetadataReached()
	o.surf = surf

	return manifest, nil
}

func (o *Orchestrator) fetchManifest(ctx context.Context, url string) (*model.Manifest, error) {
	raw, err := o.transport.Manifest.Load(ctx, transport.Context{URL: url})
	if err != nil {
		return nil, err
	}
	parsed, err := o.transport.Manifest.Parse(ctx, raw, transport.Context{URL: url})
	if err != nil {
		return nil, err
	}
	m, ok := parsed.Manifest.(*model.Manifest)
	if !ok {
		return nil, errs.NewFatal(errs.KindOther, errs.CodeManifestFetchFailed, fmt.Errorf("manifest parser returned unexpected type"))
	}
	return m, nil
}

func validateKeySystems(candidates []protection.KeySystemConfig) error {
	for _, c := range candidates {
		if c.PersistentLicense && c.LicenseStorage == nil {
			return errs.NewFatal(errs.KindEncryptedMedia, errs.CodeInvalidKeySystem, fmt.Errorf("key system %q: persistentLicense=true requires licenseStorage", c.Type))
		}
	}
	return nil
}

// spawnTrack starts runTrack for track under a fresh sub-context of the run,
// recording its CancelFunc so a later Seek across a period boundary can tear
// the in-flight buffer down without affecting the other tracks.
func (o *Orchestrator) spawnTrack(track model.TrackType, period *model.Period, adaptation *model.Adaptation) {
	trackCtx, cancel := context.WithCancel(o.runCtx)
	o.trackMu.Lock()
	o.trackCancel[track] = cancel
	o.trackMu.Unlock()

	o.wg.Add(1)
	go o.runTrack(trackCtx, track, period, adaptation)
}

// runTrack owns one track's buffer lifecycle across periods: it spawns a
// buffer for the current period, relays its output
// as StreamEvents, and on Finished looks up the period containing
// wantedRange.End + PeriodLookaheadEpsilon to spawn the next buffer,
// retiring the sink first if the codec changed.
func (o *Orchestrator) runTrack(ctx context.Context, track model.TrackType, period *model.Period, adaptation *model.Adaptation) {
	defer o.wg.Done()

	for {
		sink, err := o.sinkFor(track)
		if err != nil {
			o.out.Publish(events.Warning(o.streamID, err))
			return
		}

		bk := o.bkRegistry.For(string(track))
		buf := buffer.New(buffer.Config{
			Track:             track,
			Period:            period,
			WantedBufferAhead: o.cfg.WantedBufferAhead,
			MaxBufferAhead:    o.cfg.MaxBufferAhead,
			MaxBufferBehind:   o.cfg.MaxBufferBehind,
			SwitchCanFlush:    o.cfg.SwitchCanFlush,
			Gate:              o.protectionGate,
		}, adaptation, sink, bk, o.pipelineFor(track), o.abrCoord, o.log)

		o.out.Publish(events.AdaptationChange(o.streamID, string(track), period.ID, adaptation.ID))

		go buf.Run(ctx, o.getCurrentTime)

		var lastRange buffer.Range
		finished := false
		for out := range buf.Output() {
			lastRange = o.translateBufferOutput(track, period, out)
			if out.Kind == buffer.OutFinished {
				finished = true
			}
		}

		if ctx.Err() != nil {
			return
		}
		if !finished {
			return
		}

		next := o.manifest.GetPeriodForTime(lastRange.End + PeriodLookaheadEpsilon)
		if next == nil || next.ID == period.ID {
			return
		}
		nextAdaptations := next.Adaptations[track]
		if len(nextAdaptations) == 0 {
			return
		}

		if codecChanged(adaptation, &nextAdaptations[0]) {
			o.surf.RemoveSink(track)
		}

		period = next
		adaptation = &nextAdaptations[0]
		o.periodMu.Lock()
		o.curPeriod = period
		o.periodMu.Unlock()
	}
}

func codecChanged(a, b *model.Adaptation) bool {
	if len(a.Representations) == 0 || len(b.Representations) == 0 {
		return false
	}
	return a.Representations[0].Codecs != b.Representations[0].Codecs
}

func (o *Orchestrator) sinkFor(track model.TrackType) (surface.Sink, error) {
	if sink, ok := o.surf.Sink(track); ok {
		return sink, nil
	}
	return o.surf.AddCustomSink(track, nil)
}

func (o *Orchestrator) pipelineFor(track model.TrackType) *pipeline.Pipeline {
	o.pipelineMu.Lock()
	defer o.pipelineMu.Unlock()
	if p, ok := o.pipelines[track]; ok {
		return p
	}
	p := pipeline.New(track, o.transport.Segment, retry.NewRunner(retry.DefaultOptions(), rate.Limit(2)), o.metricsBus)
	o.pipelines[track] = p
	return p
}

func (o *Orchestrator) translateBufferOutput(track model.TrackType, period *model.Period, out buffer.Output) buffer.Range {
	switch out.Kind {
	case buffer.OutFilled:
		o.out.Publish(events.BufferFilled(o.streamID, string(track), events.Range(out.WantedRange)))
		o.maybeRefreshLiveManifest()
	case buffer.OutFinished:
		o.out.Publish(events.BufferFinished(o.streamID, string(track), events.Range(out.WantedRange)))
	case buffer.OutRepresentationChange:
		o.out.Publish(events.RepresentationChange(o.streamID, string(track), out.RepresentationID))
	case buffer.OutWarning:
		o.out.Publish(events.Warning(o.streamID, out.Err))
	}
	return out.WantedRange
}

// maybeRefreshLiveManifest triggers a throttled manifest refresh when the
// live edge is being approached. o.refresh (golang.org/x/time/rate) lets at
// most one refresh start per throttle interval; a refresh that is still
// running when the next interval opens does not hold the next one back.
func (o *Orchestrator) maybeRefreshLiveManifest() {
	if !o.manifest.IsLive || !o.refresh.Allow() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fresh, err := o.fetchManifest(ctx, o.manifest.GetURL())
		if err != nil {
			o.out.Publish(events.Warning(o.streamID, err))
			return
		}
		o.manifest.Update(fresh)
		o.out.Publish(events.ManifestUpdate(o.streamID))
	}()
}

// protectionGate reports whether the first segment append may proceed
//. With no configured key
// systems, playback is never gated.
func (o *Orchestrator) protectionGate() bool {
	if o.driver == nil {
		return true
	}
	return o.driver.Ready()
}

// NotifyEncrypted simulates the element's `encrypted` event;
// the real event comes from the presentation element, out of scope here.
func (o *Orchestrator) NotifyEncrypted(initDataType string, initData []byte, accepts func(protection.KeySystemConfig) bool) {
	if o.driver == nil {
		return
	}
	if err := o.driver.OnEncrypted(initDataType, initData, accepts); err != nil {
		var e *errs.Error
		if errs.As(err, &e) && e.Fatal {
			o.out.Publish(events.Fatal(o.streamID, e))
			o.cancel()
			return
		}
		o.out.Publish(events.Warning(o.streamID, err))
	}
}

// Seek updates currentTime immediately, forwards the seek to the
// presentation element, and, when it lands in a different period than the
// one currently playing, tears down every track's buffer for the stale
// period and spawns fresh ones for the period the seek landed in.
func (o *Orchestrator) Seek(t float64) {
	if el, ok := o.element.(interface{ Seek(float64) }); ok {
		el.Seek(t)
	}
	o.setCurrentTime(t)

	next := o.manifest.GetPeriodForTime(t)
	if next == nil {
		o.out.Publish(events.Warning(o.streamID, errs.New(errs.KindMedia, errs.CodeMediaStartingTimeNotFound, fmt.Errorf("seek target t=%.3f is outside any period", t))))
		return
	}

	o.periodMu.Lock()
	prev := o.curPeriod
	changed := prev == nil || prev.ID != next.ID
	o.curPeriod = next
	o.periodMu.Unlock()
	if !changed {
		return
	}

	for _, tt := range o.tracks {
		o.trackMu.Lock()
		cancel := o.trackCancel[tt]
		delete(o.trackCancel, tt)
		o.trackMu.Unlock()
		if cancel != nil {
			cancel()
		}

		if prev != nil {
			oldAdaptations, newAdaptations := prev.Adaptations[tt], next.Adaptations[tt]
			if len(oldAdaptations) > 0 && len(newAdaptations) > 0 && codecChanged(&oldAdaptations[0], &newAdaptations[0]) {
				o.surf.RemoveSink(tt)
			}
		}

		adaptations := next.Adaptations[tt]
		if len(adaptations) == 0 {
			continue
		}
		o.spawnTrack(tt, next, &adaptations[0])
	}
}

func (o *Orchestrator) runClockWatcher(ctx context.Context) {
	defer o.wg.Done()
	ch, _ := o.tickBus.Subscribe(ctx)

	lastRate := -1.0
	lastStalled := false
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			o.setCurrentTime(tick.CurrentTime)
			if tick.PlaybackRate != lastRate {
				lastRate = tick.PlaybackRate
				o.out.Publish(events.Speed(o.streamID, lastRate))
			}
			if tick.Stalled != lastStalled {
				lastStalled = tick.Stalled
				o.out.Publish(events.Stalled(o.streamID, lastStalled))
			}
			if tick.Duration > 0 && tick.Duration-tick.CurrentTime < o.cfg.EndOfPlay {
				o.cancel() // step 10: end-of-play termination
				return
			}
		}
	}
}

func (o *Orchestrator) runMetricsFanIn(ctx context.Context) {
	defer o.wg.Done()
	ch, _ := o.metricsBus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			o.abrCoord.Observe(m)
			if o.met != nil {
				o.met.ObserveSegmentBytes(string(m.Track), float64(m.Bytes))
			}
		}
	}
}

func (o *Orchestrator) bufferedGap() float64 {
	t := o.getCurrentTime()
	gap := math.Inf(1)
	for _, tt := range o.tracks {
		bk := o.bkRegistry.For(string(tt))
		if entry, ok := bk.Get(t); ok {
			if g := entry.BufferedEnd - t; g < gap {
				gap = g
			}
		} else {
			gap = 0
		}
	}
	if math.IsInf(gap, 1) {
		return 0
	}
	return gap
}

func (o *Orchestrator) setCurrentTime(t float64) {
	o.timeMu.Lock()
	o.curTime = t
	o.timeMu.Unlock()
}

func (o *Orchestrator) getCurrentTime() float64 {
	o.timeMu.RLock()
	defer o.timeMu.RUnlock()
	return o.curTime
}

// teardown implements the scoped-acquisition guarantee: element src cleared,
// object URL revoked, all sinks aborted, ProtectionState cleared. Safe to
// call multiple times.
func (o *Orchestrator) teardown() {
	if o.surf != nil {
		o.surf.Close()
	}
	if o.driver != nil {
		o.driver.Dispose()
	}
	if o.out != nil {
		o.out.Close()
	}
	if o.tickBus != nil {
		o.tickBus.Close()
	}
	if o.metricsBus != nil {
		o.metricsBus.Close()
	}
}

// Dispose cancels the orchestrator's run and blocks until every spawned
// goroutine has exited (teardown is idempotent and also runs
// automatically when the run context completes on its own).
func (o *Orchestrator) Dispose() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}
