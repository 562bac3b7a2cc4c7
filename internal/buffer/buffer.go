// Package buffer implements the Adaptation Buffer: the
// core per-(period, track) engine that picks segments needed for a wanted
// range, feeds the sink, honors garbage-collect windows, and switches
// representation.
package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/bookkeeper"
	"adaptive-player/internal/errs"
	"adaptive-player/internal/model"
	"adaptive-player/internal/pipeline"
	"adaptive-player/internal/surface"
)

// State is the buffer's state-machine position.
type State int

const (
	Idle State = iota
	Selecting
	Fetching
	Appending
	Filled
	Finished
)

func (s State) String() string {
	return [...]string{"idle", "selecting", "fetching", "appending", "filled", "finished"}[s]
}

// Output is one emission from Run's output channel.
type Output struct {
	Kind             OutputKind
	WantedRange      Range
	RepresentationID string
	Err              error
}

// OutputKind tags an Output.
type OutputKind int

const (
	OutSegmentsQueued OutputKind = iota
	OutFilled
	OutFinished
	OutNeedsDiscontinuity
	OutRepresentationChange
	OutWarning
)

// Range is a clock-relative wanted time interval.
type Range struct{ Start, End float64 }

// Config parameterizes one buffer instance.
type Config struct {
	Track              model.TrackType
	Period             *model.Period
	WantedBufferAhead  float64
	MaxBufferAhead     float64
	MaxBufferBehind    float64
	SwitchCanFlush      bool // representation-switch flush policy
	// Gate, when non-nil, must return true before the very first append is
	// attempted (protection keys attached before any segment is appended).
	// The buffer polls it cooperatively between fetch attempts.
	Gate func() bool
}

// Buffer drives one (period, track) adaptation loop.
type Buffer struct {
	cfg   Config
	sink  surface.Sink
	bk    *bookkeeper.Bookkeeper
	pipe  *pipeline.Pipeline
	abr   *abr.Coordinator
	log   *slog.Logger

	adaptation *model.Adaptation
	active     *model.Representation
	needsInit  bool
	gated      bool
	state      State
	out        chan Output
}

// New returns a Buffer for cfg, driven by the given collaborators.
// adaptation may be nil to dispose the track, in which case Run exits
// immediately after emitting nothing.
func New(cfg Config, adaptation *model.Adaptation, sink surface.Sink, bk *bookkeeper.Bookkeeper, pipe *pipeline.Pipeline, coordinator *abr.Coordinator, log *slog.Logger) *Buffer {
	return &Buffer{
		cfg:        cfg,
		sink:       sink,
		bk:         bk,
		pipe:       pipe,
		abr:        coordinator,
		log:        log,
		adaptation: adaptation,
		needsInit:  true,
		gated:      cfg.Gate != nil,
		out:        make(chan Output, 8),
	}
}

// Output returns the buffer's output channel; closed when Run returns.
func (b *Buffer) Output() <-chan Output { return b.out }

// State returns the buffer's current state.
func (b *Buffer) State() State { return b.state }

// Run drives the state machine until ctx is cancelled, the period is
// Finished, or a fatal error occurs. clockFn returns the current playback
// time on each iteration.
func (b *Buffer) Run(ctx context.Context, clockFn func() float64) {
	defer close(b.out)

	if b.adaptation == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := clockFn()
		wanted := b.wantedRange(now)

		b.state = Selecting
		rep, switched := b.selectRepresentation(wanted)
		if switched {
			b.onSwitch(rep)
			b.emit(Output{Kind: OutRepresentationChange, RepresentationID: rep.ID})
		}

		b.state = Fetching
		seg, ok := b.nextUncovered(wanted)
		if !ok {
			if b.coversToPeriodEnd(wanted) {
				b.state = Finished
				b.emit(Output{Kind: OutFinished, WantedRange: wanted})
				return
			}
			b.state = Filled
			b.emit(Output{Kind: OutFilled, WantedRange: wanted})
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		if seg.Duration <= 0 {
			b.emit(Output{Kind: OutWarning, Err: fmt.Errorf("segment %s has non-positive duration, skipped", seg.ID)})
			continue
		}

		if b.gated && !b.waitForGate(ctx) {
			return
		}

		if err := b.fetchAndAppend(ctx, seg, now); err != nil {
			if isFatal(err) {
				b.emit(Output{Kind: OutWarning, Err: err})
				return
			}
			b.emit(Output{Kind: OutWarning, Err: err})
			continue
		}

		b.emit(Output{Kind: OutSegmentsQueued, WantedRange: wanted})
	}
}

func (b *Buffer) emit(o Output) {
	select {
	case b.out <- o:
	default:
	}
}

// waitForGate polls cfg.Gate cooperatively until it reports true or ctx is
// cancelled. It only applies to the first append; once passed,
// b.gated is cleared.
func (b *Buffer) waitForGate(ctx context.Context) bool {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if b.cfg.Gate() {
			b.gated = false
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func isFatal(err error) bool {
	var e *errs.Error
	return errs.As(err, &e) && e.Fatal
}

// wantedRange computes [currentTime, currentTime+wantedBufferAhead]
// clipped to the period bounds.
func (b *Buffer) wantedRange(now float64) Range {
	start := now
	if start < b.cfg.Period.Start {
		start = b.cfg.Period.Start
	}
	end := now + b.cfg.WantedBufferAhead
	if periodEnd, ok := b.cfg.Period.End(); ok && end > periodEnd {
		end = periodEnd
	}
	return Range{Start: start, End: end}
}

func (b *Buffer) coversToPeriodEnd(wanted Range) bool {
	periodEnd, ok := b.cfg.Period.End()
	return ok && wanted.End >= periodEnd
}

// selectRepresentation consults ABR and returns (representation, switched).
func (b *Buffer) selectRepresentation(wanted Range) (model.Representation, bool) {
	reps := b.adaptation.Representations
	if b.abr == nil || len(reps) == 0 {
		if len(reps) > 0 && b.active == nil {
			b.active = &reps[0]
			return reps[0], true
		}
		if b.active != nil {
			return *b.active, false
		}
		return model.Representation{}, false
	}

	chosen, changed := b.abr.Select(b.cfg.Track, reps)
	if b.active == nil {
		b.active = &chosen
		return chosen, true
	}
	if changed && chosen.ID != b.active.ID {
		b.active = &chosen
		return chosen, true
	}
	return *b.active, false
}

// onSwitch handles a representation switch: cancel in-flight fetch of the
// previous representation (the pipeline's one-in-flight rule already
// guarantees this on the next Request), optionally flush overlapping
// low-quality segments, and mark that the init segment must be
// re-prepended.
func (b *Buffer) onSwitch(rep model.Representation) {
	b.log.Debug("representation switch", "track", b.cfg.Track, "representation", rep.ID, "bitrate", rep.Bitrate)
	b.needsInit = true
	if b.cfg.SwitchCanFlush {
		b.flushBelowBitrate(rep.Bitrate)
	}
}

// flushBelowBitrate drops sink and bookkeeper ranges recorded at a strictly
// lower bitrate than the newly selected representation, so quality never
// regresses in the appended union.
func (b *Buffer) flushBelowBitrate(bitrate int) {
	evictor, ok := b.sink.(interface{ Evict(float64, float64) })
	if !ok {
		return
	}
	for _, e := range b.bk.EntriesBelowBitrate(bitrate) {
		evictor.Evict(e.BufferedStart, e.BufferedEnd)
		b.bk.Remove(e.BufferedStart, e.BufferedEnd)
	}
}

// nextUncovered asks the indexer for the next uncovered segment inside
// wanted, using the bookkeeper to skip what's already buffered.
func (b *Buffer) nextUncovered(wanted Range) (model.Segment, bool) {
	if b.active == nil || b.active.Indexer == nil {
		return model.Segment{}, false
	}
	for _, seg := range b.active.Indexer.SegmentsFor(wanted.Start, wanted.End) {
		if _, covered := b.bk.Get(seg.Time + seg.Duration/2); covered {
			continue
		}
		return seg, true
	}
	return model.Segment{}, false
}

func (b *Buffer) fetchAndAppend(ctx context.Context, seg model.Segment, now float64) error {
	if b.needsInit && b.active.InitSegment != nil {
		initBytes, err := b.pipe.Request(ctx, *b.active.InitSegment, b.active.ID, b.active.ID+"/init")
		if err != nil {
			return err
		}
		if err := b.appendOrGC(ctx, initBytes, now, 0, 0); err != nil {
			return err
		}
		b.needsInit = false
	}

	data, err := b.pipe.Request(ctx, seg, b.active.ID, fmt.Sprintf("%s/%d", b.active.ID, int64(seg.Time*1000)))
	if err != nil {
		return err
	}

	start, end := seg.Time, seg.Time+seg.Duration
	if end <= start {
		return fmt.Errorf("segment %s has end <= start, rejected", seg.ID)
	}

	if err := b.appendOrGC(ctx, data, now, start, end); err != nil {
		return err
	}

	b.bk.Insert(seg, *b.active, b.adaptation.ID, b.cfg.Period.ID, start, end)
	if ms, ok := b.sink.(interface{ AppendRange(float64, float64) }); ok {
		ms.AppendRange(start, end)
	}
	return nil
}

// appendOrGC appends data to the sink; on quota-exceeded it garbage
// collects within [now-maxBufferBehind, now+maxBufferAhead] and retries
// once, surfacing BufferFull if still full.
func (b *Buffer) appendOrGC(ctx context.Context, data []byte, now, start, end float64) error {
	if err := b.sink.Append(data); err == nil {
		return nil
	}

	gcStart := now - b.cfg.MaxBufferBehind
	gcEnd := now + b.cfg.MaxBufferAhead
	if evictor, ok := b.sink.(interface{ Evict(float64, float64) }); ok {
		evictor.Evict(gcStart, gcEnd)
		b.bk.Synchronize(sinkRangesOf(b.sink))
	}

	if err := b.sink.Append(data); err != nil {
		return errs.New(errs.KindMedia, errs.CodeBufferFull, err)
	}
	return nil
}

func sinkRangesOf(s surface.Sink) []bookkeeper.BufferedRange {
	raw := s.BufferedRanges()
	out := make([]bookkeeper.BufferedRange, len(raw))
	for i, r := range raw {
		out[i] = bookkeeper.BufferedRange{Start: r.Start, End: r.End}
	}
	return out
}
