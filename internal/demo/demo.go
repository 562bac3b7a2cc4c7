// Package demo wires a small two-period, two-track manifest over the fake
// transport and fake presentation element, used by cmd/player and as a
// fixture for orchestrator-level tests.
package demo

import (
	"fmt"
	"time"

	"adaptive-player/internal/model"
	"adaptive-player/internal/surface"
	transportfake "adaptive-player/internal/transport/fake"
)

// segmentDuration is the fixed segment length used by fixedIndexer.
const segmentDuration = 4.0

// fixedIndexer generates fixed-duration segments covering [0, periodDuration).
type fixedIndexer struct {
	representationID string
	periodDuration    float64
	hasInit           bool
}

func (f fixedIndexer) InitSegment() (model.Segment, bool) {
	if !f.hasInit {
		return model.Segment{}, false
	}
	return model.Segment{ID: f.representationID + "-init", IsInit: true}, true
}

func (f fixedIndexer) SegmentsFor(start, end float64) []model.Segment {
	var out []model.Segment
	for t := 0.0; t < f.periodDuration && t < end; t += segmentDuration {
		if t+segmentDuration <= start {
			continue
		}
		out = append(out, model.Segment{
			ID:       fmt.Sprintf("%s-%d", f.representationID, int(t/segmentDuration)),
			Time:     t,
			Duration: segmentDuration,
		})
	}
	return out
}

func representation(id string, bitrate int, periodDuration float64) model.Representation {
	idx := fixedIndexer{representationID: id, periodDuration: periodDuration, hasInit: true}
	initSeg := model.Segment{ID: id + "-init", IsInit: true}
	return model.Representation{
		ID:          id,
		Bitrate:     bitrate,
		MimeType:    "video/mp4",
		Codecs:      "avc1.640028",
		InitSegment: &initSeg,
		Indexer:     idx,
	}
}

// Manifest returns a two-period demo manifest: one video adaptation with
// three bitrate tiers, and one audio adaptation with a single tier.
func Manifest() *model.Manifest {
	periodDuration := 60.0

	video := model.Adaptation{
		ID:   "video-1",
		Type: model.TrackVideo,
		Representations: []model.Representation{
			representation("v-240", 400_000, periodDuration),
			representation("v-480", 1_200_000, periodDuration),
			representation("v-1080", 4_500_000, periodDuration),
		},
	}
	audio := model.Adaptation{
		ID:   "audio-1",
		Type: model.TrackAudio,
		Representations: []model.Representation{
			{
				ID:          "a-128",
				Bitrate:     128_000,
				MimeType:    "audio/mp4",
				Codecs:      "mp4a.40.2",
				InitSegment: &model.Segment{ID: "a-128-init", IsInit: true},
				Indexer:     fixedIndexer{representationID: "a-128", periodDuration: periodDuration, hasInit: true},
			},
		},
	}

	period1Duration := periodDuration
	period2Duration := periodDuration
	p1 := &model.Period{ID: "p1", Start: 0, Duration: &period1Duration, Adaptations: map[model.TrackType][]model.Adaptation{
		model.TrackVideo: {video},
		model.TrackAudio: {audio},
	}}
	p2 := &model.Period{ID: "p2", Start: period1Duration, Duration: &period2Duration, Adaptations: map[model.TrackType][]model.Adaptation{
		model.TrackVideo: {video},
		model.TrackAudio: {audio},
	}}

	return model.NewManifest("https://demo.invalid/manifest", false, period1Duration+period2Duration, []*model.Period{p1, p2})
}

// NewTransport returns a fake transport serving m, with the given
// simulated network latency.
func NewTransport(latency time.Duration, m *model.Manifest) *transportfake.Transport {
	return transportfake.New(latency, m)
}

// NativeSinkFactory returns a surface.NativeSinkFactory backed by
// in-memory MemSinks, suitable where no real media-source binding exists.
func NativeSinkFactory() surface.NativeSinkFactory {
	return func(t model.TrackType, _ string) (surface.Sink, error) {
		return surface.NewMemSink(surface.SinkNative, t, 64<<20), nil
	}
}
