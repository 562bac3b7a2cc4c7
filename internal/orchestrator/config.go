package orchestrator

import (
	"time"

	"adaptive-player/internal/abr"
	"adaptive-player/internal/model"
	"adaptive-player/internal/protection"
)

// StartAt is the initial-time policy: exactly one field
// should be set; Position wins if more than one is, in that order.
type StartAt struct {
	Position *float64
	// WallClockTime is an absolute wall-clock target for live manifests; it
	// is mapped to media time assuming the live edge (the manifest's
	// duration) corresponds to "now" at resolution time. Ignored for VOD
	// manifests.
	WallClockTime     *time.Time
	Percentage        *float64 // 0..1 of manifest duration
	FromFirstPosition *float64 // seconds after the first period's start
	FromLastPosition  *float64 // seconds before the live edge / end
	LiveEdge          bool
}

// Config is the orchestrator's recognized configuration.
type Config struct {
	AutoPlay         bool
	NeedsMediaSource bool
	StartAt          StartAt

	WantedBufferAhead float64
	MaxBufferAhead    float64
	MaxBufferBehind   float64

	TrackConfigs map[model.TrackType]abr.Config

	KeySystems []protection.KeySystemConfig

	EndOfPlay float64 // default 0.5s

	ManifestRefreshThrottle time.Duration // minimum interval between live refreshes

	SwitchCanFlush bool // representation-switch flush policy for buffers

	RetryOptions RetryOptions
}

// RetryOptions configures the retry harness wrapping orchestrator startup.
type RetryOptions struct {
	TotalRetry int
	RetryDelay time.Duration
	ResetDelay time.Duration
}

// PeriodLookaheadEpsilon is the epsilon added to wantedRange.End when
// locating the next period to spawn.
const PeriodLookaheadEpsilon = 2.0

// DefaultConfig returns sensible playback defaults.
func DefaultConfig() Config {
	return Config{
		AutoPlay:                true,
		NeedsMediaSource:        true,
		WantedBufferAhead:       10,
		MaxBufferAhead:          30,
		MaxBufferBehind:         30,
		EndOfPlay:               0.5,
		ManifestRefreshThrottle: 5 * time.Second,
		TrackConfigs:            map[model.TrackType]abr.Config{},
		RetryOptions: RetryOptions{
			TotalRetry: 3,
			RetryDelay: 250 * time.Millisecond,
			ResetDelay: 60 * time.Second,
		},
	}
}
