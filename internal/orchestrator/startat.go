package orchestrator

import (
	"time"

	"adaptive-player/internal/model"
)

// resolveStartAt computes the initial playback time from the manifest and
// the StartAt policy: absolute, wall-clock, relative-to-start,
// relative-to-end, percentage, or live-edge.
func resolveStartAt(m *model.Manifest, s StartAt) float64 {
	firstStart := 0.0
	if len(m.Periods) > 0 {
		firstStart = m.Periods[0].Start
	}
	lastEnd := m.GetDuration()

	switch {
	case s.Position != nil:
		return *s.Position
	case s.WallClockTime != nil:
		if !m.IsLive {
			return firstStart
		}
		// The live edge (lastEnd) is assumed to correspond to the wall
		// clock reading "now" at resolution time.
		anchor := time.Now().Add(-time.Duration(lastEnd * float64(time.Second)))
		return s.WallClockTime.Sub(anchor).Seconds()
	case s.Percentage != nil:
		pct := *s.Percentage
		if pct < 0 {
			pct = 0
		}
		if pct > 1 {
			pct = 1
		}
		return firstStart + pct*(lastEnd-firstStart)
	case s.FromFirstPosition != nil:
		return firstStart + *s.FromFirstPosition
	case s.FromLastPosition != nil:
		return lastEnd - *s.FromLastPosition
	case s.LiveEdge || m.IsLive:
		return lastEnd
	default:
		return firstStart
	}
}
