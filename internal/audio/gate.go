package audio

import "time"

// gateHold is how long the gate stays open after the level last crossed
// the threshold, so word endings are not clipped.
const gateHold = 200 * time.Millisecond

// NoiseGate is the fallback transmit gate used when no VAD is active:
// open above a dBFS threshold, held open briefly after the signal drops.
// Not safe for concurrent use.
type NoiseGate struct {
	enabled     bool
	thresholdDB float64
	holdFrames  int // frames remaining in the hold window
}

// gateHoldFrames is the hold window in 20 ms frames.
var gateHoldFrames = int(gateHold / (20 * time.Millisecond))

// NewNoiseGate creates a gate with the given dBFS threshold.
func NewNoiseGate(enabled bool, thresholdDB float64) *NoiseGate {
	return &NoiseGate{enabled: enabled, thresholdDB: thresholdDB}
}

// Configure updates the gate parameters.
func (g *NoiseGate) Configure(enabled bool, thresholdDB float64) {
	g.enabled = enabled
	g.thresholdDB = thresholdDB
	if !enabled {
		g.holdFrames = 0
	}
}

// Open reports whether the frame with the given dBFS level passes the
// gate and updates the hold state. A disabled gate is always open.
func (g *NoiseGate) Open(levelDB float64) bool {
	if !g.enabled {
		return true
	}
	if levelDB > g.thresholdDB {
		g.holdFrames = gateHoldFrames
		return true
	}
	if g.holdFrames > 0 {
		g.holdFrames--
		return true
	}
	return false
}
