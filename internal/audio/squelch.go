package audio

import "math"

// Squelch tone parameters: a short 1 kHz chirp that decays within the
// first frame, marking the start of a new transmission.
const (
	squelchFreq  = 1000.0
	squelchLevel = 0.15
	squelchDecay = 200.0 // exponential decay rate per second
)

// MixSquelch blends the decaying squelch tone over the frame in place.
func MixSquelch(frame []float32) []float32 {
	for i := range frame {
		t := float64(i) / SampleRate
		tone := math.Sin(2*math.Pi*squelchFreq*t) * squelchLevel * math.Exp(-t*squelchDecay)
		frame[i] += float32(tone)
	}
	return frame
}
