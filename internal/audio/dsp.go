// Package audio implements the client's audio pipelines: the send side
// (band-pass → AGC → soft clip → gate/VAD → codec) and the receive side
// (adaptive jitter queue → decode → band-pass → volume), plus the
// PortAudio device plumbing that drives both.
package audio

import "math"

const (
	// SampleRate is the capture and playback rate in Hz.
	SampleRate = 48000

	// FrameSize is one 20 ms mono frame at SampleRate.
	FrameSize = 960

	// Voice band edges for the band-pass filter, in Hz. The telephone
	// band: everything a narrowband radio needs, nothing it doesn't.
	bandLowHz  = 300.0
	bandHighHz = 3400.0
)

// biquad is one direct-form-II-transposed second-order section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64
}

// process filters one sample.
func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

// reset clears the delay line.
func (f *biquad) reset() {
	f.z1, f.z2 = 0, 0
}

// butterQ is the quality factor of a 2nd-order Butterworth section.
const butterQ = math.Sqrt2 / 2

// newHighpass designs a Butterworth high-pass biquad at cutoff Hz.
func newHighpass(cutoff, sampleRate float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * butterQ)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// newLowpass designs a Butterworth low-pass biquad at cutoff Hz.
func newLowpass(cutoff, sampleRate float64) biquad {
	w0 := 2 * math.Pi * cutoff / sampleRate
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * butterQ)

	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// BandpassFilter is the 4th-order voice band-pass: a high-pass at 300 Hz
// cascaded with a low-pass at 3.4 kHz, filter state carried across
// frames. Not safe for concurrent use.
type BandpassFilter struct {
	hp, lp biquad
}

// NewBandpass creates the voice band-pass filter.
func NewBandpass() *BandpassFilter {
	return &BandpassFilter{
		hp: newHighpass(bandLowHz, SampleRate),
		lp: newLowpass(bandHighHz, SampleRate),
	}
}

// Process filters the frame in place and returns it.
func (f *BandpassFilter) Process(frame []float32) []float32 {
	for i, s := range frame {
		y := f.lp.process(f.hp.process(float64(s)))
		frame[i] = float32(y)
	}
	return frame
}

// Reset clears the filter state (e.g. after a stream restart).
func (f *BandpassFilter) Reset() {
	f.hp.reset()
	f.lp.reset()
}

// RMS returns the root-mean-square level of a frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// DB converts a linear level to dBFS. Silence maps to -100 dB.
func DB(level float64) float64 {
	if level <= 0 {
		return -100.0
	}
	db := 20 * math.Log10(level)
	if db < -100 {
		return -100
	}
	return db
}

// SoftClip applies tanh saturation in place: gentle on normal levels,
// hard ceiling on peaks, no wraparound artifacts after quantisation.
func SoftClip(frame []float32) []float32 {
	for i, s := range frame {
		frame[i] = float32(math.Tanh(2*float64(s)) * 0.9)
	}
	return frame
}

// FloatToPCM quantises float32 samples to little-endian 16-bit PCM.
func FloatToPCM(frame []float32) []byte {
	out := make([]byte, 2*len(frame))
	for i, s := range frame {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// PCMToFloat expands little-endian 16-bit PCM to float32 samples.
func PCMToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(v) / 32767.0
	}
	return out
}
