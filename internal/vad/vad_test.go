package vad

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

const (
	testRate = 48000
	frameLen = 960 // 20 ms at 48 kHz
)

// pcmFrame builds a little-endian int16 frame from float samples.
func pcmFrame(samples []float64) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(s*32767)))
	}
	return buf
}

// toneFrame synthesises a sine at freq Hz with the given amplitude.
func toneFrame(freq, amp float64) []byte {
	samples := make([]float64, frameLen)
	for i := range samples {
		samples[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return pcmFrame(samples)
}

// silenceFrame is all zeros.
func silenceFrame() []byte {
	return make([]byte, 2*frameLen)
}

// noiseFrame is low-level white noise.
func noiseFrame(rng *rand.Rand, amp float64) []byte {
	samples := make([]float64, frameLen)
	for i := range samples {
		samples[i] = amp * (rng.Float64()*2 - 1)
	}
	return pcmFrame(samples)
}

// prime feeds quiet frames so the noise floor settles.
func prime(v VAD) {
	for i := 0; i < 20; i++ {
		v.IsSpeech(silenceFrame(), testRate)
	}
}

func TestSilenceIsNotSpeech(t *testing.T) {
	v := NewEnergy(2)
	prime(v)
	if v.IsSpeech(silenceFrame(), testRate) {
		t.Error("silence classified as speech")
	}
}

func TestLoudVoicedToneIsSpeech(t *testing.T) {
	v := NewEnergy(2)
	prime(v)
	// 200 Hz at healthy amplitude: pitch-range energy.
	if !v.IsSpeech(toneFrame(200, 0.5), testRate) {
		t.Error("loud voiced tone classified as non-speech")
	}
}

func TestQuietNoiseIsNotSpeech(t *testing.T) {
	v := NewEnergy(2)
	rng := rand.New(rand.NewSource(1))
	// Establish the floor with the same noise level.
	for i := 0; i < 50; i++ {
		v.IsSpeech(noiseFrame(rng, 0.01), testRate)
	}
	if v.IsSpeech(noiseFrame(rng, 0.01), testRate) {
		t.Error("steady background noise classified as speech")
	}
}

func TestEmptyFrame(t *testing.T) {
	v := NewEnergy(0)
	if v.IsSpeech(nil, testRate) {
		t.Error("empty frame classified as speech")
	}
}

func TestAggressivenessMonotone(t *testing.T) {
	// If a mode declares a frame non-speech, every higher mode must too.
	frames := [][]byte{
		toneFrame(200, 0.04),
		toneFrame(300, 0.1),
		toneFrame(150, 0.3),
	}
	for fi, frame := range frames {
		prev := true
		for mode := 0; mode <= 3; mode++ {
			v := NewEnergy(mode)
			prime(v)
			got := v.IsSpeech(frame, testRate)
			if got && !prev {
				t.Errorf("frame %d: mode %d says speech after a lower mode said non-speech", fi, mode)
			}
			prev = got
		}
	}
}

func TestSetModeClamps(t *testing.T) {
	v := NewEnergy(0)
	v.SetMode(-5)
	if v.mode != 0 {
		t.Errorf("mode = %d, want clamped 0", v.mode)
	}
	v.SetMode(99)
	if v.mode != 3 {
		t.Errorf("mode = %d, want clamped 3", v.mode)
	}
}
