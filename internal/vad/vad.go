// Package vad defines the voice activity detector contract used by the
// capture pipeline and provides an energy-based implementation.
//
// Implementations are interchangeable: the pipeline only asks "is this
// 20 ms PCM frame speech?". Higher aggressiveness modes must reject more
// non-speech.
package vad

import (
	"encoding/binary"
	"math"
)

// VAD classifies 16-bit mono PCM frames as speech or non-speech.
type VAD interface {
	// IsSpeech reports whether the frame contains speech. pcm is
	// little-endian int16 samples; sampleRate is in Hz.
	IsSpeech(pcm []byte, sampleRate int) bool
	// SetMode sets the aggressiveness (0 = most permissive, 3 = most
	// aggressive). Values outside 0..3 are clamped.
	SetMode(mode int)
}

// Energy is a pure-Go detector combining frame energy and zero-crossing
// rate. Voiced speech has high energy and a moderate zero-crossing rate;
// hiss and hum fail one of the two tests. Not safe for concurrent use.
type Energy struct {
	mode int
	// noiseFloor adapts downward fast and upward slowly, tracking the
	// quiet level between words.
	noiseFloor float64
	primed     bool
}

// Aggressiveness thresholds per mode: energy must exceed the noise floor
// by this ratio to count as speech.
var energyRatios = [4]float64{1.5, 2.0, 3.0, 4.5}

// NewEnergy returns an energy detector at the given mode.
func NewEnergy(mode int) *Energy {
	e := &Energy{}
	e.SetMode(mode)
	return e
}

// SetMode sets the aggressiveness, clamped to 0..3.
func (e *Energy) SetMode(mode int) {
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	e.mode = mode
}

// IsSpeech implements VAD.
func (e *Energy) IsSpeech(pcm []byte, sampleRate int) bool {
	n := len(pcm) / 2
	if n == 0 {
		return false
	}

	var sumSq float64
	var crossings int
	var prev int16
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		f := float64(s) / 32768.0
		sumSq += f * f
		if i > 0 && ((s >= 0) != (prev >= 0)) {
			crossings++
		}
		prev = s
	}
	rms := math.Sqrt(sumSq / float64(n))

	// Track the noise floor: fall quickly toward quiet frames, rise
	// slowly through loud ones.
	if !e.primed {
		e.noiseFloor = rms
		e.primed = true
	} else if rms < e.noiseFloor {
		e.noiseFloor += (rms - e.noiseFloor) * 0.5
	} else {
		e.noiseFloor += (rms - e.noiseFloor) * 0.02
	}
	floor := e.noiseFloor
	if floor < 1e-4 {
		floor = 1e-4
	}

	if rms < floor*energyRatios[e.mode] {
		return false
	}

	// Zero-crossing rate in crossings per second. Speech sits well
	// below white noise; pure hum sits near zero but fails energy.
	zcr := float64(crossings) * float64(sampleRate) / float64(n)
	maxZCR := 3000.0 - 400.0*float64(e.mode)
	return zcr < maxZCR
}
