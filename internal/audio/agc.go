package audio

// AGC constants: target level and asymmetric smoothing. Gain rises fast
// for quiet talkers and falls slowly after a shout, avoiding pumping.
const (
	agcTarget  = 0.3
	agcAttack  = 0.01
	agcRelease = 0.001
	agcMinGain = 0.1
	agcMaxGain = 10.0

	// agcMinRMS suppresses gain updates below the noise floor so
	// silence never cranks the gain to maximum.
	agcMinRMS = 0.001
)

// AGC is the capture-side automatic gain control. Not safe for
// concurrent use; the capture loop is the sole caller.
type AGC struct {
	gain float64
}

// NewAGC returns an AGC at unity gain.
func NewAGC() *AGC {
	return &AGC{gain: 1.0}
}

// Process applies the current gain to the frame in place and nudges the
// gain toward the target level. Returns the frame.
func (a *AGC) Process(frame []float32) []float32 {
	rms := RMS(frame)

	for i, s := range frame {
		v := s * float32(a.gain)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		frame[i] = v
	}

	if rms < agcMinRMS {
		return frame
	}

	desired := agcTarget / rms
	if desired < agcMinGain {
		desired = agcMinGain
	} else if desired > agcMaxGain {
		desired = agcMaxGain
	}

	coeff := agcRelease
	if desired > a.gain {
		coeff = agcAttack
	}
	a.gain += (desired - a.gain) * coeff

	if a.gain < agcMinGain {
		a.gain = agcMinGain
	} else if a.gain > agcMaxGain {
		a.gain = agcMaxGain
	}
	return frame
}

// Gain returns the current gain multiplier.
func (a *AGC) Gain() float64 { return a.gain }

// Reset returns the gain to unity.
func (a *AGC) Reset() { a.gain = 1.0 }
