package client

import "time"

// qualityWindow is the rolling size of the RTT sample window.
const qualityWindow = 10

// Quality tracks connection quality from keep-alive round trips. It is
// not safe for concurrent use; the owning Session serialises access.
type Quality struct {
	latencies       []time.Duration // last qualityWindow round trips
	Latency         time.Duration   // most recent round trip
	Jitter          time.Duration   // mean absolute successive difference
	PacketsSent     int
	PacketsReceived int
	LossRate        float64 // 0..1
	SignalStrength  int     // 0..100
}

// newQuality returns a quality tracker at full signal strength.
func newQuality() *Quality {
	return &Quality{SignalStrength: 100}
}

// reset clears counters for a fresh connection.
func (q *Quality) reset() {
	*q = Quality{SignalStrength: 100}
}

// recordSent counts an outbound packet.
func (q *Quality) recordSent() {
	q.PacketsSent++
}

// recordReceived counts an inbound packet.
func (q *Quality) recordReceived() {
	q.PacketsReceived++
}

// recordRTT pushes a round-trip sample, recomputes jitter, and applies
// the latency rules to signal strength: reward fast links, punish slow ones.
func (q *Quality) recordRTT(rtt time.Duration) {
	q.Latency = rtt
	q.latencies = append(q.latencies, rtt)
	if len(q.latencies) > qualityWindow {
		q.latencies = q.latencies[1:]
	}

	if len(q.latencies) >= 2 {
		var sum time.Duration
		for i := 1; i < len(q.latencies); i++ {
			d := q.latencies[i] - q.latencies[i-1]
			if d < 0 {
				d = -d
			}
			sum += d
		}
		q.Jitter = sum / time.Duration(len(q.latencies)-1)
	}

	switch {
	case rtt < 50*time.Millisecond:
		q.adjustSignal(+2)
	case rtt > 200*time.Millisecond:
		q.adjustSignal(-5)
	}
}

// recordSendError punishes the link for a failed transmit.
func (q *Quality) recordSendError() {
	q.adjustSignal(-10)
}

// observeSilence applies the watchdog's view of packet age to signal
// strength. Called once per watchdog tick.
func (q *Quality) observeSilence(age time.Duration) {
	switch {
	case age >= 10*time.Second:
		q.SignalStrength = 0
	case age > 5*time.Second:
		q.adjustSignal(-10)
	case age < 2*time.Second:
		q.adjustSignal(+5)
	}
}

// updateLoss recomputes the packet loss rate and applies the loss rules
// to signal strength. Called after each keep-alive send.
func (q *Quality) updateLoss() {
	if q.PacketsSent == 0 {
		return
	}
	loss := 1.0 - float64(q.PacketsReceived)/float64(q.PacketsSent)
	if loss < 0 {
		loss = 0
	}
	q.LossRate = loss

	switch {
	case loss > 0.10:
		q.adjustSignal(-15)
	case loss < 0.01:
		q.adjustSignal(+3)
	}
}

// adjustSignal applies a delta clamped to [0, 100].
func (q *Quality) adjustSignal(delta int) {
	q.SignalStrength += delta
	if q.SignalStrength > 100 {
		q.SignalStrength = 100
	}
	if q.SignalStrength < 0 {
		q.SignalStrength = 0
	}
}

// StatusLabel maps signal strength to the label shown in the client UI.
func (q *Quality) StatusLabel() string {
	switch {
	case q.SignalStrength >= 80:
		return "Excellent"
	case q.SignalStrength >= 60:
		return "Good"
	case q.SignalStrength >= 40:
		return "Fair"
	case q.SignalStrength >= 20:
		return "Weak"
	default:
		return "Very weak"
	}
}

// Snapshot is an exported copy of the quality state for the UI.
type Snapshot struct {
	LatencyMS       int
	JitterMS        int
	PacketsSent     int
	PacketsReceived int
	LossPercent     float64
	SignalStrength  int
	Status          string
}

// snapshot copies the current values.
func (q *Quality) snapshot() Snapshot {
	return Snapshot{
		LatencyMS:       int(q.Latency.Milliseconds()),
		JitterMS:        int(q.Jitter.Milliseconds()),
		PacketsSent:     q.PacketsSent,
		PacketsReceived: q.PacketsReceived,
		LossPercent:     q.LossRate * 100,
		SignalStrength:  q.SignalStrength,
		Status:          q.StatusLabel(),
	}
}
