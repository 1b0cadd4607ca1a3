package audio

import (
	"log/slog"
	"sync"

	"github.com/funknet/funknet/internal/vad"
)

// SendPipeline processes captured frames into transmit payloads:
// band-pass → level metering → AGC → soft clip → quantise → VAD/gate →
// encode. One instance per capture stream; ProcessFrame is called from
// the capture goroutine only, configuration setters from anywhere.
type SendPipeline struct {
	logger *slog.Logger

	mu        sync.Mutex
	recording bool
	useAGC    bool
	detector  vad.VAD // nil means use the noise gate
	gate      *NoiseGate
	levelDB   float64
	levelFn   func(db float64)
	readyFn   func() bool // transmit allowed (session authenticated)

	// Capture-goroutine state, never touched under mu.
	filter *BandpassFilter
	agc    *AGC
	codec  Codec

	encodeFailures uint64
}

// SendPipelineConfig configures a send pipeline.
type SendPipelineConfig struct {
	// Codec encodes outgoing frames; nil means raw PCM.
	Codec Codec
	// Detector classifies speech; nil falls back to the noise gate.
	Detector vad.VAD
	// GateEnabled / GateThresholdDB configure the fallback noise gate.
	GateEnabled     bool
	GateThresholdDB float64
	// UseAGC enables automatic gain control.
	UseAGC bool
	// Ready reports whether transmission is currently allowed. The
	// pipeline drops frames while it returns false.
	Ready func() bool
	// Level, when set, receives the input level in dBFS every frame.
	Level func(db float64)
}

// NewSendPipeline creates the capture processing chain.
func NewSendPipeline(cfg SendPipelineConfig, logger *slog.Logger) *SendPipeline {
	codec := cfg.Codec
	if codec == nil {
		codec = PCMCodec{}
	}
	return &SendPipeline{
		logger:   logger.With("subsystem", "capture"),
		useAGC:   cfg.UseAGC,
		detector: cfg.Detector,
		gate:     NewNoiseGate(cfg.GateEnabled, cfg.GateThresholdDB),
		levelFn:  cfg.Level,
		readyFn:  cfg.Ready,
		filter:   NewBandpass(),
		agc:      NewAGC(),
		codec:    codec,
	}
}

// SetRecording opens or closes the transmit path (PTT state).
func (p *SendPipeline) SetRecording(on bool) {
	p.mu.Lock()
	p.recording = on
	p.mu.Unlock()
}

// Recording reports whether the transmit path is open.
func (p *SendPipeline) Recording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recording
}

// SetGate updates the fallback noise gate parameters.
func (p *SendPipeline) SetGate(enabled bool, thresholdDB float64) {
	p.mu.Lock()
	p.gate.Configure(enabled, thresholdDB)
	p.mu.Unlock()
}

// LevelDB returns the most recent input level in dBFS.
func (p *SendPipeline) LevelDB() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levelDB
}

// ProcessFrame runs one captured frame through the chain. It returns the
// encoded payload and true when the frame should be transmitted. The
// frame is modified in place.
func (p *SendPipeline) ProcessFrame(frame []float32) ([]byte, bool) {
	p.filter.Process(frame)

	levelDB := DB(RMS(frame))

	p.mu.Lock()
	p.levelDB = levelDB
	recording := p.recording
	useAGC := p.useAGC
	detector := p.detector
	gate := p.gate
	levelFn := p.levelFn
	readyFn := p.readyFn
	p.mu.Unlock()

	if levelFn != nil {
		levelFn(levelDB)
	}

	if !recording {
		return nil, false
	}

	if useAGC {
		p.agc.Process(frame)
	}
	SoftClip(frame)
	pcm := FloatToPCM(frame)

	// Speech decision: VAD when present, otherwise the noise gate.
	var speak bool
	if detector != nil {
		speak = detector.IsSpeech(pcm, SampleRate)
	} else {
		speak = gate.Open(levelDB)
	}
	if !speak {
		return nil, false
	}

	if readyFn != nil && !readyFn() {
		return nil, false
	}

	payload, err := p.codec.Encode(pcm)
	if err != nil {
		// Codec failure falls back to raw PCM for this frame.
		p.encodeFailures++
		if p.encodeFailures%100 == 1 {
			p.logger.Warn("encode failed, sending raw pcm",
				"failures", p.encodeFailures,
				"error", err,
			)
		}
		return pcm, true
	}
	return payload, true
}
