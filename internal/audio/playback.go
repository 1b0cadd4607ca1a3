package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Adaptive playback queue bounds, in 20 ms frames.
const (
	queueCapacity = 20
	minDepth      = 3
	maxDepth      = 20
	initialDepth  = 3

	// depthAdjustEvery limits how often the target depth may change.
	depthAdjustEvery = 5 * time.Second
)

// ReceivePipeline buffers incoming audio payloads and produces playback
// blocks: adaptive jitter queue → decode → band-pass → volume. Enqueue
// is called from the network goroutine, NextBlock from the playback
// callback; configuration setters from anywhere.
type ReceivePipeline struct {
	logger *slog.Logger
	codec  Codec

	mu         sync.Mutex
	queue      [][]byte
	buffering  bool
	depth      int
	underruns  int
	lastAdjust time.Time
	volume     float64
	squelch    bool // blend the squelch tone over the next block
	now        func() time.Time

	// Playback-goroutine state.
	filter *BandpassFilter
}

// NewReceivePipeline creates the playback chain. codec nil means raw PCM.
func NewReceivePipeline(codec Codec, logger *slog.Logger) *ReceivePipeline {
	if codec == nil {
		codec = PCMCodec{}
	}
	return &ReceivePipeline{
		logger:     logger.With("subsystem", "playback"),
		codec:      codec,
		buffering:  true,
		depth:      initialDepth,
		volume:     1.0,
		now:        time.Now,
		lastAdjust: time.Now(),
		filter:     NewBandpass(),
	}
}

// Enqueue adds one received payload. When the queue is full the oldest
// frame is dropped: staying current beats playing stale audio.
func (p *ReceivePipeline) Enqueue(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= queueCapacity {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, payload)
}

// SetVolume sets the master playback volume in [0, 1].
func (p *ReceivePipeline) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Depth returns the current target buffering depth in frames.
func (p *ReceivePipeline) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.depth
}

// Underruns returns how many playback blocks found the queue empty.
func (p *ReceivePipeline) Underruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underruns
}

// Reset empties the queue and re-enters buffering mode (stream restart).
func (p *ReceivePipeline) Reset() {
	p.mu.Lock()
	p.queue = nil
	p.buffering = true
	p.squelch = false
	p.mu.Unlock()
	p.filter.Reset()
}

// NextBlock fills out with the next playback block. While buffering it
// outputs silence until the queue has reached the target depth, then
// marks the first audible frame with the squelch tone. On an empty queue
// it outputs silence and counts an underrun.
func (p *ReceivePipeline) NextBlock(out []float32) {
	p.mu.Lock()

	if p.buffering {
		if len(p.queue) < p.depth {
			p.mu.Unlock()
			zero(out)
			return
		}
		p.buffering = false
		p.squelch = true
		p.logger.Debug("buffer primed", "frames", len(p.queue), "depth", p.depth)
	}

	if len(p.queue) == 0 {
		p.underruns++
		p.buffering = true
		p.mu.Unlock()
		zero(out)
		return
	}

	payload := p.queue[0]
	p.queue = p.queue[1:]
	p.adjustDepthLocked()
	squelch := p.squelch
	p.squelch = false
	volume := p.volume
	p.mu.Unlock()

	pcm, err := p.codec.Decode(payload)
	if err != nil {
		// Codec contract says Decode falls back internally; a hard
		// error still yields silence rather than noise.
		zero(out)
		return
	}
	frame := PCMToFloat(pcm)

	// Pad or truncate to the callback's block size.
	n := copy(out, frame)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}

	if squelch {
		MixSquelch(out)
	}

	p.filter.Process(out)

	for i := range out {
		out[i] *= float32(volume)
	}
}

// adjustDepthLocked adapts the target depth to queue health, at most
// once per depthAdjustEvery. Caller holds mu.
func (p *ReceivePipeline) adjustDepthLocked() {
	now := p.now()
	if now.Sub(p.lastAdjust) < depthAdjustEvery {
		return
	}
	p.lastAdjust = now

	queued := len(p.queue)
	switch {
	case queued <= 2 && p.depth < maxDepth:
		p.depth += 2
		if p.depth > maxDepth {
			p.depth = maxDepth
		}
		p.logger.Debug("jitter depth increased", "depth", p.depth, "queued", queued)
	case queued >= queueCapacity-2 && p.depth > minDepth:
		p.depth--
		p.logger.Debug("jitter depth decreased", "depth", p.depth, "queued", queued)
	}
}

// zero fills out with silence.
func zero(out []float32) {
	for i := range out {
		out[i] = 0
	}
}
