package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Device describes one audio device for the settings UI.
type Device struct {
	ID   int
	Name string
}

// Engine owns the PortAudio capture and playback streams and pumps them
// through the send and receive pipelines. Create with NewEngine, start
// with Start; Stop releases the device handles on every exit path.
type Engine struct {
	logger *slog.Logger
	send   *SendPipeline
	recv   *ReceivePipeline

	// Emit receives each transmit-ready payload (the network send hook).
	emit func(payload []byte)

	micName     string
	speakerName string

	mu             sync.Mutex
	captureStream  *portaudio.Stream
	playbackStream *portaudio.Stream
	running        bool

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewEngine wires the pipelines to the sound device layer. Device names
// are matched as case-insensitive substrings; empty selects the default.
func NewEngine(send *SendPipeline, recv *ReceivePipeline, emit func([]byte), micName, speakerName string, logger *slog.Logger) *Engine {
	return &Engine{
		logger:      logger.With("subsystem", "audio"),
		send:        send,
		recv:        recv,
		emit:        emit,
		micName:     micName,
		speakerName: speakerName,
	}
}

// ListDevices returns the available input and output devices.
// PortAudio must be initialised (Start does this; callers before Start
// use Initialize/Terminate themselves).
func ListDevices() (inputs, outputs []Device, err error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("listing audio devices: %w", err)
	}
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, Device{ID: i, Name: d.Name})
		}
		if d.MaxOutputChannels > 0 {
			outputs = append(outputs, Device{ID: i, Name: d.Name})
		}
	}
	return inputs, outputs, nil
}

// Start initialises PortAudio and opens both streams. A failure to open
// one stream releases the other; the caller decides whether to continue
// without audio.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialising portaudio: %w", err)
	}

	inDev, err := e.findDevice(e.micName, true)
	if err != nil {
		portaudio.Terminate()
		return err
	}
	outDev, err := e.findDevice(e.speakerName, false)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	captureBuf := make([]float32, FrameSize)
	captureStream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inDev,
			Channels: 1,
			Latency:  inDev.DefaultLowInputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: FrameSize,
	}, captureBuf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("opening capture stream: %w", err)
	}

	playbackBuf := make([]float32, FrameSize)
	playbackStream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: 1,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      SampleRate,
		FramesPerBuffer: FrameSize,
	}, playbackBuf)
	if err != nil {
		captureStream.Close()
		portaudio.Terminate()
		return fmt.Errorf("opening playback stream: %w", err)
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting capture stream: %w", err)
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Stop()
		captureStream.Close()
		playbackStream.Close()
		portaudio.Terminate()
		return fmt.Errorf("starting playback stream: %w", err)
	}

	e.captureStream = captureStream
	e.playbackStream = playbackStream
	e.stopCh = make(chan struct{})
	e.running = true

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.captureLoop(captureBuf) }()
	go func() { defer e.wg.Done(); e.playbackLoop(playbackBuf) }()

	e.logger.Info("audio started",
		"mic", inDev.Name,
		"speaker", outDev.Name,
	)
	return nil
}

// Stop halts both streams and waits for the loops to exit before the
// native stream objects are freed.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)

	// Stopping the streams unblocks any pending Read/Write.
	if e.captureStream != nil {
		e.captureStream.Stop()
	}
	if e.playbackStream != nil {
		e.playbackStream.Stop()
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	if e.captureStream != nil {
		e.captureStream.Close()
		e.captureStream = nil
	}
	if e.playbackStream != nil {
		e.playbackStream.Close()
		e.playbackStream = nil
	}
	e.mu.Unlock()

	portaudio.Terminate()
	e.logger.Info("audio stopped")
}

// captureLoop reads microphone frames and pushes transmit-ready payloads
// to the emit hook.
func (e *Engine) captureLoop(buf []float32) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		if err := e.captureStream.Read(); err != nil {
			select {
			case <-e.stopCh:
			default:
				e.logger.Error("capture read failed", "error", err)
			}
			return
		}

		payload, send := e.send.ProcessFrame(buf)
		if send && e.emit != nil {
			e.emit(payload)
		}
	}
}

// playbackLoop pulls blocks from the receive pipeline into the device.
func (e *Engine) playbackLoop(buf []float32) {
	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		e.recv.NextBlock(buf)

		if err := e.playbackStream.Write(); err != nil {
			select {
			case <-e.stopCh:
			default:
				e.logger.Error("playback write failed", "error", err)
			}
			return
		}
	}
}

// findDevice resolves a device by name substring, or the default device
// when name is empty.
func (e *Engine) findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("listing audio devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, d := range devices {
		channels := d.MaxOutputChannels
		if input {
			channels = d.MaxInputChannels
		}
		if channels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no audio device matching %q", name)
}
