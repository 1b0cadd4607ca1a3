// Command funk is the headless funknet voice client: it authenticates
// against a relay, runs the capture and playback pipelines, and drives
// push-to-talk from console input events.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/funknet/funknet/internal/audio"
	"github.com/funknet/funknet/internal/client"
	"github.com/funknet/funknet/internal/clientcfg"
	"github.com/funknet/funknet/internal/hotkey"
	"github.com/funknet/funknet/internal/vad"
)

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to the settings file")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
		useVAD     = flag.Bool("vad", false, "use voice activity detection instead of the noise gate")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	settings, err := clientcfg.Load(*configPath)
	if err != nil {
		slog.Error("failed to load settings", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if settings.FunkKey == "" {
		slog.Error("no funk_key configured", "path", *configPath)
		os.Exit(1)
	}

	slog.Info("starting funk client",
		"server", settings.RelayAddr(),
		"channel", settings.Channel,
	)

	checkServerVersion(settings)

	allowed := bootstrapChannels(settings)
	if !containsChannel(allowed, settings.Channel) {
		slog.Warn("configured channel not in allowed set, keeping it anyway",
			"channel", settings.Channel,
		)
	}

	// Receive side: network audio → adaptive queue → speaker.
	codec, err := audio.NewOpusCodec()
	var sendCodec, recvCodec audio.Codec
	if err != nil {
		slog.Warn("opus unavailable, using raw pcm", "error", err)
	} else {
		sendCodec, recvCodec = codec, codec
	}

	recv := audio.NewReceivePipeline(recvCodec, logger)
	recv.SetVolume(settings.SoundVolume)

	// Network session with the dual-channel auth handshake.
	session := client.NewSession(
		settings.RelayAddr(),
		settings.FunkKey,
		uint8(settings.Channel),
		deriveUserID(settings.FunkKey),
		client.Callbacks{
			Audio: func(payload []byte, channel uint8) {
				recv.Enqueue(payload)
			},
			StateChange: func(st client.State) {
				slog.Info("session state", "state", st.String())
			},
			AuthError: func(reason string) {
				slog.Error("authentication rejected", "reason", reason)
			},
			Quality: func(s client.Snapshot) {
				slog.Debug("connection quality",
					"latency_ms", s.LatencyMS,
					"jitter_ms", s.JitterMS,
					"loss_pct", fmt.Sprintf("%.1f", s.LossPercent),
					"signal", s.SignalStrength,
				)
			},
		},
		logger,
	)

	// Send side: mic → band-pass → AGC → gate/VAD → codec → session.
	var detector vad.VAD
	if *useVAD {
		detector = vad.NewEnergy(2)
	}
	send := audio.NewSendPipeline(audio.SendPipelineConfig{
		Codec:           sendCodec,
		Detector:        detector,
		GateEnabled:     settings.NoiseGateEnabled,
		GateThresholdDB: settings.NoiseGateThreshold,
		UseAGC:          true,
		Ready:           session.Connected,
	}, logger)

	engine := audio.NewEngine(send, recv, session.SendAudio,
		settings.MicDevice, settings.SpeakerDevice, logger)
	if err := engine.Start(); err != nil {
		// The session still works for listening stats; surface the error
		// and continue without audio.
		slog.Error("sound device unavailable, continuing without audio", "error", err)
	} else {
		defer engine.Stop()
	}

	// Hotkeys: PTT arming and quick-switch.
	router := hotkey.NewRouter(
		hotkey.Bindings{
			Primary:        settings.HotkeyPrimary,
			Secondary:      settings.HotkeySecondary,
			Channel1:       settings.HotkeyChannel1,
			Channel2:       settings.HotkeyChannel2,
			Channel1Target: uint8(settings.Channel1Target),
			Channel2Target: uint8(settings.Channel2Target),
		},
		hotkey.Hooks{
			PlayTXStart: func() {
				if settings.SoundsEnabled {
					playTXStartTone(recv)
				}
			},
			TransmitStart: func(secondary bool) {
				target := uint8(settings.Channel)
				if secondary {
					target = clientcfg.SecondaryChannel
				}
				if err := session.SetTransmitChannel(target); err != nil {
					slog.Warn("transmit channel unavailable", "channel", target, "error", err)
					return
				}
				send.SetRecording(true)
				slog.Info("transmitting", "channel", target)
			},
			TransmitStop: func() {
				send.SetRecording(false)
				slog.Info("transmission stopped")
			},
			QuickSwitch: func(target uint8) {
				if err := session.SetTransmitChannel(target); err != nil {
					slog.Warn("quick-switch refused", "channel", target, "error", err)
					return
				}
				slog.Info("transmit channel switched", "channel", target)
			},
		},
		logger,
	)
	router.Enable()

	if err := session.Connect(); err != nil {
		slog.Error("connect failed", "error", err)
		os.Exit(1)
	}

	runConsole(session, router, send)

	router.Disable()
	session.Disconnect(true)
	slog.Info("funk client stopped")
}

// runConsole reads input events from stdin until EOF or "quit".
// Commands: press <key> | release <key> | status | quit.
func runConsole(session *client.Session, router *hotkey.Router, send *audio.SendPipeline) {
	fmt.Println("commands: press <key> | release <key> | status | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "press":
			if len(fields) == 2 {
				router.Press(fields[1])
			}
		case "release":
			if len(fields) == 2 {
				router.Release(fields[1])
			}
		case "status":
			q := session.Quality()
			fmt.Printf("state=%s tx=%d signal=%d%% (%s) latency=%dms jitter=%dms loss=%.1f%% level=%.1fdB\n",
				session.State(), session.TransmitChannel(),
				q.SignalStrength, q.Status, q.LatencyMS, q.JitterMS, q.LossPercent,
				send.LevelDB())
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command")
		}
	}
}

// bootstrapChannels fetches the allowed-channel list from the control
// plane. Any failure falls back to the full channel plan.
func bootstrapChannels(settings clientcfg.Settings) []int {
	url := fmt.Sprintf("%s/api/channels/%s", settings.APIBase(), settings.FunkKey)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(url)
	if err != nil {
		slog.Warn("channel bootstrap failed, using full plan", "error", err)
		return clientcfg.FullChannelPlan()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("channel bootstrap rejected, using full plan", "status", resp.StatusCode)
		return clientcfg.FullChannelPlan()
	}

	var body struct {
		Channels []struct {
			ChannelID int `json:"channel_id"`
		} `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		slog.Warn("channel bootstrap unreadable, using full plan", "error", err)
		return clientcfg.FullChannelPlan()
	}

	channels := make([]int, 0, len(body.Channels))
	for _, c := range body.Channels {
		channels = append(channels, c.ChannelID)
	}
	slog.Info("channel list loaded", "count", len(channels))
	return channels
}

// checkServerVersion fetches /api/version and logs when an upgrade is
// advertised. Best-effort.
func checkServerVersion(settings clientcfg.Settings) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get(settings.APIBase() + "/api/version")
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var body struct {
		Version   string `json:"version"`
		Changelog string `json:"changelog"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return
	}
	slog.Info("server version", "version", body.Version)
}

// playTXStartTone queues a short 880 Hz tone (four frames) on the
// playback path as local feedback that the PTT is armed.
func playTXStartTone(recv *audio.ReceivePipeline) {
	for f := 0; f < 4; f++ {
		frame := make([]float32, audio.FrameSize)
		for i := range frame {
			t := float64(f*audio.FrameSize+i) / audio.SampleRate
			frame[i] = float32(0.2 * math.Sin(2*math.Pi*880*t))
		}
		recv.Enqueue(audio.FloatToPCM(frame))
	}
}

// deriveUserID hashes the funk key to a stable non-zero packet user id.
func deriveUserID(funkKey string) uint8 {
	h := fnv.New32a()
	h.Write([]byte(funkKey))
	id := uint8(h.Sum32() & 0xFF)
	if id == 0 {
		id = 1
	}
	return id
}

// containsChannel reports whether the set contains the channel.
func containsChannel(set []int, channel int) bool {
	for _, c := range set {
		if c == channel {
			return true
		}
	}
	return false
}

// defaultConfigPath resolves the per-user settings location.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "funk.yaml"
	}
	return dir + "/funknet/funk.yaml"
}

// parseLevel maps a level name to slog.Level, defaulting to info.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
