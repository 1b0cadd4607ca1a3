// Package client implements the funk client's network session: dual
// channel authentication, keep-alive, connection watchdog, quality
// measurement and exponential-backoff reconnect over a single UDP socket.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/funknet/funknet/internal/clientcfg"
	"github.com/funknet/funknet/internal/protocol"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Callbacks are the session's outbound events. All are optional and are
// invoked from session goroutines; handlers must not block.
type Callbacks struct {
	// Audio delivers one received voice payload with its channel.
	Audio func(payload []byte, channel uint8)
	// StateChange fires on every lifecycle transition.
	StateChange func(state State)
	// AuthError surfaces a server AUTH_FAIL reason.
	AuthError func(reason string)
	// Quality delivers a metrics snapshot after each keep-alive.
	Quality func(s Snapshot)
}

// Session is one client connection to the relay. Create with NewSession,
// start with Connect.
type Session struct {
	addr    string
	funkKey string
	userID  uint8
	logger  *slog.Logger
	cb      Callbacks

	// Tunables, overridable before Connect (tests shrink them).
	keepaliveInterval time.Duration
	watchdogInterval  time.Duration
	warnAfter         time.Duration
	lostAfter         time.Duration
	maxReconnectDelay time.Duration
	readTimeout       time.Duration
	authConfirmWait   time.Duration

	mu               sync.Mutex
	conn             *net.UDPConn
	state            State
	primaryChannel   uint8
	transmitChannel  uint8
	authedChannels   map[uint8]bool
	seq              uint16
	lastReceived     time.Time
	pingSentAt       time.Time
	quality          *Quality
	running          bool
	intentional      bool
	reconnectAttempt int
	stopCh           chan struct{}

	wg sync.WaitGroup
}

// NewSession creates a session for the given relay address and credential.
// primary must not be the secondary channel (enforced by clientcfg).
func NewSession(addr, funkKey string, primary uint8, userID uint8, cb Callbacks, logger *slog.Logger) *Session {
	return &Session{
		addr:    addr,
		funkKey: funkKey,
		userID:  userID,
		logger:  logger.With("subsystem", "session"),
		cb:      cb,

		keepaliveInterval: 5 * time.Second,
		watchdogInterval:  1 * time.Second,
		warnAfter:         7 * time.Second,
		lostAfter:         10 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		readTimeout:       500 * time.Millisecond,
		authConfirmWait:   time.Second,

		state:           StateDisconnected,
		primaryChannel:  primary,
		transmitChannel: primary,
		authedChannels:  make(map[uint8]bool),
		quality:         newQuality(),
	}
}

// Connect opens the socket, starts the session goroutines, and sends the
// AUTH pair (primary + secondary). The session is Authenticating until
// both AUTH_OKs arrive.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("resolving relay address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("opening socket: %w", err)
	}

	s.conn = conn
	s.running = true
	s.intentional = false
	s.stopCh = make(chan struct{})
	s.authedChannels = make(map[uint8]bool)
	s.lastReceived = time.Now()
	s.quality.reset()
	s.setStateLocked(StateAuthenticating)
	s.mu.Unlock()

	s.logger.Info("connecting", "addr", s.addr, "primary", s.primaryChannel)

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.receiveLoop() }()
	go func() { defer s.wg.Done(); s.keepaliveLoop() }()
	go func() { defer s.wg.Done(); s.watchdogLoop() }()

	s.sendAuth(s.primaryChannel)
	s.sendAuth(clientcfg.SecondaryChannel)

	return nil
}

// Disconnect stops the session. An intentional disconnect suppresses the
// automatic reconnect; an unintentional one schedules it.
func (s *Session) Disconnect(intentional bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.intentional = intentional
	conn := s.conn
	s.conn = nil
	close(s.stopCh)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.setStateLocked(StateDisconnected)
	attempt := s.reconnectAttempt
	s.mu.Unlock()

	if intentional {
		s.logger.Info("disconnected")
		return
	}

	s.logger.Warn("connection lost, scheduling reconnect", "attempt", attempt+1)
	s.scheduleReconnect()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether both the primary and secondary channels have
// been acknowledged.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// Quality returns a snapshot of the connection quality metrics.
func (s *Session) Quality() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality.snapshot()
}

// TransmitChannel returns the channel used for outgoing audio.
func (s *Session) TransmitChannel() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transmitChannel
}

// SendAudio transmits one encoded frame on the transmit channel. Frames
// are dropped until the transmit channel has been acknowledged.
func (s *Session) SendAudio(frame []byte) {
	s.mu.Lock()
	if !s.running || s.conn == nil || !s.authedChannels[s.transmitChannel] {
		s.mu.Unlock()
		return
	}
	pkt := protocol.Audio(s.transmitChannel, s.userID, s.seq, frame)
	s.seq++
	conn := s.conn
	s.quality.recordSent()
	s.mu.Unlock()

	if _, err := conn.Write(pkt); err != nil {
		s.logger.Warn("audio send failed", "error", err)
		s.mu.Lock()
		s.quality.recordSendError()
		s.mu.Unlock()
	}
}

// SetPrimaryChannel changes the primary channel (a settings change). The
// primary auth flag is cleared and a fresh AUTH is sent; the secondary
// session is untouched.
func (s *Session) SetPrimaryChannel(channel uint8) error {
	if channel == clientcfg.SecondaryChannel {
		return fmt.Errorf("channel %d is the reserved secondary channel", channel)
	}
	s.mu.Lock()
	old := s.primaryChannel
	if old == channel {
		s.mu.Unlock()
		return nil
	}
	s.primaryChannel = channel
	if s.transmitChannel == old {
		s.transmitChannel = channel
	}
	delete(s.authedChannels, old)
	running := s.running
	if running && s.state == StateConnected {
		s.setStateLocked(StateAuthenticating)
	}
	s.mu.Unlock()

	s.logger.Info("primary channel changed", "from", old, "to", channel)
	if running {
		s.sendAuth(channel)
	}
	return nil
}

// SetTransmitChannel switches outgoing audio to another channel without
// touching auth state. The target must already be acknowledged.
func (s *Session) SetTransmitChannel(channel uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authedChannels[channel] {
		return fmt.Errorf("channel %d has no authenticated session", channel)
	}
	s.transmitChannel = channel
	s.logger.Debug("transmit channel switched", "channel", channel)
	return nil
}

// sendAuth transmits an AUTH packet for the channel.
func (s *Session) sendAuth(channel uint8) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(protocol.Auth(channel, s.userID, s.funkKey)); err != nil {
		s.logger.Warn("auth send failed", "channel", channel, "error", err)
		return
	}
	s.logger.Debug("auth sent", "channel", channel)
}

// receiveLoop reads datagrams until the session stops. A short read
// timeout keeps shutdown latency bounded.
func (s *Session) receiveLoop() {
	buf := make([]byte, protocol.MaxPacketSize)
	for {
		s.mu.Lock()
		conn := s.conn
		running := s.running
		s.mu.Unlock()
		if !running || conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			// Socket closed by Disconnect, or a hard error.
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running {
				s.logger.Debug("receive error", "error", err)
			}
			continue
		}

		pkt, ok := protocol.Decode(buf[:n])
		if !ok {
			continue
		}
		s.handlePacket(pkt)
	}
}

// handlePacket dispatches one decoded packet.
func (s *Session) handlePacket(pkt protocol.Packet) {
	s.mu.Lock()
	s.lastReceived = time.Now()
	s.quality.recordReceived()
	s.mu.Unlock()

	switch pkt.Type {
	case protocol.TypeAuthOK:
		s.handleAuthOK(pkt.Channel)
	case protocol.TypeAuthFail:
		s.handleAuthFail(string(pkt.Payload))
	case protocol.TypePong:
		s.handlePong()
	case protocol.TypeAudio:
		if len(pkt.Payload) > 0 && s.cb.Audio != nil {
			// Copy: the payload aliases the read buffer.
			payload := make([]byte, len(pkt.Payload))
			copy(payload, pkt.Payload)
			s.cb.Audio(payload, pkt.Channel)
		}
	}
}

// handleAuthOK marks the channel acknowledged. The session is Connected
// once both the primary and the secondary channel are in.
func (s *Session) handleAuthOK(channel uint8) {
	s.mu.Lock()
	s.authedChannels[channel] = true
	s.reconnectAttempt = 0
	both := s.authedChannels[s.primaryChannel] && s.authedChannels[clientcfg.SecondaryChannel]
	if both && s.state != StateConnected {
		s.setStateLocked(StateConnected)
	}
	s.mu.Unlock()

	s.logger.Info("channel authenticated", "channel", channel, "fully_connected", both)
}

// handleAuthFail surfaces the reason and stops the session without
// reconnecting: a rejected credential will not improve by retrying.
func (s *Session) handleAuthFail(reason string) {
	s.logger.Error("authentication failed", "reason", reason)
	if s.cb.AuthError != nil {
		s.cb.AuthError(reason)
	}
	go s.Disconnect(true)
}

// handlePong records the round trip of the outstanding PING.
func (s *Session) handlePong() {
	s.mu.Lock()
	if !s.pingSentAt.IsZero() {
		s.quality.recordRTT(time.Since(s.pingSentAt))
	}
	s.mu.Unlock()
}

// keepaliveLoop sends a PING on the primary channel every interval and
// refreshes the derived quality metrics.
func (s *Session) keepaliveLoop() {
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		conn := s.conn
		channel := s.primaryChannel
		s.pingSentAt = time.Now()
		s.quality.recordSent()
		s.quality.updateLoss()
		snap := s.quality.snapshot()
		s.mu.Unlock()

		if conn != nil {
			if _, err := conn.Write(protocol.Ping(channel, s.userID)); err != nil {
				s.logger.Warn("keepalive send failed", "error", err)
				s.mu.Lock()
				s.quality.recordSendError()
				s.mu.Unlock()
			}
		}

		if s.cb.Quality != nil {
			s.cb.Quality(snap)
		}
	}
}

// watchdogLoop checks packet age every interval, degrades signal
// strength, warns at warnAfter and declares the connection lost at
// lostAfter, triggering the reconnect path.
func (s *Session) watchdogLoop() {
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()

	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		age := time.Since(s.lastReceived)
		s.quality.observeSilence(age)
		s.mu.Unlock()

		switch {
		case age >= s.lostAfter:
			s.logger.Warn("connection lost", "silent_for", age.Round(time.Second).String())
			go s.Disconnect(false)
			return
		case age >= s.warnAfter:
			s.logger.Warn("connection degraded", "silent_for", age.Round(time.Second).String())
		}
	}
}

// scheduleReconnect waits the exponential backoff delay, then reconnects.
// Delays follow min(2^attempt, max): 1, 2, 4, 8, 16, 30, 30, … seconds.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.intentional {
		s.mu.Unlock()
		return
	}
	attempt := s.reconnectAttempt
	s.reconnectAttempt++
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	delay := ReconnectDelay(attempt, s.maxReconnectDelay)
	s.logger.Info("reconnect scheduled", "delay", delay.String(), "attempt", attempt+1)

	go func() {
		time.Sleep(delay)
		s.mu.Lock()
		if s.intentional || s.running {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if err := s.Connect(); err != nil {
			s.logger.Warn("reconnect failed", "error", err)
			s.scheduleReconnect()
			return
		}

		// A UDP "connect" succeeds even against a dead server; the
		// attempt only counts once AUTH_OK arrives. Without it within
		// the confirmation window, tear down and back off further.
		time.Sleep(s.authConfirmWait)
		if !s.Connected() {
			s.logger.Warn("reconnect unconfirmed, backing off")
			s.Disconnect(false)
		}
	}()
}

// ReconnectDelay returns the backoff delay for a given attempt number,
// exported for the UI's countdown display.
func ReconnectDelay(attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30 // avoid shift overflow; far past the cap anyway
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > max {
		return max
	}
	return d
}

// setStateLocked transitions state and fires the callback. Caller holds mu.
func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.cb.StateChange != nil {
		// Fire outside the lock to keep handlers deadlock-free.
		go s.cb.StateChange(state)
	}
}
