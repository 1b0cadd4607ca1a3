// Package relay implements the funknet server: a single-socket UDP loop
// that authenticates peers by funk key, enforces channel permissions,
// reorders each sender's audio stream through a jitter buffer, and fans
// packets out to every other member of the channel.
//
// The hot path (read → decode → registry lookup → sendto) never touches
// the store; credential verification goes through the auth oracle's
// cache and all bookkeeping runs on its worker pool.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/funknet/funknet/internal/auth"
	"github.com/funknet/funknet/internal/jitter"
	"github.com/funknet/funknet/internal/protocol"
	"github.com/funknet/funknet/internal/registry"
)

// AUTH_FAIL reason strings. These are wire protocol: clients match on
// them, so they never change.
const (
	reasonInvalidKey    = "Invalid funk key"
	reasonChannelDenied = "Channel not authorized"
	reasonNotAuthed     = "Not authenticated"
	reasonAuthError     = "Auth error"
)

const (
	// readTimeout lets the ingress loop poll for shutdown.
	readTimeout = 100 * time.Millisecond

	// reapInterval is how often stale peers are swept.
	reapInterval = 5 * time.Second

	// trafficFlushInterval is how often byte counters go to the store.
	trafficFlushInterval = 5 * time.Minute
)

// packetConn is the subset of *net.UDPConn the relay writes through,
// injectable for tests.
type packetConn interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// TrafficSink receives flushed byte counters.
type TrafficSink interface {
	Record(ctx context.Context, bytesIn, bytesOut int64) error
}

// Authenticator resolves credentials and runs session bookkeeping.
// Implemented by *auth.Oracle.
type Authenticator interface {
	Verify(ctx context.Context, funkKey string) (*auth.Identity, error)
	RecordConnect(userID int64, channel uint8, action, peerIP string)
	TouchLastSeen(userID int64)
}

// bufferKey identifies one jitter buffer: one sender on one channel.
type bufferKey struct {
	channel uint8
	addr    netip.AddrPort
}

// Stats is a snapshot of relay counters for metrics and the control plane.
type Stats struct {
	PacketsIn        uint64
	PacketsForwarded uint64
	PacketsDropped   uint64
	BytesIn          uint64
	BytesOut         uint64
	AuthFailures     uint64
	ActivePeers      int
	ActiveChannels   int
}

// Server is the relay daemon. Create with New, start with Run.
type Server struct {
	addr     string
	registry *registry.Registry
	oracle   Authenticator
	logger   *slog.Logger

	conn *net.UDPConn
	out  packetConn

	// sessions maps peer address to resolved identity. Guarded by mu
	// together with buffers; both are only written from the ingress
	// loop and the reaper.
	mu       sync.Mutex
	sessions map[netip.AddrPort]*auth.Identity
	buffers  map[bufferKey]*jitter.Buffer

	// authLimiters throttles AUTH attempts per source IP so a key
	// scanner cannot hammer the store through cache misses.
	authMu       sync.Mutex
	authLimiters map[netip.Addr]*rate.Limiter

	packetsIn        atomic.Uint64
	packetsForwarded atomic.Uint64
	packetsDropped   atomic.Uint64
	bytesIn          atomic.Uint64
	bytesOut         atomic.Uint64
	authFailures     atomic.Uint64

	// flushedIn/flushedOut track what has already gone to the store so
	// each flush records only the delta.
	flushedIn  atomic.Uint64
	flushedOut atomic.Uint64

	traffic TrafficSink
}

// New creates a relay server listening on addr (host:port) once Run is called.
func New(addr string, reg *registry.Registry, oracle Authenticator, traffic TrafficSink, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		registry:     reg,
		oracle:       oracle,
		traffic:      traffic,
		logger:       logger.With("subsystem", "relay"),
		sessions:     make(map[netip.AddrPort]*auth.Identity),
		buffers:      make(map[bufferKey]*jitter.Buffer),
		authLimiters: make(map[netip.Addr]*rate.Limiter),
	}
}

// Run binds the UDP socket and serves until ctx is cancelled. On return
// the socket is closed and pending traffic counters are flushed.
func (s *Server) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving relay address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("binding relay socket: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.out = conn
	s.mu.Unlock()
	defer conn.Close()

	s.logger.Info("relay listening", "addr", conn.LocalAddr().String())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.reapLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.trafficLoop(ctx)
	}()

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		if ctx.Err() != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			s.logger.Debug("read error", "error", err)
			continue
		}
		s.handleDatagram(ctx, buf[:n], addr)
	}

	wg.Wait()
	s.flushTraffic(context.Background())
	s.logger.Info("relay stopped",
		"packets_in", s.packetsIn.Load(),
		"packets_forwarded", s.packetsForwarded.Load(),
		"packets_dropped", s.packetsDropped.Load(),
	)
	return nil
}

// LocalAddr returns the bound socket address, for tests and logs.
// Valid only while Run is active.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// handleDatagram classifies, authenticates, authorizes and dispatches one
// inbound datagram. Work per packet is bounded by the recipient count.
func (s *Server) handleDatagram(ctx context.Context, data []byte, addr netip.AddrPort) {
	s.packetsIn.Add(1)
	s.bytesIn.Add(uint64(len(data)))

	pkt, ok := protocol.Decode(data)
	if !ok {
		s.packetsDropped.Add(1)
		return
	}

	if pkt.Type == protocol.TypeAuth {
		s.handleAuth(ctx, pkt, addr)
		return
	}

	s.mu.Lock()
	identity := s.sessions[addr]
	s.mu.Unlock()

	if identity == nil {
		s.authFailures.Add(1)
		s.send(protocol.AuthFail(pkt.Channel, pkt.User, reasonNotAuthed), addr)
		return
	}

	if !identity.Allowed(pkt.Channel) {
		// Silent drop: an authenticated peer probing other channels
		// learns nothing about their existence.
		s.packetsDropped.Add(1)
		return
	}

	s.registry.Touch(addr)

	switch pkt.Type {
	case protocol.TypePing:
		s.send(protocol.Pong(pkt.Channel, pkt.User), addr)
	case protocol.TypeAudio:
		s.handleAudio(data, pkt, addr)
	default:
		// PONG/AUTH_OK/AUTH_FAIL are server→client only; a client
		// echoing them back is dropped.
		s.packetsDropped.Add(1)
	}
}

// handleAuth verifies the funk key carried by an AUTH packet and, on
// success, records the session and registers the peer for the channel.
func (s *Server) handleAuth(ctx context.Context, pkt protocol.Packet, addr netip.AddrPort) {
	if !s.allowAuthAttempt(addr.Addr()) {
		s.packetsDropped.Add(1)
		return
	}

	funkKey := string(pkt.Payload)
	if funkKey == "" {
		s.authFailures.Add(1)
		s.send(protocol.AuthFail(pkt.Channel, pkt.User, reasonAuthError), addr)
		return
	}

	identity, err := s.oracle.Verify(ctx, funkKey)
	if err != nil {
		s.authFailures.Add(1)
		s.logger.Warn("auth verify failed", "key", auth.Redact(funkKey), "error", err)
		s.send(protocol.AuthFail(pkt.Channel, pkt.User, reasonAuthError), addr)
		return
	}

	if identity == nil {
		s.authFailures.Add(1)
		s.logger.Info("auth rejected",
			"key", auth.Redact(funkKey),
			"peer", addr.String(),
		)
		s.send(protocol.AuthFail(pkt.Channel, pkt.User, reasonInvalidKey), addr)
		// Whatever session this peer had is gone: a bad key supersedes it.
		s.forgetPeer(addr)
		return
	}

	if !identity.Allowed(pkt.Channel) {
		s.authFailures.Add(1)
		s.logger.Info("channel denied",
			"user", identity.Username,
			"channel", pkt.Channel,
		)
		// The peer may hold valid sessions on other channels; those
		// stay untouched.
		s.send(protocol.AuthFail(pkt.Channel, pkt.User, reasonChannelDenied), addr)
		return
	}

	s.mu.Lock()
	s.sessions[addr] = identity
	s.mu.Unlock()
	s.registry.Register(addr, pkt.Channel, identity.UserID, identity.Username)

	s.logger.Info("peer authenticated",
		"user", identity.Username,
		"channel", pkt.Channel,
		"peer", addr.String(),
	)

	s.send(protocol.AuthOK(pkt.Channel, pkt.User), addr)

	s.oracle.RecordConnect(identity.UserID, pkt.Channel, "connect", addr.Addr().String())
	s.oracle.TouchLastSeen(identity.UserID)
}

// handleAudio reorders the sender's stream and fans drained packets out
// to the channel. The original datagram bytes are forwarded verbatim so
// recipients see the sender's header unchanged.
func (s *Server) handleAudio(data []byte, pkt protocol.Packet, addr netip.AddrPort) {
	key := bufferKey{channel: pkt.Channel, addr: addr}

	s.mu.Lock()
	buf, ok := s.buffers[key]
	if !ok {
		buf = jitter.New()
		s.buffers[key] = buf
	}
	// Insert needs a copy: data aliases the shared read buffer.
	stored := make([]byte, len(data))
	copy(stored, data)
	buf.Insert(pkt.Seq, stored)
	ready := buf.Drain()
	s.mu.Unlock()

	if len(ready) == 0 {
		return
	}

	recipients := s.registry.Recipients(pkt.Channel, addr)
	if len(recipients) == 0 {
		return
	}

	// Each drained packet goes to every recipient before the next packet,
	// preserving order per receiver.
	for _, out := range ready {
		for _, rcpt := range recipients {
			s.send(out, rcpt)
		}
		s.packetsForwarded.Add(uint64(len(recipients)))
	}
}

// send writes one datagram, counting and otherwise ignoring failures —
// a dead peer is reaped by staleness, not by send errors.
func (s *Server) send(data []byte, addr netip.AddrPort) {
	n, err := s.out.WriteToUDPAddrPort(data, addr)
	if err != nil {
		s.packetsDropped.Add(1)
		s.logger.Debug("send failed", "peer", addr.String(), "error", err)
		return
	}
	s.bytesOut.Add(uint64(n))
}

// allowAuthAttempt rate-limits AUTH packets per source IP.
func (s *Server) allowAuthAttempt(ip netip.Addr) bool {
	s.authMu.Lock()
	lim, ok := s.authLimiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(5), 10)
		s.authLimiters[ip] = lim
		// Bound the map: a scanner cycling source addresses must not
		// grow it forever.
		if len(s.authLimiters) > 4096 {
			s.authLimiters = map[netip.Addr]*rate.Limiter{ip: lim}
		}
	}
	s.authMu.Unlock()
	return lim.Allow()
}

// forgetPeer drops the session, registry entries and jitter buffers for addr.
func (s *Server) forgetPeer(addr netip.AddrPort) {
	s.mu.Lock()
	delete(s.sessions, addr)
	for key := range s.buffers {
		if key.addr == addr {
			delete(s.buffers, key)
		}
	}
	s.mu.Unlock()
	s.registry.Forget(addr)
}

// reapLoop sweeps stale peers every reapInterval, tearing down their
// sessions and jitter buffers and logging their disconnect.
func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.registry.Reap()
			if len(removed) == 0 {
				continue
			}
			s.mu.Lock()
			for _, peer := range removed {
				delete(s.sessions, peer.Addr)
				for key := range s.buffers {
					if key.addr == peer.Addr {
						delete(s.buffers, key)
					}
				}
			}
			s.mu.Unlock()
			for _, peer := range removed {
				s.logger.Info("reaped stale peer",
					"user", peer.Username,
					"peer", peer.Addr.String(),
				)
				for _, ch := range peer.Channels {
					s.oracle.RecordConnect(peer.UserID, ch, "disconnect", peer.Addr.Addr().String())
				}
			}
		}
	}
}

// trafficLoop flushes byte counters to the store every flush interval.
func (s *Server) trafficLoop(ctx context.Context) {
	ticker := time.NewTicker(trafficFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushTraffic(ctx)
		}
	}
}

// flushTraffic records the bytes seen since the previous flush.
func (s *Server) flushTraffic(ctx context.Context) {
	if s.traffic == nil {
		return
	}
	in := s.bytesIn.Load()
	out := s.bytesOut.Load()
	deltaIn := in - s.flushedIn.Swap(in)
	deltaOut := out - s.flushedOut.Swap(out)
	if deltaIn == 0 && deltaOut == 0 {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.traffic.Record(flushCtx, int64(deltaIn), int64(deltaOut)); err != nil {
		s.logger.Warn("traffic flush failed", "error", err)
		// Roll back so the next flush retries the delta.
		s.flushedIn.Add(^(deltaIn - 1))
		s.flushedOut.Add(^(deltaOut - 1))
		return
	}
	s.logger.Info("traffic flushed", "bytes_in", deltaIn, "bytes_out", deltaOut)
}

// Stats returns a counter snapshot.
func (s *Server) Stats() Stats {
	return Stats{
		PacketsIn:        s.packetsIn.Load(),
		PacketsForwarded: s.packetsForwarded.Load(),
		PacketsDropped:   s.packetsDropped.Load(),
		BytesIn:          s.bytesIn.Load(),
		BytesOut:         s.bytesOut.Load(),
		AuthFailures:     s.authFailures.Load(),
		ActivePeers:      s.registry.Count(),
		ActiveChannels:   s.registry.ChannelCount(),
	}
}
