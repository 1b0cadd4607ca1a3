// Package registry tracks the set of live peers and their channel
// memberships on the relay. It maintains a forward map (peer → session)
// and a reverse index (channel → peers) under a single lock so the two
// can never drift.
package registry

import (
	"net/netip"
	"sync"
	"time"
)

// StaleAfter is how long a peer may go without sending an authenticated
// packet before the reaper removes it.
const StaleAfter = 30 * time.Second

// Peer is a snapshot of one live session.
type Peer struct {
	Addr     netip.AddrPort
	UserID   int64
	Username string
	Channels []uint8
	LastSeen time.Time
}

// session is the mutable per-peer record.
type session struct {
	userID   int64
	username string
	channels map[uint8]struct{}
	lastSeen time.Time
}

// Registry is the live peer set. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	peers    map[netip.AddrPort]*session
	channels map[uint8]map[netip.AddrPort]struct{} // reverse index for fan-out
	now      func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		peers:    make(map[netip.AddrPort]*session),
		channels: make(map[uint8]map[netip.AddrPort]struct{}),
		now:      time.Now,
	}
}

// Register creates the peer session if absent, adds the channel to its
// membership, indexes it for fan-out and refreshes last-seen. Calling it
// again for the same (addr, channel) is a refresh, not an error.
func (r *Registry) Register(addr netip.AddrPort, channel uint8, userID int64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.peers[addr]
	if !ok {
		s = &session{
			userID:   userID,
			username: username,
			channels: make(map[uint8]struct{}),
		}
		r.peers[addr] = s
	}
	s.lastSeen = r.now()
	s.channels[channel] = struct{}{}

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[netip.AddrPort]struct{})
		r.channels[channel] = members
	}
	members[addr] = struct{}{}
}

// Touch refreshes last-seen for a known peer. Unknown peers are ignored.
func (r *Registry) Touch(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.peers[addr]; ok {
		s.lastSeen = r.now()
	}
}

// Recipients returns the addresses of every peer in the channel except
// exclude. The slice is a snapshot; the caller may hold it across sends.
func (r *Registry) Recipients(channel uint8, exclude netip.AddrPort) []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.channels[channel]
	if len(members) == 0 {
		return nil
	}
	out := make([]netip.AddrPort, 0, len(members))
	for addr := range members {
		if addr != exclude {
			out = append(out, addr)
		}
	}
	return out
}

// Member reports whether addr currently belongs to the channel.
func (r *Registry) Member(addr netip.AddrPort, channel uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.peers[addr]
	if !ok {
		return false
	}
	_, in := s.channels[channel]
	return in
}

// Forget removes a peer and all its channel memberships immediately,
// regardless of staleness. Used when an AUTH for the peer fails hard.
func (r *Registry) Forget(addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(addr)
}

// Reap removes every peer whose last-seen exceeds StaleAfter and returns
// the removed peers so the caller can tear down per-peer state (jitter
// buffers, disconnect logging).
func (r *Registry) Reap() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-StaleAfter)
	var removed []Peer
	for addr, s := range r.peers {
		if s.lastSeen.Before(cutoff) {
			removed = append(removed, snapshot(addr, s))
			r.remove(addr)
		}
	}
	return removed
}

// Count returns the number of live peers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// ChannelCount returns the number of channels with at least one member.
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Peers returns a snapshot of all live sessions, for the control plane.
func (r *Registry) Peers() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for addr, s := range r.peers {
		out = append(out, snapshot(addr, s))
	}
	return out
}

// remove deletes the peer and its reverse-index entries. Caller holds the lock.
func (r *Registry) remove(addr netip.AddrPort) {
	s, ok := r.peers[addr]
	if !ok {
		return
	}
	for ch := range s.channels {
		if members, ok := r.channels[ch]; ok {
			delete(members, addr)
			if len(members) == 0 {
				delete(r.channels, ch)
			}
		}
	}
	delete(r.peers, addr)
}

func snapshot(addr netip.AddrPort, s *session) Peer {
	channels := make([]uint8, 0, len(s.channels))
	for ch := range s.channels {
		channels = append(channels, ch)
	}
	return Peer{
		Addr:     addr,
		UserID:   s.userID,
		Username: s.username,
		Channels: channels,
		LastSeen: s.lastSeen,
	}
}
