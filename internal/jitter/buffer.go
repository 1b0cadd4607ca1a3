// Package jitter implements the server-side reordering buffer applied to
// each (channel, sender) audio stream before fan-out.
//
// UDP delivers datagrams out of order; forwarding them as they arrive
// produces garbled playback on every listener. The buffer holds packets
// briefly, releases them in sequence order, and trades at most MaxAge of
// added delay for a stable egress stream. Sequence numbers are 16-bit and
// wrap, so "older" is judged by insertion timestamp, never by numeric
// comparison.
package jitter

import (
	"sort"
	"time"
)

const (
	// Target is the steady-state number of buffered packets
	// (5 packets ≈ 100 ms at 20 ms per frame).
	Target = 5

	// MaxAge is how long a packet may sit in the buffer before it is
	// force-released. Accepting a permanent sequence gap beats stalling
	// the stream behind a packet that will never arrive.
	MaxAge = 200 * time.Millisecond

	// maxStored is the overflow bound: above 2×Target the oldest
	// entries are drained until the count is back at Target.
	maxStored = 2 * Target
)

// entry is one buffered packet.
type entry struct {
	data []byte
	at   time.Time
}

// Buffer reorders one sender's audio stream on one channel. Not safe for
// concurrent use; the relay's ingress loop is the sole caller.
type Buffer struct {
	entries map[uint16]entry
	next    uint16 // next expected sequence number
	started bool   // next is meaningful only after the first insert
	ready   [][]byte
	now     func() time.Time // injectable clock for tests
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{
		entries: make(map[uint16]entry),
		now:     time.Now,
	}
}

// Insert stores a packet and advances the release state: in-order packets
// move straight to the ready queue, expired packets are force-released,
// and overflow is trimmed. Call Drain afterwards to collect the output.
func (b *Buffer) Insert(seq uint16, data []byte) {
	now := b.now()

	if !b.started {
		b.next = seq
		b.started = true
	}

	b.entries[seq] = entry{data: data, at: now}

	b.advance()
	b.releaseExpired(now)
	b.trimOverflow()
}

// Drain returns the packets released since the last call, in the order
// they should be forwarded, and resets the ready queue.
func (b *Buffer) Drain() [][]byte {
	if len(b.ready) == 0 {
		return nil
	}
	out := b.ready
	b.ready = nil
	return out
}

// Len returns the number of packets currently held (not yet released).
func (b *Buffer) Len() int {
	return len(b.entries)
}

// NextExpected returns the next sequence number the buffer is waiting for.
func (b *Buffer) NextExpected() uint16 {
	return b.next
}

// advance moves consecutive in-order packets to the ready queue.
func (b *Buffer) advance() {
	for {
		e, ok := b.entries[b.next]
		if !ok {
			return
		}
		delete(b.entries, b.next)
		b.ready = append(b.ready, e.data)
		b.next++
	}
}

// releaseExpired force-releases every entry older than MaxAge, sorted by
// sequence, and jumps next past the highest released sequence. The gap
// left behind is permanent.
func (b *Buffer) releaseExpired(now time.Time) {
	var expired []uint16
	for seq, e := range b.entries {
		if now.Sub(e.at) >= MaxAge {
			expired = append(expired, seq)
		}
	}
	if len(expired) == 0 {
		return
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, seq := range expired {
		b.ready = append(b.ready, b.entries[seq].data)
		delete(b.entries, seq)
	}
	b.next = expired[len(expired)-1] + 1
	// Releasing the gap may have unblocked in-order successors.
	b.advance()
}

// trimOverflow drains the oldest-by-timestamp entries, in sequence order,
// when the stored count exceeds the overflow bound.
func (b *Buffer) trimOverflow() {
	if len(b.entries) <= maxStored {
		return
	}
	type aged struct {
		seq uint16
		at  time.Time
	}
	all := make([]aged, 0, len(b.entries))
	for seq, e := range b.entries {
		all = append(all, aged{seq: seq, at: e.at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	excess := all[:len(b.entries)-Target]
	sort.Slice(excess, func(i, j int) bool { return excess[i].seq < excess[j].seq })
	for _, a := range excess {
		b.ready = append(b.ready, b.entries[a.seq].data)
		delete(b.entries, a.seq)
	}
	// next is left alone: any hole the trim opened is closed by the age
	// release within MaxAge.
}
