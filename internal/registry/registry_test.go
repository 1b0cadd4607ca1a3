package registry

import (
	"net/netip"
	"sort"
	"testing"
	"time"
)

func addr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port)
}

func TestRegisterAndRecipients(t *testing.T) {
	r := New()
	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(2), 52, 2, "bob")
	r.Register(addr(3), 41, 3, "carol")

	got := r.Recipients(52, addr(1))
	if len(got) != 1 || got[0] != addr(2) {
		t.Errorf("Recipients(52, exclude=1) = %v, want [%v]", got, addr(2))
	}
	if got := r.Recipients(41, addr(3)); len(got) != 0 {
		t.Errorf("Recipients(41, exclude=self) = %v, want empty", got)
	}
	if got := r.Recipients(60, addr(1)); got != nil {
		t.Errorf("Recipients(60) = %v, want nil for empty channel", got)
	}
}

func TestMultiChannelMembership(t *testing.T) {
	r := New()
	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(1), 41, 1, "alice")

	if !r.Member(addr(1), 52) || !r.Member(addr(1), 41) {
		t.Error("peer should be a member of both channels")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1 (one session, two channels)", r.Count())
	}
	if r.ChannelCount() != 2 {
		t.Errorf("ChannelCount = %d, want 2", r.ChannelCount())
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := New()
	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(1), 52, 1, "alice")
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if got := r.Recipients(52, addr(9)); len(got) != 1 {
		t.Errorf("Recipients = %v, want exactly one entry", got)
	}
}

func TestReapRemovesStalePeers(t *testing.T) {
	r := New()
	base := time.Unix(1000, 0)
	now := base
	r.now = func() time.Time { return now }

	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(1), 41, 1, "alice")
	r.Register(addr(2), 52, 2, "bob")

	now = base.Add(StaleAfter / 2)
	r.Touch(addr(2))

	now = base.Add(StaleAfter + time.Second)
	removed := r.Reap()
	if len(removed) != 1 {
		t.Fatalf("Reap removed %d peers, want 1", len(removed))
	}
	if removed[0].Username != "alice" {
		t.Errorf("reaped %q, want alice", removed[0].Username)
	}
	chs := removed[0].Channels
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	if len(chs) != 2 || chs[0] != 41 || chs[1] != 52 {
		t.Errorf("reaped channels = %v, want [41 52]", chs)
	}

	// Reverse index must be clean: alice gone from both channels.
	if got := r.Recipients(52, addr(9)); len(got) != 1 || got[0] != addr(2) {
		t.Errorf("Recipients(52) = %v, want [bob] only", got)
	}
	if got := r.Recipients(41, addr(9)); len(got) != 0 {
		t.Errorf("Recipients(41) = %v, want empty", got)
	}
	if r.ChannelCount() != 1 {
		t.Errorf("ChannelCount = %d, want 1 (empty channel dropped)", r.ChannelCount())
	}
}

func TestReapIdempotent(t *testing.T) {
	r := New()
	base := time.Unix(1000, 0)
	now := base
	r.now = func() time.Time { return now }

	r.Register(addr(1), 52, 1, "alice")
	now = base.Add(StaleAfter + time.Second)

	if removed := r.Reap(); len(removed) != 1 {
		t.Fatalf("first Reap removed %d, want 1", len(removed))
	}
	if removed := r.Reap(); len(removed) != 0 {
		t.Errorf("second Reap removed %d, want 0", len(removed))
	}
}

func TestTouchKeepsPeerAlive(t *testing.T) {
	r := New()
	base := time.Unix(1000, 0)
	now := base
	r.now = func() time.Time { return now }

	r.Register(addr(1), 52, 1, "alice")
	for i := 0; i < 4; i++ {
		now = now.Add(20 * time.Second)
		r.Touch(addr(1))
	}
	if removed := r.Reap(); len(removed) != 0 {
		t.Errorf("Reap removed %d peers despite touches, want 0", len(removed))
	}
}

func TestForget(t *testing.T) {
	r := New()
	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(1), 41, 1, "alice")
	r.Forget(addr(1))
	if r.Count() != 0 {
		t.Errorf("Count = %d after Forget, want 0", r.Count())
	}
	if r.Member(addr(1), 52) {
		t.Error("Member should be false after Forget")
	}
	// Forgetting an unknown peer is a no-op.
	r.Forget(addr(9))
}

func TestPeersSnapshot(t *testing.T) {
	r := New()
	r.Register(addr(1), 52, 1, "alice")
	r.Register(addr(2), 41, 2, "bob")
	peers := r.Peers()
	if len(peers) != 2 {
		t.Fatalf("Peers returned %d, want 2", len(peers))
	}
	names := map[string]bool{}
	for _, p := range peers {
		names[p.Username] = true
	}
	if !names["alice"] || !names["bob"] {
		t.Errorf("Peers = %v, want alice and bob", names)
	}
}
