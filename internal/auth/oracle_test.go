package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/funknet/funknet/internal/database/models"
)

// fakeUserRepo implements database.UserRepository for oracle tests.
type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*models.User
	fail    bool
	lookups atomic.Int64
	touched atomic.Int64
}

func (f *fakeUserRepo) GetByFunkKey(ctx context.Context, key string) (*models.User, error) {
	f.lookups.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.users[key], nil
}

func (f *fakeUserRepo) TouchLastSeen(ctx context.Context, id int64) error {
	f.touched.Add(1)
	return nil
}

func (f *fakeUserRepo) Create(ctx context.Context, u *models.User) error { return nil }

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) List(ctx context.Context) ([]models.User, error) { return nil, nil }

func (f *fakeUserRepo) Update(ctx context.Context, u *models.User) error { return nil }

func (f *fakeUserRepo) Delete(ctx context.Context, id int64) error { return nil }

// fakeConnLogRepo implements database.ConnectionLogRepository.
type fakeConnLogRepo struct {
	recorded atomic.Int64
}

func (f *fakeConnLogRepo) Record(ctx context.Context, userID int64, channelID int, action, ip string) error {
	f.recorded.Add(1)
	return nil
}

func (f *fakeConnLogRepo) ListRecent(ctx context.Context, limit int) ([]models.ConnectionLog, error) {
	return nil, nil
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestOracle(t *testing.T) (*Oracle, *fakeUserRepo, *fakeConnLogRepo) {
	t.Helper()
	users := &fakeUserRepo{users: map[string]*models.User{
		"goodkey0": {ID: 1, Username: "alice", FunkKey: "goodkey0", AllowedChannels: []int{41, 52}, Active: true},
		"inactive": {ID: 2, Username: "bob", FunkKey: "inactive", AllowedChannels: []int{41}, Active: false},
	}}
	logs := &fakeConnLogRepo{}
	o := New(users, logs, discard())
	t.Cleanup(o.Close)
	return o, users, logs
}

func TestVerifyKnownUser(t *testing.T) {
	o, _, _ := newTestOracle(t)

	id, err := o.Verify(context.Background(), "goodkey0")
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if id == nil || id.Username != "alice" {
		t.Fatalf("Verify = %v, want alice", id)
	}
	if !id.Allowed(52) || !id.Allowed(41) || id.Allowed(60) {
		t.Errorf("allowed set wrong: %v", id.AllowedChannels)
	}
}

func TestVerifyUnknownAndInactive(t *testing.T) {
	o, _, _ := newTestOracle(t)

	if id, err := o.Verify(context.Background(), "nope"); err != nil || id != nil {
		t.Errorf("unknown key: (%v, %v), want (nil, nil)", id, err)
	}
	if id, err := o.Verify(context.Background(), "inactive"); err != nil || id != nil {
		t.Errorf("inactive user: (%v, %v), want (nil, nil)", id, err)
	}
}

func TestVerifyCachesHitsAndMisses(t *testing.T) {
	o, users, _ := newTestOracle(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		o.Verify(ctx, "goodkey0")
		o.Verify(ctx, "nope")
	}
	if n := users.lookups.Load(); n != 2 {
		t.Errorf("store lookups = %d, want 2 (one per distinct key)", n)
	}
}

func TestVerifyCacheExpires(t *testing.T) {
	o, users, _ := newTestOracle(t)
	ctx := context.Background()

	base := time.Unix(1000, 0)
	now := base
	o.now = func() time.Time { return now }

	o.Verify(ctx, "goodkey0")
	now = base.Add(cacheTTL + time.Second)
	o.Verify(ctx, "goodkey0")

	if n := users.lookups.Load(); n != 2 {
		t.Errorf("store lookups = %d, want 2 after TTL expiry", n)
	}
}

func TestVerifyServesStaleOnStoreFailure(t *testing.T) {
	o, users, _ := newTestOracle(t)
	ctx := context.Background()

	base := time.Unix(1000, 0)
	now := base
	o.now = func() time.Time { return now }

	id, err := o.Verify(ctx, "goodkey0")
	if err != nil || id == nil {
		t.Fatalf("priming Verify = (%v, %v)", id, err)
	}

	users.mu.Lock()
	users.fail = true
	users.mu.Unlock()
	now = base.Add(cacheTTL + time.Second)

	id, err = o.Verify(ctx, "goodkey0")
	if err != nil {
		t.Fatalf("Verify with stale cache should not error, got %v", err)
	}
	if id == nil || id.Username != "alice" {
		t.Errorf("stale Verify = %v, want alice", id)
	}

	// An uncached key with the store down is a hard error.
	if _, err := o.Verify(ctx, "fresh-key"); err == nil {
		t.Error("Verify of uncached key with store down should error")
	}
}

func TestInvalidate(t *testing.T) {
	o, users, _ := newTestOracle(t)
	ctx := context.Background()

	o.Verify(ctx, "goodkey0")
	o.Invalidate("goodkey0")
	o.Verify(ctx, "goodkey0")
	if n := users.lookups.Load(); n != 2 {
		t.Errorf("store lookups = %d, want 2 after Invalidate", n)
	}
}

func TestAsyncBookkeeping(t *testing.T) {
	o, users, logs := newTestOracle(t)

	o.RecordConnect(1, 52, "connect", "192.0.2.1")
	o.TouchLastSeen(1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logs.recorded.Load() == 1 && users.touched.Load() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("bookkeeping not executed: logs=%d touched=%d",
		logs.recorded.Load(), users.touched.Load())
}

func TestRedact(t *testing.T) {
	if got := Redact("0123456789abcdef"); got != "0123…" {
		t.Errorf("Redact = %q", got)
	}
	if got := Redact("ab"); got != "****" {
		t.Errorf("Redact short = %q", got)
	}
}
