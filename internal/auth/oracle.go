// Package auth resolves funk-key credentials to user identities for the
// relay hot path.
//
// The relay's packet loop must never block on the store, so the oracle
// keeps a short-TTL cache of verify results (hits and misses both) and
// pushes the best-effort bookkeeping calls — connection logging and
// last-seen stamps — onto a small worker pool that drops work when the
// store cannot keep up.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/funknet/funknet/internal/database"
	"github.com/funknet/funknet/internal/database/models"
)

// Identity is a resolved credential: the subset of the user record the
// relay needs per packet.
type Identity struct {
	UserID          int64
	Username        string
	AllowedChannels map[uint8]struct{}
}

// Allowed reports whether the identity may use the channel.
func (id *Identity) Allowed(channel uint8) bool {
	_, ok := id.AllowedChannels[channel]
	return ok
}

const (
	// cacheTTL is how long a verify result may be served from cache.
	// AUTH_OK is required before any audio, so a few seconds of
	// staleness cannot let an already-revoked key start a new stream
	// for long.
	cacheTTL = 5 * time.Second

	// workerCount bounds the goroutines doing store bookkeeping.
	workerCount = 4

	// workQueueSize bounds the pending bookkeeping backlog; beyond it
	// work is dropped, never queued unboundedly.
	workQueueSize = 256
)

// cacheEntry is one cached verify result. identity nil means a cached miss.
type cacheEntry struct {
	identity *Identity
	at       time.Time
}

// Oracle answers credential lookups and runs store bookkeeping off the
// hot path. Safe for concurrent use.
type Oracle struct {
	users    database.UserRepository
	connLogs database.ConnectionLogRepository
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time

	work chan func(ctx context.Context)
	wg   sync.WaitGroup
	stop context.CancelFunc

	droppedWork int64
}

// New creates an oracle and starts its worker pool.
func New(users database.UserRepository, connLogs database.ConnectionLogRepository, logger *slog.Logger) *Oracle {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Oracle{
		users:    users,
		connLogs: connLogs,
		logger:   logger.With("subsystem", "auth"),
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
		work:     make(chan func(ctx context.Context), workQueueSize),
		stop:     cancel,
	}
	o.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go o.worker(ctx)
	}
	return o
}

// Close stops the worker pool and waits for in-flight work.
func (o *Oracle) Close() {
	o.stop()
	o.wg.Wait()
}

// Verify resolves a credential. It returns (nil, nil) for an unknown or
// inactive user and a non-nil error only when the store failed and no
// cached result was available — the caller maps that to "Auth error".
func (o *Oracle) Verify(ctx context.Context, funkKey string) (*Identity, error) {
	now := o.now()

	o.mu.Lock()
	if e, ok := o.cache[funkKey]; ok && now.Sub(e.at) < cacheTTL {
		o.mu.Unlock()
		return e.identity, nil
	}
	o.mu.Unlock()

	user, err := o.users.GetByFunkKey(ctx, funkKey)
	if err != nil {
		// Serve an expired cache entry rather than failing: the store
		// being down should not kick authenticated users off the air.
		o.mu.Lock()
		e, ok := o.cache[funkKey]
		o.mu.Unlock()
		if ok {
			o.logger.Warn("store unavailable, serving stale auth result", "error", err)
			return e.identity, nil
		}
		return nil, err
	}

	id := identityFrom(user)
	o.mu.Lock()
	o.cache[funkKey] = cacheEntry{identity: id, at: now}
	// Opportunistic eviction keeps the map bounded without a sweeper.
	if len(o.cache) > 1024 {
		for k, e := range o.cache {
			if now.Sub(e.at) >= cacheTTL {
				delete(o.cache, k)
			}
		}
	}
	o.mu.Unlock()

	return id, nil
}

// Invalidate removes a credential from the cache, forcing the next
// Verify to hit the store. Used by the control plane after user updates.
func (o *Oracle) Invalidate(funkKey string) {
	o.mu.Lock()
	delete(o.cache, funkKey)
	o.mu.Unlock()
}

// RecordConnect logs a connect/disconnect event asynchronously.
// Best-effort: dropped when the queue is full.
func (o *Oracle) RecordConnect(userID int64, channel uint8, action, peerIP string) {
	o.submit(func(ctx context.Context) {
		if err := o.connLogs.Record(ctx, userID, int(channel), action, peerIP); err != nil {
			o.logger.Warn("connection log write failed", "user_id", userID, "error", err)
		}
	})
}

// TouchLastSeen stamps the user's last-seen asynchronously. Best-effort.
func (o *Oracle) TouchLastSeen(userID int64) {
	o.submit(func(ctx context.Context) {
		if err := o.users.TouchLastSeen(ctx, userID); err != nil {
			o.logger.Warn("last-seen update failed", "user_id", userID, "error", err)
		}
	})
}

// submit enqueues bookkeeping work without ever blocking the caller.
func (o *Oracle) submit(fn func(ctx context.Context)) {
	select {
	case o.work <- fn:
	default:
		o.mu.Lock()
		o.droppedWork++
		dropped := o.droppedWork
		o.mu.Unlock()
		if dropped%100 == 1 {
			o.logger.Warn("bookkeeping queue full, dropping work", "dropped_total", dropped)
		}
	}
}

func (o *Oracle) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.work:
			callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			fn(callCtx)
			cancel()
		}
	}
}

// identityFrom converts a user record, returning nil for missing or
// inactive users so both cache as a miss.
func identityFrom(user *models.User) *Identity {
	if user == nil || !user.Active {
		return nil
	}
	allowed := make(map[uint8]struct{}, len(user.AllowedChannels))
	for _, c := range user.AllowedChannels {
		if c >= 0 && c <= 255 {
			allowed[uint8(c)] = struct{}{}
		}
	}
	return &Identity{
		UserID:          user.ID,
		Username:        user.Username,
		AllowedChannels: allowed,
	}
}

// Redact returns a loggable form of a credential: its first four
// characters. Full funk keys never appear in logs.
func Redact(funkKey string) string {
	if len(funkKey) <= 4 {
		return "****"
	}
	return funkKey[:4] + "…"
}
