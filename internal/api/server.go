// Package api implements the funkd HTTP control plane: the client
// bootstrap endpoints (channel list, version), the health check, and the
// JWT-protected admin surface for user and channel administration.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/funknet/funknet/internal/api/middleware"
	"github.com/funknet/funknet/internal/config"
	"github.com/funknet/funknet/internal/database"
	"github.com/funknet/funknet/internal/registry"
	"github.com/funknet/funknet/internal/relay"
)

// PeerProvider exposes the live peer set. Implemented by *registry.Registry.
type PeerProvider interface {
	Peers() []registry.Peer
	Count() int
}

// StatsProvider exposes relay counters. Implemented by *relay.Server.
type StatsProvider interface {
	Stats() relay.Stats
}

// CacheInvalidator drops cached credentials after user changes.
// Implemented by *auth.Oracle.
type CacheInvalidator interface {
	Invalidate(funkKey string)
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	jwtSecret  []byte
	users      database.UserRepository
	channels   database.ChannelRepository
	connLogs   database.ConnectionLogRepository
	traffic    database.TrafficRepository
	adminUsers database.AdminUserRepository
	peers      PeerProvider
	stats      StatsProvider
	cache      CacheInvalidator
	metrics    http.Handler
	startedAt  time.Time

	authLimiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted. metrics may
// be nil to disable the Prometheus endpoint; cache may be nil when no
// oracle is running (tests).
func NewServer(
	db *database.DB,
	cfg *config.Config,
	jwtSecret []byte,
	peers PeerProvider,
	stats StatsProvider,
	cache CacheInvalidator,
	metrics http.Handler,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		jwtSecret:   jwtSecret,
		users:       database.NewUserRepository(db),
		channels:    database.NewChannelRepository(db),
		connLogs:    database.NewConnectionLogRepository(db),
		traffic:     database.NewTrafficRepository(db),
		adminUsers:  database.NewAdminUserRepository(db),
		peers:       peers,
		stats:       stats,
		cache:       cache,
		metrics:     metrics,
		startedAt:   time.Now(),
		authLimiter: middleware.NewIPRateLimiter(middleware.AuthRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background helpers owned by the server.
func (s *Server) Close() {
	s.authLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Client bootstrap surface: unauthenticated, rate limited.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.authLimiter))
			r.Get("/channels/{funkKey}", s.handleChannelsForKey)
			r.Post("/admin/login", s.handleAdminLogin)
			r.Post("/admin/setup", s.handleAdminSetup)
		})

		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		// Admin surface: bearer token required.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.jwtSecret))
			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", s.handleListUsers)
				r.Post("/users", s.handleCreateUser)
				r.Put("/users/{id}", s.handleUpdateUser)
				r.Delete("/users/{id}", s.handleDeleteUser)
				r.Get("/channels", s.handleListChannels)
				r.Get("/connections", s.handleListConnections)
				r.Get("/traffic", s.handleListTraffic)
				r.Get("/peers", s.handleListPeers)
			})
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}

// handleHealth reports liveness plus a peer count, for load balancers
// and the admin dashboard.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}
	if s.peers != nil {
		resp["active_peers"] = s.peers.Count()
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp["packets_forwarded"] = st.PacketsForwarded
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleVersion advertises the running software version and changelog.
// The response shape is consumed by the client's update prompt and is
// not enveloped.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeRaw(w, http.StatusOK, map[string]string{
		"version":   s.cfg.Version,
		"changelog": s.cfg.Changelog,
	})
}

// channelEntry is one element of the bootstrap channel list.
type channelEntry struct {
	ChannelID int `json:"channel_id"`
}

// handleChannelsForKey returns the channels a funk key may use. The
// client calls this once at startup to populate its channel picker.
// The response shape is consumed by existing clients and is not enveloped.
func (s *Server) handleChannelsForKey(w http.ResponseWriter, r *http.Request) {
	funkKey := chi.URLParam(r, "funkKey")
	if funkKey == "" {
		writeError(w, http.StatusBadRequest, "funk key required")
		return
	}

	user, err := s.users.GetByFunkKey(r.Context(), funkKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if user == nil || !user.Active {
		writeError(w, http.StatusNotFound, "unknown funk key")
		return
	}

	entries := make([]channelEntry, 0, len(user.AllowedChannels))
	for _, c := range user.AllowedChannels {
		entries = append(entries, channelEntry{ChannelID: c})
	}
	writeRaw(w, http.StatusOK, map[string]any{"channels": entries})
}
