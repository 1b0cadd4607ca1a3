package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/funknet/funknet/internal/api/middleware"
	"github.com/funknet/funknet/internal/database"
	"github.com/funknet/funknet/internal/database/models"
)

// handleAdminSetup creates the first admin account. It only works while
// no admin users exist; afterwards it always returns 403.
func (s *Server) handleAdminSetup(w http.ResponseWriter, r *http.Request) {
	count, err := s.adminUsers.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if count > 0 {
		writeError(w, http.StatusForbidden, "setup already completed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username and a password of at least 8 characters are required")
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing password failed")
		return
	}
	admin := &models.AdminUser{Username: req.Username, PasswordHash: hash}
	if err := s.adminUsers.Create(r.Context(), admin); err != nil {
		writeError(w, http.StatusInternalServerError, "creating admin failed")
		return
	}

	slog.Info("admin account created", "username", req.Username)
	writeJSON(w, http.StatusCreated, map[string]any{"id": admin.ID, "username": admin.Username})
}

// handleAdminLogin exchanges admin credentials for a bearer token.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	admin, err := s.adminUsers.GetByUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if admin == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	ok, err := database.CheckPassword(req.Password, admin.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := middleware.GenerateAdminToken(s.jwtSecret, admin.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generating token failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// userRequest is the create/update payload for funk users.
type userRequest struct {
	Username        string `json:"username"`
	AllowedChannels []int  `json:"allowed_channels"`
	Active          *bool  `json:"active,omitempty"`
}

// validChannels verifies every requested channel exists in the plan.
func (s *Server) validChannels(r *http.Request, channels []int) (bool, error) {
	for _, c := range channels {
		ch, err := s.channels.GetByID(r.Context(), c)
		if err != nil {
			return false, err
		}
		if ch == nil {
			return false, nil
		}
	}
	return true, nil
}

// handleListUsers returns all funk users.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleCreateUser creates a funk user with a generated key. The key is
// returned exactly once, in this response.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Username == "" || len(req.AllowedChannels) == 0 {
		writeError(w, http.StatusBadRequest, "username and allowed_channels are required")
		return
	}
	ok, err := s.validChannels(r, req.AllowedChannels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown channel in allowed_channels")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	user := &models.User{
		Username:        req.Username,
		AllowedChannels: req.AllowedChannels,
		Active:          active,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "creating user failed")
		return
	}

	slog.Info("funk user created",
		"username", user.Username,
		"admin", middleware.AdminUsernameFromContext(r.Context()),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":               user.ID,
		"username":         user.Username,
		"funk_key":         user.FunkKey,
		"allowed_channels": user.AllowedChannels,
		"active":           user.Active,
	})
}

// handleUpdateUser modifies a funk user's name, channel set or active
// flag, and invalidates any cached credential so the relay's next AUTH
// verification for the key reads the updated record. Relay sessions
// already established keep the identity resolved at their last AUTH.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req userRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Username != "" {
		user.Username = req.Username
	}
	if req.AllowedChannels != nil {
		ok, err := s.validChannels(r, req.AllowedChannels)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown channel in allowed_channels")
			return
		}
		user.AllowedChannels = req.AllowedChannels
	}
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "updating user failed")
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(user.FunkKey)
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a funk user and invalidates its credential.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "deleting user failed")
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(user.FunkKey)
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleListChannels returns the channel plan.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.channels.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// handleListConnections returns the newest connection log rows.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	logs, err := s.connLogs.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleListTraffic returns the newest traffic samples.
func (s *Server) handleListTraffic(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 500)
	samples, err := s.traffic.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

// peerEntry is the admin view of one live relay peer.
type peerEntry struct {
	Address  string  `json:"address"`
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	Channels []uint8 `json:"channels"`
	LastSeen string  `json:"last_seen"`
	IdleSecs int     `json:"idle_seconds"`
}

// handleListPeers returns the live peer set from the relay registry.
func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		writeJSON(w, http.StatusOK, []peerEntry{})
		return
	}
	now := time.Now()
	peers := s.peers.Peers()
	entries := make([]peerEntry, 0, len(peers))
	for _, p := range peers {
		entries = append(entries, peerEntry{
			Address:  p.Addr.String(),
			UserID:   p.UserID,
			Username: p.Username,
			Channels: p.Channels,
			LastSeen: p.LastSeen.Format(time.RFC3339),
			IdleSecs: int(now.Sub(p.LastSeen).Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseLimit reads a limit query parameter with a default and a cap.
func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
