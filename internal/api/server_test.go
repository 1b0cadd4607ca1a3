package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/funknet/funknet/internal/config"
	"github.com/funknet/funknet/internal/database"
	"github.com/funknet/funknet/internal/database/models"
)

var testSecret = bytes.Repeat([]byte{0x42}, 32)

func newTestServer(t *testing.T) (*Server, *database.DB) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("seeding defaults: %v", err)
	}

	cfg := &config.Config{Version: "1.2.3", Changelog: "fixes"}
	s := NewServer(db, cfg, testSecret, nil, nil, nil, nil)
	t.Cleanup(s.Close)
	return s, db
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

// adminToken runs setup + login and returns a bearer token.
func adminToken(t *testing.T, s *Server) string {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/admin/setup", "",
		map[string]string{"username": "root", "password": "longenough"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("setup status = %d body=%s", rec.Code, rec.Body)
	}
	rec = doJSON(t, s, http.MethodPost, "/api/admin/login", "",
		map[string]string{"username": "root", "password": "longenough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if resp.Data.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Data.Token
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Data["status"] != "ok" {
		t.Errorf("status field = %v, want ok", resp.Data["status"])
	}
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/version", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["version"] != "1.2.3" || resp["changelog"] != "fixes" {
		t.Errorf("version response = %v", resp)
	}
}

func TestChannelsForKey(t *testing.T) {
	s, db := newTestServer(t)

	repo := database.NewUserRepository(db)
	u := &models.User{Username: "alice", AllowedChannels: []int{41, 52}, Active: true}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/channels/"+u.FunkKey, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Channels []struct {
			ChannelID int `json:"channel_id"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(resp.Channels) != 2 || resp.Channels[0].ChannelID != 41 || resp.Channels[1].ChannelID != 52 {
		t.Errorf("channels = %v, want 41 and 52", resp.Channels)
	}

	// Unknown key is a 404: the client then falls back to the full plan.
	rec = doJSON(t, s, http.MethodGet, "/api/channels/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d, want 404", rec.Code)
	}

	// Inactive user is also a 404.
	u.Active = false
	repo.Update(context.Background(), u)
	rec = doJSON(t, s, http.MethodGet, "/api/channels/"+u.FunkKey, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("inactive key status = %d, want 404", rec.Code)
	}
}

func TestAdminSetupOnlyOnce(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken(t, s)
	rec := doJSON(t, s, http.MethodPost, "/api/admin/setup", "",
		map[string]string{"username": "evil", "password": "longenough"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("second setup status = %d, want 403", rec.Code)
	}
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	s, _ := newTestServer(t)
	adminToken(t, s)
	rec := doJSON(t, s, http.MethodPost, "/api/admin/login", "",
		map[string]string{"username": "root", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login status = %d, want 401", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{"/api/admin/users", "/api/admin/channels", "/api/admin/peers"} {
		rec := doJSON(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
	rec := doJSON(t, s, http.MethodGet, "/api/admin/users", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestUserLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	token := adminToken(t, s)

	// Create.
	rec := doJSON(t, s, http.MethodPost, "/api/admin/users", token, map[string]any{
		"username":         "alice",
		"allowed_channels": []int{41, 52},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body)
	}
	var created struct {
		Data struct {
			ID      int64  `json:"id"`
			FunkKey string `json:"funk_key"`
		} `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Data.FunkKey == "" {
		t.Fatal("create did not return the funk key")
	}

	// Unknown channels are rejected.
	rec = doJSON(t, s, http.MethodPost, "/api/admin/users", token, map[string]any{
		"username":         "mallory",
		"allowed_channels": []int{99},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create with bad channel status = %d, want 400", rec.Code)
	}

	// Update: deactivate.
	inactive := false
	rec = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", created.Data.ID), token,
		map[string]any{"active": &inactive})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body)
	}

	// List shows bootstrap admin + alice.
	rec = doJSON(t, s, http.MethodGet, "/api/admin/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Data []models.User `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Data) != 2 {
		t.Errorf("user count = %d, want 2", len(list.Data))
	}

	// Delete.
	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", created.Data.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", created.Data.ID), token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", rec.Code)
	}
}

func TestListChannels(t *testing.T) {
	s, _ := newTestServer(t)
	token := adminToken(t, s)

	rec := doJSON(t, s, http.MethodGet, "/api/admin/channels", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list struct {
		Data []models.Channel `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Data) != 22 {
		t.Errorf("channel count = %d, want 22", len(list.Data))
	}
}
