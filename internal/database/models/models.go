// Package models defines the persistent record types shared between the
// database repositories and the control plane.
package models

import "time"

// User is a funk-key holder: the identity behind a relay peer.
type User struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	FunkKey         string     `json:"-"` // never serialised
	AllowedChannels []int      `json:"allowed_channels"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"created_at"`
	LastSeen        *time.Time `json:"last_seen,omitempty"`
}

// Allowed reports whether the user may use the given channel.
func (u *User) Allowed(channel int) bool {
	for _, c := range u.AllowedChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// Channel is one entry of the fixed channel plan.
type Channel struct {
	ID         int       `json:"channel_id"`
	Name       string    `json:"name"`
	Restricted bool      `json:"restricted"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConnectionLog is one audit row for a connect or disconnect event.
type ConnectionLog struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChannelID int       `json:"channel_id"`
	Action    string    `json:"action"` // "connect" or "disconnect"
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
}

// TrafficSample is one aggregate traffic flush interval.
type TrafficSample struct {
	ID        int64     `json:"id"`
	BytesIn   int64     `json:"bytes_in"`
	BytesOut  int64     `json:"bytes_out"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminUser is a control-plane account (password login, not funk key).
type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
