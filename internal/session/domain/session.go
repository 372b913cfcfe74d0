package domain

import "time"

// Session records the latest successful login of a user; a new login replaces
// it. It is informational: bearer tokens stay valid until their own expiry
// whether or not the session still exists.
type Session struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past ExpiresAt at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
