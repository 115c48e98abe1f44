package models

import "time"

// DefaultSessionTTL is how long a receive-mode session code stays claimable
const DefaultSessionTTL = 30 * time.Minute

// TransferSession is a short-lived code-based pairing for receive mode
type TransferSession struct {
	ID              string    `json:"id"`
	SessionCode     string    `json:"session_code"`
	CreatorDeviceID string    `json:"creator_device_id"`
	IsActive        bool      `json:"is_active"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Claimable reports whether the session can still be joined at now.
// An expired session is unusable even while is_active reads true.
func (s *TransferSession) Claimable(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SessionInsert is the body accepted when opening a session
type SessionInsert struct {
	SessionCode     string `json:"session_code"`
	CreatorDeviceID string `json:"creator_device_id"`
}
