package model

import "time"

// DefaultSessionTTL is the lifetime of a freshly created session.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Session is an active login stored in the sessions index.
type Session struct {
	Token     string  `json:"token"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username"`
	CreatedAt int64   `json:"created_at"`
	ExpiresAt int64   `json:"expires_at"`
	IPAddress *string `json:"ip_address"`
	UserAgent *string `json:"user_agent"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.Unix()
}

// TokenGenerator produces unguessable session tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// Stats summarises the account subsystem.
type Stats struct {
	TotalUsers     int    `json:"total_users"`
	TotalEmails    int    `json:"total_emails"`
	ActiveSessions int    `json:"active_sessions"`
	Backend        string `json:"backend"`
	BackendURL     string `json:"backend_url"`
	IndexID        string `json:"index_id"`
}
