// Package session implements the client side of the review service's session lifecycle:
// creation, one-time code verification, expiry and the single-session conflict rule.
//
// A client holds at most one Session. The Controller owns the in-memory copy and keeps the
// Store in step with it; every accessor hands out copies.
package session

import (
	"strings"
	"time"
)

// Session is the client's record of a review session.
type Session struct {
	SessionID        string    `yaml:"session_id" json:"sessionId"`
	Email            string    `yaml:"email" json:"email"`
	Name             string    `yaml:"name,omitempty" json:"name,omitempty"`
	SessionToken     string    `yaml:"session_token,omitempty" json:"-"`
	Verified         bool      `yaml:"verified" json:"verified"`
	CreatedAt        time.Time `yaml:"created_at" json:"createdAt"`
	ExpiresAt        time.Time `yaml:"expires_at,omitempty" json:"expiresAt,omitempty"`
	AnalysisCount    int       `yaml:"analysis_count" json:"analysisCount"`
	MaxAnalysisCount int       `yaml:"max_analysis_count" json:"maxAnalysisCount"`
}

// Clone returns a copy of s, or nil when s is nil.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Expired reports whether the session has an expiry that is not after now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Usable reports whether the session may be presented to analysis endpoints.
func (s *Session) Usable(now time.Time) bool {
	return s.Verified && s.SessionToken != "" && !s.Expired(now)
}

// Remaining returns the time left before expiry, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// QuotaLeft returns the number of analyses the session may still submit.
func (s *Session) QuotaLeft() int {
	if left := s.MaxAnalysisCount - s.AnalysisCount; left > 0 {
		return left
	}
	return 0
}

// MaskEmail hides most of the local part of an address: "alice@example.com" becomes
// "al***e@example.com". Local parts of three characters or fewer are left alone.
func MaskEmail(email string) string {
	user, domain, ok := strings.Cut(email, "@")
	if !ok || len(user) <= 3 {
		return email
	}
	return user[:2] + "***" + user[len(user)-1:] + "@" + domain
}
