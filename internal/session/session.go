// Package session decodes the session token the support server issued to
// the signed-in user.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles a session can carry.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

var (
	// ErrMissingToken is returned when no session token is configured.
	ErrMissingToken = errors.New("session token is required")
	// ErrNoSubject is returned when the token does not name a user.
	ErrNoSubject = errors.New("session token has no subject")
	// ErrExpired is returned when the token is past its expiry.
	ErrExpired = errors.New("session token expired")
)

// Claims represents the session token claims.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Session identifies the signed-in user.
type Session struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
	Token     string
}

// Parse decodes token without verifying its signature. The server verifies
// the token on every request; the client only needs to know who it is.
func Parse(token string, now time.Time) (*Session, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrNoSubject
	}

	s := &Session{
		UserID: claims.Subject,
		Role:   claims.Role,
		Token:  token,
	}
	if s.Role == "" {
		s.Role = RoleUser
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
		if !now.Before(s.ExpiresAt) {
			return nil, ErrExpired
		}
	}
	return s, nil
}

// IsStaff reports whether the session belongs to support staff, who see the
// admin and internal threads.
func (s *Session) IsStaff() bool {
	return s.Role == RoleAgent || s.Role == RoleAdmin
}
