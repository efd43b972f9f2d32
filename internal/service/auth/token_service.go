package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenService defines operations for managing device-session JWT tokens.
// A session is created when a client exchanges the API key for a token;
// there are no per-user accounts and no refresh tokens, the client simply
// re-exchanges the key when its token expires.
type TokenService interface {
	// IssueToken creates a signed JWT for the given device session.
	// Returns the token string or an error if signing fails.
	IssueToken(ctx context.Context, sessionID uuid.UUID) (string, error)

	// ValidateToken validates the provided token string and extracts the
	// claims. Returns an error if validation fails (expired, invalid
	// signature, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the custom claims structure for session tokens.
// It extends standard JWT registered claims with application-specific fields.
type Claims struct {
	// SessionID is the device session the token was issued for.
	SessionID uuid.UUID `json:"sid,omitempty"`

	// Standard registered JWT claims
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
