package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/relay-api/internal/api/shared"
	"github.com/phrazzld/relay-api/internal/config"
	"github.com/phrazzld/relay-api/internal/service/auth"
)

// AuthHandler handles the API-key to session-token exchange. The server
// holds a single bcrypt-hashed API key; clients present the plaintext key
// once and receive a short-lived JWT scoped to a fresh device session.
type AuthHandler struct {
	tokens      auth.TokenService
	keyVerifier auth.KeyVerifier
	authConfig  *config.AuthConfig
	validator   *validator.Validate
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(
	tokens auth.TokenService,
	keyVerifier auth.KeyVerifier,
	authConfig *config.AuthConfig,
) *AuthHandler {
	return &AuthHandler{
		tokens:      tokens,
		keyVerifier: keyVerifier,
		authConfig:  authConfig,
		validator:   validator.New(),
	}
}

// IssueToken handles the /auth/token endpoint. A valid API key yields a
// new session ID and a signed access token for it.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest

	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	if err := h.keyVerifier.Compare(h.authConfig.APIKeyHash, req.APIKey); err != nil {
		// Failed key exchanges are worth surfacing in logs; they are either
		// misconfigured clients or probing.
		shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized,
			"Invalid API key", auth.ErrInvalidAPIKey, shared.WithElevatedLogLevel())
		return
	}

	sessionID := uuid.New()
	token, err := h.tokens.IssueToken(r.Context(), sessionID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to issue token")
		return
	}

	expiresAt := time.Now().
		Add(time.Duration(h.authConfig.TokenLifetimeMinutes) * time.Minute).
		UTC().
		Format(time.RFC3339)

	shared.RespondWithJSON(w, r, http.StatusOK, TokenResponse{
		SessionID:   sessionID,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	})
}
