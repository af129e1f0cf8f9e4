package handler

import (
	"log/slog"
	"net/http"

	"github.com/beacon/beacon/internal/middleware"
)

// AuthHandler exposes admin token verification.
type AuthHandler struct {
	tokenHash string
	logger    *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. An empty tokenHash rejects
// every token.
func NewAuthHandler(tokenHash string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		tokenHash: tokenHash,
		logger:    logger.With("component", "handler.auth"),
	}
}

type verifyResponse struct {
	Success bool `json:"success"`
	Valid   bool `json:"valid"`
}

// Verify handles POST /api/v1/auth/verify.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ok, reason := middleware.VerifyAdminToken(h.tokenHash, r)
	if !ok {
		h.logger.Warn("admin token verification failed",
			"reason", reason,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeError(w, http.StatusUnauthorized, "Invalid or missing admin token")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{Success: true, Valid: true})
}
