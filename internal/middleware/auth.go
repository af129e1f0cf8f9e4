package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beacon/beacon/internal/auth"
)

// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
var minAuthDuration = 200 * time.Millisecond

// AdminAuthConfig holds configuration for the admin auth middleware.
type AdminAuthConfig struct {
	Logger *slog.Logger
	// TokenHash is the argon2id PHC hash of the admin token. Empty rejects
	// every request.
	TokenHash string
}

// AdminAuth returns a middleware that requires the admin bearer token.
func AdminAuth(cfg AdminAuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, reason := VerifyAdminToken(cfg.TokenHash, r)
			if !ok {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", clientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// VerifyAdminToken checks the request's bearer token against tokenHash.
// Every call takes at least minAuthDuration. On failure reason names the
// cause for logging.
func VerifyAdminToken(tokenHash string, r *http.Request) (ok bool, reason string) {
	startTime := time.Now()
	defer func() {
		if elapsed := time.Since(startTime); elapsed < minAuthDuration {
			time.Sleep(minAuthDuration - elapsed)
		}
	}()

	token := extractBearerToken(r)
	switch {
	case tokenHash == "":
		return false, "admin_disabled"
	case token == "":
		return false, "missing_token"
	}

	match, err := auth.VerifyToken(token, tokenHash)
	if err != nil {
		return false, "invalid_hash"
	}
	if !match {
		return false, "invalid_token"
	}
	return true, ""
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="beacon-admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":"Invalid or missing admin token"}`))
}
