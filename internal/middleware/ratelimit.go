package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"github.com/beacon/beacon/internal/metrics"
	"github.com/beacon/beacon/internal/ratelimit"
)

// maxTenantPeek bounds how much of a tracking body is read to find the
// tracking ID.
const maxTenantPeek = 64 << 10

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter *ratelimit.Limiter
	Metrics metrics.Recorder
	Enabled bool
	// PerTenant adds the submitted trackingId to the client key so one
	// busy site behind a shared IP does not starve another.
	PerTenant bool
}

// rateLimitResponse is the 429 body.
type rateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// RateLimit returns middleware that applies policy per client IP.
// Store failures are logged and the request is allowed.
func RateLimit(cfg RateLimitConfig, policy ratelimit.Policy) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			parts := []string{ratelimit.HashClient(ip)}

			trackingID := ""
			if cfg.PerTenant {
				trackingID = peekTrackingID(r)
				if trackingID != "" {
					parts = append(parts, ratelimit.HashClient(trackingID))
				}
			}

			decision, err := cfg.Limiter.Allow(r.Context(), policy, strings.Join(parts, ":"))
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("policy", policy.Name),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, decision)

			if !decision.Allowed {
				retrySeconds := int64(decision.RetryAfter.Seconds())
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("policy", policy.Name),
					slog.String("ip", ip),
					slog.String("user_agent", r.UserAgent()),
					slog.String("tracking_id", trackingID),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", retrySeconds),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				recorder.IncRateLimited(policy.Name)

				w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
				writeRateLimitError(w, policy.Message, retrySeconds)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// writeRateLimitError writes a 429 Too Many Requests response.
func writeRateLimitError(w http.ResponseWriter, message string, retryAfter int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rateLimitResponse{Error: message, RetryAfter: retryAfter})
}

// clientIP returns the client address as resolved by httprate, falling back
// to RemoteAddr.
func clientIP(r *http.Request) string {
	ip, err := httprate.KeyByRealIP(r)
	if err != nil || ip == "" {
		return r.RemoteAddr
	}
	return ip
}

// peekTrackingID reads the trackingId field of a JSON body and restores the
// body for the next handler. It returns "" when the body has no usable id.
func peekTrackingID(r *http.Request) string {
	if r.Body == nil || r.Method != http.MethodPost {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxTenantPeek))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), rest), rest}
	if err != nil {
		return ""
	}

	var probe struct {
		TrackingID string `json:"trackingId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.TrackingID)
}
