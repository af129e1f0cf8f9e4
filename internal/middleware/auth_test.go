package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/beacon/beacon/internal/auth"
)

const testAdminToken = "bk_admin_00112233445566778899aabbccddeeff0011223344556677"

func TestMain(m *testing.M) {
	minAuthDuration = 5 * time.Millisecond
	os.Exit(m.Run())
}

func testAdminHash(t *testing.T) string {
	t.Helper()
	hash, err := auth.HashTokenWithParams(testAdminToken, auth.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	if err != nil {
		t.Fatalf("hash admin token: %v", err)
	}
	return hash
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	hash := testAdminHash(t)

	tests := []struct {
		name       string
		tokenHash  string
		header     string
		wantStatus int
	}{
		{"valid token", hash, "Bearer " + testAdminToken, http.StatusOK},
		{"lowercase scheme", hash, "bearer " + testAdminToken, http.StatusOK},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"wrong scheme", hash, "Basic " + testAdminToken, http.StatusUnauthorized},
		{"wrong token", hash, "Bearer bk_admin_nope", http.StatusUnauthorized},
		{"admin disabled", "", "Bearer " + testAdminToken, http.StatusUnauthorized},
		{"corrupt hash", "$argon2id$broken", "Bearer " + testAdminToken, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			h := AdminAuth(AdminAuthConfig{
				Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
				TokenHash: tt.tokenHash,
			})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v", called)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if got := rec.Body.String(); got != `{"success":false,"error":"Invalid or missing admin token"}` {
					t.Errorf("body = %s", got)
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
			}
		})
	}
}

func TestVerifyAdminToken_Reasons(t *testing.T) {
	t.Parallel()

	hash := testAdminHash(t)

	tests := []struct {
		name      string
		tokenHash string
		header    string
		want      string
	}{
		{"disabled", "", "Bearer x", "admin_disabled"},
		{"missing", hash, "", "missing_token"},
		{"invalid hash", "garbage", "Bearer x", "invalid_hash"},
		{"invalid token", hash, "Bearer x", "invalid_token"},
		{"ok", hash, "Bearer " + testAdminToken, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/verify", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			ok, reason := VerifyAdminToken(tt.tokenHash, req)
			if reason != tt.want {
				t.Errorf("reason = %q, want %q", reason, tt.want)
			}
			if ok != (tt.want == "") {
				t.Errorf("ok = %v", ok)
			}
		})
	}
}

func TestVerifyAdminToken_MinimumDuration(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	start := time.Now()
	if ok, _ := VerifyAdminToken("", req); ok {
		t.Fatal("expected failure")
	}
	if elapsed := time.Since(start); elapsed < minAuthDuration {
		t.Errorf("fast rejection took %v, want at least %v", elapsed, minAuthDuration)
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":               "",
		"Bearer":         "",
		"Bearer ":        "",
		"Bearer   abc  ": "abc",
		"BEARER abc":     "abc",
		"Token abc":      "",
		"xxxxxxxxx":      "",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := extractBearerToken(req); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
