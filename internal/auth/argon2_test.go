package auth

import (
	"errors"
	"strings"
	"testing"
)

// cheapParams keeps hashing fast in tests.
var cheapParams = Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHashToken_Format(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("bk_admin_0123456789abcdef")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=") {
		t.Errorf("Hash should be in PHC format, got: %s", hash)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("Hash should have 6 parts, got: %d", len(parts))
	}
	if parts[1] != "argon2id" {
		t.Errorf("Expected argon2id algorithm, got: %s", parts[1])
	}
	if parts[2] != "v=19" {
		t.Errorf("Expected v=19, got: %s", parts[2])
	}
	if parts[3] != "m=65536,t=3,p=4" {
		t.Errorf("Expected m=65536,t=3,p=4, got: %s", parts[3])
	}
}

func TestHashToken_SaltedAndVerifiable(t *testing.T) {
	t.Parallel()

	token := "the_same_token_12345"

	hash1, err := HashTokenWithParams(token, cheapParams)
	if err != nil {
		t.Fatalf("HashTokenWithParams failed: %v", err)
	}
	hash2, err := HashTokenWithParams(token, cheapParams)
	if err != nil {
		t.Fatalf("HashTokenWithParams failed: %v", err)
	}

	if hash1 == hash2 {
		t.Error("Same token should produce different hashes due to random salt")
	}

	for _, h := range []string{hash1, hash2} {
		match, err := VerifyToken(token, h)
		if err != nil || !match {
			t.Errorf("VerifyToken(%q) = %v, %v; want true, nil", h, match, err)
		}
	}

	match, err := VerifyToken("wrong_token", hash1)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if match {
		t.Error("Wrong token should not match")
	}
}

func TestVerifyToken_InvalidHashFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hash    string
		wantErr error
	}{
		{"empty", "", ErrInvalidHash},
		{"wrong format", "not-a-hash", ErrInvalidHash},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash", ErrInvalidHash},
		{"missing parts", "$argon2id$v=19$m=65536", ErrInvalidHash},
		{"zero memory", "$argon2id$v=19$m=0,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrInvalidHash},
		{"huge memory", "$argon2id$v=19$m=4294967295,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrInvalidHash},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$c29tZWhhc2hoZXJl", ErrInvalidHash},
		{"wrong version", "$argon2id$v=18$m=65536,t=3,p=4$c29tZXNhbHRoZXJl$c29tZWhhc2hoZXJl", ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			match, err := VerifyToken("token", tt.hash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyToken with %q error = %v, want %v", tt.name, err, tt.wantErr)
			}
			if match {
				t.Error("invalid hash should never match")
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	token, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if !strings.HasPrefix(token, TokenPrefix) || len(token) != len(TokenPrefix)+48 {
		t.Errorf("unexpected token format %q", token)
	}

	match, err := VerifyToken(token, hash)
	if err != nil || !match {
		t.Fatalf("generated token does not verify: %v, %v", match, err)
	}
}
