// Package identity mints and persists the visitor and session identifiers
// that correlate tracked events.
//
// A visitor ID is created once per durable storage scope (a browser profile,
// or a storage file for Go clients) and reused until that storage is cleared.
// A session ID is minted on every tracker initialization and never persisted,
// so a full page load starts a new session.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// VisitorStorageKey is the durable storage key holding the visitor ID.
const VisitorStorageKey = "beacon_visitor_id"

const (
	visitorPrefix = "v_"
	sessionPrefix = "s_"
)

// ErrNotFound is returned by Storage.Get when the key is absent.
var ErrNotFound = errors.New("storage key not found")

// Storage is durable client-side key/value storage.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// NewVisitorID returns a fresh visitor identifier.
// The ULID body is a millisecond timestamp followed by 80 random bits.
func NewVisitorID() string {
	return visitorPrefix + ulid.Make().String()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return sessionPrefix + ulid.Make().String()
}

// IsVisitorID reports whether id has the shape produced by NewVisitorID.
func IsVisitorID(id string) bool {
	return hasULIDBody(id, visitorPrefix)
}

// IsSessionID reports whether id has the shape produced by NewSessionID.
func IsSessionID(id string) bool {
	return hasULIDBody(id, sessionPrefix)
}

func hasULIDBody(id, prefix string) bool {
	body, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(body)
	return err == nil
}

// ResolveVisitor reads the visitor ID from storage, creating and persisting
// one when absent. created reports whether a new ID was minted.
// A stored value is reused as-is even if it was written by another client
// version; the server treats visitor IDs as opaque.
func ResolveVisitor(store Storage) (id string, created bool, err error) {
	existing, err := store.Get(VisitorStorageKey)
	switch {
	case err == nil && existing != "":
		return existing, false, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", false, fmt.Errorf("read visitor id: %w", err)
	}

	id = NewVisitorID()
	if err := store.Set(VisitorStorageKey, id); err != nil {
		// The ID is still usable for this page lifetime.
		return id, true, fmt.Errorf("persist visitor id: %w", err)
	}
	return id, true, nil
}
