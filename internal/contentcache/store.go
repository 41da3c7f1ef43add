package contentcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Cache scopes.
const (
	ScopeIdeas      = "ideas"
	ScopeThumbnails = "thumbnails"
)

var (
	ErrInvalidScope   = errors.New("invalid_scope")
	ErrInvalidHash    = errors.New("invalid_hash")
	ErrInvalidPayload = errors.New("invalid_payload")
)

// Entry is a cached result. A hit is valid only while now < CachedUntil.
type Entry struct {
	Scope       string          `json:"scope"`
	Hash        string          `json:"hash"`
	Payload     json.RawMessage `json:"payload"`
	CachedUntil time.Time       `json:"cached_until"`
}

// Store persists cache entries. A miss is (Entry{}, false, nil), never an
// error; expired entries read as misses.
type Store interface {
	Get(ctx context.Context, scope, hash string, now time.Time) (Entry, bool, error)
	// Put upserts the entry; the last write wins.
	Put(ctx context.Context, entry Entry) error
	// Purge removes entries expired at now and reports how many were removed.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

func validateKey(scope, hash string) error {
	if scope == "" {
		return ErrInvalidScope
	}
	if hash == "" {
		return ErrInvalidHash
	}
	return nil
}
