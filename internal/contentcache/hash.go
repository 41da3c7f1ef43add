// Package contentcache caches expensive derived results keyed by a stable
// hash of their input content.
package contentcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
// 32 hex chars is 128 bits; collisions are possible in principle and accepted
// in exchange for shorter keys.
const HashLength = 32

// Hash returns a digest of content that ignores object key order at every
// depth. Array order is significant.
func Hash(content any) (string, error) {
	canonical, err := Canonical(content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:HashLength], nil
}

// Canonical re-encodes content as JSON with object keys sorted.
func Canonical(content any) ([]byte, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var tree any
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("encode canonical content: %w", err)
	}
	return canonical, nil
}
