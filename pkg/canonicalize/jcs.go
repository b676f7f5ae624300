// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic content hashing of verification payloads.
// Two processes hashing the same payload must produce the same digest, so
// map iteration order and encoder quirks cannot be allowed to leak in.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// Struct tags are respected (v is marshalled with encoding/json first),
// then the intermediate form is re-serialized canonically: keys sorted by
// UTF-16 code units, no HTML escaping, ES6 number formatting.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// HashBytes returns the lowercase SHA-256 hex digest of b.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
