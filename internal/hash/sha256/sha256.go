// Package sha256 computes the content digests recorded in source provenance.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hex-encodes SHA-256 digests of page bodies.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() Hasher {
	return Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
