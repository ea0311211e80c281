package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex is the cache key for uploaded content.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
