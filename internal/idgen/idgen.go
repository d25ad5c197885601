// Package idgen mints the random identifiers handed out by the API.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a UUID-shaped random id.
func New() string {
	b := randBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix plus 24 hex characters. The prefix names
// the entity kind, "hold_", "dsp_", "txn_" and so on, which keeps ids
// recognizable in logs and webhook payloads.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randBytes(12))
}

// Hex returns numBytes of randomness as a hex string.
func Hex(numBytes int) string {
	return hex.EncodeToString(randBytes(numBytes))
}
