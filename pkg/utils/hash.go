package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashParts returns a stable hex digest of parts. Parts are length-prefixed
// so ("ab", "c") and ("a", "bc") hash differently.
func HashParts(parts ...string) string {
	h := sha256.New()
	var prefix [8]byte
	for _, p := range parts {
		n := uint64(len(p))
		for i := range prefix {
			prefix[i] = byte(n >> (8 * i))
		}
		h.Write(prefix[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
