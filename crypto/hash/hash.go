// Package hash includes all hash-function related helpers for the boundary:
// hex SHA-256 digests, HMAC-SHA256 signing of the canonical request string,
// and constant-time comparisons for every secret-derived value.
package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex encoding of SHA-256(data).
func Sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HmacSha256Hex returns the lowercase hex encoding of HMAC-SHA256(key, msg).
func HmacSha256Hex(key, msg []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual reports whether a and b are equal without leaking where
// they differ. Inputs of different lengths compare in time proportional to
// the inputs, never short-circuiting on the first mismatching byte.
func ConstantTimeEqual(a, b string) bool {
	ab := []byte(a)
	bb := []byte(b)
	// subtle.ConstantTimeCompare returns early on length mismatch, so fold the
	// length check into the comparison by hashing both sides first.
	ah := sha256.Sum256(ab)
	bh := sha256.Sum256(bb)
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}
