package auth

import (
	"strconv"

	"github.com/dhannusch/pincer/crypto/hash"
)

// Sign produces the signature header value for a request. Agents hold the
// same HMAC secret and compute the identical canonical string.
func Sign(method, path string, timestamp int64, body []byte, hmacSecret string) string {
	bodyHash := hash.Sha256Hex(body)
	canonical := CanonicalString(method, path, strconv.FormatInt(timestamp, 10), bodyHash)
	return SignaturePrefix + hash.HmacSha256Hex([]byte(hmacSecret), []byte(canonical))
}
