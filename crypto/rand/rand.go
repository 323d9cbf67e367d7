// Package rand wraps crypto/rand with the token shapes the boundary mints:
// hex identifiers for sessions and CSRF tokens, and human-typable pairing
// codes over a confusion-resistant alphabet.
package rand

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// PairingAlphabet is the 32-symbol set used for pairing codes. It omits
// 0/O/1/I to survive being read aloud.
const PairingAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// HexToken returns n random bytes encoded as lowercase hex.
func HexToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "could not read randomness")
	}
	return hex.EncodeToString(b), nil
}

// PairingCode returns an 8-symbol code grouped as XXXX-XXXX.
func PairingCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(PairingAlphabet)))
	for i := 0; i < 8; i++ {
		if i == 4 {
			sb.WriteByte('-')
		}
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "could not read randomness")
		}
		sb.WriteByte(PairingAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
