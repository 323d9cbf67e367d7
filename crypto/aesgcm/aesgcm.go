// Package aesgcm implements the vault's authenticated encryption. Plaintexts
// are sealed with AES-256-GCM under a key derived as SHA-256 of the
// key-encrypting key (KEK), with a fresh 12-byte random nonce per record.
package aesgcm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
)

// NonceSize is the GCM nonce length in bytes.
const NonceSize = 12

// DeriveKey derives the 256-bit vault key from the KEK.
func DeriveKey(kek string) []byte {
	k := sha256.Sum256([]byte(kek))
	return k[:]
}

// Seal encrypts plaintext under key and returns the nonce and ciphertext
// (ciphertext includes the GCM tag).
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not construct cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not construct GCM")
	}
	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, errors.Wrap(err, "could not read nonce")
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext sealed by Seal. Authentication failure returns an
// error; callers that must treat undecryptable records as absent map the
// error to an empty value themselves.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "could not construct cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "could not construct GCM")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not decrypt record")
	}
	return plaintext, nil
}
