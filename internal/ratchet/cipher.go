package ratchet

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecrypt is returned when a ciphertext does not authenticate under
// the given material
var ErrDecrypt = errors.New("ratchet: cannot decrypt")

// Layout of Material as consumed by the cipher
const (
	keyEnd   = chacha20poly1305.KeySize
	nonceEnd = keyEnd + chacha20poly1305.NonceSize
	adEnd    = nonceEnd + 32
)

// Seal encrypts plaintext under m. Material is single use, so the nonce
// is taken from it.
func Seal(m *Material, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(m[:keyEnd])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead.Seal(nil, m[keyEnd:nonceEnd], plaintext, m[nonceEnd:adEnd]), nil
}

// Open decrypts and authenticates ciphertext under m
func Open(m *Material, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(m[:keyEnd])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	pt, err := aead.Open(nil, m[keyEnd:nonceEnd], ciphertext, m[nonceEnd:adEnd])
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
