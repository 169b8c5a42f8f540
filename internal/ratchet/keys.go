package ratchet

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ParseSecretKey decodes a 32 byte hex secp256k1 secret key
func ParseSecretKey(hexKey string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	wipe(b)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("secret key is zero")
	}
	return priv, nil
}

// ParsePublicKey decodes a 32 byte x-only hex public key, lifted to the
// point with even Y as BIP-340 does.
func ParsePublicKey(xOnlyHex string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString(xOnlyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	pub, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}

// XOnlyHex encodes pub the way authors appear on events
func XOnlyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(pub))
}

// SecretHex encodes priv for event signing
func SecretHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(priv.Serialize())
}

// GenerateEphemeral returns a fresh secret key whose public key has even
// Y, so the x-only author key on a signed event recovers the exact point.
func GenerateEphemeral() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	return evenY(priv), nil
}

// evenY returns priv, or its negation when priv*G has odd Y
func evenY(priv *btcec.PrivateKey) *btcec.PrivateKey {
	if priv.PubKey().SerializeCompressed()[0] == 0x02 {
		return priv
	}
	k := priv.Key
	k.Negate()
	b := k.Bytes()
	out, _ := btcec.PrivKeyFromBytes(b[:])
	wipe(b[:])
	return out
}

// SharedSecret computes secp256k1 ECDH the way libsecp256k1 does by
// default: SHA-256 over the compressed shared point.
func SharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) [32]byte {
	var point, result btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()
	shared := btcec.NewPublicKey(&result.X, &result.Y)
	return sha256.Sum256(shared.SerializeCompressed())
}

// wipe overwrites b with zeros
func wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
