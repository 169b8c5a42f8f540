package ratchet

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/hkdf"
)

// MaterialSize is the length of the per-message key material
const MaterialSize = 256

// Material is the output of one Rotate call
type Material [MaterialSize]byte

// Wipe zeroes the material
func (m *Material) Wipe() { wipe(m[:]) }

// KeySchedule is the forward-only symmetric chain of one private
// conversation. It is not safe for concurrent use; share it through an
// Actor.
type KeySchedule struct {
	chainKey [32]byte
	local    *btcec.PrivateKey
	peer     *btcec.PublicKey
}

// NewKeySchedule seeds the chain key from ECDH(local, peer) with an
// unsalted HKDF extract.
func NewKeySchedule(local *btcec.PrivateKey, peer *btcec.PublicKey) (*KeySchedule, error) {
	if local == nil || peer == nil {
		return nil, fmt.Errorf("key schedule needs both a local and a peer key")
	}
	local = evenY(local)

	shared := SharedSecret(local, peer)
	prk := hkdf.Extract(sha256.New, shared[:], nil)
	wipe(shared[:])

	ks := &KeySchedule{local: local, peer: peer}
	copy(ks.chainKey[:], prk)
	wipe(prk)
	return ks, nil
}

// Rotate advances the chain key one step and derives message material
// from the new chain key and the current ephemeral key pair.
func (k *KeySchedule) Rotate() (*Material, error) {
	prk := hkdf.Extract(sha256.New, k.chainKey[:], nil)
	copy(k.chainKey[:], prk)

	shared := SharedSecret(k.local, k.peer)
	defer wipe(shared[:])

	m := new(Material)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, shared[:]), m[:]); err != nil {
		return nil, fmt.Errorf("failed to expand message key: %w", err)
	}
	wipe(prk)
	return m, nil
}

// ChainKey returns a copy of the current chain key
func (k *KeySchedule) ChainKey() [32]byte { return k.chainKey }

// SetLocal replaces the ephemeral local secret key
func (k *KeySchedule) SetLocal(priv *btcec.PrivateKey) { k.local = evenY(priv) }

// SetPeer replaces the ephemeral peer public key
func (k *KeySchedule) SetPeer(pub *btcec.PublicKey) { k.peer = pub }

// Peer returns the current ephemeral peer public key
func (k *KeySchedule) Peer() *btcec.PublicKey { return k.peer }
