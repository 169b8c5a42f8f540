// Package ratchet implements the symmetric key schedule behind private
// conversations.
//
// A chain key is seeded from a secp256k1 ECDH shared secret with an
// unsalted HKDF-SHA256 extract. Every message sent or received calls
// Rotate once: the chain key is replaced by HKDF-Extract(chain key), and
// 256 bytes of message material are expanded from it using the ECDH
// secret of the current ephemeral key pair as info. The chain never moves
// backwards.
//
// Message material keys ChaCha20-Poly1305 (key, nonce and associated data
// are all taken from the material, which is never reused).
//
// Concurrency: KeySchedule is NOT safe for concurrent use. Share it
// through an Actor.
package ratchet
