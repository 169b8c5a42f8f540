package ratchet

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	k, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return k
}

// lift returns pub as a peer would see it: x-only, even Y
func lift(t *testing.T, priv *btcec.PrivateKey) *btcec.PublicKey {
	t.Helper()
	pub, err := ParsePublicKey(XOnlyHex(priv.PubKey()))
	require.NoError(t, err)
	return pub
}

func randomMaterial(t *testing.T) *Material {
	t.Helper()
	m := new(Material)
	_, err := rand.Read(m[:])
	require.NoError(t, err)
	return m
}

func TestSharedSecret_Symmetric(t *testing.T) {
	a, b := newKey(t), newKey(t)
	assert.Equal(t, SharedSecret(a, b.PubKey()), SharedSecret(b, a.PubKey()))

	ea, err := GenerateEphemeral()
	require.NoError(t, err)
	eb, err := GenerateEphemeral()
	require.NoError(t, err)
	assert.Equal(t, SharedSecret(ea, lift(t, eb)), SharedSecret(eb, lift(t, ea)))
}

func TestGenerateEphemeral_EvenY(t *testing.T) {
	for i := 0; i < 32; i++ {
		k, err := GenerateEphemeral()
		require.NoError(t, err)
		assert.Equal(t, byte(0x02), k.PubKey().SerializeCompressed()[0])
		assert.True(t, k.PubKey().IsEqual(lift(t, k)))
	}
}

func TestParseKeys(t *testing.T) {
	k := newKey(t)
	parsed, err := ParseSecretKey(SecretHex(k))
	require.NoError(t, err)
	assert.Equal(t, k.Serialize(), parsed.Serialize())

	_, err = ParseSecretKey("zz")
	assert.Error(t, err)
	_, err = ParseSecretKey("abcd")
	assert.Error(t, err)
	_, err = ParseSecretKey(string(bytes.Repeat([]byte("0"), 64)))
	assert.Error(t, err)

	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)
}

func TestRotate_Deterministic(t *testing.T) {
	local, peer := newKey(t), newKey(t)

	ks1, err := NewKeySchedule(local, lift(t, peer))
	require.NoError(t, err)
	ks2, err := NewKeySchedule(local, lift(t, peer))
	require.NoError(t, err)
	require.Equal(t, ks1.ChainKey(), ks2.ChainKey())

	for i := 0; i < 8; i++ {
		m1, err := ks1.Rotate()
		require.NoError(t, err)
		m2, err := ks2.Rotate()
		require.NoError(t, err)
		assert.Equal(t, *m1, *m2, "material differs at step %d", i)
		assert.Equal(t, ks1.ChainKey(), ks2.ChainKey(), "chain key differs at step %d", i)
	}
}

// Fixed vectors pin the extract/expand chain, the hashed ECDH and the
// even Y normalisation of the local key. The second local key has odd Y.
func TestRotate_KnownAnswers(t *testing.T) {
	tests := []struct {
		name       string
		local      string
		peer       string
		chain      [3]string
		firstKey   [2]string
		firstNonce [2]string
	}{
		{
			name:  "even Y local",
			local: "b7e151628aed2a6abf7158809cf4f3c762e7160f38b4da56a784d9045190cfef",
			peer:  "dd308afec5777e13121fa72b9cc1b7cc0139715309b086c960e18fd969774eb8",
			chain: [3]string{
				"5a7741c66e1d0e187b820adc72e8e7948c1845de29cfb5be0272ebaa0923c1e0",
				"3a858e9bf677a69ed48326b983d2d94f4432f8392c7869923741ea7d68811ebd",
				"ad041dd6c9bac29f811198c5514b2dd35d280147a604ab6b1617aab3ad9342ab",
			},
			firstKey: [2]string{
				"14057e4840d446604052993a11431bf5eea0ee0fdbdcbd9abe224366e1ef974b",
				"bd0787392f0a0c58307f04e7a7672ec7f463712411f36e0546911a0b2e7c2c3f",
			},
			firstNonce: [2]string{"a59deb394579c8c598059616", "8fbadfb9c67007253942036f"},
		},
		{
			name:  "odd Y local",
			local: "0b432b2677937381aef05bb02a66ecd012773062cf3fa2549e44f58ed2401710",
			peer:  "3c72addb4fdf09af94f0c94d7fe92a386a7e70cf8a1d85916386bb2535c7b1b1",
			chain: [3]string{
				"92f16c7a847c5f48af5986691f1ca7f4e0549a803109bfc0b5192f086e40397e",
				"76e27b7274776c6d019142d360f92658aba4d2e974df9587c4039589c14309d2",
				"db4c89ac812b97910dffd35aa5f43c47e4185c5079d20dbec7c2ce314a8bfdd7",
			},
			firstKey: [2]string{
				"1783aff8cecbaee7a76a5be5eee97ff805771f9d3fe1b9346dfc0e1a1e6ca7b7",
				"6cd404a14c9eda906f406556dcf4aba29e0539b7bafcb3e84c019e0784c6ce50",
			},
			firstNonce: [2]string{"ec63bc1497405941c2cd7a6f", "038424f4a290a323255ece26"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, err := ParseSecretKey(tt.local)
			require.NoError(t, err)
			peer, err := ParsePublicKey(tt.peer)
			require.NoError(t, err)

			ks, err := NewKeySchedule(local, peer)
			require.NoError(t, err)
			ck := ks.ChainKey()
			assert.Equal(t, tt.chain[0], hex.EncodeToString(ck[:]))

			for i := 0; i < 2; i++ {
				m, err := ks.Rotate()
				require.NoError(t, err)
				ck := ks.ChainKey()
				assert.Equal(t, tt.chain[i+1], hex.EncodeToString(ck[:]), "chain key after %d rotations", i+1)
				assert.Equal(t, tt.firstKey[i], hex.EncodeToString(m[:keyEnd]), "cipher key at rotation %d", i+1)
				assert.Equal(t, tt.firstNonce[i], hex.EncodeToString(m[keyEnd:nonceEnd]), "nonce at rotation %d", i+1)
			}
		})
	}
}

func TestRotate_ForwardProgression(t *testing.T) {
	ks, err := NewKeySchedule(newKey(t), newKey(t).PubKey())
	require.NoError(t, err)

	seen := map[[32]byte]bool{ks.ChainKey(): true}
	first, err := ks.Rotate()
	require.NoError(t, err)
	k1 := ks.ChainKey()
	second, err := ks.Rotate()
	require.NoError(t, err)
	k2 := ks.ChainKey()

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, *first, *second)
	assert.False(t, seen[k1])
	assert.False(t, seen[k2])

	for i := 0; i < 64; i++ {
		_, err := ks.Rotate()
		require.NoError(t, err)
		ck := ks.ChainKey()
		require.False(t, seen[ck], "chain key repeated at step %d", i)
		seen[ck] = true
	}
}

func TestRotate_UsesCurrentEphemeralKeys(t *testing.T) {
	local, peer := newKey(t), newKey(t)
	ks1, err := NewKeySchedule(local, peer.PubKey())
	require.NoError(t, err)
	ks2, err := NewKeySchedule(local, peer.PubKey())
	require.NoError(t, err)

	ks2.SetPeer(newKey(t).PubKey())
	m1, err := ks1.Rotate()
	require.NoError(t, err)
	m2, err := ks2.Rotate()
	require.NoError(t, err)

	// Same chain position, different ECDH input
	assert.Equal(t, ks1.ChainKey(), ks2.ChainKey())
	assert.NotEqual(t, *m1, *m2)
}

func TestNewKeySchedule_RejectsNil(t *testing.T) {
	_, err := NewKeySchedule(nil, newKey(t).PubKey())
	assert.Error(t, err)
	_, err = NewKeySchedule(newKey(t), nil)
	assert.Error(t, err)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	m := randomMaterial(t)
	for _, pt := range []string{"", "hi", "héllo wörld ✓", string(bytes.Repeat([]byte("x"), 70000))} {
		ct, err := Seal(m, []byte(pt))
		require.NoError(t, err)
		got, err := Open(m, ct)
		require.NoError(t, err)
		assert.Equal(t, pt, string(got))
	}
}

func TestOpen_RejectsTamperingAndWrongKey(t *testing.T) {
	m := randomMaterial(t)
	ct, err := Seal(m, []byte("secret"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff
	_, err = Open(m, tampered)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Open(randomMaterial(t), ct)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Open(m, ct[:3])
	assert.ErrorIs(t, err, ErrDecrypt)
}

// Two parties that rotate once per message in both directions stay in
// step and can read each other.
func TestActor_Conversation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice, bob := newKey(t), newKey(t)
	aks, err := NewKeySchedule(alice, lift(t, bob))
	require.NoError(t, err)
	bks, err := NewKeySchedule(bob, lift(t, alice))
	require.NoError(t, err)
	require.Equal(t, aks.ChainKey(), bks.ChainKey())

	a, b := NewActor(ctx, aks), NewActor(ctx, bks)

	send := func(from, to *Actor, text string) {
		eph, err := GenerateEphemeral()
		require.NoError(t, err)
		ct, _, err := from.Encrypt(ctx, eph, []byte(text))
		require.NoError(t, err)
		pt, err := to.Decrypt(ctx, lift(t, eph), ct)
		require.NoError(t, err)
		assert.Equal(t, text, string(pt))
	}

	send(a, b, "hello bob")
	send(a, b, "are you there?")
	send(b, a, "hi alice")
	send(a, b, "good")

	ak, err := a.ChainKey(ctx)
	require.NoError(t, err)
	bk, err := b.ChainKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, ak, bk)
}

func TestActor_DecryptFailureStillAdvances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ks, err := NewKeySchedule(newKey(t), newKey(t).PubKey())
	require.NoError(t, err)
	a := NewActor(ctx, ks)

	before, err := a.ChainKey(ctx)
	require.NoError(t, err)
	_, err = a.Decrypt(ctx, newKey(t).PubKey(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrDecrypt)
	after, err := a.ChainKey(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestActor_SerialisesConcurrentCallers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, peer := newKey(t), newKey(t)
	ks, err := NewKeySchedule(local, peer.PubKey())
	require.NoError(t, err)
	ref, err := NewKeySchedule(local, peer.PubKey())
	require.NoError(t, err)
	a := NewActor(ctx, ks)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			eph, err := GenerateEphemeral()
			if err != nil {
				t.Error(err)
				return
			}
			if _, _, err := a.Encrypt(ctx, eph, []byte("x")); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			_, _ = a.Decrypt(ctx, peer.PubKey(), []byte("y"))
		}()
	}
	wg.Wait()

	// 2n rotations, whatever the interleaving
	for i := 0; i < 2*n; i++ {
		_, err := ref.Rotate()
		require.NoError(t, err)
	}
	got, err := a.ChainKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, ref.ChainKey(), got)
}

func TestActor_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ks, err := NewKeySchedule(newKey(t), newKey(t).PubKey())
	require.NoError(t, err)
	a := NewActor(ctx, ks)

	cancel()
	<-a.Done()
	_, err = a.ChainKey(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
