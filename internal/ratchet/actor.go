package ratchet

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrStopped is returned once the actor's context has ended
var ErrStopped = errors.New("ratchet: actor stopped")

// Actor owns a KeySchedule and applies every operation on it from a
// single goroutine. Both the receive loop and the send path go through
// it, so a peer-key update and the rotation that depends on it are never
// interleaved with the other side's.
type Actor struct {
	ops  chan func(*KeySchedule)
	done chan struct{}
}

// NewActor starts the owning goroutine. It exits when ctx is done.
func NewActor(ctx context.Context, ks *KeySchedule) *Actor {
	a := &Actor{
		ops:  make(chan func(*KeySchedule)),
		done: make(chan struct{}),
	}
	go a.loop(ctx, ks)
	return a
}

func (a *Actor) loop(ctx context.Context, ks *KeySchedule) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-a.ops:
			op(ks)
		}
	}
}

// Done is closed after the actor has stopped
func (a *Actor) Done() <-chan struct{} { return a.done }

// do runs op on the owning goroutine and waits for it. op must not block.
func (a *Actor) do(ctx context.Context, op func(*KeySchedule)) error {
	finished := make(chan struct{})
	wrapped := func(ks *KeySchedule) {
		defer close(finished)
		op(ks)
	}
	select {
	case a.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// Encrypt installs ephemeral as the local key, rotates and seals
// plaintext. It returns the peer key the material was derived against.
func (a *Actor) Encrypt(ctx context.Context, ephemeral *btcec.PrivateKey, plaintext []byte) ([]byte, *btcec.PublicKey, error) {
	var (
		ct   []byte
		peer *btcec.PublicKey
		err  error
	)
	if doErr := a.do(ctx, func(ks *KeySchedule) {
		ks.SetLocal(ephemeral)
		var m *Material
		if m, err = ks.Rotate(); err != nil {
			return
		}
		defer m.Wipe()
		ct, err = Seal(m, plaintext)
		peer = ks.Peer()
	}); doErr != nil {
		return nil, nil, doErr
	}
	return ct, peer, err
}

// Decrypt installs author as the peer key, rotates and opens ciphertext.
// The chain advances even when the ciphertext does not authenticate.
func (a *Actor) Decrypt(ctx context.Context, author *btcec.PublicKey, ciphertext []byte) ([]byte, error) {
	var (
		pt  []byte
		err error
	)
	if doErr := a.do(ctx, func(ks *KeySchedule) {
		ks.SetPeer(author)
		var m *Material
		if m, err = ks.Rotate(); err != nil {
			return
		}
		defer m.Wipe()
		pt, err = Open(m, ciphertext)
	}); doErr != nil {
		return nil, doErr
	}
	return pt, err
}

// ChainKey returns a snapshot of the current chain key
func (a *Actor) ChainKey(ctx context.Context) ([32]byte, error) {
	var ck [32]byte
	err := a.do(ctx, func(ks *KeySchedule) { ck = ks.ChainKey() })
	return ck, err
}
