package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ErrNotAddressed is returned by Decode for events that belong to some
// other conversation sharing the subscription
var ErrNotAddressed = errors.New("event not addressed to this session")

// ChatSession is one conversation on a relay. *ChannelSession and
// *PrivateSession are its only implementations.
type ChatSession interface {
	// SubscribeRequest builds a REQ frame under a fresh subscription id
	SubscribeRequest() (subID string, frame []byte, err error)

	// EncodeOutgoing turns user text into a signed EVENT frame
	EncodeOutgoing(ctx context.Context, text string) ([]byte, error)

	// Decode returns the event as it should be displayed. The returned
	// copy may carry transformed content; id and author are untouched.
	Decode(ctx context.Context, evt nostr.Event) (nostr.Event, error)

	DisplayName() string
	InfoSummary(relayURL string) string

	// EchoPolicy says when events authored by the local user are hidden
	EchoPolicy() EchoPolicy
	Identity() Identity

	// IsSelf reports whether author is a key the local user signs with
	IsSelf(author string) bool

	sealed()
}

// Identity is the local signing key pair, hex encoded
type Identity struct {
	SecretKey string
	PublicKey string
}

// NewIdentity derives the public key for secretKey
func NewIdentity(secretKey string) (Identity, error) {
	pk, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return Identity{SecretKey: secretKey, PublicKey: pk}, nil
}

// EchoPolicy controls self-echo suppression
type EchoPolicy int

const (
	// EchoShowAll never hides the local identity's events
	EchoShowAll EchoPolicy = iota
	// EchoSuppressLive hides them once history replay is over
	EchoSuppressLive
	// EchoSuppressAlways hides them during replay and live
	EchoSuppressAlways
)

// Suppress reports whether a self-authored event is hidden in the given
// phase
func (p EchoPolicy) Suppress(live bool) bool {
	switch p {
	case EchoSuppressAlways:
		return true
	case EchoSuppressLive:
		return live
	default:
		return false
	}
}

func (p EchoPolicy) String() string {
	switch p {
	case EchoSuppressLive:
		return "suppress-live"
	case EchoSuppressAlways:
		return "suppress-always"
	default:
		return "show-all"
	}
}
