package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"NostraChat/internal/config"
	"NostraChat/internal/ratchet"
	"NostraChat/internal/relay"
)

// PrivateSession is a pairwise encrypted conversation. Every outgoing
// message is signed by a fresh ephemeral key; the ratchet is shared by
// the receive loop and the send path through a ratchet.Actor.
type PrivateSession struct {
	name     string
	identity Identity
	contact  string // peer identity key, hex
	actor    *ratchet.Actor
	subIDs   *relay.SubscriptionIDs
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]string // ephemeral author key -> plaintext awaiting its echo
	recent  []string          // our last ephemeral author keys, oldest first
}

// recentKeys bounds how many of our ephemeral keys are remembered for
// recognising replies and echoes
const recentKeys = 64

// NewPrivateSession seeds the ratchet from the local identity and the
// contact's public key. The ratchet actor lives until ctx is done.
func NewPrivateSession(ctx context.Context, name string, identity Identity, contact string, subIDs *relay.SubscriptionIDs, logger *slog.Logger) (*PrivateSession, error) {
	local, err := ratchet.ParseSecretKey(identity.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid local identity: %w", err)
	}
	peer, err := ratchet.ParsePublicKey(contact)
	if err != nil {
		return nil, fmt.Errorf("invalid contact key: %w", err)
	}
	ks, err := ratchet.NewKeySchedule(local, peer)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrivateSession{
		name:     name,
		identity: identity,
		contact:  contact,
		actor:    ratchet.NewActor(ctx, ks),
		subIDs:   subIDs,
		logger:   logger,
		pending:  make(map[string]string),
	}, nil
}

func (p *PrivateSession) sealed() {}

func (p *PrivateSession) Identity() Identity { return p.identity }

// IsSelf reports whether author is our identity or one of our recent
// ephemeral keys
func (p *PrivateSession) IsSelf(author string) bool {
	if author == p.identity.PublicKey {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Contains(p.recent, author)
}

// Contact returns the peer identity key in hex
func (p *PrivateSession) Contact() string { return p.contact }

func (p *PrivateSession) EchoPolicy() EchoPolicy { return EchoShowAll }

func (p *PrivateSession) SubscribeRequest() (string, []byte, error) {
	return subscribe(p.subIDs, PrivateFilter())
}

func (p *PrivateSession) EncodeOutgoing(ctx context.Context, text string) ([]byte, error) {
	eph, err := ratchet.GenerateEphemeral()
	if err != nil {
		return nil, err
	}
	ct, peer, err := p.actor.Encrypt(ctx, eph, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message: %w", err)
	}

	evt := nostr.Event{
		PubKey:    ratchet.XOnlyHex(eph.PubKey()),
		CreatedAt: nostr.Now(),
		Kind:      config.KindPrivateMessage,
		Tags:      nostr.Tags{nostr.Tag{"p", ratchet.XOnlyHex(peer)}},
		Content:   base64.StdEncoding.EncodeToString(ct),
	}
	if err := evt.Sign(ratchet.SecretHex(eph)); err != nil {
		return nil, fmt.Errorf("failed to sign private message: %w", err)
	}

	p.remember(evt.PubKey, text)

	return relay.EventFrame(evt)
}

// Decode updates the ratchet's peer key from the event author, rotates
// and decrypts. Our own messages coming back from the relay are shown
// once from the local copy and do not rotate the chain a second time.
func (p *PrivateSession) Decode(ctx context.Context, evt nostr.Event) (nostr.Event, error) {
	p.mu.Lock()
	own, isOwn := p.pending[evt.PubKey]
	delete(p.pending, evt.PubKey)
	p.mu.Unlock()
	if isOwn {
		evt.Content = own
		return evt, nil
	}

	if !p.addressedToUs(evt) {
		return evt, ErrNotAddressed
	}

	author, err := ratchet.ParsePublicKey(evt.PubKey)
	if err != nil {
		return evt, fmt.Errorf("invalid author key: %w", err)
	}
	ct, decodeErr := base64.StdEncoding.DecodeString(evt.Content)
	if decodeErr != nil {
		ct = nil
	}

	pt, err := p.actor.Decrypt(ctx, author, ct)
	if decodeErr != nil {
		return evt, fmt.Errorf("failed to decode content: %w", decodeErr)
	}
	if err != nil {
		return evt, err
	}
	evt.Content = string(pt)
	return evt, nil
}

// addressedToUs reports whether evt's p tag names our identity or one of
// our recent ephemeral keys
func (p *PrivateSession) addressedToUs(evt nostr.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tag := range evt.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		if tag[1] == p.identity.PublicKey {
			return true
		}
		if slices.Contains(p.recent, tag[1]) {
			return true
		}
	}
	return false
}

// remember records an outgoing message until its echo arrives. Only the
// last recentKeys messages are kept; older ones are forgotten with their
// plaintext.
func (p *PrivateSession) remember(author, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[author] = text
	p.recent = append(p.recent, author)
	if len(p.recent) > recentKeys {
		delete(p.pending, p.recent[0])
		p.recent = slices.Delete(p.recent, 0, 1)
	}
}

func (p *PrivateSession) DisplayName() string { return p.name }

func (p *PrivateSession) InfoSummary(string) string {
	return "Private chat info is not yet implemented"
}
