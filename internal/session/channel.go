package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"NostraChat/internal/config"
	"NostraChat/internal/relay"
)

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

// ChannelMetadata is carried in the content of a channel creation event
type ChannelMetadata struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// ParseChannelMetadata decodes a creation event's content. Empty content
// yields empty metadata; anything that is not a JSON object is an error.
func ParseChannelMetadata(content string) (ChannelMetadata, error) {
	var md ChannelMetadata
	if strings.TrimSpace(content) == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(content), &md); err != nil {
		return ChannelMetadata{}, fmt.Errorf("failed to parse channel metadata: %w", err)
	}
	return md, nil
}

// ChannelSession is an open multi-party channel identified by its
// creation event
type ChannelSession struct {
	root     nostr.Event
	metadata ChannelMetadata
	identity Identity
	subIDs   *relay.SubscriptionIDs
}

// NewChannelSession builds a session from a kind 40 root event
func NewChannelSession(root nostr.Event, identity Identity, subIDs *relay.SubscriptionIDs) (*ChannelSession, error) {
	if root.Kind != config.KindChannelCreation {
		return nil, fmt.Errorf("event %s is kind %d, not a channel", root.ID, root.Kind)
	}
	md, err := ParseChannelMetadata(root.Content)
	if err != nil {
		return nil, err
	}
	return &ChannelSession{
		root:     root,
		metadata: md,
		identity: identity,
		subIDs:   subIDs,
	}, nil
}

func (c *ChannelSession) sealed() {}

// Root returns the channel creation event
func (c *ChannelSession) Root() nostr.Event { return c.root }

// Metadata returns the parsed channel metadata
func (c *ChannelSession) Metadata() ChannelMetadata { return c.metadata }

func (c *ChannelSession) Identity() Identity { return c.identity }

func (c *ChannelSession) IsSelf(author string) bool { return author == c.identity.PublicKey }

// EchoPolicy hides our own messages once live: they were already shown
// at the prompt.
func (c *ChannelSession) EchoPolicy() EchoPolicy { return EchoSuppressLive }

func (c *ChannelSession) SubscribeRequest() (string, []byte, error) {
	return subscribe(c.subIDs, ChannelFilter(c.root.ID))
}

func (c *ChannelSession) EncodeOutgoing(_ context.Context, text string) ([]byte, error) {
	evt := nostr.Event{
		PubKey:    c.identity.PublicKey,
		CreatedAt: nostr.Now(),
		Kind:      config.KindChannelMessage,
		Tags:      nostr.Tags{nostr.Tag{"e", c.root.ID, "", "root"}},
		Content:   text,
	}
	if err := evt.Sign(c.identity.SecretKey); err != nil {
		return nil, fmt.Errorf("failed to sign channel message: %w", err)
	}
	return relay.EventFrame(evt)
}

// Decode is the identity: channel content is plain text
func (c *ChannelSession) Decode(_ context.Context, evt nostr.Event) (nostr.Event, error) {
	return evt, nil
}

func (c *ChannelSession) DisplayName() string {
	if c.metadata.Name != "" {
		return c.metadata.Name
	}
	return c.root.ID
}

func (c *ChannelSession) InfoSummary(relayURL string) string {
	name := c.metadata.Name
	if name == "" {
		name = "No name"
	}
	about := c.metadata.About
	if about == "" {
		about = "No about"
	}
	note, err := nip19.EncodeNote(c.root.ID)
	if err != nil {
		note = "unavailable"
	}
	creator, err := nip19.EncodePublicKey(c.root.PubKey)
	if err != nil {
		creator = c.root.PubKey
	}
	created := c.root.CreatedAt.Time().UTC().Format("2006-01-02 15:04:05")

	lines := []string{
		labelStyle.Render("Relay: ") + relayURL,
		labelStyle.Render("Name: ") + name,
		labelStyle.Render("Event ID in Bech32: ") + note,
		labelStyle.Render("Event ID in Hex: ") + c.root.ID,
		labelStyle.Render("About: ") + about,
		labelStyle.Render("Creator: ") + creator,
		labelStyle.Render("Created at: ") + created,
	}
	return strings.Join(lines, "\n")
}
