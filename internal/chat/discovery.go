package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"go.opentelemetry.io/otel/attribute"

	"NostraChat/internal/cache"
	"NostraChat/internal/config"
	"NostraChat/internal/relay"
	"NostraChat/internal/session"
)

const searchMore = "Search for more channels"

// chatOption is one menu entry. Sessions are built only once chosen so
// that a private session's ratchet is not started for every contact.
type chatOption struct {
	label string
	build func() (session.ChatSession, error)
}

func (c *Client) selectChat(ctx context.Context, t relay.Transport, subIDs *relay.SubscriptionIDs) (session.ChatSession, error) {
	var roots []nostr.Event
	if ids := c.config.ChannelIDs(); len(ids) > 0 {
		var err error
		if roots, err = c.discover(ctx, t, subIDs, ids); err != nil {
			return nil, err
		}
	}

	options := append(c.channelOptions(roots, subIDs), c.privateOptions(ctx, subIDs)...)
	labels := make([]string, len(options))
	for i, o := range options {
		labels[i] = o.label
	}

	idx, more, err := c.shell.Choose("Select a chat:", labels, searchMore)
	if err != nil {
		return nil, fmt.Errorf("failed to select chat: %w", err)
	}
	if more {
		all, err := c.discover(ctx, t, subIDs, nil)
		if err != nil {
			return nil, err
		}
		options = c.channelOptions(all, subIDs)
		if len(options) == 0 {
			return nil, fmt.Errorf("no channels found on %s", t.URL())
		}
		labels = labels[:0]
		for _, o := range options {
			labels = append(labels, o.label)
		}
		if idx, _, err = c.shell.Choose("Select a channel:", labels, ""); err != nil {
			return nil, fmt.Errorf("failed to select channel: %w", err)
		}
	}

	return options[idx].build()
}

func (c *Client) channelOptions(roots []nostr.Event, subIDs *relay.SubscriptionIDs) []chatOption {
	var options []chatOption
	for _, root := range roots {
		ch, err := session.NewChannelSession(root, c.identity, subIDs)
		if err != nil {
			c.logger.Warn("skipping channel with invalid metadata", "event", root.ID, "error", err)
			continue
		}
		options = append(options, chatOption{
			label: "#" + ch.DisplayName(),
			build: func() (session.ChatSession, error) { return ch, nil },
		})
	}
	return options
}

func (c *Client) privateOptions(ctx context.Context, subIDs *relay.SubscriptionIDs) []chatOption {
	var options []chatOption
	for _, contact := range c.config.ContactKeys() {
		name, err := nip19.EncodePublicKey(contact)
		if err != nil {
			name = contact
		}
		options = append(options, chatOption{
			label: "@" + name,
			build: func() (session.ChatSession, error) {
				return session.NewPrivateSession(ctx, name, c.identity, contact, subIDs, c.logger)
			},
		})
	}
	return options
}

// discover lists channel creation events on the relay, all of them when
// ids is empty. The listing ends at EOSE or at a NOTICE, after which the
// subscription is closed. A relay that does not finish within the listing
// timeout loses its connection.
func (c *Client) discover(ctx context.Context, t relay.Transport, subIDs *relay.SubscriptionIDs, ids []string) ([]nostr.Event, error) {
	ctx, span := c.tracer.Start(ctx, "chat.discover")
	defer span.End()

	filter := session.DiscoveryFilter(ids)
	cacheKey := cache.GenerateCacheKey(t.URL(), filter)
	if cached, ok := c.listings.Load(cacheKey); ok {
		c.logger.Info("cache hit", "key", cacheKey[:16])
		return cached, nil
	}

	subID := subIDs.Next()
	req, err := relay.ReqFrame(subID, filter)
	if err != nil {
		return nil, err
	}
	if err := t.WriteFrame(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to request channels: %w", err)
	}

	listCtx, cancel := context.WithTimeout(ctx, c.listingTimeout)
	defer cancel()

	seen := make(map[string]bool)
	var roots []nostr.Event
listing:
	for {
		f, err := relay.NextFrame(listCtx, t)
		if relay.IsMalformed(err) {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			span.RecordError(err)
			return nil, fmt.Errorf("relay did not finish the channel listing within %s: %w", c.listingTimeout, err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list channels: %w", err)
		}

		switch f.Type {
		case relay.FrameEvent:
			if f.SubscriptionID != subID || f.Event.Kind != config.KindChannelCreation || seen[f.Event.ID] {
				continue
			}
			seen[f.Event.ID] = true
			roots = append(roots, *f.Event)
		case relay.FrameEOSE:
			if f.SubscriptionID == subID {
				break listing
			}
		case relay.FrameNotice:
			fmt.Fprintf(c.shell.Printer(), "[NOTICE] %s\n", f.Message)
			break listing
		}
	}

	closeFrame, err := relay.CloseFrame(subID)
	if err != nil {
		return nil, err
	}
	if err := t.WriteFrame(ctx, closeFrame); err != nil {
		return nil, fmt.Errorf("failed to close channel listing: %w", err)
	}

	roots = c.withKnownChannels(ctx, t.URL(), ids, roots, seen)
	orderChannels(roots, ids)
	span.SetAttributes(attribute.Int("channels", len(roots)))

	c.listings.Store(cacheKey, roots)
	return roots, nil
}

// withKnownChannels saves what the relay returned to the directory and
// fills in requested channels the relay no longer has
func (c *Client) withKnownChannels(ctx context.Context, relayURL string, ids []string, roots []nostr.Event, seen map[string]bool) []nostr.Event {
	if c.dir == nil {
		return roots
	}
	for _, root := range roots {
		if err := c.dir.SaveChannel(ctx, relayURL, root); err != nil {
			c.logger.Warn("failed to save channel", "event", root.ID, "error", err)
		}
	}

	var missing []string
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return roots
	}
	known, err := c.dir.Channels(ctx, relayURL, missing...)
	if err != nil {
		c.logger.Warn("failed to read channel directory", "error", err)
		return roots
	}
	for _, root := range known {
		c.logger.Info("using remembered channel", "event", root.ID)
		seen[root.ID] = true
		roots = append(roots, root)
	}
	return roots
}

// orderChannels sorts configured channels in config order, a full listing
// oldest first
func orderChannels(roots []nostr.Event, ids []string) {
	if len(ids) == 0 {
		sort.SliceStable(roots, func(i, j int) bool { return roots[i].CreatedAt < roots[j].CreatedAt })
		return
	}
	rank := make(map[string]int, len(ids))
	for i, id := range ids {
		rank[id] = i
	}
	sort.SliceStable(roots, func(i, j int) bool { return rank[roots[i].ID] < rank[roots[j].ID] })
}
