package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"NostraChat/internal/cache"
	"NostraChat/internal/config"
	"NostraChat/internal/present"
	"NostraChat/internal/relay"
	"NostraChat/internal/session"
	"NostraChat/internal/store"
	"NostraChat/internal/stream"
)

// DefaultListingTimeout bounds how long a relay may take to finish a
// channel listing
const DefaultListingTimeout = 30 * time.Second

// Commands understood at the prompt
var Commands = []string{"/help", "/editor", "/channelinfo", "/exit"}

// Selector presents a numbered menu. more, when not empty, is an extra
// last entry; choosing it returns more=true.
type Selector interface {
	Choose(title string, labels []string, more string) (index int, chosenMore bool, err error)
}

// Shell is the terminal the client talks to
type Shell interface {
	Selector

	// Prompt returns the next non-empty input line, io.EOF when the
	// user is done
	Prompt(label string) (string, error)

	// Editor composes a message in an external editor; empty means
	// discarded
	Editor() (string, error)

	// Printer is safe to write to while Prompt is blocked
	Printer() io.Writer

	Close() error
}

// DialFunc connects to a relay
type DialFunc func(ctx context.Context, url string) (relay.Transport, error)

// Options configures a Client. Only Config and Shell are required.
type Options struct {
	Config    *config.Config
	Shell     Shell
	Dial      DialFunc
	Directory *store.Directory
	Listings  *cache.Listings
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter
	Rand      *rand.Rand

	// ListingTimeout defaults to DefaultListingTimeout
	ListingTimeout time.Duration
}

// Client represents the main application
type Client struct {
	config   *config.Config
	shell    Shell
	dial     DialFunc
	dir      *store.Directory
	listings *cache.Listings
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	rng      *rand.Rand
	identity session.Identity

	listingTimeout time.Duration
	messagesSent   metric.Int64Counter
}

// NewClient creates a new Client
func NewClient(opts Options) (*Client, error) {
	if opts.Config == nil || opts.Shell == nil {
		return nil, fmt.Errorf("client needs a config and a shell")
	}
	identity, err := session.NewIdentity(opts.Config.SecretKey())
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:   opts.Config,
		shell:    opts.Shell,
		dial:     opts.Dial,
		dir:      opts.Directory,
		listings: opts.Listings,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		meter:    opts.Meter,
		rng:      opts.Rand,
		identity: identity,

		listingTimeout: opts.ListingTimeout,
	}
	if c.listingTimeout <= 0 {
		c.listingTimeout = DefaultListingTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context, url string) (relay.Transport, error) {
			return relay.Dial(ctx, url, c.logger)
		}
	}
	if c.listings == nil {
		c.listings = cache.NewListings(0)
	}
	if c.tracer == nil {
		c.tracer = tracenoop.NewTracerProvider().Tracer("chat")
	}
	if c.meter == nil {
		c.meter = metricnoop.NewMeterProvider().Meter("chat")
	}
	if c.messagesSent, err = c.meter.Int64Counter("chat.messages.sent",
		metric.WithDescription("Messages published to the relay")); err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	return c, nil
}

// Run connects to relayURL (or asks which configured relay to use when
// it is empty), lets the user pick a conversation and runs it until the
// user exits, the context ends or the relay connection fails.
func (c *Client) Run(ctx context.Context, relayURL string) error {
	if relayURL == "" {
		var err error
		if relayURL, err = c.selectRelay(); err != nil {
			return err
		}
	}

	t, err := c.connect(ctx, relayURL)
	if err != nil {
		return err
	}
	defer t.Close()

	// private sessions own a ratchet actor that lives as long as the chat
	sessCtx, stopSessions := context.WithCancel(ctx)
	defer stopSessions()

	subIDs := relay.NewSubscriptionIDs()
	sess, err := c.selectChat(sessCtx, t, subIDs)
	if err != nil {
		return err
	}

	return c.runSession(sessCtx, t, sess)
}

func (c *Client) selectRelay() (string, error) {
	relays := c.config.Relays
	if len(relays) == 1 {
		return relays[0], nil
	}
	idx, _, err := c.shell.Choose("Select a relay:", relays, "")
	if err != nil {
		return "", fmt.Errorf("failed to select relay: %w", err)
	}
	return relays[idx], nil
}

func (c *Client) connect(ctx context.Context, relayURL string) (relay.Transport, error) {
	ctx, span := c.tracer.Start(ctx, "relay.connect", trace.WithAttributes(attribute.String("relay", relayURL)))
	defer span.End()

	t, err := c.dial(ctx, relayURL)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to connect to %s: %w", relayURL, err)
	}
	c.logger.Info("connected to relay", "relay", relayURL)
	return t, nil
}

func (c *Client) runSession(ctx context.Context, t relay.Transport, sess session.ChatSession) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subID, err := c.subscribe(ctx, t, sess)
	if err != nil {
		return err
	}

	out := c.shell.Printer()
	p := present.New(out, c.rng)
	st := stream.New(sess, subID, p, stream.WithLogger(c.logger), stream.WithMeter(c.meter))

	fmt.Fprintf(out, "Joined %s. Type /help for commands.\n", sess.DisplayName())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return st.Run(gctx, t)
	})
	g.Go(func() error {
		<-gctx.Done()
		t.Close()
		c.shell.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return c.promptLoop(gctx, t, sess)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		c.logger.Info("session ended", "chat", sess.DisplayName())
		return nil
	}
	if err != nil {
		c.logger.Error("session failed", "chat", sess.DisplayName(), "error", err)
	}
	return err
}

func (c *Client) subscribe(ctx context.Context, t relay.Transport, sess session.ChatSession) (string, error) {
	ctx, span := c.tracer.Start(ctx, "relay.subscribe")
	defer span.End()

	subID, frame, err := sess.SubscribeRequest()
	if err != nil {
		return "", fmt.Errorf("failed to build subscription: %w", err)
	}
	span.SetAttributes(attribute.String("subscription", subID))
	if err := t.WriteFrame(ctx, frame); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to subscribe: %w", err)
	}
	c.logger.Info("subscribed", "chat", sess.DisplayName(), "subscription", subID)
	return subID, nil
}

// promptLoop reads user input until /exit or EOF
func (c *Client) promptLoop(ctx context.Context, t relay.Transport, sess session.ChatSession) error {
	label := present.ShortID(c.identity.PublicKey)
	for {
		input, err := c.shell.Prompt(label)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, t, sess, input)
			if err != nil {
				fmt.Fprintf(c.shell.Printer(), "Error: %v\n", err)
				c.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				return nil
			}
			continue
		}

		if err := c.send(ctx, t, sess, input); err != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, t relay.Transport, sess session.ChatSession, text string) error {
	ctx, span := c.tracer.Start(ctx, "chat.send")
	defer span.End()

	frame, err := sess.EncodeOutgoing(ctx, text)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := t.WriteFrame(ctx, frame); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	c.messagesSent.Add(ctx, 1)
	return nil
}

// handleCommand handles special commands
func (c *Client) handleCommand(ctx context.Context, t relay.Transport, sess session.ChatSession, cmd string) (bool, error) {
	out := c.shell.Printer()
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/exit":
		return true, nil

	case "/editor":
		text, err := c.shell.Editor()
		if err != nil {
			return false, err
		}
		if text == "" {
			fmt.Fprintln(out, "Message discarded")
			return false, nil
		}
		return false, c.send(ctx, t, sess, text)

	case "/channelinfo":
		fmt.Fprintln(out, sess.InfoSummary(t.URL()))
		return false, nil

	case "/help":
		fmt.Fprintln(out, "Available commands:")
		fmt.Fprintln(out, "  /editor      - Compose a message in $EDITOR")
		fmt.Fprintln(out, "  /channelinfo - Show information about the current chat")
		fmt.Fprintln(out, "  /exit        - Leave the chat")
		fmt.Fprintln(out, "  /help        - Show this help message")
		return false, nil

	default:
		fmt.Fprintln(out, "Command not found!")
		return false, nil
	}
}
