package stream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"NostraChat/internal/present"
	"NostraChat/internal/relay"
	"NostraChat/internal/session"
)

// Phase of a subscription
type Phase int32

const (
	// ReplayingHistory buffers stored events until the relay sends EOSE
	ReplayingHistory Phase = iota
	// Live displays events as they arrive
	Live
)

func (p Phase) String() string {
	if p == Live {
		return "live"
	}
	return "replaying-history"
}

// Stream routes the inbound frames of one subscription to a session and
// a presenter. Dispatch and Run must be called from a single goroutine.
type Stream struct {
	sess   session.ChatSession
	subID  string
	out    *present.Presenter
	logger *slog.Logger
	echo   session.EchoPolicy

	phase   atomic.Int32
	history []nostr.Event

	framesReceived metric.Int64Counter
	framesDropped  metric.Int64Counter
	eventsShown    metric.Int64Counter
}

// Option configures a Stream
type Option func(*Stream)

// WithEchoPolicy overrides the session's self-echo policy
func WithEchoPolicy(p session.EchoPolicy) Option {
	return func(s *Stream) { s.echo = p }
}

// WithLogger sets the diagnostic logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.logger = l }
}

// WithMeter records frame counters on m
func WithMeter(m metric.Meter) Option {
	return func(s *Stream) { s.initCounters(m) }
}

// New creates a stream for the subscription subID of sess
func New(sess session.ChatSession, subID string, out *present.Presenter, opts ...Option) *Stream {
	s := &Stream{
		sess:   sess,
		subID:  subID,
		out:    out,
		logger: slog.Default(),
		echo:   sess.EchoPolicy(),
	}
	s.initCounters(noop.NewMeterProvider().Meter("stream"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) initCounters(m metric.Meter) {
	var err error
	if s.framesReceived, err = m.Int64Counter("stream.frames.received",
		metric.WithDescription("Inbound relay frames by type")); err != nil {
		s.framesReceived, _ = noop.Meter{}.Int64Counter("stream.frames.received")
	}
	if s.framesDropped, err = m.Int64Counter("stream.frames.dropped",
		metric.WithDescription("Inbound frames that were malformed or not ours")); err != nil {
		s.framesDropped, _ = noop.Meter{}.Int64Counter("stream.frames.dropped")
	}
	if s.eventsShown, err = m.Int64Counter("stream.events.displayed",
		metric.WithDescription("Events rendered to the user")); err != nil {
		s.eventsShown, _ = noop.Meter{}.Int64Counter("stream.events.displayed")
	}
}

// Phase returns the current phase. Safe to call from any goroutine.
func (s *Stream) Phase() Phase { return Phase(s.phase.Load()) }

// Run reads frames from t until the context ends or the transport fails.
// Malformed frames are logged and skipped.
func (s *Stream) Run(ctx context.Context, t relay.Transport) error {
	for {
		f, err := relay.NextFrame(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if relay.IsMalformed(err) {
				s.logger.Warn("dropping malformed frame", "relay", t.URL(), "error", err)
				s.framesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "malformed")))
				continue
			}
			return err
		}
		s.Dispatch(ctx, f)
	}
}

// Dispatch applies one classified frame to the state machine
func (s *Stream) Dispatch(ctx context.Context, f relay.Frame) {
	s.framesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", f.Type.String())))

	switch f.Type {
	case relay.FrameEvent:
		if !s.ours(ctx, f) {
			return
		}
		if s.Phase() == ReplayingHistory {
			s.history = append(s.history, *f.Event)
			return
		}
		s.show(ctx, *f.Event, true)

	case relay.FrameEOSE:
		if !s.ours(ctx, f) {
			return
		}
		if s.Phase() == Live {
			s.logger.Debug("ignoring repeated EOSE", "subscription", s.subID)
			return
		}
		s.flush(ctx)

	case relay.FrameNotice:
		s.logger.Info("relay notice", "message", f.Message)
		if err := s.out.Notice(f.Message); err != nil {
			s.logger.Error("failed to print notice", "error", err)
		}

	case relay.FrameOK:
		s.logger.Debug("relay acknowledged event", "event", f.EventID, "accepted", f.Accepted, "message", f.Message)

	default:
		s.logger.Warn("skipping unknown frame", "label", f.Label)
	}
}

func (s *Stream) ours(ctx context.Context, f relay.Frame) bool {
	if f.SubscriptionID == s.subID {
		return true
	}
	s.logger.Debug("dropping frame for another subscription", "type", f.Type.String(), "subscription", f.SubscriptionID)
	s.framesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "subscription")))
	return false
}

// flush displays the buffered history in created_at order, arrival order
// breaking ties, and switches to Live
func (s *Stream) flush(ctx context.Context) {
	sort.SliceStable(s.history, func(i, j int) bool {
		return s.history[i].CreatedAt < s.history[j].CreatedAt
	})
	s.logger.Debug("history replay complete", "subscription", s.subID, "events", len(s.history))
	for _, evt := range s.history {
		s.show(ctx, evt, false)
	}
	s.history = nil
	s.phase.Store(int32(Live))
}

// show decodes before the echo check; a private session drops its local
// copy of our message on Decode
func (s *Stream) show(ctx context.Context, evt nostr.Event, live bool) {
	decoded, err := s.sess.Decode(ctx, evt)
	if errors.Is(err, session.ErrNotAddressed) {
		s.logger.Debug("skipping event for another conversation", "event", evt.ID)
		return
	}
	if s.sess.IsSelf(evt.PubKey) && s.echo.Suppress(live) {
		return
	}
	if err != nil {
		s.logger.Warn("failed to decode event", "event", evt.ID, "author", evt.PubKey, "error", err)
		if err := s.out.Line("[unreadable message from " + present.ShortID(evt.PubKey) + "]"); err != nil {
			s.logger.Error("failed to print placeholder", "error", err)
		}
		return
	}

	if err := s.out.Print(decoded); err != nil {
		s.logger.Error("failed to print event", "event", evt.ID, "error", err)
		return
	}
	s.eventsShown.Add(ctx, 1)
}
