package relay

import (
	"context"
	"errors"
	"fmt"
)

// Transport is a duplex channel of opaque text frames to a relay
type Transport interface {
	// ReadFrame blocks until the next frame arrives. Any error is fatal
	// for the connection.
	ReadFrame(ctx context.Context) ([]byte, error)

	// WriteFrame sends a single text frame
	WriteFrame(ctx context.Context, frame []byte) error

	// Close disconnects from the relay
	Close() error

	// URL returns the relay address
	URL() string
}

// NextFrame reads and classifies the next frame from t. Frames that
// cannot be classified come back wrapped in ErrMalformedFrame; every
// other error comes from the transport and ends the session.
func NextFrame(ctx context.Context, t Transport) (Frame, error) {
	raw, err := t.ReadFrame(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read from relay: %w", err)
	}
	return ParseFrame(raw)
}

// IsMalformed reports whether err is a per-frame decode failure
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedFrame)
}
