package relay

// Relay wire frames. Every frame is a JSON array whose first element is
// a string label.

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ErrMalformedFrame is returned for inbound frames that cannot be
// classified. Callers drop the frame and keep reading.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameType classifies an inbound frame by its label
type FrameType int

const (
	FrameUnknown FrameType = iota
	FrameEvent
	FrameEOSE
	FrameNotice
	FrameOK
)

func (t FrameType) String() string {
	switch t {
	case FrameEvent:
		return "EVENT"
	case FrameEOSE:
		return "EOSE"
	case FrameNotice:
		return "NOTICE"
	case FrameOK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

// Frame is a classified inbound frame
type Frame struct {
	Type  FrameType
	Label string // first element as received, kept for Unknown frames

	SubscriptionID string       // EVENT, EOSE
	Event          *nostr.Event // EVENT

	Message string // NOTICE text, OK reason

	EventID  string // OK
	Accepted bool   // OK
}

// ParseFrame classifies a raw inbound frame. Any structural problem is
// reported as ErrMalformedFrame.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) == 0 {
		return Frame{}, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}

	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return Frame{}, fmt.Errorf("%w: label is not a string", ErrMalformedFrame)
	}

	f := Frame{Label: label}
	switch label {
	case "EVENT":
		if len(parts) < 3 {
			return Frame{}, fmt.Errorf("%w: EVENT needs 3 elements, got %d", ErrMalformedFrame, len(parts))
		}
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil {
			return Frame{}, fmt.Errorf("%w: EVENT subscription id: %v", ErrMalformedFrame, err)
		}
		var evt nostr.Event
		if err := json.Unmarshal(parts[2], &evt); err != nil {
			return Frame{}, fmt.Errorf("%w: EVENT body: %v", ErrMalformedFrame, err)
		}
		if evt.ID == "" || evt.PubKey == "" {
			return Frame{}, fmt.Errorf("%w: EVENT without id or pubkey", ErrMalformedFrame)
		}
		f.Type = FrameEvent
		f.Event = &evt

	case "EOSE":
		if len(parts) < 2 {
			return Frame{}, fmt.Errorf("%w: EOSE without subscription id", ErrMalformedFrame)
		}
		if err := json.Unmarshal(parts[1], &f.SubscriptionID); err != nil {
			return Frame{}, fmt.Errorf("%w: EOSE subscription id: %v", ErrMalformedFrame, err)
		}
		f.Type = FrameEOSE

	case "NOTICE":
		if len(parts) < 2 {
			return Frame{}, fmt.Errorf("%w: NOTICE without text", ErrMalformedFrame)
		}
		if err := json.Unmarshal(parts[1], &f.Message); err != nil {
			return Frame{}, fmt.Errorf("%w: NOTICE text: %v", ErrMalformedFrame, err)
		}
		f.Type = FrameNotice

	case "OK":
		if len(parts) < 3 {
			return Frame{}, fmt.Errorf("%w: OK needs at least 3 elements, got %d", ErrMalformedFrame, len(parts))
		}
		if err := json.Unmarshal(parts[1], &f.EventID); err != nil {
			return Frame{}, fmt.Errorf("%w: OK event id: %v", ErrMalformedFrame, err)
		}
		if err := json.Unmarshal(parts[2], &f.Accepted); err != nil {
			return Frame{}, fmt.Errorf("%w: OK status: %v", ErrMalformedFrame, err)
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &f.Message)
		}
		f.Type = FrameOK

	default:
		f.Type = FrameUnknown
	}
	return f, nil
}

// ReqFrame builds ["REQ", subID, filter]
func ReqFrame(subID string, filter nostr.Filter) ([]byte, error) {
	b, err := json.Marshal([]any{"REQ", subID, filter})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal REQ: %w", err)
	}
	return b, nil
}

// EventFrame builds ["EVENT", event]
func EventFrame(evt nostr.Event) ([]byte, error) {
	b, err := json.Marshal([]any{"EVENT", evt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EVENT: %w", err)
	}
	return b, nil
}

// CloseFrame builds ["CLOSE", subID]
func CloseFrame(subID string) ([]byte, error) {
	b, err := json.Marshal([]any{"CLOSE", subID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CLOSE: %w", err)
	}
	return b, nil
}
