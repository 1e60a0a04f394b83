// Package server defines the websocket envelope exchanged with clients and
// decodes inbound frames into relay events.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/relay"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformedEnvelope means the frame is not a JSON envelope.
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnknownEvent means the envelope names an event clients may not send.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrInvalidPayload means the event data does not match its expected shape.
	ErrInvalidPayload = errors.New("invalid payload")
)

var validate = validator.New()

// Envelope is the frame format in both directions:
// {"event": "<name>", "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinRoomPayload struct {
	Room     *string `json:"room" validate:"required"`
	Username *string `json:"username" validate:"required"`
}

type sendMessagePayload struct {
	Content *string `json:"content" validate:"required"`
	Room    *string `json:"room"`
}

// decodeEvent turns a raw client frame into a relay event. Any error means the
// frame must be dropped without touching relay state.
func decodeEvent(raw []byte) (relay.Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Event {
	case relay.EventJoinRoom:
		var p joinRoomPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		return relay.Join{Room: *p.Room, Username: *p.Username}, nil

	case relay.EventSendMessage:
		var p sendMessagePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		return relay.Send{Content: *p.Content, Room: p.Room}, nil

	case relay.EventLeaveRoom:
		return relay.Leave{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodePayload(data json.RawMessage, dst any) error {
	if len(data) == 0 || strings.TrimSpace(string(data)) == "null" {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// encodeFrame marshals an outbound event into an envelope.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
