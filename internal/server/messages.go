package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Inbound event names.
const (
	EventSendMessage = "send_message"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTyping      = "typing"
)

// EventError is the outbound event carrying a rejection to its originator.
const EventError = "error"

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrInvalidEvent = errors.New("invalid event")
)

var validate = validator.New()

// ClientMessage is the envelope of every inbound frame. Data is kept raw so
// it can be broadcast exactly as received.
type ClientMessage struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data" validate:"required"`
}

// SendMessage may omit the text when it carries attachments.
type SendMessage struct {
	Room     string             `json:"room" validate:"required"`
	Username string             `json:"username" validate:"required"`
	Message  string             `json:"message" validate:"required_without=IsFile"`
	IsFile   []types.Attachment `json:"isFile,omitempty"`
}

type JoinRoom struct {
	Room        string `json:"room" validate:"required"`
	Username    string `json:"username" validate:"required"`
	AccountType string `json:"accountType" validate:"required"`
}

type LeaveRoom struct {
	Room        string `json:"room" validate:"required"`
	Username    string `json:"username" validate:"required"`
	AccountType string `json:"accountType" validate:"required"`
}

type Typing struct {
	Room     string `json:"room" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// DecodeEvent parses a raw frame into its envelope and typed body.
func DecodeEvent(raw []byte) (*ClientMessage, any, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, nil, fmt.Errorf("invalid envelope: %w", err)
	}

	var body any
	switch msg.Event {
	case EventSendMessage:
		body = &SendMessage{}
	case EventJoinRoom:
		body = &JoinRoom{}
	case EventLeaveRoom:
		body = &LeaveRoom{}
	case EventTyping:
		body = &Typing{}
	default:
		return &msg, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
	}

	if err := json.Unmarshal(msg.Data, body); err != nil {
		return &msg, nil, fmt.Errorf("decode %s: %w", msg.Event, err)
	}
	if err := validate.Struct(body); err != nil {
		return &msg, nil, fmt.Errorf("%w %s: %w", ErrInvalidEvent, msg.Event, err)
	}
	return &msg, body, nil
}

// ServerMessage is every outbound frame: a broadcast or an error reply.
type ServerMessage struct {
	Event string       `json:"event"`
	Data  any          `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code       string `json:"code"`
	Source     string `json:"source"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func broadcastMessage(d session.Directive) *ServerMessage {
	return &ServerMessage{Event: d.Event, Data: d.Payload}
}

func errorMessage(source string, err error) *ServerMessage {
	var se *session.Error
	if !errors.As(err, &se) {
		return &ServerMessage{
			Event: EventError,
			Error: &ErrorDetail{
				Code:       "VALIDATION_ERROR",
				Source:     source,
				Message:    "invalid message format",
				StatusCode: 400,
			},
		}
	}

	if se.Source != "" {
		source = se.Source
	}
	return &ServerMessage{
		Event: EventError,
		Error: &ErrorDetail{
			Code:       se.Code(),
			Source:     source,
			Message:    se.Message,
			StatusCode: se.StatusCode,
		},
	}
}
