package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

var (
	ErrNoDocument    = errors.New("no room document matches filter")
	ErrDuplicateRoom = errors.New("room already exists")
)

// RoomStore is the durable authority for room documents.
type RoomStore interface {
	Ping(ctx context.Context) error
	FindOne(ctx context.Context, filter Filter) (types.Room, error)
	Find(ctx context.Context, filter Filter) ([]types.Room, error)
	InsertOne(ctx context.Context, room types.Room) error
	// UpdateOne appends one element to a sequence field of the first document
	// matching filter without reading the document back.
	UpdateOne(ctx context.Context, filter Filter, push Push) error
	Close() error
}

// Filter selects room documents. Empty fields are ignored.
type Filter struct {
	RoomId      string
	InitiatorId string
	ResponderId string
}

func ByRoom(roomId string) Filter {
	return Filter{RoomId: roomId}
}

// ByParticipant selects the room only if participantId holds role in it.
func ByParticipant(roomId string, role types.Role, participantId string) Filter {
	f := Filter{RoomId: roomId}
	switch role {
	case types.RoleInitiator:
		f.InitiatorId = participantId
	case types.RoleResponder:
		f.ResponderId = participantId
	}
	return f
}

func (f Filter) Matches(r types.Room) bool {
	if f.RoomId != "" && f.RoomId != r.Id {
		return false
	}
	if f.InitiatorId != "" && f.InitiatorId != r.InitiatorId {
		return false
	}
	if f.ResponderId != "" && f.ResponderId != r.ResponderId {
		return false
	}
	return true
}

type Field string

const (
	FieldMessages Field = "messages"
	FieldHistory  Field = "history"
)

// Push appends Value to the named sequence field.
type Push struct {
	Field Field
	Value any
}

func PushMessage(msg types.Message) Push {
	return Push{Field: FieldMessages, Value: msg}
}

func PushHistory(ev types.MembershipEvent) Push {
	return Push{Field: FieldHistory, Value: ev}
}

// apply performs the push on an in-memory document, for backends without a
// native array append.
func (p Push) apply(r *types.Room) error {
	switch p.Field {
	case FieldMessages:
		msg, ok := p.Value.(types.Message)
		if !ok {
			return fmt.Errorf("push %s: unexpected value %T", p.Field, p.Value)
		}
		r.Messages = append(r.Messages, msg)
	case FieldHistory:
		ev, ok := p.Value.(types.MembershipEvent)
		if !ok {
			return fmt.Errorf("push %s: unexpected value %T", p.Field, p.Value)
		}
		r.History = append(r.History, ev)
	default:
		return fmt.Errorf("push: unknown field %q", p.Field)
	}
	return nil
}
