package types

import (
	"fmt"
	"time"
)

// Room is the document persisted for a two-party conversation. Field names
// follow the stored document layout so the same struct is used on the wire,
// in the cache and in every RoomStore backend.
type Room struct {
	Id          string            `json:"chatroomId" bson:"chatroomId"`
	InitiatorId string            `json:"doctorId" bson:"doctorId"`
	ResponderId string            `json:"clientId" bson:"clientId"`
	CreatedAt   string            `json:"createdAt" bson:"createdAt"`
	Messages    []Message         `json:"messages" bson:"messages"`
	History     []MembershipEvent `json:"history" bson:"history"`
}

type Message struct {
	Sender  string `json:"sender" bson:"sender"`
	Content string `json:"message" bson:"message"`
	// Time is the acceptance time in unix milliseconds.
	Time        int64        `json:"time" bson:"time"`
	Attachments []Attachment `json:"isFile,omitempty" bson:"isFile,omitempty"`
}

type Attachment struct {
	ContentType string `json:"type" bson:"type" validate:"required"`
	URL         string `json:"url" bson:"url" validate:"required,url"`
}

// MembershipEvent records a single check-in or check-out, never both.
type MembershipEvent struct {
	CheckIn  int64 `json:"checkIn,omitempty" bson:"checkIn,omitempty"`
	CheckOut int64 `json:"checkOut,omitempty" bson:"checkOut,omitempty"`
}

// RoomId derives the room identifier from the two fixed participants.
func RoomId(initiatorId, responderId string) string {
	return fmt.Sprintf("%s_%s", initiatorId, responderId)
}

// NewRoom builds an empty room for the pair. Messages and History are
// non-nil so document stores persist them as empty arrays.
func NewRoom(initiatorId, responderId string, createdAt time.Time) Room {
	return Room{
		Id:          RoomId(initiatorId, responderId),
		InitiatorId: initiatorId,
		ResponderId: responderId,
		CreatedAt:   createdAt.UTC().Format(time.RFC3339Nano),
		Messages:    []Message{},
		History:     []MembershipEvent{},
	}
}

// ParticipantFor returns the participant recorded for role.
func (r Room) ParticipantFor(role Role) (string, bool) {
	switch role {
	case RoleInitiator:
		return r.InitiatorId, true
	case RoleResponder:
		return r.ResponderId, true
	default:
		return "", false
	}
}

// Clone returns a deep copy so callers can append without aliasing the
// original backing arrays.
func (r Room) Clone() Room {
	c := r
	c.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		c.Messages[i] = m
		if m.Attachments != nil {
			c.Messages[i].Attachments = append([]Attachment(nil), m.Attachments...)
		}
	}
	c.History = append(make([]MembershipEvent, 0, len(r.History)), r.History...)
	return c
}

// LastMessages returns up to n of the most recent messages; n <= 0 returns all.
func (r Room) LastMessages(n int) []Message {
	if n <= 0 || n >= len(r.Messages) {
		return r.Messages
	}
	return r.Messages[len(r.Messages)-n:]
}
