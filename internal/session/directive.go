package session

import "errors"

// Outbound broadcast event names.
const (
	EventReceiveMessage    = "receive_message"
	EventJoinAnnouncement  = "join_room_announcement"
	EventPersonTyping      = "person_typing"
	EventLeaveAnnouncement = "leave_room_announcement"
)

// Source event names attached to errors and notifications.
const (
	SourceCreateRoom  = "CREATE_ROOM"
	SourceSendMessage = "SEND_MESSAGE"
	SourceJoinRoom    = "JOIN_ROOM"
	SourceLeaveRoom   = "LEAVE_ROOM"
	SourceTyping      = "TYPING"
	SourceGetChat     = "GET_CHAT"
	SourceGetChats    = "GET_CHATS"
)

// Directive is what the engine decided to fan out to a room's subscribers.
type Directive struct {
	Event   string
	RoomId  string
	Payload any
}

// Fanout is the connection registry the engine drives. Broadcast is called
// while the room is held, so implementations must not block.
type Fanout interface {
	Subscribe(connId, roomId string)
	Unsubscribe(connId, roomId string)
	Broadcast(d Directive)
}

// Origin identifies where an event came from. ConnId is empty for requests
// that did not arrive over a realtime connection. Payload, when set, is
// broadcast verbatim.
type Origin struct {
	ConnId  string
	Payload any
}

// Outcome is the result of an event operation. A degraded write carries both
// a Directive (already broadcast) and an Err.
type Outcome struct {
	Directive *Directive
	Err       error
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

func (o Outcome) Degraded() bool {
	return errors.Is(o.Err, ErrDegradedWrite)
}

type noopFanout struct{}

func (noopFanout) Subscribe(string, string)   {}
func (noopFanout) Unsubscribe(string, string) {}
func (noopFanout) Broadcast(Directive)        {}
