package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/codec"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/notify"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const defaultStoreTimeout = 5 * time.Second

// Cache is the snapshot cache consulted before the store.
type Cache interface {
	Get(roomId string) (types.Room, bool)
	Put(roomId string, room types.Room)
	Delete(roomId string)
}

type Options struct {
	Cache    Cache
	Store    database.RoomStore
	Codec    codec.MessageCodec
	Notifier notify.Bridge
	Fanout   Fanout
	Stats    stats.StatsProvider
	Logger   *slog.Logger
	// StoreTimeout bounds every store call made while a room is held.
	StoreTimeout time.Duration
}

// Engine arbitrates room lifecycle and membership. Mutations on one room are
// serialized; different rooms proceed in parallel.
type Engine struct {
	cache        Cache
	store        database.RoomStore
	codec        codec.MessageCodec
	notifier     notify.Bridge
	fanout       Fanout
	stats        stats.StatsProvider
	log          *slog.Logger
	storeTimeout time.Duration
	now          func() time.Time

	locks      *roomLocks
	divergedMu sync.Mutex
	diverged   map[string]struct{}
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Cache == nil || opts.Store == nil || opts.Codec == nil {
		return nil, errors.New("session: cache, store and codec are required")
	}

	e := &Engine{
		cache:        opts.Cache,
		store:        opts.Store,
		codec:        opts.Codec,
		notifier:     opts.Notifier,
		fanout:       opts.Fanout,
		stats:        opts.Stats,
		log:          opts.Logger,
		storeTimeout: opts.StoreTimeout,
		now:          time.Now,
		locks:        newRoomLocks(),
		diverged:     make(map[string]struct{}),
	}

	if e.log == nil {
		e.log = slog.Default()
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogBridge(e.log)
	}
	if e.fanout == nil {
		e.fanout = noopFanout{}
	}
	if e.stats == nil {
		e.stats = stats.Noop{}
	}
	if e.storeTimeout <= 0 {
		e.storeTimeout = defaultStoreTimeout
	}

	for _, name := range []string{
		stats.MessagesAccepted,
		stats.DegradedWrites,
		stats.CacheHits,
		stats.CacheMisses,
		stats.Reconciliations,
	} {
		e.stats.RegisterMetric(name)
	}

	return e, nil
}

// reject finalizes a failed operation: it records the source event, logs it
// and pushes a notification to the participant.
func (e *Engine) reject(ctx context.Context, source, roomId, participantId string, err error) *Error {
	se := asError(err)
	se.Source = source

	e.log.Warn("operation rejected",
		"source", source,
		"room_id", roomId,
		"participant_id", participantId,
		"code", se.Code(),
		"error", se,
	)

	e.notifier.Notify(ctx, notify.Notification{
		ErrorCode:     se.Code(),
		SourceEvent:   source,
		Message:       se.Message,
		StatusCode:    se.StatusCode,
		RoomId:        roomId,
		ParticipantId: participantId,
	})

	return se
}

func (e *Engine) millis() int64 {
	return e.now().UnixMilli()
}

// CreateRoom returns the room for the pair, creating it when neither the
// cache nor the store knows it under either ordering of the pair. created is
// false when an existing room is returned.
func (e *Engine) CreateRoom(ctx context.Context, initiatorId, responderId string) (room types.Room, created bool, err error) {
	switch {
	case initiatorId == "":
		return types.Room{}, false, e.reject(ctx, SourceCreateRoom, "", "", newError(ErrValidation, "doctor id is none", nil))
	case responderId == "":
		return types.Room{}, false, e.reject(ctx, SourceCreateRoom, "", initiatorId, newError(ErrValidation, "client id is none", nil))
	}

	unlockPair := e.locks.lock(pairKey(initiatorId, responderId))
	defer unlockPair()

	for _, id := range []string{types.RoomId(initiatorId, responderId), types.RoomId(responderId, initiatorId)} {
		existing, err := e.loadLocked(ctx, id)
		if err == nil {
			if !ownedBy(existing, initiatorId, responderId) {
				return types.Room{}, false, e.reject(ctx, SourceCreateRoom, id, initiatorId, newError(ErrRoomMismatch, "room id belongs to another pair", nil))
			}
			return existing, false, nil
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return types.Room{}, false, e.reject(ctx, SourceCreateRoom, id, initiatorId, err)
		}
	}

	room = types.NewRoom(initiatorId, responderId, e.now())

	unlockRoom := e.locks.lock(room.Id)
	defer unlockRoom()

	e.cache.Put(room.Id, room)

	err = e.durable(ctx, func(ctx context.Context) error {
		return e.store.InsertOne(ctx, room)
	})
	switch {
	case err == nil:
	case errors.Is(err, database.ErrDuplicateRoom):
		// Another process inserted it first; the store copy wins.
		e.cache.Delete(room.Id)
		existing, lerr := e.load(ctx, room.Id)
		if lerr != nil {
			return types.Room{}, false, e.reject(ctx, SourceCreateRoom, room.Id, initiatorId, lerr)
		}
		if !ownedBy(existing, initiatorId, responderId) {
			return types.Room{}, false, e.reject(ctx, SourceCreateRoom, room.Id, initiatorId, newError(ErrRoomMismatch, "room id belongs to another pair", nil))
		}
		return existing, false, nil
	default:
		de := e.degraded(room.Id, "", err)
		return room, true, e.reject(ctx, SourceCreateRoom, room.Id, initiatorId, de)
	}

	e.log.Info("room created", "room_id", room.Id)
	return room, true, nil
}

// ownedBy reports whether room was created for the pair, in either order.
// Ids containing the separator can map two different pairs onto one room id.
func ownedBy(room types.Room, a, b string) bool {
	return (room.InitiatorId == a && room.ResponderId == b) ||
		(room.InitiatorId == b && room.ResponderId == a)
}

// loadLocked loads a room under its own lock.
func (e *Engine) loadLocked(ctx context.Context, roomId string) (types.Room, error) {
	unlock := e.locks.lock(roomId)
	defer unlock()
	return e.load(ctx, roomId)
}

// AppendMessage accepts a message into an existing room. The snapshot and
// the broadcast carry plaintext content; the store receives the codec form.
func (e *Engine) AppendMessage(ctx context.Context, origin Origin, roomId, senderId, content string, attachments []types.Attachment) Outcome {
	switch {
	case roomId == "":
		return Outcome{Err: e.reject(ctx, SourceSendMessage, roomId, senderId, newError(ErrValidation, "room id does not exist", nil))}
	case senderId == "":
		return Outcome{Err: e.reject(ctx, SourceSendMessage, roomId, senderId, newError(ErrValidation, "sender id does not exist", nil))}
	}
	if err := types.ValidateAttachments(attachments); err != nil {
		return Outcome{Err: e.reject(ctx, SourceSendMessage, roomId, senderId, newError(ErrValidation, "file does not support", err))}
	}

	unlock := e.locks.lock(roomId)
	defer unlock()

	e.reconcileIfDiverged(ctx, roomId)

	room, err := e.load(ctx, roomId)
	if err != nil {
		return Outcome{Err: e.reject(ctx, SourceSendMessage, roomId, senderId, err)}
	}

	msg := types.Message{
		Sender:      senderId,
		Content:     content,
		Time:        e.millis(),
		Attachments: attachments,
	}

	encoded, err := e.codec.Encode(roomId, content)
	if err != nil {
		return Outcome{Err: e.reject(ctx, SourceSendMessage, roomId, senderId, newError(ErrCodecFailure, "message could not be encoded", err))}
	}
	stored := msg
	stored.Content = encoded

	room.Messages = append(room.Messages, msg)
	e.cache.Put(roomId, room)

	werr := e.durable(ctx, func(ctx context.Context) error {
		return e.store.UpdateOne(ctx, database.ByRoom(roomId), database.PushMessage(stored))
	})

	d := Directive{Event: EventReceiveMessage, RoomId: roomId, Payload: payloadOr(origin.Payload, msg)}
	e.fanout.Broadcast(d)
	e.stats.Incr(stats.MessagesAccepted)

	if werr != nil {
		return Outcome{Directive: &d, Err: e.reject(ctx, SourceSendMessage, roomId, senderId, e.degraded(roomId, database.FieldMessages, werr))}
	}
	return Outcome{Directive: &d}
}

// checkMembership enforces that (role, participantId) names one of the two
// participants fixed at creation.
func checkMembership(room types.Room, participantId string, role types.Role) error {
	switch role {
	case types.RoleInitiator, types.RoleResponder:
		expected, _ := room.ParticipantFor(role)
		if expected != participantId {
			return newError(ErrRoomMismatch, "room id does not exist", nil)
		}
		return nil
	case types.RoleUnknown:
		return newError(ErrRoleMismatch, "accountType does not match", nil)
	default:
		return newError(ErrRoleMismatch, fmt.Sprintf("unhandled role %d", role), nil)
	}
}

// membership runs the shared join/leave state transition.
func (e *Engine) membership(ctx context.Context, source string, origin Origin, roomId, participantId string, role types.Role, join bool) Outcome {
	switch {
	case roomId == "":
		return Outcome{Err: e.reject(ctx, source, roomId, participantId, newError(ErrValidation, "room id does not exist", nil))}
	case participantId == "":
		return Outcome{Err: e.reject(ctx, source, roomId, participantId, newError(ErrValidation, "username does not exist", nil))}
	case role == types.RoleUnknown:
		return Outcome{Err: e.reject(ctx, source, roomId, participantId, checkMembership(types.Room{}, participantId, role))}
	}

	unlock := e.locks.lock(roomId)
	defer unlock()

	e.reconcileIfDiverged(ctx, roomId)

	room, err := e.load(ctx, roomId)
	if err != nil {
		return Outcome{Err: e.reject(ctx, source, roomId, participantId, err)}
	}
	if err := checkMembership(room, participantId, role); err != nil {
		return Outcome{Err: e.reject(ctx, source, roomId, participantId, err)}
	}

	ev := types.MembershipEvent{}
	d := Directive{RoomId: roomId}
	if join {
		ev.CheckIn = e.millis()
		d.Event = EventJoinAnnouncement
	} else {
		ev.CheckOut = e.millis()
		d.Event = EventLeaveAnnouncement
	}
	d.Payload = payloadOr(origin.Payload, map[string]string{
		"room":        roomId,
		"username":    participantId,
		"accountType": role.String(),
	})

	room.History = append(room.History, ev)
	e.cache.Put(roomId, room)

	werr := e.durable(ctx, func(ctx context.Context) error {
		return e.store.UpdateOne(ctx, database.ByParticipant(roomId, role, participantId), database.PushHistory(ev))
	})

	if origin.ConnId != "" {
		if join {
			e.fanout.Subscribe(origin.ConnId, roomId)
		} else {
			e.fanout.Unsubscribe(origin.ConnId, roomId)
		}
	}
	e.fanout.Broadcast(d)

	e.log.Info("membership changed", "room_id", roomId, "participant_id", participantId, "event", d.Event)

	if werr != nil {
		return Outcome{Directive: &d, Err: e.reject(ctx, source, roomId, participantId, e.degraded(roomId, database.FieldHistory, werr))}
	}
	return Outcome{Directive: &d}
}

// JoinRoom checks a participant in and subscribes its connection.
func (e *Engine) JoinRoom(ctx context.Context, origin Origin, roomId, participantId string, role types.Role) Outcome {
	return e.membership(ctx, SourceJoinRoom, origin, roomId, participantId, role, true)
}

// LeaveRoom checks a participant out and unsubscribes its connection before
// the announcement is broadcast.
func (e *Engine) LeaveRoom(ctx context.Context, origin Origin, roomId, participantId string, role types.Role) Outcome {
	return e.membership(ctx, SourceLeaveRoom, origin, roomId, participantId, role, false)
}

// Typing broadcasts a typing indicator. Only room existence is checked.
func (e *Engine) Typing(ctx context.Context, origin Origin, roomId, participantId string) Outcome {
	if roomId == "" {
		return Outcome{Err: e.reject(ctx, SourceTyping, roomId, participantId, newError(ErrValidation, "room id does not exist", nil))}
	}

	unlock := e.locks.lock(roomId)
	defer unlock()

	if _, err := e.load(ctx, roomId); err != nil {
		return Outcome{Err: e.reject(ctx, SourceTyping, roomId, participantId, err)}
	}

	d := Directive{
		Event:  EventPersonTyping,
		RoomId: roomId,
		Payload: payloadOr(origin.Payload, map[string]string{
			"room":     roomId,
			"username": participantId,
		}),
	}
	e.fanout.Broadcast(d)
	return Outcome{Directive: &d}
}

// History returns the room with at most count of its latest messages in
// plaintext; count <= 0 returns every message.
func (e *Engine) History(ctx context.Context, roomId string, count int) (types.Room, error) {
	if roomId == "" {
		return types.Room{}, e.reject(ctx, SourceGetChat, roomId, "", newError(ErrValidation, "room id is none", nil))
	}

	unlock := e.locks.lock(roomId)
	defer unlock()

	room, err := e.load(ctx, roomId)
	if err != nil {
		return types.Room{}, e.reject(ctx, SourceGetChat, roomId, "", err)
	}

	room.Messages = room.LastMessages(count)
	return room, nil
}

// ListRooms returns the rooms where participantId holds role, each with only
// its most recent message and without membership history.
func (e *Engine) ListRooms(ctx context.Context, role types.Role, participantId string) ([]types.Room, error) {
	if participantId == "" {
		return nil, e.reject(ctx, SourceGetChats, "", participantId, newError(ErrValidation, "id is none", nil))
	}
	if role == types.RoleUnknown {
		return nil, e.reject(ctx, SourceGetChats, "", participantId, checkMembership(types.Room{}, participantId, role))
	}

	findCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	docs, err := e.store.Find(findCtx, database.ByParticipant("", role, participantId))
	if err != nil {
		return nil, e.reject(ctx, SourceGetChats, "", participantId, newError(ErrStoreUnavailable, "rooms could not be listed", err))
	}

	rooms := make([]types.Room, 0, len(docs))
	for _, doc := range docs {
		doc.Messages = doc.LastMessages(1)
		room, err := e.decodeRoom(doc)
		if err != nil {
			return nil, e.reject(ctx, SourceGetChats, doc.Id, participantId, err)
		}
		room.History = nil
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// Reconcile reloads a room's snapshot from the store.
func (e *Engine) Reconcile(ctx context.Context, roomId string) error {
	unlock := e.locks.lock(roomId)
	defer unlock()
	return e.reconcile(ctx, roomId)
}

func payloadOr(payload, fallback any) any {
	if payload != nil {
		return payload
	}
	return fallback
}
