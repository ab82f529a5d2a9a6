package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/samber/lo"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Engine is the part of the session engine driven by realtime events.
type Engine interface {
	AppendMessage(ctx context.Context, origin session.Origin, roomId, senderId, content string, attachments []types.Attachment) session.Outcome
	JoinRoom(ctx context.Context, origin session.Origin, roomId, participantId string, role types.Role) session.Outcome
	LeaveRoom(ctx context.Context, origin session.Origin, roomId, participantId string, role types.Role) session.Outcome
	Typing(ctx context.Context, origin session.Origin, roomId, participantId string) session.Outcome
}

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	engine     Engine
	log        *slog.Logger
	send       chan *ServerMessage
	rooms      map[string]struct{}
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, engine Engine, l *slog.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		engine:     engine,
		log:        l.With("conn_id", id),
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]struct{}),
		stop:       make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					c.log.Warn("write message", "error", err)
				}
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Read() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", "error", err)
			}
			return
		}

		msg, body, err := DecodeEvent(raw)
		if err != nil {
			c.log.Debug("rejecting frame", "error", err)
			source := ""
			if msg != nil && !errors.Is(err, ErrUnknownEvent) {
				source = sourceFor(msg.Event)
			}
			c.queueMessage(errorMessage(source, err))
			continue
		}

		c.dispatch(ctx, msg, body)
	}
}

// dispatch hands a decoded event to the engine. Rejections go back to this
// connection only; broadcasts reach the room through the ChatServer.
func (c *Client) dispatch(ctx context.Context, msg *ClientMessage, body any) {
	origin := session.Origin{ConnId: c.id, Payload: msg.Data}

	var out session.Outcome
	switch ev := body.(type) {
	case *SendMessage:
		out = c.engine.AppendMessage(ctx, origin, ev.Room, ev.Username, ev.Message, ev.IsFile)
	case *JoinRoom:
		out = c.engine.JoinRoom(ctx, origin, ev.Room, ev.Username, types.ParseRole(ev.AccountType))
	case *LeaveRoom:
		out = c.engine.LeaveRoom(ctx, origin, ev.Room, ev.Username, types.ParseRole(ev.AccountType))
	case *Typing:
		out = c.engine.Typing(ctx, origin, ev.Room, ev.Username)
	default:
		c.log.Error("unhandled event body", "type", fmt.Sprintf("%T", body))
		return
	}

	if out.Err != nil {
		c.queueMessage(errorMessage(sourceFor(msg.Event), out.Err))
	}
}

func sourceFor(event string) string {
	switch event {
	case EventSendMessage:
		return session.SourceSendMessage
	case EventJoinRoom:
		return session.SourceJoinRoom
	case EventLeaveRoom:
		return session.SourceLeaveRoom
	case EventTyping:
		return session.SourceTyping
	default:
		return ""
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full", "event", msg.Event)
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.chatServer.DeregisterClient(c)
	c.stopClient()
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	delete(c.rooms, id)
}

func (c *Client) addRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	c.rooms[id] = struct{}{}
}

func (c *Client) roomIds() []string {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return lo.Keys(c.rooms)
}
