package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/session"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

// ChatServer tracks live connections and which rooms they are subscribed
// to. It is the session engine's fan-out target.
type ChatServer struct {
	log     *slog.Logger
	stats   stats.StatsProvider
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]*Room
	stopped bool
	// drained is closed when the last client deregisters after Shutdown.
	drained chan struct{}
}

var _ session.Fanout = (*ChatServer)(nil)

func NewChatServer(logger *slog.Logger, su stats.StatsProvider) (*ChatServer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if su == nil {
		su = stats.Noop{}
	}
	su.RegisterMetric(stats.ConnectedClients)

	return &ChatServer{
		log:     logger,
		stats:   su,
		clients: make(map[string]*Client),
		rooms:   make(map[string]*Room),
		drained: make(chan struct{}),
	}, nil
}

// RegisterClient adds c to the registry. It fails once Shutdown has begun.
func (cs *ChatServer) RegisterClient(c *Client) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.stopped {
		return fmt.Errorf("chat server is shutting down")
	}

	cs.clients[c.id] = c
	cs.stats.Incr(stats.ConnectedClients)
	cs.log.Info("client connected", "conn_id", c.id, "clients", len(cs.clients))
	return nil
}

// DeregisterClient drops c and all its subscriptions. It is idempotent.
func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.clients[c.id]; !ok {
		return
	}

	for _, roomId := range c.roomIds() {
		cs.unsubscribeLocked(c, roomId)
	}
	delete(cs.clients, c.id)
	cs.stats.Decr(stats.ConnectedClients)
	cs.log.Info("client disconnected", "conn_id", c.id, "clients", len(cs.clients))

	if cs.stopped && len(cs.clients) == 0 {
		close(cs.drained)
	}
}

func (cs *ChatServer) Subscribe(connId, roomId string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c, ok := cs.clients[connId]
	if !ok {
		cs.log.Warn("subscribe from unknown connection", "conn_id", connId, "room_id", roomId)
		return
	}

	r, ok := cs.rooms[roomId]
	if !ok {
		r = newRoom(roomId, cs.log)
		cs.rooms[roomId] = r
	}
	r.addClient(c)
}

func (cs *ChatServer) Unsubscribe(connId, roomId string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if c, ok := cs.clients[connId]; ok {
		cs.unsubscribeLocked(c, roomId)
	}
}

func (cs *ChatServer) unsubscribeLocked(c *Client, roomId string) {
	r, ok := cs.rooms[roomId]
	if !ok {
		return
	}
	if r.removeClient(c) {
		delete(cs.rooms, roomId)
		cs.log.Debug("unloaded room", "room_id", roomId)
	}
}

// Broadcast queues the directive on every subscriber of its room. Slow
// clients drop frames instead of blocking the caller.
func (cs *ChatServer) Broadcast(d session.Directive) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	r, ok := cs.rooms[d.RoomId]
	if !ok {
		return
	}
	r.broadcast(broadcastMessage(d))
}

func (cs *ChatServer) subscribers(roomId string) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if r, ok := cs.rooms[roomId]; ok {
		return len(r.clients)
	}
	return 0
}

// Shutdown stops every client and waits for them to deregister.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.mu.Lock()
	if cs.stopped {
		cs.mu.Unlock()
		return nil
	}
	cs.stopped = true
	if len(cs.clients) == 0 {
		close(cs.drained)
	}
	for _, c := range cs.clients {
		c.stopClient()
	}
	cs.mu.Unlock()

	cs.log.Info("waiting for clients to disconnect")
	start := time.Now()
	select {
	case <-cs.drained:
		cs.log.Info("chat server stopped", "elapsed", time.Since(start))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
