package server

import (
	"log/slog"
)

// Room is the set of connections subscribed to one room id. It holds no room
// state; the session engine owns that. Rooms are guarded by the ChatServer
// lock and are unloaded once the last client leaves.
type Room struct {
	id      string
	clients map[*Client]struct{}
	log     *slog.Logger
}

func newRoom(id string, logger *slog.Logger) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]struct{}),
		log:     logger.With("room_id", id),
	}
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
	c.addRoom(r.id)
	r.log.Debug("client subscribed", "conn_id", c.id)
}

// removeClient reports whether the room is now empty.
func (r *Room) removeClient(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		r.log.Debug("client not subscribed", "conn_id", c.id)
		return len(r.clients) == 0
	}

	delete(r.clients, c)
	c.delRoom(r.id)
	r.log.Debug("client unsubscribed", "conn_id", c.id)

	return len(r.clients) == 0
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.log.Debug("broadcast", "event", msg.Event, "subscribers", len(r.clients))
	for client := range r.clients {
		client.queueMessage(msg)
	}
}
