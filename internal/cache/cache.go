package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type entry struct {
	room    types.Room
	touched time.Time
}

// RoomCache is a process-local map from room id to the latest known room
// snapshot. Snapshots are copied on the way in and out, so callers never
// share backing arrays with the cache. Entries idle for longer than the
// configured TTL are evicted by Sweep; a zero TTL keeps every entry.
type RoomCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	idleTTL time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func NewRoomCache(logger *slog.Logger, idleTTL time.Duration) *RoomCache {
	return &RoomCache{
		entries: make(map[string]*entry),
		idleTTL: idleTTL,
		now:     time.Now,
		log:     logger,
	}
}

func (c *RoomCache) Get(roomId string) (types.Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[roomId]
	if !ok {
		return types.Room{}, false
	}
	e.touched = c.now()
	return e.room.Clone(), true
}

// Put overwrites the snapshot for roomId.
func (c *RoomCache) Put(roomId string, room types.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[roomId] = &entry{room: room.Clone(), touched: c.now()}
}

func (c *RoomCache) Delete(roomId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, roomId)
}

func (c *RoomCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Sweep evicts entries not touched within the idle TTL and returns how many
// were removed.
func (c *RoomCache) Sweep() int {
	if c.idleTTL <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.idleTTL)
	evicted := 0
	for id, e := range c.entries {
		if e.touched.Before(cutoff) {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// Run sweeps every interval until stop is closed.
func (c *RoomCache) Run(interval time.Duration, stop <-chan struct{}) {
	if c.idleTTL <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Info("evicted idle rooms from cache", "count", n, "remaining", c.Len())
			}
		case <-stop:
			return
		}
	}
}
