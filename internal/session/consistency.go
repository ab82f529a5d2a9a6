package session

import (
	"context"
	"errors"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

// The cache is written first and the store second. A store write that fails
// or outlives storeTimeout leaves the room diverged: the cache holds state
// the store never confirmed. Diverged rooms are reconciled from the store
// before their next mutation.

// load returns the room snapshot, reading through to the store on a cache
// miss. The caller must hold the room lock.
func (e *Engine) load(ctx context.Context, roomId string) (types.Room, error) {
	if room, ok := e.cache.Get(roomId); ok {
		e.stats.Incr(stats.CacheHits)
		return room, nil
	}
	e.stats.Incr(stats.CacheMisses)

	doc, err := e.find(ctx, database.ByRoom(roomId))
	if err != nil {
		if errors.Is(err, database.ErrNoDocument) {
			return types.Room{}, newError(ErrRoomNotFound, "room does not exist", nil)
		}
		return types.Room{}, newError(ErrStoreUnavailable, "room could not be loaded", err)
	}

	room, err := e.decodeRoom(doc)
	if err != nil {
		return types.Room{}, err
	}

	e.cache.Put(roomId, room)
	return room, nil
}

func (e *Engine) find(ctx context.Context, filter database.Filter) (types.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	return e.store.FindOne(ctx, filter)
}

// decodeRoom turns a stored document into the plaintext snapshot kept in the
// cache.
func (e *Engine) decodeRoom(doc types.Room) (types.Room, error) {
	room := doc.Clone()
	for i, m := range room.Messages {
		plain, err := e.codec.Decode(room.Id, m.Content)
		if err != nil {
			return types.Room{}, newError(ErrCodecFailure, "stored message could not be decoded", err)
		}
		room.Messages[i].Content = plain
	}
	return room, nil
}

// durable runs a store write bounded by storeTimeout. The write is detached
// from ctx cancellation so a caller going away does not abort it.
func (e *Engine) durable(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// degraded records a divergence between cache and store for roomId.
func (e *Engine) degraded(roomId string, field database.Field, cause error) *Error {
	e.divergedMu.Lock()
	e.diverged[roomId] = struct{}{}
	e.divergedMu.Unlock()

	e.stats.Incr(stats.DegradedWrites)
	e.log.Error("degraded write: cache updated but store write unconfirmed",
		"room_id", roomId,
		"field", field,
		"error", cause,
	)
	return newError(ErrDegradedWrite, "change applied but not yet durable", cause)
}

func (e *Engine) isDiverged(roomId string) bool {
	e.divergedMu.Lock()
	defer e.divergedMu.Unlock()
	_, ok := e.diverged[roomId]
	return ok
}

// reconcile replaces the cached snapshot with the store's document, or drops
// it when the store has none. The caller must hold the room lock.
func (e *Engine) reconcile(ctx context.Context, roomId string) error {
	doc, err := e.find(ctx, database.ByRoom(roomId))
	switch {
	case errors.Is(err, database.ErrNoDocument):
		e.cache.Delete(roomId)
	case err != nil:
		return newError(ErrStoreUnavailable, "room could not be reconciled", err)
	default:
		room, err := e.decodeRoom(doc)
		if err != nil {
			return err
		}
		e.cache.Put(roomId, room)
	}

	e.divergedMu.Lock()
	delete(e.diverged, roomId)
	e.divergedMu.Unlock()

	e.stats.Incr(stats.Reconciliations)
	e.log.Info("reconciled room from store", "room_id", roomId)
	return nil
}

func (e *Engine) reconcileIfDiverged(ctx context.Context, roomId string) {
	if !e.isDiverged(roomId) {
		return
	}
	if err := e.reconcile(ctx, roomId); err != nil {
		e.log.Warn("reconcile failed, continuing with cached snapshot", "room_id", roomId, "error", err)
	}
}
