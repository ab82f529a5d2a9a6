package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	roomKeyPrefix   = "room:"
	maxTxnConflicts = 5
)

// BadgerRoomStore is an embedded single-node RoomStore. Each room is a JSON
// document under "room:{id}"; pushes are read-modify-write transactions.
type BadgerRoomStore struct {
	db *badger.DB
}

// NewBadgerRoomStore opens a store at path. An empty path keeps the store in
// memory.
func NewBadgerRoomStore(path string) (*BadgerRoomStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &BadgerRoomStore{db: db}, nil
}

func roomKey(roomId string) []byte {
	return []byte(roomKeyPrefix + roomId)
}

func readRoom(item *badger.Item) (types.Room, error) {
	var room types.Room
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &room)
	})
	return room, err
}

func writeRoom(txn *badger.Txn, room types.Room) error {
	b, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}
	return txn.Set(roomKey(room.Id), b)
}

// findIn returns the first room matching filter within txn.
func findIn(txn *badger.Txn, filter Filter) (types.Room, error) {
	if filter.RoomId != "" {
		item, err := txn.Get(roomKey(filter.RoomId))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return types.Room{}, ErrNoDocument
			}
			return types.Room{}, err
		}
		room, err := readRoom(item)
		if err != nil {
			return types.Room{}, err
		}
		if !filter.Matches(room) {
			return types.Room{}, ErrNoDocument
		}
		return room, nil
	}

	rooms, err := scan(txn, filter, 1)
	if err != nil {
		return types.Room{}, err
	}
	if len(rooms) == 0 {
		return types.Room{}, ErrNoDocument
	}
	return rooms[0], nil
}

func scan(txn *badger.Txn, filter Filter, limit int) ([]types.Room, error) {
	prefix := []byte(roomKeyPrefix)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var rooms []types.Room
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		room, err := readRoom(it.Item())
		if err != nil {
			return nil, err
		}
		if !filter.Matches(room) {
			continue
		}
		rooms = append(rooms, room)
		if limit > 0 && len(rooms) == limit {
			break
		}
	}
	return rooms, nil
}

// update retries fn when a concurrent transaction wrote the same keys.
func (s *BadgerRoomStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnConflicts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerRoomStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

func (s *BadgerRoomStore) FindOne(ctx context.Context, filter Filter) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	var room types.Room
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		room, err = findIn(txn, filter)
		return err
	})
	return room, err
}

func (s *BadgerRoomStore) Find(ctx context.Context, filter Filter) ([]types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rooms []types.Room
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rooms, err = scan(txn, filter, 0)
		return err
	})
	return rooms, err
}

func (s *BadgerRoomStore) InsertOne(ctx context.Context, room types.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get(roomKey(room.Id))
		if err == nil {
			return ErrDuplicateRoom
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return writeRoom(txn, room)
	})
}

func (s *BadgerRoomStore) UpdateOne(ctx context.Context, filter Filter, push Push) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(func(txn *badger.Txn) error {
		room, err := findIn(txn, filter)
		if err != nil {
			return err
		}
		if err := push.apply(&room); err != nil {
			return err
		}
		return writeRoom(txn, room)
	})
}

func (s *BadgerRoomStore) Close() error {
	return s.db.Close()
}
