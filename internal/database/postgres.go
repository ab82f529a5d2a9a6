package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const filterClause = "($1::text = '' OR room_id = $1::text) " +
	"AND ($2::text = '' OR doc->>'doctorId' = $2::text) " +
	"AND ($3::text = '' OR doc->>'clientId' = $3::text)"

// PgRoomStore keeps each room as a JSONB document keyed by room id.
type PgRoomStore struct {
	conn *sql.DB
}

func NewPgRoomStore(dsn string) (*PgRoomStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRoomStore{conn: db}, nil
}

func (db *PgRoomStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgRoomStore) FindOne(ctx context.Context, filter Filter) (types.Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT doc FROM rooms WHERE "+filterClause+" ORDER BY created_at LIMIT 1",
		filter.RoomId, filter.InitiatorId, filter.ResponderId,
	)

	var (
		raw  []byte
		room types.Room
	)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Room{}, ErrNoDocument
		}
		return types.Room{}, err
	}

	if err := json.Unmarshal(raw, &room); err != nil {
		return types.Room{}, fmt.Errorf("decode room document: %w", err)
	}

	return room, nil
}

func (db *PgRoomStore) Find(ctx context.Context, filter Filter) ([]types.Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT doc FROM rooms WHERE "+filterClause+" ORDER BY created_at",
		filter.RoomId, filter.InitiatorId, filter.ResponderId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []types.Room
	for rows.Next() {
		var (
			raw  []byte
			room types.Room
		)
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &room); err != nil {
			return nil, fmt.Errorf("decode room document: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgRoomStore) InsertOne(ctx context.Context, room types.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("encode room document: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO rooms (room_id, doc) VALUES ($1, $2::jsonb) ON CONFLICT (room_id) DO NOTHING",
		room.Id, string(doc),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicateRoom
	}

	return nil
}

func (db *PgRoomStore) UpdateOne(ctx context.Context, filter Filter, push Push) error {
	value, err := json.Marshal(push.Value)
	if err != nil {
		return fmt.Errorf("encode %s element: %w", push.Field, err)
	}

	res, err := db.conn.ExecContext(ctx,
		"UPDATE rooms SET doc = jsonb_set(doc, ARRAY[$4::text], "+
			"COALESCE(doc->($4::text), '[]'::jsonb) || jsonb_build_array($5::jsonb)) "+
			"WHERE room_id = (SELECT room_id FROM rooms WHERE "+filterClause+" ORDER BY created_at LIMIT 1)",
		filter.RoomId, filter.InitiatorId, filter.ResponderId, string(push.Field), string(value),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoDocument
	}

	return nil
}

func (db *PgRoomStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
