package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Notification is an out-of-band message addressed to one participant of a
// room, typically an error for an event that participant originated.
type Notification struct {
	Id            string    `json:"id"`
	ErrorCode     string    `json:"error_code"`
	SourceEvent   string    `json:"source_event"`
	Message       string    `json:"message"`
	StatusCode    int       `json:"status_code"`
	RoomId        string    `json:"room_id"`
	ParticipantId string    `json:"participant_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// Bridge is a send-only sink. Implementations must not block the caller for
// long and never report delivery failures back.
type Bridge interface {
	Notify(ctx context.Context, n Notification)
}

func stamp(n Notification) Notification {
	if n.Id == "" {
		n.Id = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	return n
}

// RedisBridge publishes notifications as JSON on a per-participant channel.
type RedisBridge struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

func NewRedisBridge(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisBridge(client, prefix, logger), nil
}

func newRedisBridge(client *redis.Client, prefix string, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{client: client, prefix: prefix, log: logger}
}

// Channel returns the pub/sub channel for a room participant.
func (b *RedisBridge) Channel(roomId, participantId string) string {
	return fmt.Sprintf("%s:notifications:%s:%s", b.prefix, roomId, participantId)
}

func (b *RedisBridge) Notify(ctx context.Context, n Notification) {
	n = stamp(n)
	payload, err := json.Marshal(n)
	if err != nil {
		b.log.Error("failed to encode notification", "error", err, "room_id", n.RoomId)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.Channel(n.RoomId, n.ParticipantId), payload).Err(); err != nil {
		b.log.Warn("failed to publish notification",
			"error", err,
			"room_id", n.RoomId,
			"participant_id", n.ParticipantId,
			"error_code", n.ErrorCode,
		)
	}
}

func (b *RedisBridge) Close() error {
	return b.client.Close()
}

// LogBridge writes notifications to the log. Used when no broker is
// configured.
type LogBridge struct {
	log *slog.Logger
}

func NewLogBridge(logger *slog.Logger) *LogBridge {
	return &LogBridge{log: logger}
}

func (b *LogBridge) Notify(_ context.Context, n Notification) {
	n = stamp(n)
	b.log.Info("notification",
		"id", n.Id,
		"error_code", n.ErrorCode,
		"source_event", n.SourceEvent,
		"message", n.Message,
		"status_code", n.StatusCode,
		"room_id", n.RoomId,
		"participant_id", n.ParticipantId,
	)
}
