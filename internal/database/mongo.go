package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const disconnectTimeout = 5 * time.Second

// MongoRoomStore stores rooms in a MongoDB collection, one document per room,
// using native $push updates for the sequence fields.
type MongoRoomStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoRoomStore(ctx context.Context, uri, database, collection string) (*MongoRoomStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chatroomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create room index: %w", err)
	}

	return &MongoRoomStore{client: client, coll: coll}, nil
}

func mongoFilter(f Filter) bson.M {
	m := bson.M{}
	if f.RoomId != "" {
		m["chatroomId"] = f.RoomId
	}
	if f.InitiatorId != "" {
		m["doctorId"] = f.InitiatorId
	}
	if f.ResponderId != "" {
		m["clientId"] = f.ResponderId
	}
	return m
}

func (s *MongoRoomStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoRoomStore) FindOne(ctx context.Context, filter Filter) (types.Room, error) {
	var room types.Room
	if err := s.coll.FindOne(ctx, mongoFilter(filter)).Decode(&room); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Room{}, ErrNoDocument
		}
		return types.Room{}, err
	}
	return room, nil
}

func (s *MongoRoomStore) Find(ctx context.Context, filter Filter) ([]types.Room, error) {
	cur, err := s.coll.Find(ctx, mongoFilter(filter), options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}

	var rooms []types.Room
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (s *MongoRoomStore) InsertOne(ctx context.Context, room types.Room) error {
	if _, err := s.coll.InsertOne(ctx, room); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateRoom
		}
		return err
	}
	return nil
}

func (s *MongoRoomStore) UpdateOne(ctx context.Context, filter Filter, push Push) error {
	res, err := s.coll.UpdateOne(ctx, mongoFilter(filter), bson.M{
		"$push": bson.M{string(push.Field): push.Value},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoDocument
	}
	return nil
}

func (s *MongoRoomStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
