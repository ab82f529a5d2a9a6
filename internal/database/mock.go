package database

import (
	"context"

	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockRoomStore) FindOne(ctx context.Context, filter Filter) (types.Room, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockRoomStore) Find(ctx context.Context, filter Filter) ([]types.Room, error) {
	args := m.Called(ctx, filter)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRoomStore) InsertOne(ctx context.Context, room types.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockRoomStore) UpdateOne(ctx context.Context, filter Filter, push Push) error {
	args := m.Called(ctx, filter, push)
	return args.Error(0)
}
func (m *MockRoomStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
