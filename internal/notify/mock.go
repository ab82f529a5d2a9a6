package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Notify(ctx context.Context, n Notification) {
	m.Called(ctx, n)
}
