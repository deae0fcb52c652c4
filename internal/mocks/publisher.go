package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NotifierMock records realtime notifications sent by REST handlers.
type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) NotifyUser(ctx context.Context, userID, event string, payload any) error {
	args := m.Called(ctx, userID, event, payload)
	return args.Error(0)
}

func (m *NotifierMock) NotifyRoom(ctx context.Context, room, event string, payload any) error {
	args := m.Called(ctx, room, event, payload)
	return args.Error(0)
}
