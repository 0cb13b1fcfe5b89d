package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Conversation), args.Bool(1), args.Error(2)
}

func (m *MockRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockRepository) GetMessages(ctx context.Context, conversationId string, after, before, limit int) ([]Message, error) {
	args := m.Called(ctx, conversationId, after, before, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) MarkMessagesRead(ctx context.Context, conversationId, readerId string) (int, error) {
	args := m.Called(ctx, conversationId, readerId)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
