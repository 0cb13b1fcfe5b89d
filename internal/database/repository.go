package database

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Repository is the Message Store and Conversation Summary Store shared by
// the realtime router and the HTTP surface.
type Repository interface {
	Ping(ctx context.Context) error
	// CreateConversation is idempotent per participant pair and item. The
	// returned bool reports whether a new conversation was created.
	CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	ListConversations(ctx context.Context, userId string) ([]Conversation, error)
	// CreateMessage appends a message and updates the conversation summary
	// in a single transaction.
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, conversationId string, after, before, limit int) ([]Message, error)
	// MarkMessagesRead marks unread messages not authored by readerId as read
	// and returns how many changed.
	MarkMessagesRead(ctx context.Context, conversationId, readerId string) (int, error)
	Close() error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
