package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMessageLimit = 20
	MaxMessageLimit     = 100

	conversationColumns = "id, participant_a, participant_b, item_id, seq_id, " +
		"last_message_content, last_message_sender_id, last_message_at, created_at, updated_at"
)

var ErrInvalidParticipants = errors.New("conversation needs two distinct participants")

type rowScanner interface {
	Scan(dest ...any) error
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// orderParticipants returns the pair sorted so that one pair of users maps to
// exactly one (participant_a, participant_b) row.
func orderParticipants(p [2]string) ([2]string, error) {
	a, b := strings.TrimSpace(p[0]), strings.TrimSpace(p[1])
	if a == "" || b == "" || a == b {
		return [2]string{}, ErrInvalidParticipants
	}

	pair := []string{a, b}
	sort.Strings(pair)

	return [2]string{pair[0], pair[1]}, nil
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c        Conversation
		content  sql.NullString
		senderId sql.NullString
		lastAt   sql.NullTime
	)

	err := row.Scan(
		&c.Id,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.ItemId,
		&c.SeqId,
		&content,
		&senderId,
		&lastAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}

	if content.Valid {
		c.LastMessage = &LastMessage{
			Content:   content.String,
			SenderId:  senderId.String,
			Timestamp: lastAt.Time,
		}
	}

	return c, nil
}

func (db *PgRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (Conversation, bool, error) {
	pair, err := orderParticipants(params.Participants)
	if err != nil {
		return Conversation{}, false, err
	}

	ts := now()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO conversations (id, participant_a, participant_b, item_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) "+
			"ON CONFLICT (participant_a, participant_b, item_id) DO NOTHING "+
			"RETURNING "+conversationColumns,
		params.Id,
		pair[0],
		pair[1],
		params.ItemId,
		ts,
	)

	c, err := scanConversation(row)
	if err == nil {
		return c, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}

	// the pair already has a conversation for this item
	row = db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE participant_a = $1 AND participant_b = $2 AND item_id = $3",
		pair[0],
		pair[1],
		params.ItemId,
	)

	c, err = scanConversation(row)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("get existing conversation: %w", notFound(err))
	}

	return c, false, nil
}

func (db *PgRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1",
		id,
	)

	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, notFound(err)
	}

	return c, nil
}

func (db *PgRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+conversationColumns+" FROM conversations "+
			"WHERE participant_a = $1 OR participant_b = $1 ORDER BY updated_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

// CreateMessage bumps the conversation sequence, writes the summary and
// inserts the message in one transaction. The UPDATE takes the row lock, so
// concurrent appends to one conversation serialize on it.
func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (msg Message, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	msg = Message{
		Id:             uuid.NewString(),
		ConversationId: params.ConversationId,
		SenderId:       params.SenderId,
		SenderName:     params.SenderName,
		Content:        params.Content,
		CreatedAt:      now(),
	}

	err = tx.QueryRowContext(ctx,
		"UPDATE conversations SET seq_id = seq_id + 1, last_message_content = $2, "+
			"last_message_sender_id = $3, last_message_at = $4, updated_at = $4 "+
			"WHERE id = $1 RETURNING seq_id",
		msg.ConversationId,
		msg.Content,
		msg.SenderId,
		msg.CreatedAt,
	).Scan(&msg.SeqId)
	if err != nil {
		err = fmt.Errorf("update conversation: %w", notFound(err))
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, seq_id, sender_id, sender_name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.Id,
		msg.ConversationId,
		msg.SeqId,
		msg.SenderId,
		msg.SenderName,
		msg.Content,
		msg.CreatedAt,
	)
	if err != nil {
		err = fmt.Errorf("insert message: %w", err)
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

// GetMessages returns up to limit messages with after < seq_id < before,
// newest first. Zero bounds are open.
func (db *PgRepository) GetMessages(ctx context.Context, conversationId string, after, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if after > 0 {
		lower = after + 1
	}

	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, conversation_id, seq_id, sender_id, sender_name, content, read, created_at FROM messages "+
			"WHERE conversation_id = $1 AND seq_id BETWEEN $2 AND $3 ORDER BY seq_id DESC LIMIT $4",
		conversationId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ConversationId,
			&msg.SeqId,
			&msg.SenderId,
			&msg.SenderName,
			&msg.Content,
			&msg.Read,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgRepository) MarkMessagesRead(ctx context.Context, conversationId, readerId string) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read = TRUE "+
			"WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE",
		conversationId,
		readerId,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}
