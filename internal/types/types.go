package types

import (
	"time"
)

type User struct {
	Id          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

type LastMessage struct {
	Content   string    `json:"content"`
	SenderId  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	Id           string       `json:"id"`
	Participants []string     `json:"participants"`
	ItemId       string       `json:"item_id,omitempty"`
	SeqId        int          `json:"seq_id"`
	LastMessage  *LastMessage `json:"last_message"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HasParticipant reports whether userId is one of the conversation's participants.
func (c Conversation) HasParticipant(userId string) bool {
	for _, p := range c.Participants {
		if p == userId {
			return true
		}
	}
	return false
}

type Message struct {
	Id             string    `json:"id"`
	ConversationId string    `json:"conversation_id"`
	SeqId          int       `json:"seq_id"`
	Sender         User      `json:"sender"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
