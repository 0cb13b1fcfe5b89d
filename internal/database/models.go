package database

import "time"

type LastMessage struct {
	Content   string
	SenderId  string
	Timestamp time.Time
}

type Conversation struct {
	Id           string
	ParticipantA string
	ParticipantB string
	ItemId       string
	SeqId        int
	LastMessage  *LastMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

func (c Conversation) HasParticipant(userId string) bool {
	return userId != "" && (c.ParticipantA == userId || c.ParticipantB == userId)
}

// Peer returns the other participant, or "" when userId is not a participant.
func (c Conversation) Peer(userId string) string {
	switch userId {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

type Message struct {
	Id             string
	ConversationId string
	SeqId          int
	SenderId       string
	SenderName     string
	Content        string
	Read           bool
	CreatedAt      time.Time
}

type CreateConversationParams struct {
	Id           string
	Participants [2]string
	ItemId       string
}

type CreateMessageParams struct {
	ConversationId string
	SenderId       string
	SenderName     string
	Content        string
}
