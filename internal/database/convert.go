package database

import "github.com/lendloop/realtime/internal/types"

func (c Conversation) Public() types.Conversation {
	conv := types.Conversation{
		Id:           c.Id,
		Participants: c.Participants(),
		ItemId:       c.ItemId,
		SeqId:        c.SeqId,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}

	if c.LastMessage != nil {
		conv.LastMessage = &types.LastMessage{
			Content:   c.LastMessage.Content,
			SenderId:  c.LastMessage.SenderId,
			Timestamp: c.LastMessage.Timestamp,
		}
	}

	return conv
}

func (m Message) Public() types.Message {
	return types.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		SeqId:          m.SeqId,
		Sender: types.User{
			Id:          m.SenderId,
			DisplayName: m.SenderName,
		},
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}
