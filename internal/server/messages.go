package server

import (
	"net/http"
	"time"

	"github.com/lendloop/realtime/internal/types"
)

// maxContentBytes bounds the UTF-8 size of a message body. It must match
// the maxbytes rule on SendMessage.Content.
const maxContentBytes = 4096

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is one inbound frame. Exactly one event field must be set.
type ClientMessage struct {
	BaseMessage
	SendMessage     *SendMessage     `json:"send_message,omitempty"`
	NewConversation *NewConversation `json:"new_conversation,omitempty"`
	client          *Client
}

func (m *ClientMessage) numEvents() int {
	n := 0
	if m.SendMessage != nil {
		n++
	}
	if m.NewConversation != nil {
		n++
	}
	return n
}

type SendMessage struct {
	RecipientId    string `json:"recipient_id" validate:"required,max=128"`
	ConversationId string `json:"conversation_id" validate:"required,conversation_id"`
	Content        string `json:"content" validate:"notblank,maxbytes=4096"`
}

type NewConversation struct {
	RecipientId  string              `json:"recipient_id" validate:"required,max=128"`
	Conversation *types.Conversation `json:"conversation" validate:"required"`
}

type ServerMessage struct {
	BaseMessage
	Response        *Response                 `json:"response,omitempty"`
	ReceiveMessage  *types.Message            `json:"receive_message,omitempty"`
	NewConversation *ConversationNotification `json:"new_conversation,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type ConversationNotification struct {
	Sender       types.User         `json:"sender"`
	Conversation types.Conversation `json:"conversation"`
}

func response(id, code int, errMsg string) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func receiveMessage(id int, msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		ReceiveMessage: &msg,
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return response(id, http.StatusAccepted, "")
}

func ErrInvalidMessage(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "invalid message format")
}

func ErrBadRequest(id int, detail string) *ServerMessage {
	return response(id, http.StatusBadRequest, detail)
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "not a participant of this conversation")
}

func ErrNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "conversation not found")
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
