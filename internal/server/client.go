package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lendloop/realtime/internal/types"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	// every content byte may arrive escaped as \u00XX
	maxMessageSize = 6*maxContentBytes + 8*1024
	sendBufferSize = 256
)

// Client is one authenticated websocket connection. It is the handle stored
// in the presence registry.
type Client struct {
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *zap.Logger
	user        types.User
	send        chan *ServerMessage
	stop        chan struct{}
	stopOnce    sync.Once
	connectedAt time.Time
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *zap.Logger) *Client {
	return &Client{
		conn:        conn,
		chatServer:  cs,
		log:         l.With(zap.String("user_id", user.Id)),
		user:        user,
		send:        make(chan *ServerMessage, sendBufferSize),
		stop:        make(chan struct{}),
		connectedAt: time.Now().UTC(),
	}
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			data, err := serializeMessage(msg)
			if err != nil {
				c.log.Error("failed to serialize message", zap.Error(err))
				continue
			}

			if !c.sendMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read pumps inbound frames until the transport fails. Deregistration runs
// on every exit path.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.chatServer.DeRegisterClient(c)
		c.stopClient()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("ws read", zap.Error(err))
			}
			break
		}

		msg, err := parseClientMessage(raw)
		if err != nil {
			c.log.Debug("error parsing message", zap.Error(err))
			c.queueMessage(ErrInvalidMessage(peekId(raw)))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.SendMessage != nil:
			c.publish(msg)
		case msg.NewConversation != nil:
			c.notifyNewConversation(msg)
		}
	}
}

func parseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}

	if n := msg.numEvents(); n != 1 {
		return nil, fmt.Errorf("expected exactly one event, got %d", n)
	}

	return &msg, nil
}

// peekId recovers the frame id from a frame that failed strict parsing so
// the error can still be correlated.
func peekId(raw []byte) int {
	var base BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		return 0
	}
	return base.Id
}

func (c *Client) publish(msg *ClientMessage) {
	if err := c.chatServer.validate.Struct(msg.SendMessage); err != nil {
		c.queueMessage(errorMessage(msg.Id, validationError(err)))
		return
	}

	if err := c.chatServer.submit(msg); err != nil {
		c.log.Warn("failed to submit message",
			zap.String("conversation_id", msg.SendMessage.ConversationId), zap.Error(err))
		c.queueMessage(errorMessage(msg.Id, err))
	}
}

// notifyNewConversation announces a stored conversation to its other
// participant. The payload only names the conversation; participants and
// the announced copy come from the store.
func (c *Client) notifyNewConversation(msg *ClientMessage) {
	nc := msg.NewConversation
	if err := c.chatServer.validate.Struct(nc); err != nil {
		c.queueMessage(errorMessage(msg.Id, validationError(err)))
		return
	}

	if nc.Conversation.Id == "" {
		c.queueMessage(ErrBadRequest(msg.Id, "conversation id is required"))
		return
	}

	conv, err := c.chatServer.loadConversation(nc.Conversation.Id)
	if err != nil {
		if !errors.Is(err, ErrConversationNotFound) {
			c.log.Error("failed to load conversation",
				zap.String("conversation_id", nc.Conversation.Id), zap.Error(err))
		}
		c.queueMessage(errorMessage(msg.Id, err))
		return
	}

	if !conv.HasParticipant(c.user.Id) || conv.Peer(c.user.Id) != nc.RecipientId {
		c.log.Warn("rejected conversation notice",
			zap.String("conversation_id", conv.Id), zap.String("recipient_id", nc.RecipientId))
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.chatServer.NotifyNewConversation(c.user, nc.RecipientId, conv.Public())
	c.queueMessage(NoErrAccepted(msg.Id))
}

// queueMessage never blocks. A full buffer drops the message; the store
// remains the source of truth.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Warn("write message", zap.Error(err))
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
