// Package client is a websocket session for the realtime router. It owns
// one connection at a time and re-dials a dropped connection with a
// bounded exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/lendloop/realtime/internal/server"
	"github.com/lendloop/realtime/internal/types"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxRetries      = 5
)

var (
	ErrNotConnected = errors.New("session not connected")
	ErrUnauthorized = errors.New("credential rejected")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ResponseError is a non-fatal error event sent by the router for one
// of this session's frames.
type ResponseError struct {
	Id      int
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

type Options struct {
	Logger          *zap.Logger
	Dialer          *websocket.Dialer
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint
}

type Session struct {
	url  string
	log  *zap.Logger
	opts Options

	mu         sync.Mutex
	wmu        sync.Mutex
	conn       *websocket.Conn
	state      State
	credential string
	nextId     int
	cancel     context.CancelFunc

	onMessage         func(types.Message)
	onNewConversation func(server.ConversationNotification)
	onError           func(error)
	onStateChange     func(State)
}

// NewSession returns a disconnected session for the websocket endpoint at url.
func NewSession(url string, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = DefaultMaxInterval
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	return &Session{
		url:  url,
		log:  opts.Logger.Named("client"),
		opts: opts,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) OnMessage(cb func(types.Message)) {
	s.mu.Lock()
	s.onMessage = cb
	s.mu.Unlock()
}

func (s *Session) OnNewConversation(cb func(server.ConversationNotification)) {
	s.mu.Lock()
	s.onNewConversation = cb
	s.mu.Unlock()
}

func (s *Session) OnError(cb func(error)) {
	s.mu.Lock()
	s.onError = cb
	s.mu.Unlock()
}

func (s *Session) OnStateChange(cb func(State)) {
	s.mu.Lock()
	s.onStateChange = cb
	s.mu.Unlock()
}

// Connect dials the router with credential. Calling it while the session
// is connected or reconnecting does nothing.
func (s *Session) Connect(ctx context.Context, credential string) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	s.credential = credential
	cb := s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	notify(cb, StateConnecting)

	conn, err := s.dial(ctx, credential)

	s.mu.Lock()
	if s.state != StateConnecting {
		// disconnected while dialing
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrNotConnected
	}

	if err != nil {
		next := StateDisconnected
		if errors.Is(err, ErrUnauthorized) {
			next = StateFailed
		}
		cb = s.setStateLocked(next)
		s.mu.Unlock()
		notify(cb, next)
		return err
	}

	if s.cancel != nil {
		s.cancel()
	}
	sessionCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.conn = conn
	cb = s.setStateLocked(StateConnected)
	s.mu.Unlock()
	notify(cb, StateConnected)

	go s.read(sessionCtx, conn)
	return nil
}

// Disconnect closes the connection, stops any reconnect in progress and
// clears every registered callback.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateDisconnected
	s.onMessage = nil
	s.onNewConversation = nil
	s.onError = nil
	s.onStateChange = nil
	s.mu.Unlock()

	if conn != nil {
		s.wmu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		s.wmu.Unlock()
		conn.Close()
	}
}

// SendMessage writes a send_message frame and returns without waiting for
// the router's echo. The returned id matches the echo's frame id.
func (s *Session) SendMessage(recipientId, content, conversationId string) (int, error) {
	return s.write(func(msg *server.ClientMessage) {
		msg.SendMessage = &server.SendMessage{
			RecipientId:    recipientId,
			ConversationId: conversationId,
			Content:        content,
		}
	})
}

func (s *Session) NotifyNewConversation(recipientId string, conv types.Conversation) (int, error) {
	return s.write(func(msg *server.ClientMessage) {
		msg.NewConversation = &server.NewConversation{
			RecipientId:  recipientId,
			Conversation: &conv,
		}
	})
}

func (s *Session) write(fill func(*server.ClientMessage)) (int, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.state != StateConnected {
		s.mu.Unlock()
		return 0, ErrNotConnected
	}
	s.nextId++
	id := s.nextId
	s.mu.Unlock()

	msg := &server.ClientMessage{BaseMessage: server.BaseMessage{Id: id, Timestamp: server.Now()}}
	fill(msg)

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode frame: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, fmt.Errorf("write frame: %w", err)
	}

	return id, nil
}

func (s *Session) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	return conn, nil
}

func (s *Session) read(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("read loop ended", zap.Error(err))
			conn.Close()
			s.reconnect(ctx, conn)
			return
		}

		var msg server.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("invalid frame", zap.Error(err))
			continue
		}

		s.dispatch(&msg)
	}
}

func (s *Session) dispatch(msg *server.ServerMessage) {
	s.mu.Lock()
	onMessage, onNewConversation, onError := s.onMessage, s.onNewConversation, s.onError
	s.mu.Unlock()

	switch {
	case msg.ReceiveMessage != nil:
		if onMessage != nil {
			onMessage(*msg.ReceiveMessage)
		}
	case msg.NewConversation != nil:
		if onNewConversation != nil {
			onNewConversation(*msg.NewConversation)
		}
	case msg.Response != nil && msg.Response.ResponseCode >= http.StatusBadRequest:
		if onError != nil {
			onError(&ResponseError{Id: msg.Id, Code: msg.Response.ResponseCode, Message: msg.Response.Error})
		}
	}
}

func (s *Session) reconnect(ctx context.Context, dropped *websocket.Conn) {
	s.mu.Lock()
	if s.conn != dropped {
		// closed by Disconnect
		s.mu.Unlock()
		return
	}
	s.conn = nil
	credential := s.credential
	cb := s.setStateLocked(StateReconnecting)
	s.mu.Unlock()
	notify(cb, StateReconnecting)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, err := s.dial(ctx, credential)
		if errors.Is(err, ErrUnauthorized) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.MaxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Info("reconnect failed", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)

	s.mu.Lock()
	if ctx.Err() != nil || s.state != StateReconnecting {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		s.log.Warn("giving up reconnect", zap.Error(err))
		onError := s.onError
		cb = s.setStateLocked(StateFailed)
		s.mu.Unlock()
		notify(cb, StateFailed)
		if onError != nil {
			onError(fmt.Errorf("reconnect: %w", err))
		}
		return
	}

	s.conn = conn
	cb = s.setStateLocked(StateConnected)
	s.mu.Unlock()
	notify(cb, StateConnected)

	go s.read(ctx, conn)
}

func (s *Session) setStateLocked(state State) func(State) {
	s.state = state
	return s.onStateChange
}

func notify(cb func(State), state State) {
	if cb != nil {
		cb(state)
	}
}
