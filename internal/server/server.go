package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/lendloop/realtime/internal/database"
	"github.com/lendloop/realtime/internal/presence"
	"github.com/lendloop/realtime/internal/stats"
	"github.com/lendloop/realtime/internal/types"
	"go.uber.org/zap"
)

const (
	metricActiveClients       = "active_clients"
	metricActiveConversations = "active_conversations"
	metricMessagesPersisted   = "messages_persisted"
	metricDeliveryMisses      = "delivery_misses"

	defaultIdleTimeout = 30 * time.Second
	relayTimeout       = 2 * time.Second
)

// Relay forwards deliveries to other processes. Implementations must not
// hand a payload back to the node that published it.
type Relay interface {
	Publish(ctx context.Context, userId string, payload []byte) error
}

type Options struct {
	IdleTimeout    time.Duration
	AllowedOrigins []string
	Relay          Relay
}

type stopReq struct {
	done chan struct{}
}

type ChatServer struct {
	log               *zap.Logger
	db                database.Repository
	stats             stats.StatsProvider
	registry          *presence.Registry[*Client]
	validate          *validator.Validate
	upgrader          websocket.Upgrader
	relay             Relay
	idleTimeout       time.Duration
	sendChan          chan *ClientMessage
	unloadChan        chan string
	stop              chan stopReq
	conversations     map[string]*conversationWorker
	conversationsLock sync.RWMutex
	// closed is set once Run has taken the stop request; submit refuses
	// new sends from then on
	closed     bool
	closedLock sync.RWMutex
}

func NewChatServer(logger *zap.Logger, db database.Repository, su stats.StatsProvider,
	registry *presence.Registry[*Client], opts Options) (*ChatServer, error) {
	if registry == nil {
		return nil, errors.New("presence registry is required")
	}

	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	cs := &ChatServer{
		log:           logger.Named("router"),
		db:            db,
		stats:         su,
		registry:      registry,
		validate:      newValidator(),
		relay:         opts.Relay,
		idleTimeout:   opts.IdleTimeout,
		sendChan:      make(chan *ClientMessage, 1024),
		unloadChan:    make(chan string, 64),
		stop:          make(chan stopReq),
		conversations: make(map[string]*conversationWorker),
	}

	allowed := opts.AllowedOrigins
	cs.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(allowed, origin)
		},
	}

	cs.stats.RegisterMetric(metricActiveClients)
	cs.stats.RegisterMetric(metricActiveConversations)
	cs.stats.RegisterCounter(metricMessagesPersisted)
	cs.stats.RegisterCounter(metricDeliveryMisses)

	return cs, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case msg := <-cs.sendChan:
			cs.route(msg)
		case id := <-cs.unloadChan:
			cs.unloadConversation(id)
		case req := <-cs.stop:
			cs.closedLock.Lock()
			cs.closed = true
			cs.closedLock.Unlock()

			cs.log.Info("shutting down conversations")
			cs.routePending()
			cs.unloadAllConversations()
			close(req.done)
			return
		}
	}
}

// submit hands a validated send-message to the Run loop without blocking.
func (cs *ChatServer) submit(msg *ClientMessage) error {
	cs.closedLock.RLock()
	defer cs.closedLock.RUnlock()

	if cs.closed {
		return fmt.Errorf("%w: shutting down", ErrBusy)
	}

	select {
	case cs.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", ErrBusy)
	}
}

// routePending hands sends accepted before the stop to their workers so
// the unload that follows persists them.
func (cs *ChatServer) routePending() {
	for {
		select {
		case msg := <-cs.sendChan:
			cs.route(msg)
		default:
			return
		}
	}
}

func (cs *ChatServer) route(msg *ClientMessage) {
	sm := msg.SendMessage

	w, ok := cs.getConversation(sm.ConversationId)
	if !ok {
		conv, err := cs.loadConversation(sm.ConversationId)
		if err != nil {
			if !errors.Is(err, ErrConversationNotFound) {
				cs.log.Error("failed to load conversation",
					zap.String("conversation_id", sm.ConversationId), zap.Error(err))
			}
			msg.client.queueMessage(errorMessage(msg.Id, err))
			return
		}

		w = newConversationWorker(cs, conv)
		cs.addConversation(w)
		go w.start()
	}

	if err := w.checkMembership(msg.client.user.Id, sm.RecipientId); err != nil {
		cs.log.Warn("rejected message", zap.Error(err))
		msg.client.queueMessage(errorMessage(msg.Id, err))
		return
	}

	select {
	case w.sendChan <- msg:
	default:
		cs.log.Warn("conversation queue full", zap.String("conversation_id", w.id))
		msg.client.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (cs *ChatServer) loadConversation(id string) (database.Conversation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	conv, err := cs.db.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return database.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	return conv, nil
}

func (cs *ChatServer) addConversation(w *conversationWorker) {
	cs.conversationsLock.Lock()
	defer cs.conversationsLock.Unlock()

	cs.conversations[w.id] = w
	cs.stats.Incr(metricActiveConversations)
}

func (cs *ChatServer) getConversation(id string) (*conversationWorker, bool) {
	cs.conversationsLock.RLock()
	defer cs.conversationsLock.RUnlock()

	w, ok := cs.conversations[id]
	return w, ok
}

func (cs *ChatServer) removeConversation(id string) (*conversationWorker, bool) {
	cs.conversationsLock.Lock()
	defer cs.conversationsLock.Unlock()

	w, ok := cs.conversations[id]
	if ok {
		delete(cs.conversations, id)
		cs.stats.Decr(metricActiveConversations)
	}
	return w, ok
}

func (cs *ChatServer) unloadConversation(id string) {
	w, ok := cs.removeConversation(id)
	if !ok {
		return
	}

	close(w.exit)
	<-w.done
}

func (cs *ChatServer) unloadAllConversations() {
	cs.conversationsLock.RLock()
	ids := make([]string, 0, len(cs.conversations))
	for id := range cs.conversations {
		ids = append(ids, id)
	}
	cs.conversationsLock.RUnlock()

	for _, id := range ids {
		cs.unloadConversation(id)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.registry.Register(c.user.Id, c)
	cs.stats.Incr(metricActiveClients)
	cs.log.Debug("client registered", zap.String("user_id", c.user.Id))
}

func (cs *ChatServer) DeRegisterClient(c *Client) {
	last := cs.registry.Unregister(c.user.Id, c)
	cs.stats.Decr(metricActiveClients)
	cs.log.Debug("client deregistered", zap.String("user_id", c.user.Id), zap.Bool("offline", last))
}

// deliver pushes msg to every local handle of userId except skip and
// forwards it to the relay. It returns the number of local handles reached.
func (cs *ChatServer) deliver(userId string, msg *ServerMessage, skip *Client) int {
	n := cs.deliverLocal(userId, msg, skip)

	if cs.relay != nil {
		payload, err := serializeMessage(msg)
		if err != nil {
			cs.log.Error("failed to serialize relay message", zap.Error(err))
			return n
		}

		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		defer cancel()
		if err := cs.relay.Publish(ctx, userId, payload); err != nil {
			cs.log.Warn("relay publish failed", zap.String("user_id", userId), zap.Error(err))
		}
	}

	return n
}

func (cs *ChatServer) deliverLocal(userId string, msg *ServerMessage, skip *Client) int {
	n := 0
	for _, c := range cs.registry.Resolve(userId) {
		if c == skip {
			continue
		}
		if c.queueMessage(msg) {
			n++
		}
	}
	return n
}

// DeliverEncoded delivers a payload received from another node to the
// local handles of userId.
func (cs *ChatServer) DeliverEncoded(userId string, payload []byte) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		cs.log.Warn("invalid relay payload", zap.Error(err))
		return
	}

	cs.deliverLocal(userId, &msg, nil)
}

// NotifyNewConversation pushes a new-conversation event to the recipient's
// handles. Nothing is persisted.
func (cs *ChatServer) NotifyNewConversation(sender types.User, recipientId string, conv types.Conversation) int {
	return cs.deliver(recipientId, &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		NewConversation: &ConversationNotification{
			Sender:       sender,
			Conversation: conv,
		},
	}, nil)
}

// Present reports whether userId has a connection on this node.
func (cs *ChatServer) Present(userId string) bool {
	return cs.registry.Present(userId)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("received shutdown signal")
	for _, userId := range cs.registry.Users() {
		for _, c := range cs.registry.Resolve(userId) {
			c.stopClient()
		}
	}

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
