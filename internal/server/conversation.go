package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lendloop/realtime/internal/database"
	"go.uber.org/zap"
)

const (
	conversationQueueSize = 256
	persistTimeout        = 5 * time.Second
)

// conversationWorker serializes appends for one conversation: each message
// is durable before anyone is told about it, and deliveries leave in
// persistence order.
type conversationWorker struct {
	id          string
	conv        database.Conversation
	cs          *ChatServer
	sendChan    chan *ClientMessage
	log         *zap.Logger
	idleTimeout time.Duration
	// killTimer unloads the worker once the conversation goes quiet
	killTimer *time.Timer
	exit      chan struct{}
	done      chan struct{}
}

func newConversationWorker(cs *ChatServer, conv database.Conversation) *conversationWorker {
	return &conversationWorker{
		id:          conv.Id,
		conv:        conv,
		cs:          cs,
		sendChan:    make(chan *ClientMessage, conversationQueueSize),
		log:         cs.log.With(zap.String("conversation_id", conv.Id)),
		idleTimeout: cs.idleTimeout,
		exit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (w *conversationWorker) start() {
	w.log.Debug("starting conversation")
	w.killTimer = time.NewTimer(w.idleTimeout)
	defer func() {
		w.killTimer.Stop()
		close(w.done)
		w.log.Debug("conversation exited")
	}()

	for {
		select {
		case msg := <-w.sendChan:
			w.saveAndDeliver(msg)
			w.killTimer.Reset(w.idleTimeout)
		case <-w.killTimer.C:
			w.log.Debug("conversation idle")
			select {
			case w.cs.unloadChan <- w.id:
				<-w.exit
			case <-w.exit:
			}
			w.drain()
			return
		case <-w.exit:
			w.drain()
			return
		}
	}
}

// drain persists whatever was accepted before the worker was told to exit.
func (w *conversationWorker) drain() {
	for {
		select {
		case msg := <-w.sendChan:
			w.saveAndDeliver(msg)
		default:
			return
		}
	}
}

func (w *conversationWorker) checkMembership(senderId, recipientId string) error {
	if !w.conv.HasParticipant(senderId) || w.conv.Peer(senderId) != recipientId {
		return fmt.Errorf("%w: %s -> %s in %s", ErrNotParticipant, senderId, recipientId, w.id)
	}
	return nil
}

func (w *conversationWorker) saveAndDeliver(msg *ClientMessage) {
	sm := msg.SendMessage
	sender := msg.client.user

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	dbMsg, err := w.cs.db.CreateMessage(ctx, database.CreateMessageParams{
		ConversationId: w.id,
		SenderId:       sender.Id,
		SenderName:     sender.DisplayName,
		Content:        sm.Content,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			msg.client.queueMessage(ErrNotFound(msg.Id))
			return
		}

		w.log.Error("error saving message", zap.Error(err))
		msg.client.queueMessage(errorMessage(msg.Id, fmt.Errorf("%w: %v", ErrPersistence, err)))
		return
	}

	w.cs.stats.Incr(metricMessagesPersisted)
	w.conv.SeqId = dbMsg.SeqId

	pub := dbMsg.Public()
	if n := w.cs.deliver(sm.RecipientId, receiveMessage(0, pub), nil); n == 0 {
		w.cs.stats.Incr(metricDeliveryMisses)
		w.log.Debug("recipient not connected", zap.String("recipient_id", sm.RecipientId))
	}

	// the sender's other tabs, then the originating connection with its frame id
	w.cs.deliver(sender.Id, receiveMessage(0, pub), msg.client)
	msg.client.queueMessage(receiveMessage(msg.Id, pub))
}
