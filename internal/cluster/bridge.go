// Package cluster relays deliveries between processes over redis pub/sub so
// a recipient connected to another node still gets pushes.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "lendloop:deliveries"

type DeliverFunc func(userId string, payload []byte)

type envelope struct {
	Origin       string          `json:"origin"`
	TargetUserId string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type Bridge struct {
	rdb     *redis.Client
	pub     publisher
	channel string
	nodeId  string
	log     *zap.Logger
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

func NewBridge(rdb *redis.Client, logger *zap.Logger, channel string) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}

	b := &Bridge{
		rdb:     rdb,
		channel: channel,
		nodeId:  uuid.NewString(),
		log:     logger.Named("cluster"),
	}
	if rdb != nil {
		b.pub = rdb
	}
	b.log = b.log.With(zap.String("node_id", b.nodeId))

	return b
}

func (b *Bridge) NodeId() string {
	return b.nodeId
}

func (b *Bridge) Publish(ctx context.Context, userId string, payload []byte) error {
	data, err := json.Marshal(envelope{
		Origin:       b.nodeId,
		TargetUserId: userId,
		Message:      payload,
	})
	if err != nil {
		return err
	}

	return b.pub.Publish(ctx, b.channel, data).Err()
}

// Run delivers payloads published by other nodes until ctx is done.
func (b *Bridge) Run(ctx context.Context, deliver DeliverFunc) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.log.Info("relay subscribed", zap.String("channel", b.channel))
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg.Payload, deliver)
		}
	}
}

func (b *Bridge) handle(raw string, deliver DeliverFunc) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.log.Warn("invalid relay envelope", zap.Error(err))
		return
	}

	if env.Origin == b.nodeId || env.TargetUserId == "" {
		return
	}

	deliver(env.TargetUserId, env.Message)
}
