package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const changeChannel = "chamomile:changes"

// RedisBridge relays change events across replicas through a Redis pub/sub
// channel. Published events go to Redis only; the background subscriber feeds
// every message, including this replica's own, into the local hub so each
// event reaches local subscribers exactly once.
type RedisBridge struct {
	hub    *Hub
	client *redis.Client
	log    *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisBridge(hub *Hub, client *redis.Client, log *zap.Logger) *RedisBridge {
	return &RedisBridge{
		hub:    hub,
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}
}

func (b *RedisBridge) Publish(event ChangeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("change event marshal failed", zap.Error(err))
		return
	}
	if err := b.client.Publish(context.Background(), changeChannel, payload).Err(); err != nil {
		b.log.Warn("change event publish failed", zap.Error(err))
		// Fall back to local delivery so this replica's dashboards still move.
		b.hub.Publish(event)
	}
}

func (b *RedisBridge) Subscribe(userID string) (*Subscription, []ChangeEvent, error) {
	return b.hub.Subscribe(userID)
}

// Start begins the relay loop. It returns once the subscription is
// established so callers can treat a failed connect as a startup error.
func (b *RedisBridge) Start(ctx context.Context) error {
	if b.client == nil {
		return errors.New("redis client not configured")
	}
	sub := b.client.Subscribe(context.Background(), changeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	go func() {
		defer close(b.done)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-loopCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("change event decode failed", zap.Error(err))
					continue
				}
				b.hub.Publish(event)
			}
		}
	}()
	return nil
}

func (b *RedisBridge) Stop(ctx context.Context) error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
