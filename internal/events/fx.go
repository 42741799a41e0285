package events

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chamomilehq/chamomile/internal/config"
)

var Module = fx.Module("events",
	fx.Provide(
		NewHub,
		newBus,
	),
)

// newBus wires the local hub directly when no Redis address is configured,
// and a Redis-backed relay when one is.
func newBus(lc fx.Lifecycle, cfg config.Config, hub *Hub, log *zap.Logger) Bus {
	if cfg.RedisAddr == "" {
		return hub
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	bridge := NewRedisBridge(hub, client, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return err
			}
			return bridge.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := bridge.Stop(ctx); err != nil {
				return err
			}
			return client.Close()
		},
	})
	return bridge
}
