package out

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "livedoc:"

// RedisFanout publishes room traffic on one Redis channel per room.
type RedisFanout struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
}

func NewRedisFanout(ctx context.Context, addr string) (*RedisFanout, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisFanout{rdb: rdb}, nil
}

func (f *RedisFanout) Publish(ctx context.Context, room string, payload []byte) error {
	return f.rdb.Publish(ctx, channelPrefix+room, payload).Err()
}

// Subscribe delivers every room message until ctx ends or Close is called.
func (f *RedisFanout) Subscribe(ctx context.Context, deliver func(room string, payload []byte)) error {
	f.pubsub = f.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := f.pubsub.Receive(ctx); err != nil {
		_ = f.pubsub.Close()
		return fmt.Errorf("subscribe redis: %w", err)
	}
	ch := f.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				slog.Debug("fanout received", "channel", msg.Channel)
				deliver(strings.TrimPrefix(msg.Channel, channelPrefix), []byte(msg.Payload))
			}
		}
	}()
	return nil
}

func (f *RedisFanout) Close() error {
	if f.pubsub != nil {
		_ = f.pubsub.Close()
	}
	return f.rdb.Close()
}
