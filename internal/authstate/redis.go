package authstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus shares auth-state events between API instances over a redis
// pub/sub channel.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus connects to addr and pings it.
func NewRedisBus(ctx context.Context, addr, channel string, logger *slog.Logger) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("authstate: missing redis address")
	}
	if channel == "" {
		channel = "knowex:auth-state"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("authstate: redis ping: %w", err)
	}

	return &RedisBus{rdb: rdb, channel: channel, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	raw, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("authstate: publishing %s: %w", ev.Type, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.rdb.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("authstate: redis subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("bad auth-state payload", slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func encodeEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("authstate: encoding event: %w", err)
	}
	return raw, nil
}

func decodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("authstate: decoding event: %w", err)
	}
	if ev.Type != SignedIn && ev.Type != SignedOut {
		return Event{}, fmt.Errorf("authstate: unknown event type %q", ev.Type)
	}
	return ev, nil
}
