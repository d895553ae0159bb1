package authstate

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// events to it are dropped.
const subscriberBuffer = 64

// MemoryBus is an in-process Bus for single-instance deployments and tests.
type MemoryBus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{logger: logger, subs: make(map[int]chan Event)}
}

// Publish never blocks. A subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("auth-state subscriber is full, dropping event",
				slog.Int("subscriber", id),
				slog.String("type", string(ev.Type)),
			)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, nil
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}()

	return ch, nil
}

// Close closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	b.closed = true
	return nil
}
