package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/model"
)

// ErrNavigatorRunning is returned by a second call to Run.
var ErrNavigatorRunning = errors.New("service/navigator: already running")

// Decision is the route the navigator picked for one auth-state event.
type Decision struct {
	UserID string              `json:"user_id"`
	Event  authstate.EventType `json:"event"`
	Route  model.Route         `json:"route"`
	At     time.Time           `json:"at"`
}

// Navigator is the single consumer of the auth-state stream. It resolves every
// event to a route and remembers the latest decision per user.
type Navigator struct {
	bus      authstate.Bus
	resolver *SessionResolver
	logger   *slog.Logger

	running   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.RWMutex
	latest map[string]Decision
}

func NewNavigator(bus authstate.Bus, resolver *SessionResolver, logger *slog.Logger) *Navigator {
	return &Navigator{
		bus:      bus,
		resolver: resolver,
		logger:   logger,
		latest:   make(map[string]Decision),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed. Events published before that are
// not seen.
func (n *Navigator) Ready() <-chan struct{} {
	return n.ready
}

// Run subscribes and blocks until ctx is done or the bus closes the stream.
// Cancelling ctx is how the subscription is released.
func (n *Navigator) Run(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrNavigatorRunning
	}
	defer n.running.Store(false)

	events, err := n.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("service/navigator: subscribing: %w", err)
	}
	n.readyOnce.Do(func() { close(n.ready) })
	n.logger.Info("navigator subscribed to auth-state events")

	for ev := range events {
		n.handle(ctx, ev)
	}

	n.logger.Info("navigator stopped")
	return nil
}

func (n *Navigator) handle(ctx context.Context, ev authstate.Event) {
	if ev.UserID == "" {
		return
	}

	d := Decision{
		UserID: ev.UserID,
		Event:  ev.Type,
		Route:  n.resolver.ResolveEvent(ctx, ev),
		At:     time.Now(),
	}

	n.mu.Lock()
	n.latest[ev.UserID] = d
	n.mu.Unlock()

	n.logger.Debug("route decided",
		slog.String("userID", d.UserID),
		slog.String("event", string(d.Event)),
		slog.String("route", string(d.Route)),
	)
}

// Latest returns the last decision made for userID.
func (n *Navigator) Latest(userID string) (Decision, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d, ok := n.latest[userID]
	return d, ok
}
