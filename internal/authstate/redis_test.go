package authstate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowex/knowex-api/internal/model"
)

// newTestRedisBus connects to REDIS_ADDR on a channel unique to the test.
func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	bus, err := NewRedisBus(context.Background(), addr, "knowex:test:"+xid.New().String(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestNewRedisBus_MissingAddr(t *testing.T) {
	_, err := NewRedisBus(context.Background(), "", "", discardLogger())
	assert.Error(t, err)
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	session := model.Session{AccessToken: "secret", User: model.Account{ID: "u-1", Email: "ada@example.com"}}
	require.NoError(t, bus.Publish(ctx, NewSignedIn(session)))
	require.NoError(t, bus.Publish(ctx, NewSignedOut("u-1")))

	for _, ch := range []<-chan Event{first, second} {
		in := receive(t, ch)
		assert.Equal(t, SignedIn, in.Type)
		assert.Equal(t, "u-1", in.UserID)
		require.NotNil(t, in.Session)
		assert.Empty(t, in.Session.AccessToken)
		assert.Equal(t, "ada@example.com", in.Session.User.Email)

		out := receive(t, ch)
		assert.Equal(t, SignedOut, out.Type)
		assert.Nil(t, out.Session)
	}
}

func TestRedisBus_UnsubscribeOnCancel(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close after cancel")
	}

	// Publishing with no subscribers left still succeeds.
	assert.NoError(t, bus.Publish(context.Background(), NewSignedOut("u-1")))
}
