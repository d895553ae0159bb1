package authstate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowex/knowex-api/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNewSignedIn_StripsToken(t *testing.T) {
	s := model.Session{AccessToken: "secret", User: model.Account{ID: "u-1"}}

	ev := NewSignedIn(s)

	assert.Equal(t, SignedIn, ev.Type)
	assert.Equal(t, "u-1", ev.UserID)
	require.NotNil(t, ev.Session)
	assert.Empty(t, ev.Session.AccessToken)
	assert.Equal(t, "secret", s.AccessToken, "caller's session must not change")
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewSignedOut("u-1")))

	assert.Equal(t, SignedOut, receive(t, a).Type)
	assert.Equal(t, SignedOut, receive(t, b).Type)
}

func TestMemoryBus_UnsubscribeOnCancel(t *testing.T) {
	bus := NewMemoryBus(discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after the subscriber left must not panic.
	assert.NoError(t, bus.Publish(context.Background(), NewSignedOut("u-1")))
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(discardLogger())

	ch, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok)

	late, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus yields a closed channel")
}

func TestEventCodec(t *testing.T) {
	in := NewSignedIn(model.Session{User: model.Account{
		ID:       "u-1",
		Metadata: model.AccountMetadata{Onboarded: model.Bool(false)},
	}})

	raw, err := encodeEvent(in)
	require.NoError(t, err)

	out, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, SignedIn, out.Type)
	require.NotNil(t, out.Session)
	require.NotNil(t, out.Session.User.Metadata.Onboarded)
	assert.False(t, *out.Session.User.Metadata.Onboarded)

	_, err = decodeEvent([]byte(`{"type":"EXPLODED"}`))
	assert.Error(t, err)
	_, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)
}
