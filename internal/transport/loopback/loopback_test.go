package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/fentz26/streaks/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, e *Endpoint) transport.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return transport.Event{}
	}
}

func TestInstantRequiresReachable(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	assert.ErrorIs(t, a.SendInstant(ctx, []byte("x")), transport.ErrUnreachable)

	a.SetReachable(true)
	assert.True(t, next(t, a).Reachable)
	assert.True(t, next(t, b).Reachable)

	require.NoError(t, a.SendInstant(ctx, []byte("hello")))
	ev := next(t, b)
	require.Equal(t, transport.InstantMessage, ev.Kind)
	assert.Equal(t, "hello", string(ev.Payload))

	ev.Respond([]byte("ack"))
	require.Len(t, a.Replies(), 1)
	assert.Equal(t, "ack", string(a.Replies()[0]))
}

func TestGuaranteedWaitsForPeerActivation(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, a.PublishGuaranteed(ctx, []byte("v1")))
	require.NoError(t, a.PublishGuaranteed(ctx, []byte("v2")))
	assert.Equal(t, "v2", string(a.Pending()))

	require.NoError(t, b.Activate(ctx))
	assert.Equal(t, transport.Activating, b.State())
	b.CompleteActivation()

	assert.Equal(t, transport.ActivationCompleted, next(t, b).Kind)
	ev := next(t, b)
	require.Equal(t, transport.GuaranteedState, ev.Kind)
	assert.Equal(t, "v2", string(ev.Payload))
	assert.Nil(t, a.Pending())

	select {
	case ev := <-b.Events():
		t.Fatalf("unexpected extra event %v", ev.Kind)
	default:
	}
}

func TestHoldGuaranteed(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()
	ctx := context.Background()
	b.CompleteActivation()
	next(t, b)

	a.HoldGuaranteed(true)
	require.NoError(t, a.PublishGuaranteed(ctx, []byte("held")))
	assert.Equal(t, "held", string(a.Pending()))

	a.HoldGuaranteed(false)
	ev := next(t, b)
	assert.Equal(t, "held", string(ev.Payload))
}

func TestClosedEndpoint(t *testing.T) {
	a, b := Pair()
	defer b.Close()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.PublishGuaranteed(context.Background(), nil), transport.ErrClosed)
	assert.ErrorIs(t, a.Activate(context.Background()), transport.ErrClosed)
	_, ok := <-a.Events()
	assert.False(t, ok)
}
