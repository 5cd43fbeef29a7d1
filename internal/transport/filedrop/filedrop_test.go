package filedrop

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/streaks/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTransport(t *testing.T, dir, id string) *Transport {
	t.Helper()
	tr, err := New(Config{Dir: dir, ReplicaID: id, Logger: quiet()})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func waitState(t *testing.T, tr *Transport, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-tr.Events():
			require.True(t, ok)
			if ev.Kind == transport.GuaranteedState && string(ev.Payload) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestPublishReachesPeer(t *testing.T) {
	dir := t.TempDir()
	a := newTransport(t, dir, "phone")
	b := newTransport(t, dir, "watch")
	ctx := context.Background()

	require.NoError(t, b.Activate(ctx))
	require.NoError(t, a.PublishGuaranteed(ctx, []byte("v1")))
	waitState(t, b, "v1")

	require.NoError(t, a.PublishGuaranteed(ctx, []byte("v2")))
	waitState(t, b, "v2")

	data, err := os.ReadFile(filepath.Join(dir, "phone.state"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestActivateReplaysExistingPeerState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phone.state"), []byte("old"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "watch.state"), []byte("mine"), 0600))

	b := newTransport(t, dir, "watch")
	require.NoError(t, b.Activate(context.Background()))

	first := <-b.Events()
	assert.Equal(t, transport.ActivationCompleted, first.Kind)
	waitState(t, b, "old")
	assert.Equal(t, transport.Activated, b.State())
}

func TestNeverReachable(t *testing.T) {
	tr := newTransport(t, t.TempDir(), "phone")
	assert.False(t, tr.Reachable())
	assert.ErrorIs(t, tr.SendInstant(context.Background(), []byte("x")), transport.ErrUnreachable)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	assert.Error(t, err)
	_, err = New(Config{Dir: t.TempDir(), ReplicaID: "../x"})
	assert.Error(t, err)
}
