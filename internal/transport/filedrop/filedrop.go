// Package filedrop is a guaranteed-only transport over a shared directory,
// such as a folder kept in step by a file sync tool. Each replica owns one
// file, <replica>.state, and watches the directory for the others.
package filedrop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fentz26/streaks/internal/transport"
	"github.com/fsnotify/fsnotify"
)

const stateExt = ".state"

// Config configures a Transport.
type Config struct {
	Dir       string
	ReplicaID string
	Logger    *slog.Logger
}

// Transport publishes by atomically replacing its own state file. It has
// no instant channel and is never reachable.
type Transport struct {
	dir  string
	own  string
	log  *slog.Logger
	mu   sync.Mutex
	st   transport.ActivationState
	w    *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	emitMu       sync.RWMutex
	eventsClosed bool
	events       chan transport.Event
	closed       bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a Transport for cfg.ReplicaID.
func New(cfg Config) (*Transport, error) {
	if cfg.Dir == "" || cfg.ReplicaID == "" {
		return nil, fmt.Errorf("filedrop: dir and replica id are required")
	}
	if strings.ContainsAny(cfg.ReplicaID, `/\`) {
		return nil, fmt.Errorf("filedrop: invalid replica id %q", cfg.ReplicaID)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		dir:    cfg.Dir,
		own:    cfg.ReplicaID + stateExt,
		log:    log.With("component", "filedrop"),
		events: make(chan transport.Event, 64),
		done:   make(chan struct{}),
	}, nil
}

// Activate creates the directory, starts watching it and replays any peer
// state already present.
func (t *Transport) Activate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.st != transport.NotActivated {
		return nil
	}
	t.st = transport.Activating

	if err := os.MkdirAll(t.dir, 0700); err != nil {
		t.st = transport.NotActivated
		return fmt.Errorf("create drop directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.st = transport.NotActivated
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(t.dir); err != nil {
		w.Close()
		t.st = transport.NotActivated
		return fmt.Errorf("watch %s: %w", t.dir, err)
	}
	t.w = w
	t.st = transport.Activated

	t.wg.Add(1)
	go t.run()
	return nil
}

func (t *Transport) run() {
	defer t.wg.Done()
	t.emit(transport.Event{Kind: transport.ActivationCompleted})
	t.replay()

	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-t.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if t.isPeerFile(ev.Name) {
				t.deliver(ev.Name)
			}
		case err, ok := <-t.w.Errors:
			if !ok {
				return
			}
			t.log.Warn("watcher error", "error", err)
		}
	}
}

func (t *Transport) replay() {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		t.log.Warn("read drop directory", "error", err)
		return
	}
	for _, e := range entries {
		path := filepath.Join(t.dir, e.Name())
		if !e.IsDir() && t.isPeerFile(path) {
			t.deliver(path)
		}
	}
}

func (t *Transport) isPeerFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, stateExt) && !strings.HasPrefix(name, ".") && name != t.own
}

func (t *Transport) deliver(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Renamed away or not fully synced yet; a later event will follow.
		t.log.Debug("read peer state", "path", path, "error", err)
		return
	}
	if len(data) == 0 {
		return
	}
	t.emit(transport.Event{Kind: transport.GuaranteedState, Payload: data})
}

func (t *Transport) State() transport.ActivationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// Reachable is always false.
func (t *Transport) Reachable() bool { return false }

// SendInstant always fails with ErrUnreachable.
func (t *Transport) SendInstant(ctx context.Context, payload []byte) error {
	return transport.ErrUnreachable
}

// PublishGuaranteed replaces this replica's state file via temp file and
// rename, so readers never see a partial write.
func (t *Transport) PublishGuaranteed(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(t.dir, 0700); err != nil {
		return fmt.Errorf("create drop directory: %w", err)
	}
	tmp, err := os.CreateTemp(t.dir, "."+t.own+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(t.dir, t.own)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Close stops the watcher and closes Events.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	w := t.w
	t.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	t.wg.Wait()

	t.emitMu.Lock()
	t.eventsClosed = true
	close(t.events)
	t.emitMu.Unlock()
	return err
}

func (t *Transport) emit(ev transport.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.eventsClosed {
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
	}
}
