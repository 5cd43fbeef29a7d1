package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fentz26/streaks/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	saveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_persist_saves_total",
		Help: "Snapshot saves by result",
	}, []string{"result"})

	loadFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streaks_persist_load_fallback_total",
		Help: "Startup loads that fell back to an empty snapshot",
	})
)

// Adapter is a durable single-slot home for one replica's snapshot. Save
// must be atomic: a later Load sees either the previous or the new snapshot
// in full.
type Adapter interface {
	Save(ctx context.Context, snap models.Snapshot) error
	Load(ctx context.Context) (models.Snapshot, error)
	Close() error
}

// LoadOrEmpty loads the stored snapshot, falling back to an empty one when
// nothing usable is stored. Errors are logged, never returned.
func LoadOrEmpty(ctx context.Context, a Adapter, log *slog.Logger) models.Snapshot {
	snap, err := a.Load(ctx)
	if err != nil {
		log.Error("load snapshot failed, starting empty", "error", err)
		loadFallbackTotal.Inc()
		return models.Snapshot{}
	}
	if snap == nil {
		return models.Snapshot{}
	}
	log.Info("loaded snapshot", "timers", len(snap))
	return snap
}

// Saver writes snapshots in the background. It holds at most one pending
// snapshot: a newer Submit replaces an unwritten older one, so the writer
// never falls behind and the latest state always wins.
type Saver struct {
	adapter Adapter
	log     *slog.Logger

	mu      sync.Mutex
	pending models.Snapshot
	wake    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewSaver starts the background writer.
func NewSaver(a Adapter, log *slog.Logger) *Saver {
	sv := &Saver{
		adapter: a,
		log:     log,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go sv.loop()
	return sv
}

// Submit queues snap for saving and returns immediately. It is safe to
// call concurrently with Close.
func (sv *Saver) Submit(snap models.Snapshot) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.closed {
		return
	}
	sv.pending = snap

	// wake is closed under mu, so the send must stay under it too.
	select {
	case sv.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting snapshots, writes the last pending one, and waits
// for the writer to exit or ctx to end.
func (sv *Saver) Close(ctx context.Context) error {
	sv.mu.Lock()
	if !sv.closed {
		sv.closed = true
		close(sv.wake)
	}
	sv.mu.Unlock()

	select {
	case <-sv.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sv *Saver) loop() {
	defer close(sv.done)
	for range sv.wake {
		sv.flush()
	}
	sv.flush()
}

func (sv *Saver) flush() {
	sv.mu.Lock()
	snap := sv.pending
	sv.pending = nil
	sv.mu.Unlock()

	if snap == nil {
		return
	}
	if err := sv.adapter.Save(context.Background(), snap); err != nil {
		saveTotal.WithLabelValues("error").Inc()
		sv.log.Error("save snapshot failed", "error", err, "timers", len(snap))
		return
	}
	saveTotal.WithLabelValues("ok").Inc()
	sv.log.Debug("saved snapshot", "timers", len(snap))
}
