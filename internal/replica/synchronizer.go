package replica

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/streaks/internal/codec"
	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/timers"
	"github.com/fentz26/streaks/internal/transport"
	"github.com/google/uuid"
)

// State is the synchronizer lifecycle.
type State int

const (
	Inactive State = iota
	Activating
	Active
)

func (s State) String() string {
	switch s {
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return "inactive"
	}
}

// Store is the part of the timer store the synchronizer needs.
type Store interface {
	Subscribe() <-chan timers.Change
	Snapshot() models.Snapshot
	Apply(fn func(local models.Snapshot) models.Snapshot) bool
}

// Status is a point-in-time view for the control plane.
type Status struct {
	ReplicaID       string    `json:"replica_id"`
	State           string    `json:"state"`
	Reachable       bool      `json:"reachable"`
	Pending         bool      `json:"pending"`
	GuaranteedSent  uint64    `json:"guaranteed_sent"`
	InstantSent     uint64    `json:"instant_sent"`
	InstantFailed   uint64    `json:"instant_failed"`
	Merges          uint64    `json:"merges"`
	DecodeDrops     uint64    `json:"decode_drops"`
	PendingReplaced uint64    `json:"pending_replaced"`
	LastInbound     time.Time `json:"last_inbound,omitempty"`
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithReplicaID sets the id stamped on outgoing envelopes. Inbound
// envelopes carrying the same id are ignored.
func WithReplicaID(id string) Option {
	return func(s *Synchronizer) { s.id = id }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.log = l }
}

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithRebroadcast toggles sending the merged snapshot back when it holds
// records the peer lacks. Enabled by default.
func WithRebroadcast(on bool) Option {
	return func(s *Synchronizer) { s.rebroadcast = on }
}

// WithInstantTimeout bounds a single instant send.
func WithInstantTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.instantTimeout = d }
}

// Synchronizer pushes local changes to the peer and merges what the peer
// sends back. All of its work happens on the goroutine running Run.
type Synchronizer struct {
	store          Store
	tr             transport.Transport
	changes        <-chan timers.Change
	id             string
	log            *slog.Logger
	now            func() time.Time
	rebroadcast    bool
	instantTimeout time.Duration

	mu        sync.Mutex
	state     State
	reachable bool
	pending   models.Snapshot
	st        Status
}

// New creates a Synchronizer and subscribes it to store. Changes made
// before Run starts are held in the pending slot.
func New(store Store, tr transport.Transport, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:          store,
		tr:             tr,
		id:             uuid.NewString(),
		log:            slog.Default(),
		now:            time.Now,
		rebroadcast:    true,
		instantTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "replica", "replica", s.id)
	s.changes = store.Subscribe()
	return s
}

// ID returns the replica id.
func (s *Synchronizer) ID() string {
	return s.id
}

// Status returns counters and state.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.st
	out.ReplicaID = s.id
	out.State = s.state.String()
	out.Reachable = s.reachable
	out.Pending = s.pending != nil
	return out
}

// Run requests activation and then processes store changes and transport
// events until ctx ends or the transport closes its event channel.
func (s *Synchronizer) Run(ctx context.Context) error {
	// Announce the loaded state once the transport is up, so a peer that
	// missed changes while this replica was down catches up.
	if snap := s.store.Snapshot(); len(snap) > 0 {
		s.mu.Lock()
		if s.pending == nil {
			s.pending = snap
		}
		s.mu.Unlock()
	}

	s.setState(Activating)
	if err := s.tr.Activate(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.reachable = s.tr.Reachable()
	s.mu.Unlock()
	s.log.Info("synchronizer started")

	events := s.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.changes:
			s.onChange(ctx, c)
		case ev, ok := <-events:
			if !ok {
				s.log.Info("transport closed")
				return nil
			}
			s.onEvent(ctx, ev)
		}
	}
}

func (s *Synchronizer) onChange(ctx context.Context, c timers.Change) {
	// Merges are answered by the rebroadcast rule, never echoed blindly.
	if c.Origin == timers.OriginMerge {
		return
	}
	s.push(ctx, c.Snapshot)
}

func (s *Synchronizer) onEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.ActivationCompleted:
		s.log.Info("activation completed")
		s.setState(Active)
		s.flush(ctx)
	case transport.ReachabilityChanged:
		s.mu.Lock()
		s.reachable = ev.Reachable
		s.mu.Unlock()
		if ev.Reachable {
			reachableGauge.Set(1)
		} else {
			reachableGauge.Set(0)
		}
		s.log.Info("peer reachability changed", "reachable", ev.Reachable)
		if ev.Reachable {
			s.flush(ctx)
		}
	case transport.InstantMessage:
		msg, err := codec.Decode(ev.Payload)
		if err != nil {
			ev.Respond(codec.Ack(s.id, codec.AckDecodeFailed))
			s.dropMalformed("instant", err)
			return
		}
		ev.Respond(codec.Ack(s.id, codec.AckReceived))
		s.receive(ctx, "instant", msg)
	case transport.GuaranteedState:
		msg, err := codec.Decode(ev.Payload)
		if err != nil {
			s.dropMalformed("guaranteed", err)
			return
		}
		s.receive(ctx, "guaranteed", msg)
	default:
		s.log.Debug("ignoring transport event", "kind", ev.Kind.String(), "error", ev.Err)
	}
}

// push delivers snap now when active, otherwise parks it in the pending
// slot, replacing whatever was there.
func (s *Synchronizer) push(ctx context.Context, snap models.Snapshot) {
	s.mu.Lock()
	if s.state != Active {
		if s.pending != nil {
			s.st.PendingReplaced++
			pendingReplacedTotal.Inc()
		}
		s.pending = snap
		s.mu.Unlock()
		s.log.Debug("transport not active, snapshot pending", "timers", len(snap))
		return
	}
	s.mu.Unlock()
	s.deliver(ctx, snap)
}

func (s *Synchronizer) flush(ctx context.Context) {
	s.mu.Lock()
	if s.state != Active || s.pending == nil {
		s.mu.Unlock()
		return
	}
	snap := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.log.Debug("flushing pending snapshot", "timers", len(snap))
	s.deliver(ctx, snap)
}

// deliver always publishes on the guaranteed channel and also tries the
// instant channel while the peer is reachable. Failures are logged and
// counted, never returned.
func (s *Synchronizer) deliver(ctx context.Context, snap models.Snapshot) {
	data, err := codec.Encode(s.id, snap, s.now())
	if err != nil {
		s.log.Error("encode snapshot failed", "error", err)
		pushesTotal.WithLabelValues("guaranteed", "encode_error").Inc()
		return
	}

	if err := s.tr.PublishGuaranteed(ctx, data); err != nil {
		s.log.Error("guaranteed publish failed", "error", err)
		pushesTotal.WithLabelValues("guaranteed", "error").Inc()
	} else {
		pushesTotal.WithLabelValues("guaranteed", "ok").Inc()
		s.count(func(st *Status) { st.GuaranteedSent++ })
	}

	if !s.tr.Reachable() {
		return
	}
	ictx, cancel := context.WithTimeout(ctx, s.instantTimeout)
	defer cancel()
	if err := s.tr.SendInstant(ictx, data); err != nil {
		result := "error"
		if errors.Is(err, transport.ErrUnreachable) {
			result = "unreachable"
		}
		s.log.Warn("instant send failed, relying on guaranteed channel", "error", err)
		pushesTotal.WithLabelValues("instant", result).Inc()
		s.count(func(st *Status) { st.InstantFailed++ })
		return
	}
	pushesTotal.WithLabelValues("instant", "ok").Inc()
	s.count(func(st *Status) { st.InstantSent++ })
}

func (s *Synchronizer) receive(ctx context.Context, channel string, msg *codec.Message) {
	if msg.Kind != codec.KindSnapshot {
		s.log.Debug("peer reply", "channel", channel, "response", msg.Response)
		inboundTotal.WithLabelValues(channel, "ack").Inc()
		return
	}
	if msg.Replica == s.id {
		inboundTotal.WithLabelValues(channel, "own").Inc()
		return
	}

	var stats MergeStats
	changed := s.store.Apply(func(local models.Snapshot) models.Snapshot {
		merged, st := Merge(local, msg.Snapshot)
		stats = st
		return merged
	})
	observeMerge(stats)
	inboundTotal.WithLabelValues(channel, "merged").Inc()
	s.count(func(st *Status) {
		st.Merges++
		st.LastInbound = s.now()
	})
	s.log.Info("merged peer snapshot",
		"channel", channel,
		"peer", msg.Replica,
		"changed", changed,
		"adopted", stats.Adopted,
		"kept_newer", stats.KeptLocalNewer,
		"ties", stats.KeptLocalTie,
		"local_only", stats.LocalOnly,
	)

	if s.rebroadcast && stats.ShouldRebroadcast() {
		s.push(ctx, s.store.Snapshot())
	}
}

func (s *Synchronizer) dropMalformed(channel string, err error) {
	s.log.Warn("dropping malformed peer payload", "channel", channel, "error", err)
	inboundTotal.WithLabelValues(channel, "decode_error").Inc()
	s.count(func(st *Status) { st.DecodeDrops++ })
}

func (s *Synchronizer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	stateGauge.Set(float64(st))
}

func (s *Synchronizer) count(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.st)
	s.mu.Unlock()
}
