// Package timers holds the canonical title → record mapping for one replica
// and performs every business-rule mutation on it.
package timers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/streaks/internal/models"
)

// Outcome reports how a mutation was handled. The zero value means applied.
type Outcome string

const (
	Applied            Outcome = ""
	SkippedEmptyTitle  Outcome = "empty_title"
	SkippedNotFound    Outcome = "not_found"
	SkippedTitleExists Outcome = "title_exists"
	SkippedBadIndex    Outcome = "bad_index"
)

// OK reports whether the mutation changed the store.
func (o Outcome) OK() bool {
	return o == Applied
}

// Origin identifies what caused a store change.
type Origin int

const (
	// OriginLocal is a user mutation on this replica.
	OriginLocal Origin = iota
	// OriginMerge is the result of reconciling a peer snapshot.
	OriginMerge
)

func (o Origin) String() string {
	if o == OriginMerge {
		return "merge"
	}
	return "local"
}

// Change is delivered to subscribers after every applied mutation.
type Change struct {
	Origin   Origin
	Snapshot models.Snapshot
}

// PausedPolicy selects what Elapsed reports for a paused record.
type PausedPolicy int

const (
	// PausedSincePause reports the time since the pause instant.
	PausedSincePause PausedPolicy = iota
	// PausedZero reports zero for paused records.
	PausedZero
)

// Store is the single source of truth for one replica. All methods are safe
// for concurrent use; mutations and merges are serialized by one mutex so
// the LastUpdated bump and the field change are always atomic together.
type Store struct {
	mu      sync.Mutex
	records models.Snapshot
	subs    []chan Change

	now    func() time.Time
	log    *slog.Logger
	paused PausedPolicy
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithPausedPolicy sets how paused records report elapsed time.
func WithPausedPolicy(p PausedPolicy) Option {
	return func(s *Store) { s.paused = p }
}

// New creates a store seeded with initial, typically the snapshot returned
// by the persistence adapter at startup.
func New(initial models.Snapshot, opts ...Option) *Store {
	s := &Store{
		records: make(models.Snapshot, len(initial)),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for title, rec := range initial {
		s.records[title] = normalize(title, rec.Clone())
	}
	return s
}

// normalize fills defaults for records written by older versions.
func normalize(title string, rec models.TimerRecord) models.TimerRecord {
	if rec.Kind == "" {
		rec.Kind = models.KindTimer
	}
	if rec.State == "" {
		rec.State = models.StateRunning
	}
	rec.Title = title
	return rec
}

// Subscribe returns a channel that receives a Change after every applied
// mutation. The channel holds at most one pending change; a newer change
// replaces an unread one, so slow readers always see the latest state.
func (s *Store) Subscribe() <-chan Change {
	ch := make(chan Change, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// notify must be called with s.mu held.
func (s *Store) notify(origin Origin) {
	if len(s.subs) == 0 {
		return
	}
	c := Change{Origin: origin, Snapshot: s.records.Clone()}
	for _, ch := range s.subs {
		select {
		case ch <- c:
			continue
		default:
		}
		// A local change must not be hidden behind a later merge.
		next := c
		select {
		case old := <-ch:
			if old.Origin == OriginLocal {
				next.Origin = OriginLocal
			}
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}

// touch bumps LastUpdated so it is strictly greater than before, even if the
// wall clock stepped backwards.
func (s *Store) touch(rec *models.TimerRecord) {
	now := s.now()
	if !now.After(rec.LastUpdated) {
		now = rec.LastUpdated.Add(time.Nanosecond)
	}
	rec.LastUpdated = now
}

func (s *Store) skip(op, title string, why Outcome) Outcome {
	s.log.Warn("timer store no-op", "op", op, "title", title, "reason", string(why))
	noopTotal.WithLabelValues(op, string(why)).Inc()
	return why
}

func (s *Store) commit(op, title string, rec models.TimerRecord) Outcome {
	s.touch(&rec)
	s.records[title] = rec
	mutationsTotal.WithLabelValues(op).Inc()
	s.notify(OriginLocal)
	return Applied
}

// AddEntry creates a running timer. Empty titles and titles that already
// exist are rejected; an existing record is never overwritten.
func (s *Store) AddEntry(title string, start time.Time) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		return s.skip("add", title, SkippedEmptyTitle)
	}
	if _, ok := s.records[title]; ok {
		return s.skip("add", title, SkippedTitleExists)
	}
	rec := models.TimerRecord{
		Kind:      models.KindTimer,
		Title:     title,
		StartTime: start,
		State:     models.StateRunning,
		History:   []models.HistoryEntry{},
	}
	return s.commit("add", title, rec)
}

// ResetTimer closes the current interval at resetTime, records it in
// history with reason, and restarts the timer from resetTime. The run state
// is left as is.
func (s *Store) ResetTimer(title, reason string, resetTime time.Time) Outcome {
	return s.reset("reset", title, reason, resetTime, false)
}

// ResetAndPauseTimer behaves like ResetTimer and then pauses the record.
func (s *Store) ResetAndPauseTimer(title, reason string, resetTime time.Time) Outcome {
	return s.reset("reset_pause", title, reason, resetTime, true)
}

func (s *Store) reset(op, title, reason string, at time.Time, pause bool) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[title]
	if !ok {
		return s.skip(op, title, SkippedNotFound)
	}
	rec := cur.Clone()
	elapsed := at.Sub(rec.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}
	rec.History = append(rec.History, models.HistoryEntry{
		StartTime:   rec.StartTime,
		EndTime:     at,
		Elapsed:     elapsed,
		ResetReason: reason,
	})
	rec.StartTime = at
	if pause {
		rec.State = models.StatePaused
	}
	return s.commit(op, title, rec)
}

// ResumeTimer restarts a timer from now.
func (s *Store) ResumeTimer(title string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[title]
	if !ok {
		return s.skip("resume", title, SkippedNotFound)
	}
	rec := cur.Clone()
	rec.State = models.StateRunning
	rec.StartTime = s.now()
	return s.commit("resume", title, rec)
}

// DeleteEntry removes a record. Deleting an absent title is not an error.
func (s *Store) DeleteEntry(title string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[title]; !ok {
		s.log.Debug("delete of absent title", "title", title)
		return Applied
	}
	delete(s.records, title)
	mutationsTotal.WithLabelValues("delete").Inc()
	s.notify(OriginLocal)
	return Applied
}

// RenameStreak moves a record to a new title, keeping everything else.
func (s *Store) RenameStreak(oldTitle, newTitle string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[oldTitle]
	if !ok {
		return s.skip("rename", oldTitle, SkippedNotFound)
	}
	if newTitle == "" {
		return s.skip("rename", oldTitle, SkippedEmptyTitle)
	}
	if _, taken := s.records[newTitle]; taken {
		return s.skip("rename", newTitle, SkippedTitleExists)
	}
	rec := cur.Clone()
	rec.Title = newTitle
	delete(s.records, oldTitle)
	return s.commit("rename", newTitle, rec)
}

// AddRule replaces the free-text notes on a record.
func (s *Store) AddRule(title, text string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[title]
	if !ok {
		return s.skip("rules", title, SkippedNotFound)
	}
	rec := cur.Clone()
	rec.Rules = text
	return s.commit("rules", title, rec)
}

// UpdateResetReason edits the reason on one history entry.
func (s *Store) UpdateResetReason(title string, index int, reason string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[title]
	if !ok {
		return s.skip("reason", title, SkippedNotFound)
	}
	if index < 0 || index >= len(cur.History) {
		return s.skip("reason", title, SkippedBadIndex)
	}
	rec := cur.Clone()
	rec.History[index].ResetReason = reason
	return s.commit("reason", title, rec)
}

// Apply runs fn against a copy of the current records and installs its
// result, all under the store lock. It is how inbound peer snapshots are
// merged without racing local mutations. Subscribers are notified with
// OriginMerge only when the records actually changed.
func (s *Store) Apply(fn func(local models.Snapshot) models.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(s.records.Clone())
	if next == nil {
		next = models.Snapshot{}
	}
	if next.Equal(s.records) {
		return false
	}
	s.records = make(models.Snapshot, len(next))
	for title, rec := range next {
		s.records[title] = normalize(title, rec.Clone())
	}
	s.notify(OriginMerge)
	return true
}

// Get returns a copy of one record.
func (s *Store) Get(title string) (models.TimerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[title]
	if !ok {
		return models.TimerRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of every record.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Clone()
}

// Titles returns the sorted list of titles.
func (s *Store) Titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Titles()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
