// Package controlplane provides the HTTP API and service layer for streaks.
package controlplane

import (
	"context"
	"log/slog"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/replica"
	"github.com/fentz26/streaks/internal/timers"
)

// SyncStatus reports synchronizer state.
type SyncStatus interface {
	Status() replica.Status
}

// Pinger is implemented by persistence adapters that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service provides the control plane business logic. The timer store never
// fails; the service turns its skip outcomes into errors for HTTP callers.
type Service struct {
	timers *timers.Store
	sync   SyncStatus
	log    *slog.Logger
}

// NewService creates a new control plane service. sync may be nil when no
// transport is configured.
func NewService(t *timers.Store, sync SyncStatus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{timers: t, sync: sync, log: log}
}

// --- Timer Operations ---

// CreateTimer starts a new running timer.
func (s *Service) CreateTimer(title string, start time.Time) (*models.TimerView, error) {
	if err := checkTitle(title); err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = time.Now()
	}
	if err := outcomeErr(s.timers.AddEntry(title, start)); err != nil {
		return nil, err
	}
	return s.GetTimer(title)
}

// GetTimer returns one timer with its derived figures.
func (s *Service) GetTimer(title string) (*models.TimerView, error) {
	rec, ok := s.timers.Get(title)
	if !ok {
		return nil, ErrNotFound
	}
	st, _ := s.timers.Stats(title)
	v := view(rec, st)
	return &v, nil
}

// ListTimers returns every timer sorted by title.
func (s *Service) ListTimers() []models.TimerView {
	snap := s.timers.Snapshot()
	stats := s.timers.AllStats()
	out := make([]models.TimerView, 0, len(stats))
	for _, st := range stats {
		rec, ok := snap[st.Title]
		if !ok {
			continue
		}
		out = append(out, view(rec, st))
	}
	return out
}

// ResetTimer closes the current interval at at (now when zero) and starts
// the next one, optionally paused.
func (s *Service) ResetTimer(title, reason string, at time.Time, pause bool) (*models.TimerView, error) {
	if at.IsZero() {
		at = time.Now()
	}
	var out timers.Outcome
	if pause {
		out = s.timers.ResetAndPauseTimer(title, reason, at)
	} else {
		out = s.timers.ResetTimer(title, reason, at)
	}
	if err := outcomeErr(out); err != nil {
		return nil, err
	}
	return s.GetTimer(title)
}

// ResumeTimer restarts a paused timer from now.
func (s *Service) ResumeTimer(title string) (*models.TimerView, error) {
	if err := outcomeErr(s.timers.ResumeTimer(title)); err != nil {
		return nil, err
	}
	return s.GetTimer(title)
}

// RenameTimer moves a timer to a new title.
func (s *Service) RenameTimer(oldTitle, newTitle string) (*models.TimerView, error) {
	if err := checkTitle(newTitle); err != nil {
		return nil, err
	}
	if err := outcomeErr(s.timers.RenameStreak(oldTitle, newTitle)); err != nil {
		return nil, err
	}
	return s.GetTimer(newTitle)
}

// SetRules replaces a timer's rules text.
func (s *Service) SetRules(title, rules string) (*models.TimerView, error) {
	if err := outcomeErr(s.timers.AddRule(title, rules)); err != nil {
		return nil, err
	}
	return s.GetTimer(title)
}

// UpdateResetReason edits the reason on one history entry.
func (s *Service) UpdateResetReason(title string, index int, reason string) (*models.TimerView, error) {
	if err := outcomeErr(s.timers.UpdateResetReason(title, index, reason)); err != nil {
		return nil, err
	}
	return s.GetTimer(title)
}

// DeleteTimer removes a timer locally. Deleting a missing timer succeeds.
func (s *Service) DeleteTimer(title string) error {
	return outcomeErr(s.timers.DeleteEntry(title))
}

// --- Sync ---

// SyncStatus returns the synchronizer status.
func (s *Service) SyncStatus() (replica.Status, error) {
	if s.sync == nil {
		return replica.Status{}, ErrSyncDisabled
	}
	return s.sync.Status(), nil
}

// checkTitle rejects titles that cannot be addressed under /timers/, since
// "." and ".." escape to themselves and the mux cleans them out of the path.
func checkTitle(title string) error {
	if title == "." || title == ".." {
		return ErrReservedTitle
	}
	return nil
}

func outcomeErr(o timers.Outcome) error {
	switch o {
	case timers.Applied:
		return nil
	case timers.SkippedNotFound:
		return ErrNotFound
	case timers.SkippedTitleExists:
		return ErrTitleExists
	case timers.SkippedEmptyTitle:
		return ErrInvalidTitle
	case timers.SkippedBadIndex:
		return ErrBadIndex
	}
	return ErrNotFound
}

func view(rec models.TimerRecord, st timers.Stats) models.TimerView {
	return models.TimerView{
		TimerRecord: rec,
		ElapsedNs:   int64(st.Elapsed),
		AverageNs:   int64(st.Average),
		LongestNs:   int64(st.Longest),
		ElapsedText: timers.FormatElapsed(st.Elapsed),
		AverageText: timers.FormatElapsed(st.Average),
		LongestText: timers.FormatElapsed(st.Longest),
	}
}
