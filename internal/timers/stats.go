package timers

import (
	"fmt"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_store_mutations_total",
		Help: "Applied timer store mutations by operation",
	}, []string{"op"})

	noopTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_store_noop_total",
		Help: "Timer store mutations skipped, by operation and reason",
	}, []string{"op", "reason"})
)

// Stats bundles the derived, unpersisted figures for one record.
type Stats struct {
	Title   string          `json:"title"`
	State   models.RunState `json:"state"`
	Rules   string          `json:"rules,omitempty"`
	Elapsed time.Duration   `json:"elapsed"`
	Average time.Duration   `json:"average"`
	Longest time.Duration   `json:"longest"`
	Resets  int             `json:"resets"`
}

// Elapsed returns the current streak length. Missing titles report zero.
func (s *Store) Elapsed(title string) time.Duration {
	st, _ := s.Stats(title)
	return st.Elapsed
}

// Average returns the mean of every completed interval plus the current one
// while running.
func (s *Store) Average(title string) time.Duration {
	st, _ := s.Stats(title)
	return st.Average
}

// LongestStreak returns the longest of every completed interval and the
// current one while running.
func (s *Store) LongestStreak(title string) time.Duration {
	st, _ := s.Stats(title)
	return st.Longest
}

// Stats computes all derived figures for one record at the same instant.
func (s *Store) Stats(title string) (Stats, bool) {
	s.mu.Lock()
	rec, ok := s.records[title]
	if ok {
		rec = rec.Clone()
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("stats for absent title", "title", title)
		return Stats{Title: title}, false
	}
	return computeStats(rec, s.now(), s.paused), true
}

// AllStats computes Stats for every record in title order.
func (s *Store) AllStats() []Stats {
	snap := s.Snapshot()
	now := s.now()
	out := make([]Stats, 0, len(snap))
	for _, title := range snap.Titles() {
		out = append(out, computeStats(snap[title], now, s.paused))
	}
	return out
}

func computeStats(rec models.TimerRecord, now time.Time, policy PausedPolicy) Stats {
	st := Stats{
		Title:  rec.Title,
		State:  rec.State,
		Rules:  rec.Rules,
		Resets: len(rec.History),
	}

	current := now.Sub(rec.StartTime)
	if current < 0 {
		current = 0
	}
	running := !rec.Paused()
	switch {
	case running:
		st.Elapsed = current
	case policy == PausedSincePause:
		st.Elapsed = current
	default:
		st.Elapsed = 0
	}

	var sum time.Duration
	n := 0
	if running {
		sum += current
		st.Longest = current
		n++
	}
	for _, h := range rec.History {
		sum += h.Elapsed
		if h.Elapsed > st.Longest {
			st.Longest = h.Elapsed
		}
		n++
	}
	if n > 0 {
		st.Average = sum / time.Duration(n)
	}
	return st
}

// FormatElapsed renders a duration as "D days, HH:MM:SS".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d days, %02d:%02d:%02d", days, hours, minutes, seconds)
}
