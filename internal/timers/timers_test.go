package timers

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/streaks/internal/models"
)

var t0 = time.Date(2025, 4, 27, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable clock for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: t0}
	base := []Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(nil, append(base, opts...)...), clock
}

func TestAddEntry(t *testing.T) {
	s, _ := newTestStore(t)

	if out := s.AddEntry("Reading", t0); !out.OK() {
		t.Fatalf("AddEntry failed: %s", out)
	}
	rec, ok := s.Get("Reading")
	if !ok {
		t.Fatal("Expected record to exist")
	}
	if rec.State != models.StateRunning {
		t.Errorf("Expected running, got %s", rec.State)
	}
	if len(rec.History) != 0 {
		t.Errorf("Expected empty history, got %d entries", len(rec.History))
	}
	if !rec.LastUpdated.Equal(t0) {
		t.Errorf("Expected LastUpdated %v, got %v", t0, rec.LastUpdated)
	}

	if out := s.AddEntry("", t0); out != SkippedEmptyTitle {
		t.Errorf("Expected empty title to be skipped, got %q", out)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 record, got %d", s.Len())
	}
}

func TestAddEntryRejectsExistingTitle(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddEntry("Reading", t0)
	s.AddRule("Reading", "no phone in bed")

	if out := s.AddEntry("Reading", t0.Add(time.Hour)); out != SkippedTitleExists {
		t.Fatalf("Expected duplicate to be rejected, got %q", out)
	}
	rec, _ := s.Get("Reading")
	if rec.Rules != "no phone in bed" || !rec.StartTime.Equal(t0) {
		t.Error("Existing record was overwritten")
	}
}

func TestResetTimerBookkeeping(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("A", t0)

	t1 := t0.Add(90 * time.Minute)
	clock.Set(t1)
	if out := s.ResetTimer("A", "reason", t1); !out.OK() {
		t.Fatalf("ResetTimer failed: %s", out)
	}

	t2 := t1.Add(30 * time.Minute)
	clock.Set(t2)
	s.ResetTimer("A", "again", t2)

	rec, _ := s.Get("A")
	if len(rec.History) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(rec.History))
	}
	if rec.History[0].Elapsed != 90*time.Minute {
		t.Errorf("First interval: expected 90m, got %v", rec.History[0].Elapsed)
	}
	// The second interval is measured from the new start, not the original.
	if rec.History[1].Elapsed != 30*time.Minute {
		t.Errorf("Second interval: expected 30m, got %v", rec.History[1].Elapsed)
	}
	if !rec.History[1].StartTime.Equal(t1) || !rec.History[1].EndTime.Equal(t2) {
		t.Errorf("Unexpected bounds on second interval: %+v", rec.History[1])
	}
	if !rec.StartTime.Equal(t2) {
		t.Errorf("Expected start time %v, got %v", t2, rec.StartTime)
	}
	if rec.State != models.StateRunning {
		t.Errorf("ResetTimer must not pause, got %s", rec.State)
	}
}

func TestResetScenarioAverage(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("Reading", t0)

	at := t0.Add(3600 * time.Second)
	clock.Set(at)
	s.ResetTimer("Reading", "got busy", at)

	rec, _ := s.Get("Reading")
	want := models.HistoryEntry{StartTime: t0, EndTime: at, Elapsed: time.Hour, ResetReason: "got busy"}
	if len(rec.History) != 1 || rec.History[0] != want {
		t.Fatalf("Unexpected history: %+v", rec.History)
	}
	if got := s.Average("Reading"); got != 30*time.Minute {
		t.Errorf("Expected average 30m, got %v", got)
	}
	if got := s.LongestStreak("Reading"); got != time.Hour {
		t.Errorf("Expected longest 1h, got %v", got)
	}
}

func TestResetAndPauseThenResume(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("Gym", t0)

	at := t0.Add(2 * time.Hour)
	clock.Set(at)
	s.ResetAndPauseTimer("Gym", "injury", at)

	rec, _ := s.Get("Gym")
	if !rec.Paused() {
		t.Fatal("Expected record to be paused")
	}
	if len(rec.History) != 1 || rec.History[0].Elapsed != 2*time.Hour {
		t.Fatalf("Unexpected history: %+v", rec.History)
	}

	clock.Set(at.Add(10 * time.Minute))
	if got := s.Elapsed("Gym"); got != 10*time.Minute {
		t.Errorf("Expected time since pause of 10m, got %v", got)
	}
	// Paused records contribute only their history.
	if got := s.Average("Gym"); got != 2*time.Hour {
		t.Errorf("Expected average 2h, got %v", got)
	}

	resumeAt := at.Add(time.Hour)
	clock.Set(resumeAt)
	s.ResumeTimer("Gym")
	rec, _ = s.Get("Gym")
	if rec.Paused() || !rec.StartTime.Equal(resumeAt) {
		t.Errorf("Expected running from %v, got %+v", resumeAt, rec)
	}
}

func TestPausedZeroPolicy(t *testing.T) {
	s, clock := newTestStore(t, WithPausedPolicy(PausedZero))
	s.AddEntry("Gym", t0)
	s.ResetAndPauseTimer("Gym", "", t0.Add(time.Hour))
	clock.Set(t0.Add(3 * time.Hour))

	if got := s.Elapsed("Gym"); got != 0 {
		t.Errorf("Expected zero elapsed for paused record, got %v", got)
	}
}

func TestStatsWithoutHistory(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("Fresh", t0)
	clock.Set(t0.Add(42 * time.Minute))

	st, ok := s.Stats("Fresh")
	if !ok {
		t.Fatal("Expected stats for existing title")
	}
	if st.Average != st.Elapsed || st.Longest != st.Elapsed {
		t.Errorf("Expected average == longest == elapsed, got %+v", st)
	}

	// Paused with no history: no samples, divisor is zero.
	s.AddEntry("Empty", t0)
	s.Apply(func(local models.Snapshot) models.Snapshot {
		rec := local["Empty"]
		rec.State = models.StatePaused
		local["Empty"] = rec
		return local
	})
	if got := s.Average("Empty"); got != 0 {
		t.Errorf("Expected zero average with no samples, got %v", got)
	}
}

func TestMissingTitleIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddEntry("A", t0)
	before := s.Snapshot()

	cases := map[string]Outcome{
		"reset":       s.ResetTimer("missing", "x", t0),
		"reset_pause": s.ResetAndPauseTimer("missing", "x", t0),
		"resume":      s.ResumeTimer("missing"),
		"rename":      s.RenameStreak("missing", "B"),
		"rules":       s.AddRule("missing", "x"),
		"reason":      s.UpdateResetReason("missing", 0, "x"),
	}
	for op, out := range cases {
		if out != SkippedNotFound {
			t.Errorf("%s: expected not_found, got %q", op, out)
		}
	}
	if out := s.DeleteEntry("missing"); !out.OK() {
		t.Errorf("Delete of absent title should succeed quietly, got %q", out)
	}
	if !s.Snapshot().Equal(before) {
		t.Error("Store changed after no-op mutations")
	}
	if got := s.Elapsed("missing"); got != 0 {
		t.Errorf("Expected zero elapsed for missing title, got %v", got)
	}
}

func TestRenamePreservesFields(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("Reading", t0)
	s.AddRule("Reading", "one chapter a day")
	clock.Set(t0.Add(time.Hour))
	s.ResetTimer("Reading", "got busy", t0.Add(time.Hour))
	before, _ := s.Get("Reading")

	clock.Set(t0.Add(2 * time.Hour))
	if out := s.RenameStreak("Reading", "Books"); !out.OK() {
		t.Fatalf("RenameStreak failed: %s", out)
	}

	if _, ok := s.Get("Reading"); ok {
		t.Error("Old title should be gone")
	}
	after, ok := s.Get("Books")
	if !ok {
		t.Fatal("New title should exist")
	}
	if after.Title != "Books" {
		t.Errorf("Expected title Books, got %s", after.Title)
	}
	if after.Rules != before.Rules || !after.StartTime.Equal(before.StartTime) {
		t.Error("Rename changed rules or start time")
	}
	if len(after.History) != 1 || after.History[0] != before.History[0] {
		t.Errorf("Rename changed history: %+v", after.History)
	}

	s.AddEntry("Gym", t0)
	if out := s.RenameStreak("Books", "Gym"); out != SkippedTitleExists {
		t.Errorf("Expected rename onto existing title to be rejected, got %q", out)
	}
}

func TestUpdateResetReasonBounds(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddEntry("A", t0)
	s.ResetTimer("A", "first", t0.Add(time.Minute))
	s.ResetTimer("A", "second", t0.Add(2*time.Minute))

	for _, idx := range []int{-1, 2, 100} {
		if out := s.UpdateResetReason("A", idx, "bad"); out != SkippedBadIndex {
			t.Errorf("index %d: expected bad_index, got %q", idx, out)
		}
	}
	if out := s.UpdateResetReason("A", 1, "edited"); !out.OK() {
		t.Fatalf("UpdateResetReason failed: %s", out)
	}
	rec, _ := s.Get("A")
	if rec.History[0].ResetReason != "first" || rec.History[1].ResetReason != "edited" {
		t.Errorf("Unexpected reasons: %+v", rec.History)
	}
}

func TestLastUpdatedStrictlyIncreases(t *testing.T) {
	s, clock := newTestStore(t)
	s.AddEntry("A", t0)
	first, _ := s.Get("A")

	// Clock steps backwards; the bump must still move forward.
	clock.Set(t0.Add(-time.Hour))
	s.AddRule("A", "x")
	second, _ := s.Get("A")
	if !second.LastUpdated.After(first.LastUpdated) {
		t.Errorf("Expected LastUpdated to increase: %v -> %v", first.LastUpdated, second.LastUpdated)
	}

	clock.Set(t0.Add(time.Hour))
	s.UpdateResetReason("A", 0, "ignored")
	third, _ := s.Get("A")
	if !third.LastUpdated.Equal(second.LastUpdated) {
		t.Error("Skipped mutation must not bump LastUpdated")
	}
}

func TestSubscribeCoalesces(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Subscribe()

	s.AddEntry("A", t0)
	s.AddEntry("B", t0)

	c := <-ch
	if len(c.Snapshot) != 2 {
		t.Errorf("Expected latest snapshot with 2 records, got %d", len(c.Snapshot))
	}
	if c.Origin != OriginLocal {
		t.Errorf("Expected local origin, got %s", c.Origin)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected a single coalesced change, got another: %+v", extra)
	default:
	}
}

func TestSubscribeKeepsLocalOriginOverMerge(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Subscribe()

	s.AddEntry("A", t0)
	s.Apply(func(local models.Snapshot) models.Snapshot {
		local["B"] = models.TimerRecord{Kind: models.KindTimer, Title: "B", State: models.StateRunning, StartTime: t0, LastUpdated: t0}
		return local
	})

	c := <-ch
	if c.Origin != OriginLocal {
		t.Errorf("Expected pending local change to survive coalescing, got %s", c.Origin)
	}
	if len(c.Snapshot) != 2 {
		t.Errorf("Expected 2 records, got %d", len(c.Snapshot))
	}
}

func TestApplyUnchangedDoesNotNotify(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddEntry("A", t0)
	ch := s.Subscribe()

	if s.Apply(func(local models.Snapshot) models.Snapshot { return local }) {
		t.Error("Expected identity apply to report no change")
	}
	select {
	case <-ch:
		t.Error("Identity apply must not notify")
	default:
	}
}

func TestNewNormalizesLegacyRecords(t *testing.T) {
	s := New(models.Snapshot{
		"Old": {Title: "stale", StartTime: t0, LastUpdated: t0},
	})
	rec, ok := s.Get("Old")
	if !ok {
		t.Fatal("Expected record to load")
	}
	if rec.State != models.StateRunning || rec.Kind != models.KindTimer || rec.Title != "Old" {
		t.Errorf("Expected defaults applied, got %+v", rec)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 days, 00:00:00"},
		{59 * time.Second, "0 days, 00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "0 days, 01:02:03"},
		{3*24*time.Hour + 4*time.Hour, "3 days, 04:00:00"},
		{-time.Second, "0 days, 00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.d); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
