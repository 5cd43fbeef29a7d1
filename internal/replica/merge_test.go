package replica

import (
	"testing"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 4, 27, 9, 0, 0, 0, time.UTC)

func rec(title string, updated time.Time, rules string) models.TimerRecord {
	return models.TimerRecord{
		Kind:        models.KindTimer,
		Title:       title,
		StartTime:   t0,
		State:       models.StateRunning,
		Rules:       rules,
		History:     []models.HistoryEntry{},
		LastUpdated: updated,
	}
}

func TestMergeDisjointIsUnion(t *testing.T) {
	a := models.Snapshot{"A": rec("A", t0, "a")}
	b := models.Snapshot{"B": rec("B", t0.Add(time.Hour), "b")}

	ab, _ := Merge(a, b)
	ba, _ := Merge(b, a)

	want := models.Snapshot{"A": a["A"], "B": b["B"]}
	assert.True(t, want.Equal(ab))
	assert.True(t, want.Equal(ba))
}

func TestMergeLastWriterWinsVerbatim(t *testing.T) {
	older := rec("Reading", t0, "old rules")
	newer := rec("Reading", t0.Add(time.Second), "new rules")
	newer.State = models.StatePaused
	newer.History = []models.HistoryEntry{{StartTime: t0, EndTime: t0.Add(time.Second), Elapsed: time.Second}}

	got, st := Merge(models.Snapshot{"Reading": older}, models.Snapshot{"Reading": newer})
	assert.True(t, newer.Equal(got["Reading"]))
	assert.Equal(t, 1, st.Adopted)
	assert.False(t, st.ShouldRebroadcast())

	got, st = Merge(models.Snapshot{"Reading": newer}, models.Snapshot{"Reading": older})
	assert.True(t, newer.Equal(got["Reading"]))
	assert.Equal(t, 1, st.KeptLocalNewer)
	assert.True(t, st.ShouldRebroadcast())
}

func TestMergeTieKeepsLocal(t *testing.T) {
	local := rec("Reading", t0, "local")
	incoming := rec("Reading", t0, "incoming")

	for i := 0; i < 10; i++ {
		got, st := Merge(models.Snapshot{"Reading": local}, models.Snapshot{"Reading": incoming})
		require.Equal(t, "local", got["Reading"].Rules)
		assert.Equal(t, 1, st.KeptLocalTie)
		assert.False(t, st.ShouldRebroadcast())
	}
}

func TestMergeKeepsLocalOnlyTitles(t *testing.T) {
	local := models.Snapshot{
		"Reading": rec("Reading", t0, ""),
		"Deleted on peer": rec("Deleted on peer", t0, ""),
	}
	incoming := models.Snapshot{"Reading": rec("Reading", t0, "")}

	got, st := Merge(local, incoming)
	assert.Contains(t, got, "Deleted on peer")
	assert.Equal(t, 1, st.LocalOnly)
	assert.True(t, st.ShouldRebroadcast())
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	in := rec("Reading", t0.Add(time.Hour), "")
	in.History = []models.HistoryEntry{{ResetReason: "orig"}}
	incoming := models.Snapshot{"Reading": in}

	got, _ := Merge(models.Snapshot{}, incoming)
	got["Reading"].History[0].ResetReason = "changed"
	assert.Equal(t, "orig", incoming["Reading"].History[0].ResetReason)
}

func TestMergeEmptyIncoming(t *testing.T) {
	local := models.Snapshot{"A": rec("A", t0, "")}
	got, st := Merge(local, nil)
	assert.True(t, local.Equal(got))
	assert.Equal(t, MergeStats{LocalOnly: 1}, st)
}
