// Package replica reconciles a local timer store with one paired peer.
package replica

import "github.com/fentz26/streaks/internal/models"

// MergeStats counts how each title was resolved.
type MergeStats struct {
	Adopted        int // incoming won or was new
	KeptLocalNewer int // local strictly newer than incoming
	KeptLocalTie   int // equal LastUpdated, local kept
	LocalOnly      int // absent from incoming, kept
}

// ShouldRebroadcast reports whether the merged result holds something the
// peer does not have. Ties never count, so two replicas that agree stop
// exchanging snapshots.
func (m MergeStats) ShouldRebroadcast() bool {
	return m.KeptLocalNewer+m.LocalOnly > 0
}

// Merge combines local and incoming per record: the greater LastUpdated
// wins whole, a tie keeps local, and titles missing from incoming are kept.
// Neither input is modified.
func Merge(local, incoming models.Snapshot) (models.Snapshot, MergeStats) {
	var st MergeStats
	out := make(models.Snapshot, len(local)+len(incoming))

	for title, rec := range local {
		if _, ok := incoming[title]; !ok {
			st.LocalOnly++
		}
		out[title] = rec.Clone()
	}

	for title, in := range incoming {
		cur, ok := local[title]
		switch {
		case !ok || in.LastUpdated.After(cur.LastUpdated):
			out[title] = in.Clone()
			st.Adopted++
		case cur.LastUpdated.After(in.LastUpdated):
			st.KeptLocalNewer++
		default:
			st.KeptLocalTie++
		}
	}
	return out, st
}
