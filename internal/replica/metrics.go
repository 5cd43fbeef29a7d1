package replica

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_sync_pushes_total",
		Help: "Snapshot pushes by channel and result",
	}, []string{"channel", "result"})

	recordsMergedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_sync_records_merged_total",
		Help: "Per-record merge resolutions",
	}, []string{"resolution"})

	inboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streaks_sync_inbound_total",
		Help: "Inbound peer payloads by channel and result",
	}, []string{"channel", "result"})

	pendingReplacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streaks_sync_pending_replaced_total",
		Help: "Pending snapshots replaced by a newer one before delivery",
	})

	stateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streaks_sync_state",
		Help: "Synchronizer state (0 inactive, 1 activating, 2 active)",
	})

	reachableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streaks_sync_peer_reachable",
		Help: "1 when the peer is reachable on the instant channel",
	})
)

func observeMerge(st MergeStats) {
	recordsMergedTotal.WithLabelValues("adopted").Add(float64(st.Adopted))
	recordsMergedTotal.WithLabelValues("kept_local_newer").Add(float64(st.KeptLocalNewer))
	recordsMergedTotal.WithLabelValues("kept_local_tie").Add(float64(st.KeptLocalTie))
	recordsMergedTotal.WithLabelValues("local_only").Add(float64(st.LocalOnly))
}
