package lockmgr

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// lock operation metrics, shared by every manager of the process
var (
	metricSet = metrics.NewSet()

	acquireAcquired  = metricSet.NewCounter(`agentlock_acquire_total{result="acquired"}`)
	acquireRenewed   = metricSet.NewCounter(`agentlock_acquire_total{result="renewed"}`)
	acquireContended = metricSet.NewCounter(`agentlock_acquire_total{result="contended"}`)
	acquireErrors    = metricSet.NewCounter(`agentlock_acquire_total{result="error"}`)

	releaseReleased = metricSet.NewCounter(`agentlock_release_total{result="released"}`)
	releaseDenied   = metricSet.NewCounter(`agentlock_release_total{result="denied"}`)
	releaseErrors   = metricSet.NewCounter(`agentlock_release_total{result="error"}`)

	forceReleases = metricSet.NewCounter(`agentlock_force_release_total`)
	staleRemoved  = metricSet.NewCounter(`agentlock_stale_removed_total`)

	waitDuration  = metricSet.NewHistogram(`agentlock_wait_duration_seconds`)
	waitTimeouts  = metricSet.NewCounter(`agentlock_wait_total{result="timeout"}`)
	waitCancelled = metricSet.NewCounter(`agentlock_wait_total{result="cancelled"}`)
)

// WriteMetrics writes the lock metrics in Prometheus text format to w.
func WriteMetrics(w io.Writer) {
	metricSet.WritePrometheus(w)
}
