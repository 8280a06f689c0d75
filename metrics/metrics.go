// Package metrics exposes Prometheus metrics for the order engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed resolution cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_cycles_total",
		Help: "Completed order resolution cycles",
	})

	// FillsTotal counts executed fills by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_fills_total",
		Help: "Executed fills",
	}, []string{"side"})

	// PendingOrders is the pending order count seen at cycle start.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_pending_orders",
		Help: "Pending orders at the start of the last cycle",
	})

	// OrdersSkipped counts orders deferred for lack of a usable quote.
	OrdersSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_skipped_total",
		Help: "Orders skipped for lack of market data",
	})

	// SnapshotErrors counts wholesale quote snapshot failures.
	SnapshotErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_snapshot_errors_total",
		Help: "Failed market data snapshot requests",
	})

	// QuoteMismatches counts snapshot rows whose conid the resolver
	// never produced.
	QuoteMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_quote_mismatches_total",
		Help: "Snapshot rows rejected for unresolved conids",
	})

	// QuoteCacheSize is the number of usable quotes in the last cycle.
	QuoteCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_quote_cache_size",
		Help: "Usable quotes in the last cycle",
	})

	// CommitFailures counts fills whose persistence step failed; the
	// affected orders remain pending and retry next cycle.
	CommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_commit_failures_total",
		Help: "Fill persistence failures",
	})
)

// StartMetricsServer serves /metrics on addr in the background.
func StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
