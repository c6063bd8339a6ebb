// internal/utils/metrics/collector.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exit_engine"

// Collector держит метрики движка. Все методы безопасны для nil-получателя,
// поэтому компоненты могут работать без метрик (например, в тестах).
type Collector struct {
	registry *prometheus.Registry

	trades         *prometheus.CounterVec
	tradeDuration  *prometheus.HistogramVec
	routeAttempts  *prometheus.CounterVec
	rpcLatency     *prometheus.HistogramVec
	rpcErrors      *prometheus.CounterVec
	exitDecisions  *prometheus.CounterVec
	openPositions  prometheus.Gauge
	priorityFee    *prometheus.GaugeVec
	dedupConflicts *prometheus.CounterVec
	priceErrors    *prometheus.CounterVec
}

// NewCollector регистрирует метрики в собственном реестре.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Swap executions by side, route and outcome",
		}, []string{"side", "route", "outcome"}),
		tradeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_duration_seconds",
			Help:      "Time from first attempt to confirmed swap",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"side", "route"}),
		routeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_attempts_total",
			Help:      "Individual route attempts labelled by error class",
		}, []string{"route", "class"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "RPC request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"provider", "workload"}),
		rpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Failed RPC calls by provider and error class",
		}, []string{"provider", "class"}),
		exitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exit_decisions_total",
			Help:      "Exit decisions taken by the position monitor",
		}, []string{"reason"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently monitored",
		}),
		priorityFee: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "priority_fee_microlamports",
			Help:      "Last estimated compute unit price",
		}, []string{"side"}),
		dedupConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_conflicts_total",
			Help:      "Lease acquisitions rejected because another holder owns the key",
		}, []string{"kind"}),
		priceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_errors_total",
			Help:      "Failed price fetches by source",
		}, []string{"source"}),
	}

	c.registry.MustRegister(
		c.trades, c.tradeDuration, c.routeAttempts,
		c.rpcLatency, c.rpcErrors, c.exitDecisions,
		c.openPositions, c.priorityFee, c.dedupConflicts,
		c.priceErrors,
	)
	return c
}

// Registry отдаёт реестр (для тестов и встраивания).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) RecordTrade(side, route, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.trades.WithLabelValues(side, route, outcome).Inc()
	if outcome == "success" {
		c.tradeDuration.WithLabelValues(side, route).Observe(duration.Seconds())
	}
}

func (c *Collector) RecordRouteAttempt(route, class string) {
	if c == nil {
		return
	}
	c.routeAttempts.WithLabelValues(route, class).Inc()
}

func (c *Collector) RecordRPC(provider, workload string, duration time.Duration, errClass string) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(provider, workload).Observe(duration.Seconds())
	if errClass != "" {
		c.rpcErrors.WithLabelValues(provider, errClass).Inc()
	}
}

func (c *Collector) RecordExitDecision(reason string) {
	if c == nil {
		return
	}
	c.exitDecisions.WithLabelValues(reason).Inc()
}

func (c *Collector) SetOpenPositions(n int) {
	if c == nil {
		return
	}
	c.openPositions.Set(float64(n))
}

func (c *Collector) SetPriorityFee(side string, microLamports uint64) {
	if c == nil {
		return
	}
	c.priorityFee.WithLabelValues(side).Set(float64(microLamports))
}

func (c *Collector) RecordDedupConflict(kind string) {
	if c == nil {
		return
	}
	c.dedupConflicts.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPriceError(source string) {
	if c == nil {
		return
	}
	c.priceErrors.WithLabelValues(source).Inc()
}

// Serve поднимает /metrics до отмены контекста.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
