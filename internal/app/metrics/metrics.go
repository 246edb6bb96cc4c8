package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auctionhouse",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auctionhouse",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	auctionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "auctions",
			Name:      "transitions_total",
			Help:      "Total number of auction lifecycle transitions.",
		},
		[]string{"operation", "success"},
	)

	activeAuctions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auctionhouse",
			Subsystem: "auctions",
			Name:      "active",
			Help:      "Number of auctions currently in the Active state.",
		},
	)

	bidAmounts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auctionhouse",
			Subsystem: "auctions",
			Name:      "bid_amount",
			Help:      "Accepted bid amounts in base units.",
			Buckets:   prometheus.ExponentialBuckets(1_000_000, 4, 10),
		},
	)

	balanceWithdrawals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "balances",
			Name:      "withdrawals_total",
			Help:      "Total number of successful balance withdrawals.",
		},
	)

	sweeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auctionhouse",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total number of settlement sweeper runs.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		auctionTransitions,
		activeAuctions,
		bidAmounts,
		balanceWithdrawals,
		sweeperRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTransition records a lifecycle operation outcome.
func RecordTransition(operation string, success bool) {
	auctionTransitions.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

// RecordBid records an accepted bid amount.
func RecordBid(amount int64) {
	bidAmounts.Observe(float64(amount))
}

// RecordBalanceWithdrawal records a successful balance withdrawal.
func RecordBalanceWithdrawal() {
	balanceWithdrawals.Inc()
}

// RecordSweep records a settlement sweeper run.
func RecordSweep(success bool) {
	sweeperRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// SetActiveAuctions sets the active-auction gauge.
func SetActiveAuctions(n int) {
	activeAuctions.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "auctions" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/auctions"
	}
	if len(parts) == 2 {
		return "/auctions/:id"
	}
	return "/auctions/:id/" + parts[2]
}
