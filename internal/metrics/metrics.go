package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dayroll"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync runs by direction and result.",
		},
		[]string{"direction", "result"},
	)

	pendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_pending_changes",
			Help:      "Local mutations not yet uploaded.",
		},
	)

	rollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_rollovers_total",
			Help:      "Tasks moved forward by the rollover engine.",
		},
	)

	providerCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Remote provider call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	botCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "Telegram bot commands by name.",
		},
		[]string{"command"},
	)

	botUpdateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_update_processing_seconds",
			Help:      "Time spent processing Telegram updates.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, syncRuns, pendingChanges, rollovers, providerCalls, botCommands, botUpdateDuration)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ObserveSyncRun(direction string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	syncRuns.WithLabelValues(direction, result).Inc()
}

func SetPending(n int) {
	pendingChanges.Set(float64(n))
}

func AddRollovers(n int) {
	if n > 0 {
		rollovers.Add(float64(n))
	}
}

// ObserveProviderCall records one remote call started at start.
func ObserveProviderCall(provider, operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerCalls.WithLabelValues(provider, operation, result).Observe(time.Since(start).Seconds())
}

func IncBotCommand(command string) {
	botCommands.WithLabelValues(command).Inc()
}

func ObserveBotUpdate(start time.Time) {
	botUpdateDuration.Observe(time.Since(start).Seconds())
}
