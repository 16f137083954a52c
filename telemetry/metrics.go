// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesFetched    prometheus.Counter
	MessagesDuplicate  prometheus.Counter
	GateDecisions      *prometheus.CounterVec // label: reason
	Sends              *prometheus.CounterVec // labels: kind, outcome
	SendAttempts       prometheus.Counter
	PendingDropped     prometheus.Counter
	SubscriberFailures prometheus.Counter
	ResponderFailures  prometheus.Counter
	SessionsEnded      prometheus.Counter
	MessagesRecorded   prometheus.Counter
	BroadcastDropped   prometheus.Counter
	GreetingsSent      prometheus.Counter
	ShayarisSent       prometheus.Counter
	ComposedTexts      *prometheus.CounterVec // labels: composer, source
	MirrorFailures     prometheus.Counter
	HTTPRateLimited    prometheus.Counter

	// Histograms (seconds)
	TickDuration      prometheus.Observer
	ResponderDuration prometheus.Observer

	// Gauges
	MonitorRunning prometheus.Gauge // 1=running,0=stopped
	PendingSends   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_fetched_total", Help: "Inbound chat messages returned by the source"})
		MessagesDuplicate = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_duplicate_total", Help: "Inbound chat messages skipped as already seen"})
		GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_gate_decisions_total", Help: "Response gate decisions by reason"}, []string{"reason"})
		Sends = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_sends_total", Help: "Outbound sends by kind and outcome"}, []string{"kind", "outcome"})
		SendAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_send_attempts_total", Help: "Raw outbound send attempts including retries"})
		PendingDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_pending_dropped_total", Help: "Queued sends dropped after exhausting attempts or capacity"})
		SubscriberFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_subscriber_failures_total", Help: "Subscriber notifications that returned an error or panicked"})
		ResponderFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_responder_failures_total", Help: "Responder calls that failed or timed out"})
		SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_sessions_ended_total", Help: "Monitoring sessions stopped because the remote chat ended"})
		MessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_messages_recorded_total", Help: "Inbound chat messages stored in Postgres"})
		BroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_broadcast_dropped_total", Help: "Messages dropped for slow stream clients"})
		GreetingsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_greetings_sent_total", Help: "Welcome messages delivered to new chatters"})
		ShayarisSent = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_shayaris_sent_total", Help: "Shayaris delivered in answer to chat requests"})
		ComposedTexts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_composed_texts_total", Help: "Subscriber texts by composer and source (ai, cache or template tier)"}, []string{"composer", "source"})
		MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_mirror_failures_total", Help: "Discord mirror posts that failed or were rate limited"})
		HTTPRateLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "HTTP requests rejected by the per-IP rate limiter"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_tick_duration_seconds", Help: "Monitor tick duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}})
		ResponderDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_responder_duration_seconds", Help: "Responder call duration seconds", Buckets: prometheus.DefBuckets})
		MonitorRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_monitor_running", Help: "Monitor running=1 stopped=0"})
		PendingSends = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_pending_sends", Help: "Current number of queued failed sends"})
	})
}

// SetRunning sets the running gauge.
func SetRunning(running bool) {
	if MonitorRunning == nil {
		return
	}
	if running {
		MonitorRunning.Set(1)
	} else {
		MonitorRunning.Set(0)
	}
}

// SetPendingSends records the current pending queue depth.
func SetPendingSends(n int) {
	if PendingSends != nil {
		PendingSends.Set(float64(n))
	}
}

// Inc increments c when metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncGate counts a gate decision.
func IncGate(reason string) {
	if GateDecisions != nil {
		GateDecisions.WithLabelValues(reason).Inc()
	}
}

// IncSend counts an outbound send by kind and outcome (ok, error, exhausted, rejected).
func IncSend(kind, outcome string) {
	if Sends != nil {
		Sends.WithLabelValues(kind, outcome).Inc()
	}
}

// IncComposed counts a composed text by composer and source.
func IncComposed(composer, source string) {
	if ComposedTexts != nil {
		ComposedTexts.WithLabelValues(composer, source).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
