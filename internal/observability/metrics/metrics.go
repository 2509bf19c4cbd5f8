package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "safesignal_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	alertsEnqueued   prometheus.Counter
	enqueueRejected  *prometheus.CounterVec
	alertsTerminal   *prometheus.CounterVec
	deliveryAttempts *prometheus.CounterVec
	processLatency   prometheus.Histogram
	storageErrors    *prometheus.CounterVec

	rateLimitDecisions *prometheus.CounterVec
	buttonPresses      *prometheus.CounterVec

	transportConnected *prometheus.GaugeVec
	reportsPublished   *prometheus.CounterVec
)

// Init registers agent metrics. pending backs the queue depth gauge and may be nil.
func Init(pending func() float64) {
	registerOnce.Do(func() {
		alertsEnqueued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_enqueued_total",
				Help: "Total alerts accepted into the queue",
			},
		)
		enqueueRejected = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_enqueue_rejected_total",
				Help: "Total alerts dropped at enqueue by reason",
			},
			[]string{"reason"},
		)
		alertsTerminal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_terminal_total",
				Help: "Total alerts removed from the queue by outcome",
			},
			[]string{"outcome"},
		)
		deliveryAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "delivery_attempts_total",
				Help: "Total delivery attempts by result",
			},
			[]string{"result"},
		)
		processLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "queue_process_duration_seconds",
				Help:    "Queue process pass duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)
		storageErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "storage_errors_total",
				Help: "Total storage errors by operation",
			},
			[]string{"op"},
		)
		rateLimitDecisions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ratelimit_decisions_total",
				Help: "Total rate limiter decisions by guard and result",
			},
			[]string{"guard", "result"},
		)
		buttonPresses = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "button_presses_total",
				Help: "Total button presses by pipeline result",
			},
			[]string{"result"},
		)
		transportConnected = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "transport_connected",
				Help: "Transport connectivity (1 connected, 0 offline)",
			},
			[]string{"transport"},
		)
		reportsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reports_published_total",
				Help: "Total status and heartbeat reports by kind and result",
			},
			[]string{"kind", "result"},
		)

		prometheus.MustRegister(
			alertsEnqueued,
			enqueueRejected,
			alertsTerminal,
			deliveryAttempts,
			processLatency,
			storageErrors,
			rateLimitDecisions,
			buttonPresses,
			transportConnected,
			reportsPublished,
		)

		if pending != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: metricPrefix + "queue_pending",
					Help: "Alerts currently pending delivery",
				},
				pending,
			))
		}
	})
}

// IncEnqueued increments accepted alerts.
func IncEnqueued() {
	if alertsEnqueued != nil {
		alertsEnqueued.Inc()
	}
}

// IncEnqueueRejected increments dropped alerts.
func IncEnqueueRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if enqueueRejected != nil {
		enqueueRejected.WithLabelValues(reason).Inc()
	}
}

// IncTerminal increments terminal outcomes.
func IncTerminal(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if alertsTerminal != nil {
		alertsTerminal.WithLabelValues(outcome).Inc()
	}
}

// IncDeliveryAttempt increments delivery attempts.
func IncDeliveryAttempt(ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	if deliveryAttempts != nil {
		deliveryAttempts.WithLabelValues(result).Inc()
	}
}

// ObserveProcess records a process pass duration.
func ObserveProcess(duration time.Duration) {
	if processLatency != nil {
		processLatency.Observe(duration.Seconds())
	}
}

// IncStorageError increments storage errors.
func IncStorageError(op string) {
	if op == "" {
		op = "unknown"
	}
	if storageErrors != nil {
		storageErrors.WithLabelValues(op).Inc()
	}
}

// IncRateLimitDecision increments limiter decisions.
func IncRateLimitDecision(guard string, admitted bool) {
	if guard == "" {
		guard = "unknown"
	}
	result := "admitted"
	if !admitted {
		result = "rejected"
	}
	if rateLimitDecisions != nil {
		rateLimitDecisions.WithLabelValues(guard, result).Inc()
	}
}

// IncButtonPress increments presses by pipeline result.
func IncButtonPress(result string) {
	if result == "" {
		result = "unknown"
	}
	if buttonPresses != nil {
		buttonPresses.WithLabelValues(result).Inc()
	}
}

// SetTransportConnected records transport connectivity.
func SetTransportConnected(transport string, connected bool) {
	if transport == "" {
		transport = "unknown"
	}
	value := 0.0
	if connected {
		value = 1
	}
	if transportConnected != nil {
		transportConnected.WithLabelValues(transport).Set(value)
	}
}

// IncReport increments status or heartbeat publications.
func IncReport(kind string, ok bool) {
	result := resultSuccess
	if !ok {
		result = resultError
	}
	if reportsPublished != nil {
		reportsPublished.WithLabelValues(kind, result).Inc()
	}
}
