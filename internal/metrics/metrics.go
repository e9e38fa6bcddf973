// Package metrics holds the collector's self-observability instruments.
// Every subsystem records into these; cmd/parapet exposes them on the ops
// listener via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// JobExecutions counts scheduler job runs by job id.
	JobExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "scheduler",
		Name:      "job_executions_total",
		Help:      "Completed scheduler job executions.",
	}, []string{"job"})

	// JobErrors counts scheduler job failures (returned errors and panics).
	JobErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "scheduler",
		Name:      "job_errors_total",
		Help:      "Scheduler job executions that returned an error or panicked.",
	}, []string{"job"})

	// JobDuration observes handler wall time by job id.
	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parapet",
		Subsystem: "scheduler",
		Name:      "job_duration_seconds",
		Help:      "Scheduler job handler duration.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job"})

	// DeviceCallDuration observes firewall management-API latency.
	DeviceCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "parapet",
		Subsystem: "poller",
		Name:      "device_call_duration_seconds",
		Help:      "Firewall API call duration by operation.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"device", "op"})

	// DeviceCallErrors counts failed firewall API calls.
	DeviceCallErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "poller",
		Name:      "device_call_errors_total",
		Help:      "Failed firewall API calls by operation.",
	}, []string{"device", "op"})

	// SampleInserts counts time-series sample insert outcomes.
	SampleInserts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "store",
		Name:      "sample_inserts_total",
		Help:      "ThroughputSample insert outcomes (ok, duplicate, error).",
	}, []string{"outcome"})

	// AlertTriggers counts alert triggers by severity.
	AlertTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "alerts",
		Name:      "triggers_total",
		Help:      "Alert triggers recorded, by severity.",
	}, []string{"severity"})

	// NotificationDeliveries counts channel delivery outcomes.
	NotificationDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Notification delivery outcomes by channel kind.",
	}, []string{"kind", "outcome"})

	// ScanOutcomes counts finished scans by profile and outcome.
	ScanOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "scan",
		Name:      "scans_total",
		Help:      "Completed or failed scans by profile.",
	}, []string{"profile", "outcome"})

	// ScanChanges counts detected scan change events by type.
	ScanChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Subsystem: "scan",
		Name:      "change_events_total",
		Help:      "Scan change events recorded, by change type.",
	}, []string{"type"})

	// DevicesMonitored tracks the number of enabled devices.
	DevicesMonitored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "parapet",
		Name:      "devices_monitored",
		Help:      "Enabled firewall devices under monitoring.",
	})
)

func init() {
	prometheus.MustRegister(
		JobExecutions, JobErrors, JobDuration,
		DeviceCallDuration, DeviceCallErrors,
		SampleInserts, AlertTriggers,
		NotificationDeliveries,
		ScanOutcomes, ScanChanges,
		DevicesMonitored,
	)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CounterValue reads a counter's current value, for embedding instrument
// readings into the scheduler self-report.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// CounterVecTotal sums a counter vec across all label combinations.
func CounterVecTotal(vec *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()

	var total float64
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			continue
		}
		total += m.GetCounter().GetValue()
	}
	return total
}
