// Package metrics registers Prometheus collectors for the dispatch engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "terminal_"

	ResultSuccess = "success"
	ResultError   = "error"

	ReplyAccepted   = "accepted"
	ReplyMalformed  = "malformed"
	ReplyUnknownID  = "unknown_id"
	ReplyDuplicate  = "duplicate"
	ReplyDeviceFail = "device_error"
)

var (
	registerOnce sync.Once

	pollRequests *prometheus.CounterVec
	pollLatency  *prometheus.HistogramVec

	replyLines *prometheus.CounterVec

	commandRequests prometheus.Counter
	commandResults  *prometheus.CounterVec

	trackedDevices  prometheus.Gauge
	pendingCommands prometheus.Gauge

	checkpointTotal *prometheus.CounterVec
)

// Init registers dispatch metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		pollRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_requests_total",
				Help: "Total device poll requests by result",
			},
			[]string{"result"},
		)
		pollLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_latency_seconds",
				Help:    "Device poll latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		replyLines = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reply_lines_total",
				Help: "Total reply lines by disposition",
			},
			[]string{"disposition"},
		)
		commandRequests = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_requests_total",
				Help: "Total enqueued commands",
			},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total command terminal results by state",
			},
			[]string{"state"},
		)
		trackedDevices = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_devices",
				Help: "Number of device sessions currently tracked",
			},
		)
		pendingCommands = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pending_commands",
				Help: "Commands awaiting delivery or acknowledgment across all devices",
			},
		)
		checkpointTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "checkpoint_total",
				Help: "Total checkpoint operations by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			pollRequests,
			pollLatency,
			replyLines,
			commandRequests,
			commandResults,
			trackedDevices,
			pendingCommands,
			checkpointTotal,
		)
	})
}

// IncPoll counts a poll request.
func IncPoll(result string) {
	if pollRequests != nil {
		pollRequests.WithLabelValues(result).Inc()
	}
}

// ObservePollLatency records poll handling latency.
func ObservePollLatency(result string, seconds float64) {
	if pollLatency != nil {
		pollLatency.WithLabelValues(result).Observe(seconds)
	}
}

// IncReplyLine counts a reply line disposition.
func IncReplyLine(disposition string) {
	if replyLines != nil {
		replyLines.WithLabelValues(disposition).Inc()
	}
}

// IncCommandIssued counts an enqueued command.
func IncCommandIssued() {
	if commandRequests != nil {
		commandRequests.Inc()
	}
}

// IncCommandResult counts a command reaching a terminal state.
func IncCommandResult(state string) {
	if commandResults != nil {
		commandResults.WithLabelValues(state).Inc()
	}
}

// SetTrackedDevices updates the session gauge.
func SetTrackedDevices(n int) {
	if trackedDevices != nil {
		trackedDevices.Set(float64(n))
	}
}

// SetPendingCommands updates the pending-commands gauge.
func SetPendingCommands(n int) {
	if pendingCommands != nil {
		pendingCommands.Set(float64(n))
	}
}

// IncCheckpoint counts a checkpoint attempt.
func IncCheckpoint(result string) {
	if checkpointTotal != nil {
		checkpointTotal.WithLabelValues(result).Inc()
	}
}
