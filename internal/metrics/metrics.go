// Package metrics holds the Prometheus collectors shared by pipelines,
// dispatchers and the fleet supervisor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riverwatch"

// Registry is the registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// FramesRead counts decoded frames per camera.
	FramesRead = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_read_total",
		Help:      "Frames decoded per camera.",
	}, []string{"camera"})

	// EmptyReads counts reads that came back without a frame.
	EmptyReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "empty_reads_total",
		Help:      "Reads that returned no frame.",
	}, []string{"camera"})

	// AlarmsQueued counts alarms committed to a camera queue, by scene.
	AlarmsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_queued_total",
		Help:      "Alarms written to the camera queue.",
	}, []string{"camera", "scene"})

	// AlarmsDropped counts alarms discarded before delivery, by reason.
	AlarmsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alarms_dropped_total",
		Help:      "Alarms discarded before delivery, by reason (rate_limited, queue_full).",
	}, []string{"camera", "reason"})

	// Sends counts dispatcher send attempts by result.
	Sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sends_total",
		Help:      "Dispatcher send attempts by result (ok, failed).",
	}, []string{"camera", "result"})

	// SendDuration observes how long each Sink.Send took.
	SendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "send_duration_seconds",
		Help:      "Time spent in Sink.Send.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"camera"})

	// Restarts counts watchdog restarts per camera.
	Restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_restarts_total",
		Help:      "Watchdog restarts per camera.",
	}, []string{"camera"})

	// QueueDepth is the number of committed records awaiting dispatch.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Committed records waiting for the dispatcher.",
	}, []string{"camera"})

	// Running is 1 while a camera pipeline is live.
	Running = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipeline_running",
		Help:      "1 while the camera pipeline is live.",
	}, []string{"camera"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FramesRead,
		EmptyReads,
		AlarmsQueued,
		AlarmsDropped,
		Sends,
		SendDuration,
		Restarts,
		QueueDepth,
		Running,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetRunning records pipeline liveness.
func SetRunning(camera string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	Running.WithLabelValues(camera).Set(v)
}
