package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Namespace: Namespace,
		Subsystem: ProbeSubsystem,
		Help:      "Duration of block device probes.",
		Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32, 64, 128},
	}, []string{"mode"})

	ProbeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "outcomes_total",
		Namespace: Namespace,
		Subsystem: ProbeSubsystem,
		Help:      "Number of finished probes by mode and result.",
	}, []string{"mode", "result"})

	Reprobes = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "reprobes_total",
		Namespace: Namespace,
		Subsystem: UdevSubsystem,
		Help:      "Number of probes triggered by hotplug events.",
	})

	UdevEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "events_total",
		Namespace: Namespace,
		Subsystem: UdevSubsystem,
		Help:      "Number of block device hotplug events received.",
	})

	ModelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "errors_total",
		Namespace: Namespace,
		Subsystem: ModelSubsystem,
		Help:      "Number of rejected storage model operations by error kind.",
	}, []string{"kind"})
)

// ProbeObserver starts timing a probe.
func ProbeObserver(restricted bool) ObserveFunc {
	pt := prometheus.NewTimer(ProbeDuration.WithLabelValues(probeMode(restricted)))
	return pt.ObserveDuration
}

// ProbeFinished counts a probe outcome, e.g. "done", "failed", "timeout" or
// "load-failed".
func ProbeFinished(restricted bool, result string) {
	ProbeOutcomes.WithLabelValues(probeMode(restricted), result).Inc()
}

func ModelError(kind string) {
	ModelErrors.WithLabelValues(kind).Inc()
}
