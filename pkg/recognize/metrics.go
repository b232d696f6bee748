package recognize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// passDuration tracks how long each recognition pass takes.
	passDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fukidashi_recognition_pass_duration_seconds",
			Help:    "Duration of recognition passes in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"pass", "status"},
	)

	// passDetections tracks usable detections per pass.
	passDetections = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fukidashi_recognition_pass_detections",
			Help:    "Usable detections returned by a recognition pass",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"pass"},
	)

	// escalations counts auto requests that ran paired-only passes.
	escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fukidashi_recognition_escalations_total",
			Help: "Auto-language requests that needed paired-only passes",
		},
	)

	// engineConstructions counts engines built by the cache.
	engineConstructions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_recognition_engine_constructions_total",
			Help: "Recognition engines constructed, by pass key and result",
		},
		[]string{"pass", "status"},
	)

	// workerRestarts counts engine worker process restarts.
	workerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fukidashi_recognition_worker_restarts_total",
			Help: "Total number of recognition worker process restarts",
		},
		[]string{"pass", "worker_id"},
	)

	// workerMemoryBytes tracks resident memory per worker process.
	workerMemoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fukidashi_recognition_worker_memory_bytes",
			Help: "Resident memory of recognition worker processes in bytes",
		},
		[]string{"pass", "worker_id"},
	)
)

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func recordPass(pass Pass, duration time.Duration, usable int, err error) {
	passDuration.WithLabelValues(pass.Key(), statusLabel(err)).Observe(duration.Seconds())
	if err == nil {
		passDetections.WithLabelValues(pass.Key()).Observe(float64(usable))
	}
}
