package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ort",
			Subsystem: "scanresults",
			Name:      "reads_total",
			Help:      "Total number of scan result reads.",
		},
		[]string{"storage"},
	)
	hitsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ort",
			Subsystem: "scanresults",
			Name:      "hits_total",
			Help:      "Total number of scan result reads that returned at least one result.",
		},
		[]string{"storage"},
	)
	addsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ort",
			Subsystem: "scanresults",
			Name:      "adds_total",
			Help:      "Total number of scan result adds by outcome.",
		},
		[]string{"storage", "outcome"},
	)
	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ort",
			Subsystem: "scanresults",
			Name:      "backend_duration_seconds",
			Help:      "Duration of backend reads and writes.",
		},
		[]string{"storage", "op"},
	)
)

const (
	outcomeStored   = "stored"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

func observe(storage, op string, start time.Time) {
	backendDuration.WithLabelValues(storage, op).Observe(time.Since(start).Seconds())
}
