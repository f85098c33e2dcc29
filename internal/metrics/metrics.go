// Package metrics holds the Prometheus collectors of the attendance service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	scanDecisions  *prometheus.CounterVec
	checkIns       *prometheus.CounterVec
	sweepAbsences  prometheus.Counter
	sweepRuns      *prometheus.CounterVec
	sweepDurations prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scanDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scan_decisions_total",
			Help: "Scan intake decisions by outcome.",
		}, []string{"outcome"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_checkins_total",
			Help: "Reconciled check-ins by outcome.",
		}, []string{"outcome"}),
		sweepAbsences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_sweep_absences_total",
			Help: "Absent records written by the daily sweep.",
		}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_sweep_runs_total",
			Help: "Daily sweep runs by result.",
		}, []string{"result"}),
		sweepDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_sweep_duration_seconds",
			Help:    "Wall time of daily sweep runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.scanDecisions, m.checkIns, m.sweepAbsences, m.sweepRuns, m.sweepDurations)
	return m
}

func (m *Metrics) ScanDecision(outcome string) {
	if m == nil {
		return
	}
	m.scanDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CheckIn(outcome string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(outcome).Inc()
}

// SweepRun records one sweep; result is "ok" or "error".
func (m *Metrics) SweepRun(result string, absences int, took time.Duration) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepAbsences.Add(float64(absences))
	m.sweepDurations.Observe(took.Seconds())
}
