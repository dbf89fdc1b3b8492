// Package metrics holds the Prometheus instruments of the premium engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for commission propagation and repair.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CommissionsCalculated *prometheus.CounterVec
	Triggers              *prometheus.CounterVec
	Conflicts             prometheus.Counter
	TransientFailures     prometheus.Counter
	RepairInstallments    *prometheus.CounterVec
	PremiumsCorrected     prometheus.Counter
	FanOutJobs            *prometheus.CounterVec
	RepairDuration        prometheus.Histogram
}

// New creates the instruments and registers them on reg.
// Pass prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommissionsCalculated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "premium_engine_commissions_calculated_total",
			Help: "Commission calculations by outcome (resolved, uncalculated)",
		}, []string{"outcome"}),
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "premium_engine_triggers_total",
			Help: "Propagation triggers handled, by trigger",
		}, []string{"trigger"}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "premium_engine_conflicts_total",
			Help: "Optimistic lock conflicts on policy premium totals",
		}),
		TransientFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "premium_engine_transient_failures_total",
			Help: "Operations that still conflicted after the retry",
		}),
		RepairInstallments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "premium_engine_repair_installments_total",
			Help: "Installments examined by the repair tool, by result",
		}, []string{"result"}),
		PremiumsCorrected: f.NewCounter(prometheus.CounterOpts{
			Name: "premium_engine_premiums_corrected_total",
			Help: "Policy premium totals corrected by the repair tool",
		}),
		FanOutJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "premium_engine_fanout_jobs_total",
			Help: "Rate-change fan-out jobs, by status",
		}, []string{"status"}),
		RepairDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "premium_engine_repair_duration_seconds",
			Help:    "Duration of repair passes",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}),
	}
}

// ObserveCommission records one calculator outcome.
func (m *Metrics) ObserveCommission(resolved bool) {
	if m == nil {
		return
	}
	outcome := "uncalculated"
	if resolved {
		outcome = "resolved"
	}
	m.CommissionsCalculated.WithLabelValues(outcome).Inc()
}

// IncTrigger records a handled propagation trigger.
func (m *Metrics) IncTrigger(trigger string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncTransientFailure() {
	if m == nil {
		return
	}
	m.TransientFailures.Inc()
}

// ObserveRepair records the counts of one repair pass and its duration.
// Call with time.Now() taken at the start of the pass.
func (m *Metrics) ObserveRepair(start time.Time, alreadyCorrect, corrected, stillUncalculated, premiums int) {
	if m == nil {
		return
	}
	m.RepairInstallments.WithLabelValues("already_correct").Add(float64(alreadyCorrect))
	m.RepairInstallments.WithLabelValues("corrected").Add(float64(corrected))
	m.RepairInstallments.WithLabelValues("still_uncalculated").Add(float64(stillUncalculated))
	m.PremiumsCorrected.Add(float64(premiums))
	m.RepairDuration.Observe(time.Since(start).Seconds())
}

// IncFanOut records a fan-out job state change (enqueued, completed, failed, dropped).
func (m *Metrics) IncFanOut(status string) {
	if m == nil {
		return
	}
	m.FanOutJobs.WithLabelValues(status).Inc()
}
