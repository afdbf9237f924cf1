// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes cycle outcomes as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arrbiter/arrbiter/internal/engine"
)

// Recorder aggregates cycle reports into prometheus metrics.
type Recorder struct {
	registry *prometheus.Registry

	cyclesTotal    prometheus.Counter
	cycleDuration  prometheus.Histogram
	itemsEvaluated prometheus.Counter
	itemsHealthy   prometheus.Counter
	strikesIssued    *prometheus.CounterVec
	actionsApplied   *prometheus.CounterVec
	actionsSimulated *prometheus.CounterVec
	actionsFailed    *prometheus.CounterVec
	sweptRecords     prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "cycles_total",
			Help:      "Completed lifecycle cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arrbiter",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of lifecycle cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		itemsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "items_evaluated_total",
			Help:      "Tracked items evaluated across all cycles.",
		}),
		itemsHealthy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "items_healthy_total",
			Help:      "Items observed healthy across all cycles.",
		}),
		strikesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "strikes_issued_total",
			Help:      "Strikes recorded, by issue kind.",
		}, []string{"issue"}),
		actionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "actions_applied_total",
			Help:      "Actions applied successfully, by action kind.",
		}, []string{"action"}),
		actionsSimulated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "actions_simulated_total",
			Help:      "Dry-run decisions that were logged but not executed, by action kind.",
		}, []string{"action"}),
		actionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "actions_failed_total",
			Help:      "Actions that failed and will retry, by action kind.",
		}, []string{"action"}),
		sweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arrbiter",
			Name:      "strike_records_swept_total",
			Help:      "Strike records deleted by the age sweep.",
		}),
	}

	r.registry.MustRegister(
		r.cyclesTotal, r.cycleDuration,
		r.itemsEvaluated, r.itemsHealthy,
		r.strikesIssued, r.actionsApplied, r.actionsSimulated, r.actionsFailed,
		r.sweptRecords,
	)
	return r
}

// Registry returns the registry backing the /metrics endpoint.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveCycle folds one cycle report into the collectors. Safe to use as
// the engine's report callback.
func (r *Recorder) ObserveCycle(report *engine.CycleReport) {
	if report == nil {
		return
	}
	r.cyclesTotal.Inc()
	r.cycleDuration.Observe(report.Duration.Seconds())
	r.itemsEvaluated.Add(float64(report.Evaluated))
	r.itemsHealthy.Add(float64(report.Healthy))
	r.sweptRecords.Add(float64(report.SweptRecords))

	for issue, count := range report.IssuesObserved {
		r.strikesIssued.WithLabelValues(string(issue)).Add(float64(count))
	}
	for action, count := range report.ActionsApplied {
		r.actionsApplied.WithLabelValues(string(action)).Add(float64(count))
	}
	for action, count := range report.ActionsSimulated {
		r.actionsSimulated.WithLabelValues(string(action)).Add(float64(count))
	}
	for action, count := range report.ActionsFailed {
		r.actionsFailed.WithLabelValues(string(action)).Add(float64(count))
	}
}
