package main

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slate_optimizer_runs_total",
			Help: "Total number of optimization runs by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slate_optimizer_run_duration_seconds",
			Help:    "Wall-clock duration of optimization runs",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"strategy"},
	)

	searchNodes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slate_optimizer_search_nodes_total",
			Help: "Backtracking nodes visited across all runs",
		},
	)

	scoreRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slate_optimizer_score_ratio",
			Help:    "Best score divided by the maximum possible score of feasible runs",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)
)

// outcome classifies a result for the runs counter.
func outcome(r *Result) string {
	switch {
	case !r.Feasible && r.TimedOut:
		return "timeout_infeasible"
	case !r.Feasible:
		return "infeasible"
	case r.TimedOut:
		return "timeout"
	}
	return "complete"
}

func observeResult(r *Result, elapsed time.Duration) {
	// portfolio results are labelled by their base strategy
	strategy, _, _ := strings.Cut(r.Strategy, "/")
	runsTotal.WithLabelValues(strategy, outcome(r)).Inc()
	runDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	searchNodes.Add(float64(r.Nodes))
	if r.Feasible && r.MaxScore > 0 {
		scoreRatio.Observe(float64(r.BestScore) / float64(r.MaxScore))
	}
}
