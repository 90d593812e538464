// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Chain Execution
// =============================================================================

var (
	// chainsTotal counts executed chains by outcome.
	// Labels: outcome (success, aborted)
	chainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compose",
		Subsystem: "engine",
		Name:      "chains_total",
		Help:      "Total executed chains by outcome",
	}, []string{"outcome"})

	// chainDurationSeconds measures end-to-end chain execution latency.
	// Labels: outcome
	chainDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compose",
		Subsystem: "engine",
		Name:      "chain_duration_seconds",
		Help:      "End-to-end chain execution latency",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"outcome"})

	// chainUncertainty observes the combined uncertainty of executed chains.
	// Labels: outcome
	chainUncertainty = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compose",
		Subsystem: "engine",
		Name:      "chain_combined_uncertainty",
		Help:      "Combined uncertainty of executed chains",
		Buckets:   []float64{0, 0.02, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1},
	}, []string{"outcome"})

	// stepsTotal counts executed steps by tool and status.
	// Labels: tool_id, status (ok, failed)
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compose",
		Subsystem: "engine",
		Name:      "steps_total",
		Help:      "Total executed chain steps by tool and status",
	}, []string{"tool_id", "status"})

	// stepDurationSeconds measures per-step tool execution latency.
	// Labels: tool_id
	stepDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compose",
		Subsystem: "engine",
		Name:      "step_duration_seconds",
		Help:      "Per-step tool execution latency",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
	}, []string{"tool_id"})
)

// recordChain records one finished chain execution.
func recordChain(outcome string, durationSec, combinedUncertainty float64) {
	chainsTotal.WithLabelValues(outcome).Inc()
	chainDurationSeconds.WithLabelValues(outcome).Observe(durationSec)
	chainUncertainty.WithLabelValues(outcome).Observe(combinedUncertainty)
}

// recordStep records one executed chain step.
func recordStep(toolID string, success bool, duration time.Duration) {
	status := "ok"
	if !success {
		status = "failed"
	}
	stepsTotal.WithLabelValues(toolID, status).Inc()
	stepDurationSeconds.WithLabelValues(toolID).Observe(duration.Seconds())
}
