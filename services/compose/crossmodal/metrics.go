// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crossmodal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Cross-Modal Conversion
// =============================================================================

var (
	// conversionsTotal counts completed conversions by direction and loss class.
	// Labels: direction (graph_to_table, table_to_graph, graph_to_vector),
	// loss (lossless, lossy)
	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "compose",
		Subsystem: "crossmodal",
		Name:      "conversions_total",
		Help:      "Total completed conversions by direction and loss class",
	}, []string{"direction", "loss"})

	// conversionUncertainty observes assessed conversion uncertainty.
	// Labels: direction
	conversionUncertainty = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "compose",
		Subsystem: "crossmodal",
		Name:      "conversion_uncertainty",
		Help:      "Assessed uncertainty of completed conversions",
		Buckets:   []float64{0, 0.02, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 0.75, 1},
	}, []string{"direction"})
)

// recordConversion records one completed conversion.
func recordConversion(direction string, conv Conversion) {
	loss := "lossy"
	if conv.Lossless {
		loss = "lossless"
	}
	conversionsTotal.WithLabelValues(direction, loss).Inc()
	conversionUncertainty.WithLabelValues(direction).Observe(conv.Uncertainty)
}
