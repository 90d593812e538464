// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package uncertainty combines per-step and per-evidence uncertainties into
// end-to-end confidence signals.
//
// Two modes exist. Sequential compounding treats a chain as a pipeline of
// independent filters: each additional transformation is an independent
// opportunity to corrupt the result, so the chain-level uncertainty is the
// probability that at least one step corrupted it. Aggregation assessment
// applies when many pieces of evidence about the same target are merged into
// one output: the merging tool supplies a single value directly and the
// combiner accepts it without second-guessing, since convergent evidence can
// legitimately produce a lower uncertainty than the minimum of its inputs.
//
// Combination is applied strictly after each tool has made its own local
// assessment; nothing here inspects an upstream tool's reasoning.
package uncertainty

import (
	"fmt"
	"strings"
)

// =============================================================================
// Sequential Compounding
// =============================================================================

// CombineSequential folds per-step uncertainties into one chain-level value
// using combined = 1 - product(1 - u_i).
//
// Description:
//
//	The standard "at least one step corrupted the result" formula for
//	independent steps, not an average. Identities: a single-step chain
//	combines to exactly its own uncertainty, and an all-zero chain combines
//	to zero. The result is monotonically non-decreasing in every input.
//
// Inputs:
//
//	steps - Per-step uncertainties. Values outside [0,1] are clamped; an
//	empty slice combines to 0 (an empty pipeline cannot corrupt anything).
//
// Outputs:
//
//	float64 - The combined uncertainty in [0,1].
func CombineSequential(steps []float64) float64 {
	surviving := 1.0
	for _, u := range steps {
		surviving *= 1 - Clamp01(u)
	}
	return 1 - surviving
}

// Clamp01 clamps v into [0,1]. Tools are contractually bound to report
// probabilities, but a misbehaving collaborator must not push the chain
// total outside the meaningful range.
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// =============================================================================
// Aggregation Assessment
// =============================================================================

// AggregationAssessment is the single judgment a merging tool produces when
// it reduces many observations of one target to one conclusion.
//
// The framework imposes no closed-form reduction formula. The tool weighs
// consistency, independence, and coverage of its inputs; the only contract
// is that Reasoning names how many inputs were considered and whether they
// agreed.
type AggregationAssessment struct {
	// Uncertainty is the merged value in [0,1].
	Uncertainty float64

	// EvidenceCount is how many inputs were considered.
	EvidenceCount int

	// Agreed reports whether the inputs were mutually consistent.
	Agreed bool

	// Reasoning is the tool's account of the merge. Must reference the
	// evidence count and agreement.
	Reasoning string
}

// Validate checks the aggregation contract: a probability value, at least
// one input, and reasoning that is neither empty nor generic boilerplate
// (it must mention the evidence count).
func (a AggregationAssessment) Validate() error {
	if a.Uncertainty < 0 || a.Uncertainty > 1 {
		return fmt.Errorf("aggregation uncertainty %v out of [0,1]", a.Uncertainty)
	}
	if a.EvidenceCount < 1 {
		return fmt.Errorf("aggregation over %d inputs is not a merge", a.EvidenceCount)
	}
	if a.Reasoning == "" {
		return fmt.Errorf("aggregation reasoning must not be empty")
	}
	if !strings.Contains(a.Reasoning, fmt.Sprintf("%d", a.EvidenceCount)) {
		return fmt.Errorf("aggregation reasoning must reference the evidence count (%d)", a.EvidenceCount)
	}
	return nil
}

// FormatAggregationReasoning builds a reasoning string that satisfies the
// aggregation contract. Merging tools with richer context should write their
// own; this is the floor, not the ceiling.
func FormatAggregationReasoning(evidenceCount int, agreed bool, detail string) string {
	agreement := "the inputs disagreed"
	if agreed {
		agreement = "the inputs agreed"
	}
	s := fmt.Sprintf("aggregated %d evidence inputs about one target; %s", evidenceCount, agreement)
	if detail != "" {
		s += "; " + detail
	}
	return s
}
