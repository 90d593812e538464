// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

// agreementDiscount is the per-additional-source multiplier applied to the
// best input uncertainty when all sources agree. Two independent agreeing
// observations justify more confidence than either alone.
const agreementDiscount = 0.8

// disagreementPenalty is added on top of the aggregation baseline when
// sources contradict each other.
const disagreementPenalty = 0.10

// =============================================================================
// MergeEvidenceTool (EVIDENCE_SET -> CONCLUSION)
// =============================================================================

// MergeEvidenceTool merges several observations about one target into a
// single conclusion.
//
// Description:
//
//	Merging evidence is an aggregation, not a pipeline: the inputs are
//	parallel observations of the same thing, so sequential compounding
//	would be the wrong model. When every source makes the same claim, the
//	conclusion may be MORE certain than any single input; when they
//	disagree, the conclusion carries the disputed claim with the lowest
//	input uncertainty, priced above the aggregation baseline.
type MergeEvidenceTool struct {
	assessor uncertainty.Assessor
	logger   *slog.Logger
}

// Process implements capability.Tool.
func (t *MergeEvidenceTool) Process(_ context.Context, data any) *capability.ToolResult {
	items, ok := data.([]Evidence)
	if !ok {
		return capability.Fail("merge_evidence expects []toolkit.Evidence, got %T", data)
	}
	if len(items) == 0 {
		return capability.Fail("merge_evidence requires at least one observation")
	}

	target := items[0].Target
	agreed := true
	best := items[0]
	for _, ev := range items {
		if ev.Target != target {
			return capability.Fail("merge_evidence got observations about %q and %q; one target per merge", target, ev.Target)
		}
		if ev.Claim != items[0].Claim {
			agreed = false
		}
		if ev.Uncertainty < best.Uncertainty {
			best = ev
		}
	}

	var u float64
	var detail string
	if agreed {
		// Convergent independent observations beat the best single one.
		u = uncertainty.Clamp01(best.Uncertainty * math.Pow(agreementDiscount, float64(len(items)-1)))
		detail = fmt.Sprintf("all sources made the claim %q", best.Claim)
	} else {
		baseline := t.assessor.Assess(
			uncertainty.Descriptor{Construct: "evidence_observations", DataType: string(capability.TypeEvidenceSet)},
			uncertainty.Descriptor{Construct: "merged_conclusion", DataType: string(capability.TypeConclusion)},
			"evidence_aggregation",
		)
		u = uncertainty.Clamp01(math.Max(best.Uncertainty, baseline.Uncertainty) + disagreementPenalty)
		detail = fmt.Sprintf("sources contradicted each other; carrying the best-supported claim %q", best.Claim)
	}

	assessment := uncertainty.AggregationAssessment{
		Uncertainty:   u,
		EvidenceCount: len(items),
		Agreed:        agreed,
		Reasoning:     uncertainty.FormatAggregationReasoning(len(items), agreed, detail),
	}
	if err := assessment.Validate(); err != nil {
		// A merge that cannot explain itself is worse than a failed merge.
		return capability.Fail("aggregation assessment rejected: %v", err)
	}

	if t.logger != nil {
		t.logger.Debug("evidence merged",
			slog.String("target", target),
			slog.Int("evidence_count", len(items)),
			slog.Bool("agreed", agreed),
			slog.Float64("uncertainty", u),
		)
	}

	return capability.OK(Conclusion{
		Target:        target,
		Claim:         best.Claim,
		Uncertainty:   u,
		Reasoning:     assessment.Reasoning,
		EvidenceCount: len(items),
		Agreed:        agreed,
	}, u, assessment.Reasoning)
}
