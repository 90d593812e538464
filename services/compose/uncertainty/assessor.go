// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package uncertainty

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/compose/services/compose/config"
)

// =============================================================================
// Assessor Interface
// =============================================================================
//
// Some deployments assess transformations with a prompt-driven LLM call,
// which is non-deterministic and network-bound. The framework isolates that
// behind this pure-function-shaped interface so a deterministic rule-based
// implementation can substitute for it in tests, decoupling framework
// correctness from any specific assessor's behavior.

// Descriptor describes one side of a transformation for assessment.
type Descriptor struct {
	// Construct is the human-readable meaning label (e.g. "file_path").
	Construct string

	// DataType is the representation's type name.
	DataType string

	// Notes carries optional transformation-specific context.
	Notes string
}

// Assessment is an assessor's judgment of one transformation.
type Assessment struct {
	// Uncertainty is the assessed value in [0,1].
	Uncertainty float64

	// Reasoning is the written account of the judgment. Non-empty.
	Reasoning string
}

// Assessor judges how likely a transformation's output is to misrepresent
// its target construct.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Assessor interface {
	// Assess judges the transformation described by the three descriptors.
	Assess(input, output Descriptor, transformationType string) Assessment
}

// =============================================================================
// Rule-Based Assessor
// =============================================================================

// RuleBasedAssessor is the deterministic Assessor: base uncertainty per
// transformation type from the embedded configuration, with a configured
// default for unknown types.
//
// Thread Safety: Safe for concurrent use; the config is immutable.
type RuleBasedAssessor struct {
	cfg    *config.AssessorConfig
	logger *slog.Logger
}

// NewRuleBasedAssessor creates an assessor over the given configuration.
//
// Inputs:
//
//	cfg - The loaded assessor config. Must not be nil.
//	logger - Logger for unknown-type diagnostics. May be nil (slog.Default).
func NewRuleBasedAssessor(cfg *config.AssessorConfig, logger *slog.Logger) *RuleBasedAssessor {
	if cfg == nil {
		panic("uncertainty.NewRuleBasedAssessor: cfg must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleBasedAssessor{cfg: cfg, logger: logger}
}

// Assess returns the configured base uncertainty for the transformation type
// with reasoning naming the construct mapping and the rule applied.
func (a *RuleBasedAssessor) Assess(input, output Descriptor, transformationType string) Assessment {
	rule, ok := a.cfg.RuleFor(transformationType)
	if !ok {
		a.logger.Debug("assessor: no rule for transformation type, using default",
			slog.String("transformation_type", transformationType),
			slog.Float64("default", a.cfg.DefaultUncertainty),
		)
		return Assessment{
			Uncertainty: a.cfg.DefaultUncertainty,
			Reasoning: fmt.Sprintf(
				"no assessment rule for transformation type %q (%s -> %s); applied default uncertainty %.2f",
				transformationType, input.Construct, output.Construct, a.cfg.DefaultUncertainty),
		}
	}

	reasoning := fmt.Sprintf("rule for %q applied to %s -> %s: base uncertainty %.2f",
		transformationType, input.Construct, output.Construct, rule.Uncertainty)
	if rule.Rationale != "" {
		reasoning += "; " + rule.Rationale
	}
	return Assessment{Uncertainty: rule.Uncertainty, Reasoning: reasoning}
}
