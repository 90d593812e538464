// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the embedded default configuration of the Compose
// framework: rule-based assessor uncertainties and service limits.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Default Assessor Rules
// =============================================================================

//go:embed assessor_rules.yaml
var defaultAssessorRulesYAML []byte

// =============================================================================
// Assessor Configuration Types
// =============================================================================

// AssessorConfig holds the rule-based assessor's base uncertainties and the
// framework's operational limits.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type AssessorConfig struct {
	// DefaultUncertainty applies to transformation types with no rule.
	DefaultUncertainty float64 `yaml:"default_uncertainty"`

	// Rules map transformation types to base uncertainties.
	Rules []AssessorRule `yaml:"rules"`

	// Limits bounds chain length, concurrency, and conversion size.
	Limits Limits `yaml:"limits"`
}

// AssessorRule assigns a base uncertainty to one transformation type.
type AssessorRule struct {
	// TransformationType is the capability descriptor field the rule keys on.
	TransformationType string `yaml:"transformation_type"`

	// Uncertainty is the base uncertainty in [0,1].
	Uncertainty float64 `yaml:"uncertainty"`

	// Rationale explains the number (for the assessor's reasoning output).
	Rationale string `yaml:"rationale"`
}

// Limits bounds framework operations.
type Limits struct {
	// MaxChainLength caps discovered chain length.
	MaxChainLength int `yaml:"max_chain_length"`

	// MaxConcurrentChains caps ExecuteAll parallelism.
	MaxConcurrentChains int `yaml:"max_concurrent_chains"`

	// MaxRowsPerConversion caps a single cross-modal conversion.
	MaxRowsPerConversion int `yaml:"max_rows_per_conversion"`
}

// RuleFor returns the rule for the given transformation type.
func (c *AssessorConfig) RuleFor(transformationType string) (AssessorRule, bool) {
	for _, r := range c.Rules {
		if r.TransformationType == transformationType {
			return r, true
		}
	}
	return AssessorRule{}, false
}

// =============================================================================
// Singleton Assessor Config
// =============================================================================

var (
	assessorConfigMu      sync.RWMutex
	cachedAssessorConfig  *AssessorConfig
	assessorConfigLoadErr error
)

// GetAssessorConfig returns the cached assessor configuration.
//
// Description:
//
//	Parses and validates the embedded rules on first call and caches the
//	result for subsequent calls.
//
// Inputs:
//
//	ctx - Context for call-site symmetry with other loaders. Must not be nil.
//
// Outputs:
//
//	*AssessorConfig - The loaded configuration. Never nil on success.
//	error - Non-nil if parsing or validation failed.
//
// Thread Safety: Safe for concurrent use.
func GetAssessorConfig(ctx context.Context) (*AssessorConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetAssessorConfig: ctx must not be nil")
	}

	assessorConfigMu.RLock()
	if cachedAssessorConfig != nil || assessorConfigLoadErr != nil {
		cfg, err := cachedAssessorConfig, assessorConfigLoadErr
		assessorConfigMu.RUnlock()
		return cfg, err
	}
	assessorConfigMu.RUnlock()

	assessorConfigMu.Lock()
	defer assessorConfigMu.Unlock()
	if cachedAssessorConfig != nil || assessorConfigLoadErr != nil {
		return cachedAssessorConfig, assessorConfigLoadErr
	}

	cfg, err := parseAssessorConfig(defaultAssessorRulesYAML)
	cachedAssessorConfig, assessorConfigLoadErr = cfg, err
	return cfg, err
}

// parseAssessorConfig parses and validates a YAML rules document.
func parseAssessorConfig(raw []byte) (*AssessorConfig, error) {
	var cfg AssessorConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse assessor rules: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate assessor rules: %w", err)
	}
	return &cfg, nil
}

// validate checks every uncertainty is a probability and every limit positive.
func (c *AssessorConfig) validate() error {
	if c.DefaultUncertainty < 0 || c.DefaultUncertainty > 1 {
		return fmt.Errorf("default_uncertainty %v out of [0,1]", c.DefaultUncertainty)
	}
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.TransformationType == "" {
			return fmt.Errorf("rule %d: transformation_type must not be empty", i)
		}
		if seen[r.TransformationType] {
			return fmt.Errorf("rule %d: duplicate transformation_type %q", i, r.TransformationType)
		}
		seen[r.TransformationType] = true
		if r.Uncertainty < 0 || r.Uncertainty > 1 {
			return fmt.Errorf("rule %q: uncertainty %v out of [0,1]", r.TransformationType, r.Uncertainty)
		}
	}
	if c.Limits.MaxChainLength <= 0 {
		return fmt.Errorf("limits.max_chain_length must be positive")
	}
	if c.Limits.MaxConcurrentChains <= 0 {
		return fmt.Errorf("limits.max_concurrent_chains must be positive")
	}
	if c.Limits.MaxRowsPerConversion <= 0 {
		return fmt.Errorf("limits.max_rows_per_conversion must be positive")
	}
	return nil
}
