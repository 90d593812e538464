// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capability defines the tool contract of the Compose framework:
// the capability descriptor every tool declares at registration time, the
// uniform Process call interface, and the per-call result every tool returns.
//
// The framework consumes only what this package declares. How a tool loads
// documents, extracts entities, or persists data is the tool's business;
// chain discovery and execution see nothing but input/output types, semantic
// tags, and the success/uncertainty/reasoning fields of each result.
package capability

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Data Types
// =============================================================================

// DataType identifies a data representation flowing between tools.
//
// The set is open: any non-empty string is a valid DataType, so external
// collaborators can introduce their own representations without touching
// this package. The constants below are the representations the framework
// itself ships converters for.
type DataType string

const (
	// TypeFile is a reference to a file on disk (payload: path string).
	TypeFile DataType = "FILE"

	// TypeText is an in-memory character sequence (payload: string).
	TypeText DataType = "TEXT"

	// TypeGraph is an entity/relationship graph (payload: *crossmodal.Graph).
	TypeGraph DataType = "GRAPH"

	// TypeTable is a tabular rendering of a graph (payload: *crossmodal.TableSet).
	TypeTable DataType = "TABLE"

	// TypeTableRef is a reference to a persisted table set (payload: ref string).
	TypeTableRef DataType = "TABLE_REF"

	// TypeVector is a vector rendering of graph entities (payload: []crossmodal.VectorRecord).
	TypeVector DataType = "VECTOR"

	// TypeEvidenceSet is a collection of observations about one target
	// (payload: []toolkit.Evidence).
	TypeEvidenceSet DataType = "EVIDENCE_SET"

	// TypeConclusion is a single merged judgment (payload: toolkit.Conclusion).
	TypeConclusion DataType = "CONCLUSION"
)

// =============================================================================
// Tool Capability Descriptor
// =============================================================================

// ToolCapability describes what a tool consumes and produces.
//
// Description:
//
//	Declared once at registration time and used only for chain discovery
//	and provenance; never exposed over any wire protocol. Construct labels
//	describe meaning, not just type: "file_path", "character_sequence",
//	"entity_relationship_graph". They feed the human-auditable construct
//	mapping recorded for every executed step.
//
// Thread Safety: Value type; copies are independent.
type ToolCapability struct {
	// ToolID uniquely identifies the tool within one registry.
	ToolID string

	// InputType is the representation the tool consumes.
	InputType DataType

	// OutputType is the representation the tool produces.
	OutputType DataType

	// InputConstruct is a human-readable label for the meaning of the input
	// (e.g. "file_path"). Always non-empty.
	InputConstruct string

	// OutputConstruct is a human-readable label for the meaning of the output
	// (e.g. "character_sequence"). Always non-empty.
	OutputConstruct string

	// TransformationType classifies the operation (e.g. "deterministic_io",
	// "crossmodal_projection", "evidence_aggregation"). Used by the
	// rule-based assessor to pick a base uncertainty.
	TransformationType string

	// SemanticInput optionally tags the input with domain semantics
	// (e.g. "source_document"). Used only for tie-breaking in discovery.
	SemanticInput string

	// SemanticOutput optionally tags the output with domain semantics.
	SemanticOutput string
}

// Validate checks the registry invariants on the descriptor.
//
// Outputs:
//
//	error - Non-nil if the tool ID, either type, or either construct label
//	is empty. Nil if the descriptor is registrable.
func (c ToolCapability) Validate() error {
	if c.ToolID == "" {
		return fmt.Errorf("capability: tool id must not be empty")
	}
	if c.InputType == "" || c.OutputType == "" {
		return fmt.Errorf("capability %q: input and output types must not be empty", c.ToolID)
	}
	if c.InputConstruct == "" || c.OutputConstruct == "" {
		return fmt.Errorf("capability %q: construct labels must not be empty", c.ToolID)
	}
	return nil
}

// ConstructMapping renders the semantic relationship between the tool's
// input and output as a human-readable pair, e.g.
// "file_path -> character_sequence". Recorded in every provenance record.
func (c ToolCapability) ConstructMapping() string {
	return c.InputConstruct + " -> " + c.OutputConstruct
}

// =============================================================================
// Tool Contract
// =============================================================================

// Tool is the single uniform call interface every collaborator implements.
//
// Description:
//
//	Process transforms data into the tool's declared output representation
//	and self-reports operational uncertainty. Domain failures (unreadable
//	input, unresolvable references) are reported via ToolResult.Success ==
//	false, never as a Go error; the execution engine aborts the chain on the
//	first such failure. A tool that can still produce a meaningful, if
//	degraded, output for malformed input should do so and report elevated
//	uncertainty instead of failing.
//
// Thread Safety: Implementations must be safe for concurrent use; the same
// tool instance may serve several independent chains at once.
type Tool interface {
	// Process transforms data. The returned result is never nil.
	// Blocking work (network-bound tools) must honor ctx; the framework
	// imposes no timeout of its own.
	Process(ctx context.Context, data any) *ToolResult
}

// =============================================================================
// Tool Result
// =============================================================================

// ToolResult is the per-call result every tool returns.
//
// Invariants: if Success is false, Data is nil and Uncertainty is not
// meaningful. On success, Uncertainty is in [0,1] and Reasoning is a
// non-empty account of how the tool judged its own output.
type ToolResult struct {
	// Success reports whether the tool produced usable output.
	Success bool

	// Data is the produced payload. Nil when Success is false.
	Data any

	// Uncertainty is the tool's self-reported probability, in [0,1], that
	// Data does not faithfully represent the intended target construct.
	Uncertainty float64

	// Reasoning is the tool's written account of its assessment.
	// Non-empty on success.
	Reasoning string

	// Error is the failure message. Empty when Success is true.
	Error string

	// Duration is how long Process took. Informational.
	Duration time.Duration
}

// OK builds a successful result.
func OK(data any, uncertainty float64, reasoning string) *ToolResult {
	return &ToolResult{
		Success:     true,
		Data:        data,
		Uncertainty: uncertainty,
		Reasoning:   reasoning,
	}
}

// Fail builds a failed result with the given message.
func Fail(format string, args ...any) *ToolResult {
	return &ToolResult{
		Success: false,
		Error:   fmt.Sprintf(format, args...),
	}
}
