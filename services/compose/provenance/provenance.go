// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provenance is the append-only log of executed operations.
//
// Every chain step writes exactly one record, whatever the eventual chain
// outcome; a failed chain can still be diagnosed after the fact. Records are
// never updated or deleted, and they are the sole basis for lineage queries:
// TraceToSource walks the inputs/outputs linkage backward to reconstruct the
// full trail for any downstream artifact, including every uncertainty value
// and construct mapping along the way.
package provenance

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// Record
// =============================================================================

// Record is one immutable operation entry.
type Record struct {
	// OperationID uniquely identifies the operation. Assigned by the
	// recorder when empty.
	OperationID string

	// ChainID groups the records of one chain execution.
	ChainID string

	// Step is the zero-based position of the operation within its chain.
	Step int

	// ToolID is the executed tool.
	ToolID string

	// InputsRef lists the artifact references the operation consumed.
	InputsRef []string

	// OutputsRef lists the artifact references the operation produced.
	// Empty when the operation failed.
	OutputsRef []string

	// Success reports whether the tool call succeeded.
	Success bool

	// Uncertainty is the tool's self-reported uncertainty. Only meaningful
	// when Success is true.
	Uncertainty float64

	// Reasoning is the tool's written assessment.
	Reasoning string

	// Error is the tool's failure message. Empty on success.
	Error string

	// ConstructMapping is the human-readable input/output meaning pair,
	// e.g. "file_path -> character_sequence".
	ConstructMapping string

	// Timestamp is when the operation was recorded.
	Timestamp time.Time
}

// validate checks the append invariants before a record is admitted.
func (r *Record) validate() error {
	if r.ToolID == "" {
		return fmt.Errorf("provenance: record tool id must not be empty")
	}
	if r.Success && len(r.OutputsRef) == 0 {
		return fmt.Errorf("provenance: successful record for %q must reference its outputs", r.ToolID)
	}
	return nil
}

// =============================================================================
// Errors
// =============================================================================

// ErrArtifactUnknown is returned by TraceToSource for an artifact no record
// ever produced.
var ErrArtifactUnknown = fmt.Errorf("provenance: artifact has no producing record")

// AppendOnlyViolationError reports an attempt to rewrite history: a second
// record under an existing operation ID, or a second producer for an
// existing artifact reference.
type AppendOnlyViolationError struct {
	// OperationID is the contested operation, if that was the collision.
	OperationID string

	// ArtifactRef is the contested artifact, if that was the collision.
	ArtifactRef string
}

func (e *AppendOnlyViolationError) Error() string {
	if e.ArtifactRef != "" {
		return fmt.Sprintf("provenance: artifact %q already has a producing record", e.ArtifactRef)
	}
	return fmt.Sprintf("provenance: operation %q is already recorded", e.OperationID)
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder is the append-only provenance sink.
//
// Thread Safety: Implementations must be safe for concurrent use; several
// independent chains may record interleaved operations.
type Recorder interface {
	// TrackOperation appends one immutable record and returns its operation
	// ID. Returns *AppendOnlyViolationError when the record would overwrite
	// an existing operation or re-produce an existing artifact.
	TrackOperation(ctx context.Context, rec Record) (string, error)

	// TraceToSource returns the full lineage of the given artifact, ordered
	// source-first, by walking the inputs/outputs linkage backward.
	// Returns ErrArtifactUnknown when no record produced the artifact.
	TraceToSource(ctx context.Context, artifactRef string) ([]Record, error)

	// Operations returns up to limit records of the given chain, in step
	// order. A limit of 0 means no limit.
	Operations(ctx context.Context, chainID string, limit int) ([]Record, error)
}

// =============================================================================
// Lineage Walk
// =============================================================================

// producerLookup resolves an artifact reference to the record that produced
// it. Both recorder implementations share the walk; only the lookup differs.
type producerLookup func(artifactRef string) (Record, bool, error)

// traceLineage walks backward from artifactRef through producing records,
// then returns the collected trail ordered source-first. A visited set on
// operation IDs keeps reconvergent inputs (two outputs of one operation
// feeding the same downstream step) from duplicating records and guarantees
// termination.
func traceLineage(artifactRef string, lookup producerLookup) ([]Record, error) {
	root, ok, err := lookup(artifactRef)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactUnknown, artifactRef)
	}

	var trail []Record
	visited := make(map[string]bool)
	var walk func(rec Record) error
	walk = func(rec Record) error {
		if visited[rec.OperationID] {
			return nil
		}
		visited[rec.OperationID] = true
		for _, in := range rec.InputsRef {
			parent, ok, err := lookup(in)
			if err != nil {
				return err
			}
			if !ok {
				// The chain's original input has no producer; that is where
				// the lineage grounds out.
				continue
			}
			if err := walk(parent); err != nil {
				return err
			}
		}
		trail = append(trail, rec)
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return trail, nil
}
