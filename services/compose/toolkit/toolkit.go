// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package toolkit ships the built-in tools.
//
// Every tool here follows the house rules: domain failures come back as
// failed results rather than Go errors, every success carries a written
// self-assessment, and degraded output beats no output where the caller can
// still judge it (a file with broken encoding loads at elevated uncertainty
// instead of refusing).
package toolkit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/storage/sqlite"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

// invalidEncodingUncertainty is reported when a loaded file contained bytes
// that are not valid UTF-8 and were replaced. The text is usable but some
// characters are gone.
const invalidEncodingUncertainty = 0.30

// =============================================================================
// Evidence Model
// =============================================================================

// Evidence is one observation about a target, from one source.
type Evidence struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Claim       string  `json:"claim"`
	Uncertainty float64 `json:"uncertainty"`
}

// Conclusion is the merged judgment over an evidence set.
type Conclusion struct {
	Target        string  `json:"target"`
	Claim         string  `json:"claim"`
	Uncertainty   float64 `json:"uncertainty"`
	Reasoning     string  `json:"reasoning"`
	EvidenceCount int     `json:"evidence_count"`
	Agreed        bool    `json:"agreed"`
}

// =============================================================================
// LoadFileTool (FILE -> TEXT)
// =============================================================================

// LoadFileTool reads a file path into a character sequence.
type LoadFileTool struct {
	assessor uncertainty.Assessor
}

// Process implements capability.Tool.
//
// Edge Cases:
//
//	Invalid UTF-8 does not fail the load: the bytes are decoded with
//	replacement characters and the elevated uncertainty plus reasoning tell
//	the caller what happened. A missing or unreadable file is a failure.
func (t *LoadFileTool) Process(_ context.Context, data any) *capability.ToolResult {
	path, ok := data.(string)
	if !ok {
		return capability.Fail("load_file expects a path string, got %T", data)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return capability.Fail("read %s: %v", path, err)
	}

	if !utf8.Valid(raw) {
		text := strings.ToValidUTF8(string(raw), "�")
		return capability.OK(text, invalidEncodingUncertainty,
			"file contained invalid UTF-8; undecodable bytes were replaced, so some characters are lost")
	}

	a := t.assessor.Assess(
		uncertainty.Descriptor{Construct: "file_path", DataType: string(capability.TypeFile)},
		uncertainty.Descriptor{Construct: "character_sequence", DataType: string(capability.TypeText)},
		"deterministic_io",
	)
	return capability.OK(string(raw), a.Uncertainty, a.Reasoning)
}

// =============================================================================
// Conversion Tools (GRAPH <-> TABLE, GRAPH -> VECTOR)
// =============================================================================

// GraphToTableTool flattens a graph into tables via the cross-modal converter.
type GraphToTableTool struct {
	converter *crossmodal.Converter
}

// Process implements capability.Tool.
func (t *GraphToTableTool) Process(ctx context.Context, data any) *capability.ToolResult {
	g, ok := data.(*crossmodal.Graph)
	if !ok {
		return capability.Fail("graph_to_table expects *crossmodal.Graph, got %T", data)
	}
	ts, conv, err := t.converter.GraphToTable(ctx, *g)
	if err != nil {
		return capability.Fail("flatten graph: %v", err)
	}
	return capability.OK(&ts, conv.Uncertainty, conv.Reasoning)
}

// TableToGraphTool reconstructs a graph from tables.
type TableToGraphTool struct {
	converter *crossmodal.Converter
}

// Process implements capability.Tool. An unresolved foreign key is a domain
// failure, never a silently dropped edge.
func (t *TableToGraphTool) Process(ctx context.Context, data any) *capability.ToolResult {
	ts, ok := data.(*crossmodal.TableSet)
	if !ok {
		return capability.Fail("table_to_graph expects *crossmodal.TableSet, got %T", data)
	}
	g, conv, err := t.converter.TableToGraph(ctx, *ts)
	if err != nil {
		return capability.Fail("reconstruct graph: %v", err)
	}
	return capability.OK(&g, conv.Uncertainty, conv.Reasoning)
}

// GraphToVectorTool projects graph entities into embedding vectors.
type GraphToVectorTool struct {
	converter *crossmodal.Converter
}

// Process implements capability.Tool.
func (t *GraphToVectorTool) Process(ctx context.Context, data any) *capability.ToolResult {
	g, ok := data.(*crossmodal.Graph)
	if !ok {
		return capability.Fail("graph_to_vector expects *crossmodal.Graph, got %T", data)
	}
	records, conv, err := t.converter.GraphToVector(ctx, *g)
	if err != nil {
		return capability.Fail("project graph: %v", err)
	}
	return capability.OK(records, conv.Uncertainty, conv.Reasoning)
}

// =============================================================================
// Table Persistence Tools (TABLE <-> TABLE_REF)
// =============================================================================

// PersistTableTool stores a table set and hands downstream steps a reference.
type PersistTableTool struct {
	tables   *sqlite.TabularStore
	assessor uncertainty.Assessor
}

// Process implements capability.Tool.
func (t *PersistTableTool) Process(ctx context.Context, data any) *capability.ToolResult {
	ts, ok := data.(*crossmodal.TableSet)
	if !ok {
		return capability.Fail("persist_table expects *crossmodal.TableSet, got %T", data)
	}

	ref := "table/" + uuid.NewString()
	if _, err := t.tables.WriteTableSet(ctx, ref, *ts, 0); err != nil {
		return capability.Fail("persist table set: %v", err)
	}

	a := t.assessor.Assess(
		uncertainty.Descriptor{Construct: "entity_relation_tables", DataType: string(capability.TypeTable)},
		uncertainty.Descriptor{Construct: "table_reference", DataType: string(capability.TypeTableRef)},
		"deterministic_io",
	)
	return capability.OK(ref, a.Uncertainty, a.Reasoning)
}

// LoadTableTool resolves a table reference back into rows.
type LoadTableTool struct {
	tables   *sqlite.TabularStore
	assessor uncertainty.Assessor
}

// Process implements capability.Tool.
func (t *LoadTableTool) Process(ctx context.Context, data any) *capability.ToolResult {
	ref, ok := data.(string)
	if !ok {
		return capability.Fail("load_table expects a reference string, got %T", data)
	}

	ts, _, err := t.tables.ReadTableSet(ctx, ref)
	if err != nil {
		return capability.Fail("load table set %s: %v", ref, err)
	}

	a := t.assessor.Assess(
		uncertainty.Descriptor{Construct: "table_reference", DataType: string(capability.TypeTableRef)},
		uncertainty.Descriptor{Construct: "entity_relation_tables", DataType: string(capability.TypeTable)},
		"deterministic_io",
	)
	return capability.OK(&ts, a.Uncertainty, a.Reasoning)
}

// =============================================================================
// Registration
// =============================================================================

// Deps carries the shared services the built-in tools run on.
type Deps struct {
	Converter *crossmodal.Converter
	Tables    *sqlite.TabularStore
	Assessor  uncertainty.Assessor
	Logger    *slog.Logger
}

// RegisterBuiltins registers every built-in tool with the registry. Call
// before Freeze. The converter and assessor are required; a nil tabular
// store only drops the table persistence tools.
func RegisterBuiltins(reg *capability.Registry, deps Deps) error {
	switch {
	case reg == nil:
		return fmt.Errorf("toolkit: registry must not be nil")
	case deps.Converter == nil:
		return fmt.Errorf("toolkit: converter must not be nil")
	case deps.Assessor == nil:
		return fmt.Errorf("toolkit: assessor must not be nil")
	}
	type entry struct {
		tool capability.Tool
		cap  capability.ToolCapability
	}
	entries := []entry{
		{
			&LoadFileTool{assessor: deps.Assessor},
			capability.ToolCapability{
				ToolID:             "load_file",
				InputType:          capability.TypeFile,
				OutputType:         capability.TypeText,
				InputConstruct:     "file_path",
				OutputConstruct:    "character_sequence",
				TransformationType: "deterministic_io",
				SemanticInput:      "source_document",
				SemanticOutput:     "document_text",
			},
		},
		{
			&GraphToTableTool{converter: deps.Converter},
			capability.ToolCapability{
				ToolID:             "graph_to_table",
				InputType:          capability.TypeGraph,
				OutputType:         capability.TypeTable,
				InputConstruct:     "entity_relationship_graph",
				OutputConstruct:    "entity_relation_tables",
				TransformationType: "crossmodal_flatten",
			},
		},
		{
			&TableToGraphTool{converter: deps.Converter},
			capability.ToolCapability{
				ToolID:             "table_to_graph",
				InputType:          capability.TypeTable,
				OutputType:         capability.TypeGraph,
				InputConstruct:     "entity_relation_tables",
				OutputConstruct:    "entity_relationship_graph",
				TransformationType: "crossmodal_reconstruct",
			},
		},
		{
			&GraphToVectorTool{converter: deps.Converter},
			capability.ToolCapability{
				ToolID:             "graph_to_vector",
				InputType:          capability.TypeGraph,
				OutputType:         capability.TypeVector,
				InputConstruct:     "entity_relationship_graph",
				OutputConstruct:    "entity_embedding_vectors",
				TransformationType: "crossmodal_projection",
			},
		},
		{
			&PersistTableTool{tables: deps.Tables, assessor: deps.Assessor},
			capability.ToolCapability{
				ToolID:             "persist_table",
				InputType:          capability.TypeTable,
				OutputType:         capability.TypeTableRef,
				InputConstruct:     "entity_relation_tables",
				OutputConstruct:    "table_reference",
				TransformationType: "deterministic_io",
			},
		},
		{
			&LoadTableTool{tables: deps.Tables, assessor: deps.Assessor},
			capability.ToolCapability{
				ToolID:             "load_table",
				InputType:          capability.TypeTableRef,
				OutputType:         capability.TypeTable,
				InputConstruct:     "table_reference",
				OutputConstruct:    "entity_relation_tables",
				TransformationType: "deterministic_io",
			},
		},
		{
			&MergeEvidenceTool{assessor: deps.Assessor, logger: deps.Logger},
			capability.ToolCapability{
				ToolID:             "merge_evidence",
				InputType:          capability.TypeEvidenceSet,
				OutputType:         capability.TypeConclusion,
				InputConstruct:     "evidence_observations",
				OutputConstruct:    "merged_conclusion",
				TransformationType: "evidence_aggregation",
			},
		},
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, e := range entries {
		// A deployment without a tabular store just loses the TABLE_REF hops.
		if deps.Tables == nil && (e.cap.ToolID == "persist_table" || e.cap.ToolID == "load_table") {
			logger.Warn("tabular store not configured, skipping tool",
				slog.String("tool_id", e.cap.ToolID),
			)
			continue
		}
		if err := reg.Register(e.tool, e.cap); err != nil {
			return err
		}
	}
	return nil
}
