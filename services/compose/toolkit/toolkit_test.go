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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/config"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/storage/sqlite"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	cfg, err := config.GetAssessorConfig(context.Background())
	if err != nil {
		t.Fatalf("GetAssessorConfig: %v", err)
	}
	assessor := uncertainty.NewRuleBasedAssessor(cfg, nil)

	converter, err := crossmodal.NewConverter(assessor, crossmodal.DeterministicProjector{},
		cfg.Limits.MaxRowsPerConversion, nil)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	tables, err := sqlite.NewTabularStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewTabularStore: %v", err)
	}
	t.Cleanup(func() { _ = tables.Close() })

	return Deps{Converter: converter, Tables: tables, Assessor: assessor}
}

func sampleGraph() *crossmodal.Graph {
	return &crossmodal.Graph{
		Entities: []crossmodal.Entity{
			{ID: "e1", Type: "person", Attributes: map[string]any{"name": "ada"}},
			{ID: "e2", Type: "org", Attributes: map[string]any{"name": "acme"}},
		},
		Relationships: []crossmodal.Relationship{
			{ID: "r1", Type: "works_at", SourceID: "e1", TargetID: "e2"},
		},
	}
}

// =============================================================================
// LoadFileTool Tests
// =============================================================================

func TestLoadFileTool_ValidFile(t *testing.T) {
	deps := newTestDeps(t)
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("hello graphs"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tool := &LoadFileTool{assessor: deps.Assessor}
	res := tool.Process(context.Background(), path)
	if !res.Success {
		t.Fatalf("Process failed: %s", res.Error)
	}
	if res.Data != "hello graphs" {
		t.Errorf("Data = %v", res.Data)
	}
	if res.Uncertainty != 0.02 {
		t.Errorf("Uncertainty = %v, want the deterministic_io rule value 0.02", res.Uncertainty)
	}
	if res.Reasoning == "" {
		t.Error("success must carry reasoning")
	}
}

func TestLoadFileTool_InvalidUTF8DegradesInsteadOfFailing(t *testing.T) {
	deps := newTestDeps(t)
	path := filepath.Join(t.TempDir(), "mixed.bin")
	if err := os.WriteFile(path, []byte{'o', 'k', 0xff, 0xfe, '!'}, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tool := &LoadFileTool{assessor: deps.Assessor}
	res := tool.Process(context.Background(), path)
	if !res.Success {
		t.Fatalf("degraded output policy: invalid encoding should load, got failure %s", res.Error)
	}
	if res.Uncertainty != invalidEncodingUncertainty {
		t.Errorf("Uncertainty = %v, want elevated %v", res.Uncertainty, invalidEncodingUncertainty)
	}
	if !strings.Contains(res.Reasoning, "invalid UTF-8") {
		t.Errorf("reasoning should name the degradation: %q", res.Reasoning)
	}
	if !strings.Contains(res.Data.(string), "ok") {
		t.Errorf("decodable content lost: %q", res.Data)
	}
}

func TestLoadFileTool_MissingFileFails(t *testing.T) {
	deps := newTestDeps(t)
	tool := &LoadFileTool{assessor: deps.Assessor}

	res := tool.Process(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if res.Success {
		t.Error("missing file must be a domain failure")
	}
	if res.Error == "" {
		t.Error("failure must carry a message")
	}
}

// =============================================================================
// Conversion and Persistence Tool Tests
// =============================================================================

func TestConversionTools_GraphTableRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()

	flat := (&GraphToTableTool{converter: deps.Converter}).Process(ctx, sampleGraph())
	if !flat.Success {
		t.Fatalf("graph_to_table: %s", flat.Error)
	}
	if flat.Uncertainty <= 0 {
		t.Error("flattening a graph with edges must report loss")
	}

	back := (&TableToGraphTool{converter: deps.Converter}).Process(ctx, flat.Data)
	if !back.Success {
		t.Fatalf("table_to_graph: %s", back.Error)
	}
	g := back.Data.(*crossmodal.Graph)
	if len(g.Entities) != 2 || len(g.Relationships) != 1 {
		t.Errorf("round trip lost structure: %d entities, %d relationships", len(g.Entities), len(g.Relationships))
	}
}

func TestConversionTools_WrongPayloadType(t *testing.T) {
	deps := newTestDeps(t)
	res := (&GraphToTableTool{converter: deps.Converter}).Process(context.Background(), "not a graph")
	if res.Success {
		t.Error("wrong payload type must fail")
	}
	if !strings.Contains(res.Error, "string") {
		t.Errorf("failure should name the offending type: %q", res.Error)
	}
}

func TestPersistAndLoadTable(t *testing.T) {
	deps := newTestDeps(t)
	ctx := context.Background()

	flat := (&GraphToTableTool{converter: deps.Converter}).Process(ctx, sampleGraph())
	if !flat.Success {
		t.Fatalf("graph_to_table: %s", flat.Error)
	}

	persisted := (&PersistTableTool{tables: deps.Tables, assessor: deps.Assessor}).Process(ctx, flat.Data)
	if !persisted.Success {
		t.Fatalf("persist_table: %s", persisted.Error)
	}
	ref, ok := persisted.Data.(string)
	if !ok || !strings.HasPrefix(ref, "table/") {
		t.Fatalf("persist_table should return a reference, got %v", persisted.Data)
	}

	loaded := (&LoadTableTool{tables: deps.Tables, assessor: deps.Assessor}).Process(ctx, ref)
	if !loaded.Success {
		t.Fatalf("load_table: %s", loaded.Error)
	}
	ts := loaded.Data.(*crossmodal.TableSet)
	if len(ts.Entities) != 2 || len(ts.Relations) != 1 {
		t.Errorf("loaded table set = %d entities, %d relations", len(ts.Entities), len(ts.Relations))
	}

	missing := (&LoadTableTool{tables: deps.Tables, assessor: deps.Assessor}).Process(ctx, "table/absent")
	if missing.Success {
		t.Error("loading an unknown reference must fail")
	}
}

// =============================================================================
// Registration Tests
// =============================================================================

func TestRegisterBuiltins(t *testing.T) {
	deps := newTestDeps(t)
	reg := capability.NewRegistry(nil)

	if err := RegisterBuiltins(reg, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if reg.Count() != 7 {
		t.Errorf("registered tools = %d, want 7", reg.Count())
	}
	for _, id := range []string{"load_file", "graph_to_table", "table_to_graph", "graph_to_vector",
		"persist_table", "load_table", "merge_evidence"} {
		if _, _, ok := reg.Tool(id); !ok {
			t.Errorf("tool %q not registered", id)
		}
	}
}

func TestRegisterBuiltins_RejectsMissingDeps(t *testing.T) {
	deps := newTestDeps(t)
	reg := capability.NewRegistry(nil)

	noConverter := deps
	noConverter.Converter = nil
	if err := RegisterBuiltins(reg, noConverter); err == nil {
		t.Error("nil converter must fail at registration, not at first Process call")
	}

	noAssessor := deps
	noAssessor.Assessor = nil
	if err := RegisterBuiltins(reg, noAssessor); err == nil {
		t.Error("nil assessor must fail at registration, not at first Process call")
	}

	if err := RegisterBuiltins(nil, deps); err == nil {
		t.Error("nil registry must fail")
	}
}

func TestRegisterBuiltins_WithoutTabularStore(t *testing.T) {
	deps := newTestDeps(t)
	deps.Tables = nil
	reg := capability.NewRegistry(nil)

	if err := RegisterBuiltins(reg, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if reg.Count() != 5 {
		t.Errorf("registered tools = %d, want 5 without the table hops", reg.Count())
	}
	if _, _, ok := reg.Tool("persist_table"); ok {
		t.Error("persist_table should be skipped without a tabular store")
	}
}
