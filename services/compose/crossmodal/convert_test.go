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
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/compose/services/compose/config"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	cfg, err := config.GetAssessorConfig(context.Background())
	if err != nil {
		t.Fatalf("GetAssessorConfig: %v", err)
	}
	c, err := NewConverter(
		uncertainty.NewRuleBasedAssessor(cfg, nil),
		DeterministicProjector{},
		cfg.Limits.MaxRowsPerConversion,
		nil,
	)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	return c
}

func sampleGraph() Graph {
	return Graph{
		Entities: []Entity{
			{ID: "e1", Type: "person", Attributes: map[string]any{"name": "ada"}},
			{ID: "e2", Type: "person", Attributes: map[string]any{"name": "grace"}},
			{ID: "e3", Type: "org", Attributes: map[string]any{"name": "acme"}},
		},
		Relationships: []Relationship{
			{ID: "r1", Type: "knows", SourceID: "e1", TargetID: "e2"},
			{ID: "r2", Type: "works_at", SourceID: "e1", TargetID: "e3"},
		},
	}
}

// =============================================================================
// GraphToTable Tests
// =============================================================================

func TestGraphToTable_LossyWithNamedCategories(t *testing.T) {
	c := newTestConverter(t)

	ts, conv, err := c.GraphToTable(context.Background(), sampleGraph())
	if err != nil {
		t.Fatalf("GraphToTable: %v", err)
	}
	if conv.Lossless {
		t.Error("a graph with relationships must never be acknowledged lossless")
	}
	if conv.Uncertainty <= 0 {
		t.Errorf("uncertainty = %v, want > 0 for a lossy conversion", conv.Uncertainty)
	}
	for _, want := range []string{LossMultiHopPaths, LossCentralityContext, LossSubgraphMotifs} {
		found := false
		for _, got := range conv.LossCategories {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("loss categories %v missing %q", conv.LossCategories, want)
		}
	}
	if len(ts.Entities) != 3 || len(ts.Relations) != 2 {
		t.Errorf("table set = %d entities, %d relations; want 3 and 2", len(ts.Entities), len(ts.Relations))
	}
}

func TestGraphToTable_ComputesDegrees(t *testing.T) {
	c := newTestConverter(t)

	ts, _, err := c.GraphToTable(context.Background(), sampleGraph())
	if err != nil {
		t.Fatalf("GraphToTable: %v", err)
	}
	byID := make(map[string]EntityRow)
	for _, row := range ts.Entities {
		byID[row.EntityID] = row
	}
	if byID["e1"].OutDegree != 2 || byID["e1"].InDegree != 0 {
		t.Errorf("e1 degrees = (%d out, %d in), want (2, 0)", byID["e1"].OutDegree, byID["e1"].InDegree)
	}
	if byID["e3"].InDegree != 1 {
		t.Errorf("e3 in-degree = %d, want 1", byID["e3"].InDegree)
	}
}

func TestGraphToTable_ProvablyLossless(t *testing.T) {
	c := newTestConverter(t)
	g := Graph{Entities: []Entity{
		{ID: "e1", Type: "person", Attributes: map[string]any{"age": 40}},
	}}

	_, conv, err := c.GraphToTable(context.Background(), g)
	if err != nil {
		t.Fatalf("GraphToTable: %v", err)
	}
	if !conv.Lossless || conv.Uncertainty != 0 || len(conv.LossCategories) != 0 {
		t.Errorf("relationship-free scalar graph should be lossless with zero uncertainty, got %+v", conv)
	}
	if conv.Reasoning == "" {
		t.Error("even a lossless conversion must explain itself")
	}
}

func TestGraphToTable_NestedAttributesReported(t *testing.T) {
	c := newTestConverter(t)
	g := Graph{Entities: []Entity{
		{ID: "e1", Type: "doc", Attributes: map[string]any{"tags": []string{"a", "b"}}},
	}}

	_, conv, err := c.GraphToTable(context.Background(), g)
	if err != nil {
		t.Fatalf("GraphToTable: %v", err)
	}
	if conv.Lossless {
		t.Error("non-scalar attributes must not be acknowledged lossless")
	}
	found := false
	for _, cat := range conv.LossCategories {
		if cat == LossNestedAttributes {
			found = true
		}
	}
	if !found {
		t.Errorf("loss categories %v missing %q", conv.LossCategories, LossNestedAttributes)
	}
}

func TestGraphToTable_RowLimit(t *testing.T) {
	cfg, err := config.GetAssessorConfig(context.Background())
	if err != nil {
		t.Fatalf("GetAssessorConfig: %v", err)
	}
	c, err := NewConverter(uncertainty.NewRuleBasedAssessor(cfg, nil), DeterministicProjector{}, 2, nil)
	if err != nil {
		t.Fatalf("NewConverter: %v", err)
	}
	if _, _, err := c.GraphToTable(context.Background(), sampleGraph()); err == nil {
		t.Error("expected row limit error")
	}
}

// =============================================================================
// TableToGraph Tests
// =============================================================================

func TestRoundTrip_StructurePreservedDegreesRecomputable(t *testing.T) {
	c := newTestConverter(t)
	ctx := context.Background()
	orig := sampleGraph()

	ts, _, err := c.GraphToTable(ctx, orig)
	if err != nil {
		t.Fatalf("GraphToTable: %v", err)
	}
	back, conv, err := c.TableToGraph(ctx, ts)
	if err != nil {
		t.Fatalf("TableToGraph: %v", err)
	}

	// Entities and relationships survive the round trip (both sides sorted
	// by ID for comparison).
	if len(back.Entities) != len(orig.Entities) || len(back.Relationships) != len(orig.Relationships) {
		t.Fatalf("round trip changed cardinality: %d/%d entities, %d/%d relationships",
			len(back.Entities), len(orig.Entities), len(back.Relationships), len(orig.Relationships))
	}
	for _, want := range orig.Relationships {
		found := false
		for _, got := range back.Relationships {
			if reflect.DeepEqual(got, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("relationship %+v lost in round trip", want)
		}
	}

	// The acknowledgment must still report loss: the round trip preserves
	// the explicit facts, not the pre-flattening context.
	if conv.Lossless || conv.Uncertainty <= 0 {
		t.Errorf("reconstruction with relations acknowledged as lossless: %+v", conv)
	}
}

func TestTableToGraph_UnresolvedForeignKey(t *testing.T) {
	c := newTestConverter(t)
	ts := TableSet{
		Entities: []EntityRow{{EntityID: "e1", EntityType: "person"}},
		Relations: []RelationRow{
			{RelationID: "r1", RelationType: "knows", SourceID: "e1", TargetID: "ghost"},
		},
	}

	_, _, err := c.TableToGraph(context.Background(), ts)
	var unresolved *UnresolvedReferenceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected *UnresolvedReferenceError, got %v", err)
	}
	if unresolved.MissingEntityID != "ghost" || unresolved.RelationID != "r1" {
		t.Errorf("error detail = %+v", unresolved)
	}
}

func TestTableToGraph_LosslessWithoutRelations(t *testing.T) {
	c := newTestConverter(t)
	ts := TableSet{Entities: []EntityRow{
		{EntityID: "e1", EntityType: "person", Attributes: map[string]any{"name": "ada"}},
	}}

	_, conv, err := c.TableToGraph(context.Background(), ts)
	if err != nil {
		t.Fatalf("TableToGraph: %v", err)
	}
	if !conv.Lossless || conv.Uncertainty != 0 {
		t.Errorf("relation-free scalar rows should reconstruct losslessly, got %+v", conv)
	}
}

// =============================================================================
// GraphToVector Tests
// =============================================================================

func TestGraphToVector_DeterministicUnitVectors(t *testing.T) {
	c := newTestConverter(t)
	ctx := context.Background()

	first, conv, err := c.GraphToVector(ctx, sampleGraph())
	if err != nil {
		t.Fatalf("GraphToVector: %v", err)
	}
	if conv.Lossless || conv.Uncertainty <= 0 {
		t.Errorf("vector projection must never be lossless: %+v", conv)
	}
	if len(first) != 3 {
		t.Fatalf("records = %d, want 3", len(first))
	}
	for _, rec := range first {
		var sum float64
		for _, v := range rec.Vector {
			sum += float64(v) * float64(v)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-5 {
			t.Errorf("vector for %s not unit-normalized (norm %v)", rec.EntityID, math.Sqrt(sum))
		}
	}

	second, _, err := c.GraphToVector(ctx, sampleGraph())
	if err != nil {
		t.Fatalf("GraphToVector (second): %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("projection is not deterministic across identical inputs")
	}
}

// =============================================================================
// Loss Acknowledgment Guard Tests
// =============================================================================

func TestCheckAcknowledgment(t *testing.T) {
	tests := []struct {
		name    string
		conv    Conversion
		wantErr bool
	}{
		{"lossless ok", Conversion{Lossless: true, Reasoning: "exact mapping"}, false},
		{"lossy ok", Conversion{Uncertainty: 0.15, LossCategories: []string{LossMultiHopPaths}, Reasoning: "paths lost"}, false},
		{"no reasoning", Conversion{Uncertainty: 0.15, LossCategories: []string{LossMultiHopPaths}}, true},
		{"zero uncertainty without proof", Conversion{Reasoning: "fine"}, true},
		{"lossy without categories", Conversion{Uncertainty: 0.15, Reasoning: "something lost"}, true},
		{"lossless claiming loss", Conversion{Lossless: true, Uncertainty: 0.1, Reasoning: "contradiction"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAcknowledgment("test_op", tt.conv)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkAcknowledgment() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var lossErr *ConversionLossError
				if !errors.As(err, &lossErr) {
					t.Errorf("expected *ConversionLossError, got %T", err)
				}
			}
		})
	}
}

func TestGraph_ValidateRejectsDanglingEdge(t *testing.T) {
	g := Graph{
		Entities:      []Entity{{ID: "e1"}},
		Relationships: []Relationship{{ID: "r1", SourceID: "e1", TargetID: "missing"}},
	}
	var unresolved *UnresolvedReferenceError
	if err := g.Validate(); !errors.As(err, &unresolved) {
		t.Errorf("expected *UnresolvedReferenceError, got %v", err)
	}
}

func TestDeterministicProjector_SimilarDocsCloserThanDissimilar(t *testing.T) {
	p := DeterministicProjector{}
	ctx := context.Background()

	a, _, _ := p.Embed(ctx, "person ada lovelace mathematician")
	b, _, _ := p.Embed(ctx, "person ada lovelace engineer")
	c, _, _ := p.Embed(ctx, "org acme widgets manufacturing")

	dot := func(x, y []float32) float64 {
		var s float64
		for i := range x {
			s += float64(x[i]) * float64(y[i])
		}
		return s
	}
	if dot(a, b) <= dot(a, c) {
		t.Errorf("token-overlapping docs should score higher: ab=%v ac=%v", dot(a, b), dot(a, c))
	}
	if !strings.Contains(p.Model(), "hashed") {
		t.Errorf("model name should identify the projection: %q", p.Model())
	}
}
