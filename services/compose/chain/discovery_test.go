// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/compose/services/compose/capability"
)

// =============================================================================
// Helpers
// =============================================================================

type stubTool struct{}

func (stubTool) Process(_ context.Context, data any) *capability.ToolResult {
	return capability.OK(data, 0.1, "stub pass-through")
}

// buildRegistry registers the given capabilities and freezes the registry.
func buildRegistry(t *testing.T, caps ...capability.ToolCapability) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry(nil)
	for _, c := range caps {
		if err := reg.Register(stubTool{}, c); err != nil {
			t.Fatalf("Register %s: %v", c.ToolID, err)
		}
	}
	reg.Freeze()
	return reg
}

func cap(id string, in, out capability.DataType) capability.ToolCapability {
	return capability.ToolCapability{
		ToolID:             id,
		InputType:          in,
		OutputType:         out,
		InputConstruct:     "construct_" + string(in),
		OutputConstruct:    "construct_" + string(out),
		TransformationType: "test",
	}
}

// =============================================================================
// FindChain Tests
// =============================================================================

func TestFindChain_TwoStep(t *testing.T) {
	reg := buildRegistry(t,
		cap("tool_a", capability.TypeFile, capability.TypeText),
		cap("tool_b", capability.TypeText, capability.TypeGraph),
	)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeGraph)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	want := []string{"tool_a", "tool_b"}
	if len(got.ToolIDs) != len(want) {
		t.Fatalf("chain = %v, want %v", got.ToolIDs, want)
	}
	for i := range want {
		if got.ToolIDs[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, got.ToolIDs[i], want[i])
		}
	}
}

func TestFindChain_NotFound_TypedError(t *testing.T) {
	reg := buildRegistry(t,
		cap("tool_a", capability.TypeFile, capability.TypeText),
	)
	d := NewDiscovery(reg, nil)

	_, err := d.FindChain(context.Background(), capability.TypeGraph, capability.TypeVector)
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected *TypeMismatchError, got %v", err)
	}
	if tm.InputType != capability.TypeGraph || tm.OutputType != capability.TypeVector {
		t.Errorf("TypeMismatchError = %+v", tm)
	}
}

func TestFindChain_ShortestWins(t *testing.T) {
	// Direct FILE->GRAPH edge must beat the FILE->TEXT->GRAPH detour.
	reg := buildRegistry(t,
		cap("long_a", capability.TypeFile, capability.TypeText),
		cap("long_b", capability.TypeText, capability.TypeGraph),
		cap("direct", capability.TypeFile, capability.TypeGraph),
	)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeGraph)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.Len() != 1 || got.ToolIDs[0] != "direct" {
		t.Errorf("chain = %v, want [direct]", got.ToolIDs)
	}
}

func TestFindChain_CyclicTypeGraph_Terminates(t *testing.T) {
	// GRAPH->TABLE and TABLE->GRAPH form a bidirectional type edge; the
	// visited-type set must keep the search finite.
	reg := buildRegistry(t,
		cap("g2t", capability.TypeGraph, capability.TypeTable),
		cap("t2g", capability.TypeTable, capability.TypeGraph),
	)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeGraph, capability.TypeTable)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.Len() != 1 || got.ToolIDs[0] != "g2t" {
		t.Errorf("chain = %v, want [g2t]", got.ToolIDs)
	}

	// And an unreachable target must still come back as a typed not-found.
	_, err = d.FindChain(context.Background(), capability.TypeGraph, capability.TypeVector)
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Errorf("expected *TypeMismatchError on unreachable target, got %v", err)
	}
}

func TestFindChain_IdentityChain(t *testing.T) {
	reg := buildRegistry(t)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeText, capability.TypeText)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.Len() != 0 {
		t.Errorf("identity chain has %d tools, want 0", got.Len())
	}
}

func TestFindChain_SemanticTieBreak(t *testing.T) {
	// Two single-step chains of equal length; the semantically tagged tool
	// must win when the caller declares matching intent, and lexicographic
	// order must win without intent.
	tagged := cap("z_tagged", capability.TypeText, capability.TypeGraph)
	tagged.SemanticInput = "theory_description"
	tagged.SemanticOutput = "theory_graph"
	bare := cap("a_bare", capability.TypeText, capability.TypeGraph)

	reg := buildRegistry(t, tagged, bare)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeText, capability.TypeGraph,
		WithIntent(Intent{SemanticInput: "theory_description", SemanticOutput: "theory_graph"}))
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.ToolIDs[0] != "z_tagged" {
		t.Errorf("semantic intent: chain = %v, want [z_tagged]", got.ToolIDs)
	}

	got, err = d.FindChain(context.Background(), capability.TypeText, capability.TypeGraph)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.ToolIDs[0] != "a_bare" {
		t.Errorf("no intent: chain = %v, want [a_bare]", got.ToolIDs)
	}
}

func TestFindChain_DomainFilter(t *testing.T) {
	fast := cap("fast", capability.TypeFile, capability.TypeText)
	fast.TransformationType = "deterministic_io"
	slow := cap("slow", capability.TypeFile, capability.TypeText)
	slow.TransformationType = "llm_extraction"

	reg := buildRegistry(t, fast, slow)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeText,
		WithFilter(DomainFilter("llm_extraction")))
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	if got.ToolIDs[0] != "slow" {
		t.Errorf("filtered chain = %v, want [slow]", got.ToolIDs)
	}

	// Filtering out every tool yields a typed not-found.
	_, err = d.FindChain(context.Background(), capability.TypeFile, capability.TypeText,
		WithFilter(DomainFilter("nonexistent")))
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Errorf("expected *TypeMismatchError with exhaustive filter, got %v", err)
	}
}

func TestFindChain_MaxChainLengthCap(t *testing.T) {
	reg := buildRegistry(t,
		cap("load", capability.TypeFile, capability.TypeText),
		cap("extract", capability.TypeText, capability.TypeGraph),
	)
	d := NewDiscovery(reg, nil, WithMaxChainLength(1))

	// FILE->GRAPH needs two hops; with the cap at one it must come back as
	// the typed not-found.
	_, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeGraph)
	var tm *TypeMismatchError
	if !errors.As(err, &tm) {
		t.Fatalf("expected *TypeMismatchError past the length cap, got %v", err)
	}

	// A chain at exactly the cap is still allowed.
	got, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeText)
	if err != nil {
		t.Fatalf("FindChain at the cap: %v", err)
	}
	if got.Len() != 1 || got.ToolIDs[0] != "load" {
		t.Errorf("chain = %v, want [load]", got.ToolIDs)
	}
}

func TestFindChain_MultiHopAcrossRepresentations(t *testing.T) {
	reg := buildRegistry(t,
		cap("load", capability.TypeFile, capability.TypeText),
		cap("extract", capability.TypeText, capability.TypeGraph),
		cap("flatten", capability.TypeGraph, capability.TypeTable),
		cap("persist", capability.TypeTable, capability.TypeTableRef),
	)
	d := NewDiscovery(reg, nil)

	got, err := d.FindChain(context.Background(), capability.TypeFile, capability.TypeTableRef)
	if err != nil {
		t.Fatalf("FindChain: %v", err)
	}
	want := []string{"load", "extract", "flatten", "persist"}
	if got.Len() != len(want) {
		t.Fatalf("chain = %v, want %v", got.ToolIDs, want)
	}
	for i := range want {
		if got.ToolIDs[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, got.ToolIDs[i], want[i])
		}
	}
}
