// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Registry Errors
// =============================================================================

// DuplicateToolError reports a second registration under an already-taken
// tool ID. Registration is expected to happen once per process at startup,
// so a duplicate is a wiring bug, not a runtime condition.
type DuplicateToolError struct {
	// ToolID is the contested identifier.
	ToolID string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.ToolID)
}

// ErrRegistryFrozen is returned by Register after Freeze has been called.
var ErrRegistryFrozen = fmt.Errorf("registry is frozen; registration is only valid during startup")

// =============================================================================
// Registry
// =============================================================================

// Edge is one outgoing edge of the type graph: a tool that consumes the
// queried input type. This is the adjacency view chain discovery consumes.
type Edge struct {
	// ToolID identifies the tool the edge represents.
	ToolID string

	// OutputType is the representation the tool produces.
	OutputType DataType

	// SemanticInput is the tool's optional input semantic tag.
	SemanticInput string

	// SemanticOutput is the tool's optional output semantic tag.
	SemanticOutput string
}

// registration pairs a tool instance with its declared capability.
type registration struct {
	tool Tool
	cap  ToolCapability
}

// Registry holds declared tool metadata and exposes it as a directed type
// graph.
//
// Description:
//
//	The registry has two phases. During startup, Register is guarded by a
//	mutex and validates every descriptor. After Freeze, the registry is
//	immutable: lookups read the maps directly with no locking, which is
//	safe because no writer can exist. Registering after Freeze is an error.
//
// Thread Safety: Register/Freeze are safe for concurrent use. All read
// methods are safe for concurrent use and lock-free once frozen.
type Registry struct {
	mu      sync.RWMutex
	frozen  atomic.Bool
	tools   map[string]registration
	byInput map[DataType][]Edge
	logger  *slog.Logger
}

// NewRegistry creates an empty, unfrozen registry.
//
// Inputs:
//
//	logger - Logger for registration diagnostics. May be nil (slog.Default).
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]registration),
		byInput: make(map[DataType][]Edge),
		logger:  logger,
	}
}

// Register adds a tool under its declared capability.
//
// Description:
//
//	Validates the descriptor, rejects duplicate tool IDs with
//	*DuplicateToolError, and indexes the tool in the type graph. Must be
//	called before Freeze.
//
// Inputs:
//
//	tool - The tool instance. Must not be nil.
//	cap - The declared capability descriptor.
//
// Outputs:
//
//	error - *DuplicateToolError on an ID collision, ErrRegistryFrozen after
//	Freeze, or a validation error for a malformed descriptor.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(tool Tool, cap ToolCapability) error {
	if tool == nil {
		return fmt.Errorf("register %q: tool must not be nil", cap.ToolID)
	}
	if err := cap.Validate(); err != nil {
		return err
	}
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[cap.ToolID]; exists {
		return &DuplicateToolError{ToolID: cap.ToolID}
	}

	r.tools[cap.ToolID] = registration{tool: tool, cap: cap}
	r.byInput[cap.InputType] = append(r.byInput[cap.InputType], Edge{
		ToolID:         cap.ToolID,
		OutputType:     cap.OutputType,
		SemanticInput:  cap.SemanticInput,
		SemanticOutput: cap.SemanticOutput,
	})

	r.logger.Debug("tool registered",
		slog.String("tool_id", cap.ToolID),
		slog.String("input_type", string(cap.InputType)),
		slog.String("output_type", string(cap.OutputType)),
		slog.String("construct_mapping", cap.ConstructMapping()),
	)
	return nil
}

// Freeze transitions the registry to its read-only phase.
//
// Description:
//
//	Sorts every adjacency list by tool ID so discovery results are
//	deterministic, then marks the registry frozen. After Freeze, all reads
//	are lock-free and Register fails. Freeze is idempotent.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return
	}
	for t := range r.byInput {
		edges := r.byInput[t]
		sort.Slice(edges, func(i, j int) bool { return edges[i].ToolID < edges[j].ToolID })
	}
	r.frozen.Store(true)
	r.logger.Info("registry frozen",
		slog.Int("tool_count", len(r.tools)),
		slog.Int("input_type_count", len(r.byInput)),
	)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Tool returns the tool instance and capability registered under id.
//
// Thread Safety: Safe for concurrent use; lock-free once frozen.
func (r *Registry) Tool(id string) (Tool, ToolCapability, bool) {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	reg, ok := r.tools[id]
	if !ok {
		return nil, ToolCapability{}, false
	}
	return reg.tool, reg.cap, true
}

// CapabilitiesFrom returns all outgoing edges for the given input type.
//
// Description:
//
//	The adjacency view chain discovery consumes. The returned slice is
//	shared once the registry is frozen; callers must not mutate it.
//
// Thread Safety: Safe for concurrent use; lock-free once frozen.
func (r *Registry) CapabilitiesFrom(t DataType) []Edge {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return r.byInput[t]
}

// Capabilities returns every registered descriptor, sorted by tool ID.
// Used by the /tools discovery endpoint.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Capabilities() []ToolCapability {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]ToolCapability, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.cap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.tools)
}
