// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain discovers valid ordered tool sequences connecting a declared
// input representation to a declared output representation.
//
// Discovery is a breadth-first search over the registry's type graph. Each
// *type* is visited at most once, which guarantees termination even when tool
// pairs form bidirectional type edges (A->B and B->A). The shortest chain
// wins; ties between equal-length chains are broken in favor of chains whose
// semantic tags match the caller's declared intent over chains using only
// bare types.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/compose/services/compose/capability"
)

var discoveryTracer = otel.Tracer("compose.chain")

// maxShortestPaths bounds the number of equal-length chains enumerated for
// semantic tie-breaking. Beyond this the earliest (deterministically ordered)
// candidates are scored and the rest ignored.
const maxShortestPaths = 32

// =============================================================================
// Chain
// =============================================================================

// Chain is an ordered tool sequence whose declared input/output types connect
// end to end. Computed fresh per request and never mutated after creation.
type Chain struct {
	// ToolIDs is the ordered tool sequence. May be empty when the requested
	// input and output types are identical (the identity chain).
	ToolIDs []string

	// InputType is the representation the chain consumes.
	InputType capability.DataType

	// OutputType is the representation the chain produces.
	OutputType capability.DataType
}

// Len returns the number of tools in the chain.
func (c *Chain) Len() int { return len(c.ToolIDs) }

// String renders the chain for logs, e.g. "FILE->[load_file,text_to_graph]->GRAPH".
func (c *Chain) String() string {
	return fmt.Sprintf("%s->[%s]->%s", c.InputType, strings.Join(c.ToolIDs, ","), c.OutputType)
}

// =============================================================================
// Errors
// =============================================================================

// TypeMismatchError reports that no registered tool sequence connects the
// requested input type to the requested output type, directly or
// transitively. It is the typed "not found" result of discovery; callers
// decide how to surface it.
type TypeMismatchError struct {
	// InputType is the requested source representation.
	InputType capability.DataType

	// OutputType is the requested target representation.
	OutputType capability.DataType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("no tool chain connects %s to %s", e.InputType, e.OutputType)
}

// =============================================================================
// Discovery
// =============================================================================

// Intent carries the caller's optional semantic declaration for tie-breaking.
type Intent struct {
	// SemanticInput is what the caller says the input means (e.g. "source_document").
	SemanticInput string

	// SemanticOutput is what the caller wants the output to mean.
	SemanticOutput string
}

// Filter restricts which tools discovery may use. A nil Filter admits every
// registered tool.
type Filter func(capability.ToolCapability) bool

// DomainFilter admits only tools with the given transformation type.
func DomainFilter(transformationType string) Filter {
	return func(c capability.ToolCapability) bool {
		return c.TransformationType == transformationType
	}
}

// Discovery searches the registry's type graph for tool chains.
//
// Thread Safety: Safe for concurrent use; the registry is read-only after
// startup and Discovery holds no mutable state.
type Discovery struct {
	reg    *capability.Registry
	logger *slog.Logger
	maxLen int
}

// DiscoveryOption configures a Discovery at construction.
type DiscoveryOption func(*Discovery)

// WithMaxChainLength caps the number of tools in any discovered chain.
// Targets that would need more hops come back as the typed not-found. Zero
// or negative means unbounded.
func WithMaxChainLength(n int) DiscoveryOption {
	return func(d *Discovery) { d.maxLen = n }
}

// NewDiscovery creates a Discovery over the given registry.
//
// Inputs:
//
//	reg - The capability registry. Must not be nil.
//	logger - Logger for discovery diagnostics. May be nil (slog.Default).
//	opts - Optional construction settings such as WithMaxChainLength.
func NewDiscovery(reg *capability.Registry, logger *slog.Logger, opts ...DiscoveryOption) *Discovery {
	if reg == nil {
		panic("chain.NewDiscovery: registry must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discovery{reg: reg, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// FindOption customizes one FindChain call.
type FindOption func(*findOptions)

type findOptions struct {
	intent Intent
	filter Filter
}

// WithIntent declares the caller's semantic intent for tie-breaking between
// equal-length chains.
func WithIntent(intent Intent) FindOption {
	return func(o *findOptions) { o.intent = intent }
}

// WithFilter restricts discovery to tools admitted by the filter.
func WithFilter(f Filter) FindOption {
	return func(o *findOptions) { o.filter = f }
}

// FindChain searches for the shortest tool chain from input to output.
//
// Description:
//
//	Breadth-first search over the type graph built from the registry's
//	adjacency view. Every type is expanded at most once, so cyclic type
//	graphs terminate. When several chains of the minimal length exist, the
//	one whose semantic tags best match the caller's intent wins; remaining
//	ties fall to lexicographic tool-ID order so results are deterministic.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	input - The source representation.
//	output - The target representation.
//	opts - Optional intent and domain filter.
//
// Outputs:
//
//	*Chain - The discovered chain. Empty (zero tools) when input == output.
//	error - *TypeMismatchError when no path exists within the configured
//	length cap; never any other kind.
//
// Thread Safety: Safe for concurrent use.
func (d *Discovery) FindChain(ctx context.Context, input, output capability.DataType, opts ...FindOption) (*Chain, error) {
	var o findOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	_, span := discoveryTracer.Start(ctx, "chain.FindChain",
		trace.WithAttributes(
			attribute.String("input_type", string(input)),
			attribute.String("output_type", string(output)),
		),
	)
	defer span.End()

	if input == output {
		span.SetAttributes(attribute.Int("chain_length", 0))
		return &Chain{InputType: input, OutputType: output}, nil
	}

	dist, parents, found := d.bfs(input, output, o.filter)
	if !found {
		err := &TypeMismatchError{InputType: input, OutputType: output}
		span.SetStatus(codes.Error, "no chain found")
		d.logger.Debug("chain discovery: no path",
			slog.String("input_type", string(input)),
			slog.String("output_type", string(output)),
		)
		return nil, err
	}

	paths := enumerateShortestPaths(input, output, dist, parents, maxShortestPaths)
	best := d.pickBest(paths, o.intent)

	span.SetAttributes(
		attribute.Int("chain_length", len(best)),
		attribute.Int("tie_candidates", len(paths)),
	)
	d.logger.Debug("chain discovered",
		slog.String("input_type", string(input)),
		slog.String("output_type", string(output)),
		slog.Int("length", len(best)),
		slog.Int("candidates", len(paths)),
	)
	return &Chain{ToolIDs: best, InputType: input, OutputType: output}, nil
}

// parentEdge records one incoming shortest-path edge for a type.
type parentEdge struct {
	fromType capability.DataType
	edge     capability.Edge
}

// bfs runs the level-order search. It returns the distance of every reached
// type from the input and, for each type, all incoming edges that lie on
// some shortest path (needed for tie-break enumeration).
func (d *Discovery) bfs(input, output capability.DataType, filter Filter) (map[capability.DataType]int, map[capability.DataType][]parentEdge, bool) {
	dist := map[capability.DataType]int{input: 0}
	parents := make(map[capability.DataType][]parentEdge)
	queue := []capability.DataType{input}
	found := false

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if found && dist[cur] >= dist[output] {
			// Everything at or beyond the target level is irrelevant.
			continue
		}
		if d.maxLen > 0 && dist[cur] >= d.maxLen {
			// Edges past the length cap cannot appear in any returned chain.
			continue
		}
		for _, edge := range d.reg.CapabilitiesFrom(cur) {
			if filter != nil {
				if _, cap, ok := d.reg.Tool(edge.ToolID); !ok || !filter(cap) {
					continue
				}
			}
			next := edge.OutputType
			nd, seen := dist[next]
			switch {
			case !seen:
				dist[next] = dist[cur] + 1
				parents[next] = []parentEdge{{fromType: cur, edge: edge}}
				queue = append(queue, next)
				if next == output {
					found = true
				}
			case nd == dist[cur]+1:
				// Another shortest-path edge into an already-visited type.
				parents[next] = append(parents[next], parentEdge{fromType: cur, edge: edge})
			}
		}
	}
	return dist, parents, found
}

// enumerateShortestPaths walks the parent edges backward from output to
// input, producing up to limit tool-ID sequences, each of minimal length.
func enumerateShortestPaths(input, output capability.DataType, dist map[capability.DataType]int, parents map[capability.DataType][]parentEdge, limit int) [][]string {
	var out [][]string
	var walk func(t capability.DataType, suffix []string)
	walk = func(t capability.DataType, suffix []string) {
		if len(out) >= limit {
			return
		}
		if t == input {
			path := make([]string, len(suffix))
			// suffix was built back-to-front; reverse on materialization.
			for i, id := range suffix {
				path[len(suffix)-1-i] = id
			}
			out = append(out, path)
			return
		}
		for _, p := range parents[t] {
			if dist[p.fromType] != dist[t]-1 {
				continue
			}
			walk(p.fromType, append(suffix, p.edge.ToolID))
		}
	}
	walk(output, nil)
	return out
}

// pickBest scores equal-length candidate chains against the caller's
// semantic intent and returns the winner. Ties fall to lexicographic order.
func (d *Discovery) pickBest(paths [][]string, intent Intent) []string {
	if len(paths) == 1 {
		return paths[0]
	}
	bestIdx := -1
	bestScore := -1
	for i, p := range paths {
		s := d.semanticScore(p, intent)
		if s > bestScore || (s == bestScore && lessPath(p, paths[bestIdx])) {
			bestIdx, bestScore = i, s
		}
	}
	return paths[bestIdx]
}

// semanticScore ranks one candidate chain against the caller's intent.
// Scoring is positional: only the chain's entry tool can match the input
// intent and only its exit tool the output intent. A chain whose tools carry
// matching semantic tags outranks one using only bare types.
func (d *Discovery) semanticScore(path []string, intent Intent) int {
	if len(path) == 0 {
		return 0
	}
	score := 0
	if intent.SemanticInput != "" {
		if _, cap, ok := d.reg.Tool(path[0]); ok && cap.SemanticInput == intent.SemanticInput {
			score++
		}
	}
	if intent.SemanticOutput != "" {
		if _, cap, ok := d.reg.Tool(path[len(path)-1]); ok && cap.SemanticOutput == intent.SemanticOutput {
			score++
		}
	}
	return score
}

// lessPath orders tool-ID sequences lexicographically.
func lessPath(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
