// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compose is the service facade over the composition framework:
// capability registry, chain discovery, execution, cross-modal conversion,
// and provenance, behind one API surface and its HTTP handlers.
package compose

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/chain"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/engine"
	"github.com/AleutianAI/compose/services/compose/provenance"
)

// =============================================================================
// Service
// =============================================================================

// Service exposes the composition framework's operations.
//
// Thread Safety: Safe for concurrent use once constructed. The registry must
// be frozen before the service starts answering discovery calls.
type Service struct {
	reg       *capability.Registry
	discovery *chain.Discovery
	engine    *engine.Engine
	recorder  provenance.Recorder
	converter *crossmodal.Converter
	logger    *slog.Logger
}

// NewService assembles a Service from its wired components.
func NewService(
	reg *capability.Registry,
	discovery *chain.Discovery,
	eng *engine.Engine,
	recorder provenance.Recorder,
	converter *crossmodal.Converter,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case reg == nil:
		return nil, fmt.Errorf("compose: registry must not be nil")
	case discovery == nil:
		return nil, fmt.Errorf("compose: discovery must not be nil")
	case eng == nil:
		return nil, fmt.Errorf("compose: engine must not be nil")
	case recorder == nil:
		return nil, fmt.Errorf("compose: recorder must not be nil")
	case converter == nil:
		return nil, fmt.Errorf("compose: converter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reg:       reg,
		discovery: discovery,
		engine:    eng,
		recorder:  recorder,
		converter: converter,
		logger:    logger,
	}, nil
}

// Capabilities lists every registered tool capability.
func (s *Service) Capabilities() []capability.ToolCapability {
	return s.reg.Capabilities()
}

// DiscoverChain finds the shortest chain from input to output.
//
// Outputs:
//
//	*chain.Chain - The discovered chain; empty for the identity case.
//	error - *chain.TypeMismatchError when no chain exists.
func (s *Service) DiscoverChain(ctx context.Context, input, output capability.DataType, intent *chain.Intent) (*chain.Chain, error) {
	opts := []chain.FindOption{}
	if intent != nil {
		opts = append(opts, chain.WithIntent(*intent))
	}
	return s.discovery.FindChain(ctx, input, output, opts...)
}

// ExecuteChain runs a previously discovered chain on data.
func (s *Service) ExecuteChain(ctx context.Context, ch *chain.Chain, data any) (*engine.ChainResult, error) {
	return s.engine.ExecuteChain(ctx, ch, data)
}

// RunTransformation discovers and executes in one call.
//
// Description:
//
//	The convenience path for callers who only care about getting from one
//	representation to another: discovery errors and execution errors come
//	back unchanged, so *chain.TypeMismatchError and *engine.ChainAbortedError
//	stay distinguishable.
func (s *Service) RunTransformation(ctx context.Context, input, output capability.DataType, data any, intent *chain.Intent) (*engine.ChainResult, error) {
	ch, err := s.DiscoverChain(ctx, input, output, intent)
	if err != nil {
		return nil, err
	}
	return s.engine.ExecuteChain(ctx, ch, data)
}

// TraceToSource returns the source-first lineage of an artifact reference.
func (s *Service) TraceToSource(ctx context.Context, artifactRef string) ([]provenance.Record, error) {
	return s.recorder.TraceToSource(ctx, artifactRef)
}

// Converter exposes the cross-modal converter for the direct conversion
// endpoints.
func (s *Service) Converter() *crossmodal.Converter {
	return s.converter
}
