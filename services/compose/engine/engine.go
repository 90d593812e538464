// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine executes discovered tool chains.
//
// Execution is sequential and fail-fast: each step feeds the next, a failed
// step aborts the remainder, and every step writes one provenance record
// whether it succeeded or not. Uncertainty compounds multiplicatively across
// steps rather than averaging, so a long chain of individually confident
// tools is still reported as less certain than any one of them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/chain"
	"github.com/AleutianAI/compose/services/compose/provenance"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

var engineTracer = otel.Tracer("compose/engine")

// =============================================================================
// Results
// =============================================================================

// StepOutcome is the outcome of one executed chain step.
type StepOutcome struct {
	// ToolID is the executed tool.
	ToolID string `json:"tool_id"`

	// Success mirrors the tool's own verdict.
	Success bool `json:"success"`

	// Uncertainty is the tool's assessed uncertainty, clamped to [0,1].
	Uncertainty float64 `json:"uncertainty"`

	// Reasoning is the tool's written assessment.
	Reasoning string `json:"reasoning"`

	// Error is the tool's failure message. Empty on success.
	Error string `json:"error,omitempty"`

	// ConstructMapping is the step's input/output meaning pair.
	ConstructMapping string `json:"construct_mapping"`

	// RunningUncertainty is the chain's compounded uncertainty up to and
	// including this step.
	RunningUncertainty float64 `json:"running_uncertainty"`

	// OutputRef is the provenance artifact reference the step produced.
	// Empty on failure.
	OutputRef string `json:"output_ref,omitempty"`

	// Duration is the step's wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// ChainResult is the outcome of one chain execution. It is returned for
// failed chains too, carrying the steps that did run.
type ChainResult struct {
	// ChainID identifies this execution in the provenance log.
	ChainID string `json:"chain_id"`

	// Chain is the executed chain.
	Chain *chain.Chain `json:"chain"`

	// Steps holds per-step outcomes, one per tool that actually ran.
	Steps []StepOutcome `json:"steps"`

	// CombinedUncertainty is the compounded uncertainty of the successful
	// steps. For an aborted chain it covers the steps that completed.
	CombinedUncertainty float64 `json:"combined_uncertainty"`

	// FinalData is the last successful step's output. For an identity
	// chain it is the input unchanged.
	FinalData any `json:"final_data"`

	// FinalRef is the provenance artifact reference of FinalData. Empty
	// for an identity chain.
	FinalRef string `json:"final_ref,omitempty"`

	// ReasoningTrace collects the per-step reasoning in execution order.
	ReasoningTrace []string `json:"reasoning_trace"`

	// FailedStep is the zero-based index of the failing step, -1 if none.
	FailedStep int `json:"failed_step"`
}

// =============================================================================
// Errors
// =============================================================================

// ToolExecutionError reports a tool that ran and failed.
type ToolExecutionError struct {
	ToolID  string
	Step    int
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("engine: tool %q failed at step %d: %s", e.ToolID, e.Step, e.Message)
}

// ChainAbortedError reports a chain cut short by a failing step. The steps
// before the failure completed and their provenance records stand.
type ChainAbortedError struct {
	ChainID        string
	CompletedSteps int
	Cause          *ToolExecutionError
}

func (e *ChainAbortedError) Error() string {
	return fmt.Sprintf("engine: chain %s aborted after %d completed steps: %v",
		e.ChainID, e.CompletedSteps, e.Cause)
}

func (e *ChainAbortedError) Unwrap() error { return e.Cause }

// =============================================================================
// Engine
// =============================================================================

// Engine executes chains against a frozen registry.
//
// Thread Safety: Safe for concurrent use. Each execution keeps its own
// state; the registry and recorder are shared and concurrency-safe.
type Engine struct {
	reg           *capability.Registry
	recorder      provenance.Recorder
	maxConcurrent int
	logger        *slog.Logger
}

// NewEngine creates an Engine.
//
// Inputs:
//
//	reg - The tool registry. Must not be nil.
//	recorder - The provenance sink. Must not be nil: execution without
//	provenance is not a supported mode.
//	maxConcurrent - Concurrency cap for ExecuteAll. Values below 1 mean 1.
//	logger - May be nil (slog.Default).
func NewEngine(reg *capability.Registry, recorder provenance.Recorder, maxConcurrent int, logger *slog.Logger) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine: registry must not be nil")
	}
	if recorder == nil {
		return nil, fmt.Errorf("engine: provenance recorder must not be nil")
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reg: reg, recorder: recorder, maxConcurrent: maxConcurrent, logger: logger}, nil
}

// ExecuteChain runs the chain sequentially on input.
//
// Description:
//
//	Each step calls the tool, clamps and validates its self-assessment,
//	writes one provenance record, and hands the output to the next step.
//	A failing step writes its record too, then aborts the chain with
//	*ChainAbortedError; the partial ChainResult is still returned so the
//	caller can see how far execution got.
//
// Edge Cases:
//
//	An empty chain is the identity: the input is returned unchanged at
//	zero uncertainty and nothing is recorded, because nothing ran.
func (e *Engine) ExecuteChain(ctx context.Context, ch *chain.Chain, input any) (*ChainResult, error) {
	if ch == nil {
		return nil, fmt.Errorf("engine: chain must not be nil")
	}

	ctx, span := engineTracer.Start(ctx, "engine.ExecuteChain")
	defer span.End()

	chainID := uuid.NewString()
	span.SetAttributes(
		attribute.String("chain.id", chainID),
		attribute.Int("chain.length", ch.Len()),
	)

	res := &ChainResult{
		ChainID:    chainID,
		Chain:      ch,
		FinalData:  input,
		FailedStep: -1,
	}
	if ch.Len() == 0 {
		res.ReasoningTrace = []string{"identity chain: input type equals output type, no tools executed"}
		recordChain("success", 0, 0)
		return res, nil
	}

	start := time.Now()
	data := input
	currentRef := "input/" + chainID
	uncertainties := make([]float64, 0, ch.Len())

	for i, toolID := range ch.ToolIDs {
		tool, toolCap, ok := e.reg.Tool(toolID)
		if !ok {
			return res, fmt.Errorf("engine: chain references unregistered tool %q", toolID)
		}

		stepCtx, stepSpan := engineTracer.Start(ctx, "engine.step")
		stepSpan.SetAttributes(
			attribute.String("tool.id", toolID),
			attribute.Int("step.index", i),
		)

		stepStart := time.Now()
		result := tool.Process(stepCtx, data)
		elapsed := time.Since(stepStart)
		if result == nil {
			stepSpan.SetStatus(codes.Error, "nil result")
			stepSpan.End()
			return res, fmt.Errorf("engine: tool %q returned a nil result", toolID)
		}

		u := result.Uncertainty
		if clamped := uncertainty.Clamp01(u); clamped != u {
			e.logger.Warn("tool reported out-of-range uncertainty, clamping",
				slog.String("tool_id", toolID),
				slog.Float64("reported", u),
				slog.Float64("clamped", clamped),
			)
			u = clamped
		}
		if result.Success && result.Reasoning == "" {
			e.logger.Warn("tool succeeded without reasoning",
				slog.String("tool_id", toolID),
			)
		}

		rec := provenance.Record{
			ChainID:          chainID,
			Step:             i,
			ToolID:           toolID,
			InputsRef:        []string{currentRef},
			Success:          result.Success,
			Uncertainty:      u,
			Reasoning:        result.Reasoning,
			Error:            result.Error,
			ConstructMapping: toolCap.ConstructMapping(),
		}
		outputRef := ""
		if result.Success {
			outputRef = uuid.NewString()
			rec.OutputsRef = []string{outputRef}
		}
		if _, err := e.recorder.TrackOperation(ctx, rec); err != nil {
			stepSpan.SetStatus(codes.Error, "provenance write failed")
			stepSpan.End()
			return res, fmt.Errorf("engine: record step %d (%s): %w", i, toolID, err)
		}

		outcome := StepOutcome{
			ToolID:           toolID,
			Success:          result.Success,
			Uncertainty:      u,
			Reasoning:        result.Reasoning,
			Error:            result.Error,
			ConstructMapping: toolCap.ConstructMapping(),
			OutputRef:        outputRef,
			Duration:         elapsed,
		}
		recordStep(toolID, result.Success, elapsed)

		if !result.Success {
			stepSpan.SetStatus(codes.Error, result.Error)
			stepSpan.End()

			res.FailedStep = i
			res.Steps = append(res.Steps, outcome)
			res.ReasoningTrace = append(res.ReasoningTrace,
				fmt.Sprintf("step %d %s: failed: %s", i, toolID, result.Error))
			res.CombinedUncertainty = uncertainty.CombineSequential(uncertainties)

			cause := &ToolExecutionError{ToolID: toolID, Step: i, Message: result.Error}
			aborted := &ChainAbortedError{ChainID: chainID, CompletedSteps: i, Cause: cause}
			span.SetStatus(codes.Error, aborted.Error())
			recordChain("aborted", time.Since(start).Seconds(), res.CombinedUncertainty)
			e.logger.Error("chain aborted",
				slog.String("chain_id", chainID),
				slog.String("tool_id", toolID),
				slog.Int("step", i),
				slog.String("error", result.Error),
			)
			return res, aborted
		}

		uncertainties = append(uncertainties, u)
		outcome.RunningUncertainty = uncertainty.CombineSequential(uncertainties)
		res.Steps = append(res.Steps, outcome)
		res.ReasoningTrace = append(res.ReasoningTrace,
			fmt.Sprintf("step %d %s (%s): %s", i, toolID, toolCap.ConstructMapping(), result.Reasoning))

		data = result.Data
		currentRef = outputRef
		stepSpan.End()
	}

	res.FinalData = data
	res.FinalRef = currentRef
	res.CombinedUncertainty = uncertainty.CombineSequential(uncertainties)
	recordChain("success", time.Since(start).Seconds(), res.CombinedUncertainty)

	e.logger.Info("chain executed",
		slog.String("chain_id", chainID),
		slog.Int("steps", ch.Len()),
		slog.Float64("combined_uncertainty", res.CombinedUncertainty),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// =============================================================================
// Concurrent Execution
// =============================================================================

// Request pairs a chain with its input for ExecuteAll.
type Request struct {
	Chain *chain.Chain
	Input any
}

// Outcome is one chain's result or error from ExecuteAll.
type Outcome struct {
	Result *ChainResult
	Err    error
}

// ExecuteAll runs independent chains concurrently, at most maxConcurrent at
// a time.
//
// Description:
//
//	Chains are independent: one chain's abort does not cancel its siblings,
//	so outcomes are reported per request rather than fail-fast. The
//	returned slice is index-aligned with reqs.
func (e *Engine) ExecuteAll(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	// Plain group, not WithContext: one chain's failure must never cancel
	// its siblings.
	var g errgroup.Group
	g.SetLimit(e.maxConcurrent)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.ExecuteChain(ctx, req.Chain, req.Input)
			outcomes[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	// Workers never return errors; Wait only drains the group.
	_ = g.Wait()
	return outcomes
}
