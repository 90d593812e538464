// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/chain"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/engine"
	"github.com/AleutianAI/compose/services/compose/provenance"
	"github.com/AleutianAI/compose/services/compose/toolkit"
)

// =============================================================================
// Request/Response Types
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DiscoverChainRequest asks for a chain between two representations.
type DiscoverChainRequest struct {
	InputType      string `json:"input_type" binding:"required"`
	OutputType     string `json:"output_type" binding:"required"`
	SemanticInput  string `json:"semantic_input,omitempty"`
	SemanticOutput string `json:"semantic_output,omitempty"`
}

// DiscoverChainResponse carries the discovered chain.
type DiscoverChainResponse struct {
	ToolIDs    []string `json:"tool_ids"`
	InputType  string   `json:"input_type"`
	OutputType string   `json:"output_type"`
	Identity   bool     `json:"identity"`
}

// ExecuteChainRequest asks for discovery plus execution in one call.
type ExecuteChainRequest struct {
	InputType      string          `json:"input_type" binding:"required"`
	OutputType     string          `json:"output_type" binding:"required"`
	Data           json.RawMessage `json:"data" binding:"required"`
	SemanticInput  string          `json:"semantic_input,omitempty"`
	SemanticOutput string          `json:"semantic_output,omitempty"`
}

// ExecuteChainResponse carries the execution outcome, including partial
// outcomes of aborted chains.
type ExecuteChainResponse struct {
	Result  *engine.ChainResult `json:"result"`
	Aborted bool                `json:"aborted"`
	Error   string              `json:"error,omitempty"`
}

// ConvertGraphRequest carries a graph for the direct conversion endpoints.
type ConvertGraphRequest struct {
	Graph crossmodal.Graph `json:"graph" binding:"required"`
}

// ConvertTableRequest carries tables for reconstruction.
type ConvertTableRequest struct {
	Tables crossmodal.TableSet `json:"tables" binding:"required"`
}

// ConversionResponse pairs converted data with its loss acknowledgment.
type ConversionResponse struct {
	Data       any                   `json:"data"`
	Conversion crossmodal.Conversion `json:"conversion"`
}

// LineageResponse is the source-first provenance trail of one artifact.
type LineageResponse struct {
	ArtifactRef string              `json:"artifact_ref"`
	Records     []provenance.Record `json:"records"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers binds the Service to Gin.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleGetTools handles GET /v1/compose/tools.
//
// Response:
//
//	200 OK: {"tools": [ToolCapability...]}
func (h *Handlers) HandleGetTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.service.Capabilities()})
}

// HandleDiscoverChain handles POST /v1/compose/chains/discover.
//
// Response:
//
//	200 OK: DiscoverChainResponse
//	400 Bad Request: Malformed request body
//	404 Not Found: No chain connects the two types (CHAIN_NOT_FOUND)
func (h *Handlers) HandleDiscoverChain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiscoverChain")

	var req DiscoverChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ch, err := h.service.DiscoverChain(c.Request.Context(),
		capability.DataType(req.InputType), capability.DataType(req.OutputType),
		intentFrom(req.SemanticInput, req.SemanticOutput))
	if err != nil {
		var mismatch *chain.TypeMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: mismatch.Error(), Code: "CHAIN_NOT_FOUND"})
			return
		}
		logger.Error("discovery failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DISCOVERY_FAILED"})
		return
	}

	c.JSON(http.StatusOK, DiscoverChainResponse{
		ToolIDs:    ch.ToolIDs,
		InputType:  string(ch.InputType),
		OutputType: string(ch.OutputType),
		Identity:   ch.Len() == 0,
	})
}

// HandleExecuteChain handles POST /v1/compose/chains/execute.
//
// Description:
//
//	Discovers a chain and executes it on the supplied payload. An aborted
//	chain is not an HTTP 500: the partial result is real and comes back as
//	422 with the abort message, so callers can inspect how far it got.
//
// Response:
//
//	200 OK: ExecuteChainResponse
//	400 Bad Request: Malformed body or undecodable payload
//	404 Not Found: No chain connects the two types
//	422 Unprocessable Entity: Chain aborted mid-execution (partial result included)
func (h *Handlers) HandleExecuteChain(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExecuteChain")

	var req ExecuteChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	data, err := decodePayload(capability.DataType(req.InputType), req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PAYLOAD"})
		return
	}

	res, err := h.service.RunTransformation(c.Request.Context(),
		capability.DataType(req.InputType), capability.DataType(req.OutputType),
		data, intentFrom(req.SemanticInput, req.SemanticOutput))
	if err != nil {
		var mismatch *chain.TypeMismatchError
		if errors.As(err, &mismatch) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: mismatch.Error(), Code: "CHAIN_NOT_FOUND"})
			return
		}
		var aborted *engine.ChainAbortedError
		if errors.As(err, &aborted) {
			c.JSON(http.StatusUnprocessableEntity, ExecuteChainResponse{
				Result:  res,
				Aborted: true,
				Error:   aborted.Error(),
			})
			return
		}
		logger.Error("execution failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "EXECUTION_FAILED"})
		return
	}

	c.JSON(http.StatusOK, ExecuteChainResponse{Result: res})
}

// HandleConvertGraphToTable handles POST /v1/compose/convert/graph_to_table.
//
// Response:
//
//	200 OK: ConversionResponse with TableSet data
//	400 Bad Request: Malformed graph or dangling relationship endpoint
func (h *Handlers) HandleConvertGraphToTable(c *gin.Context) {
	var req ConvertGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	ts, conv, err := h.service.Converter().GraphToTable(c.Request.Context(), req.Graph)
	if err != nil {
		writeConversionError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversionResponse{Data: ts, Conversion: conv})
}

// HandleConvertTableToGraph handles POST /v1/compose/convert/table_to_graph.
//
// Response:
//
//	200 OK: ConversionResponse with Graph data
//	400 Bad Request: Malformed tables or unresolved foreign key
func (h *Handlers) HandleConvertTableToGraph(c *gin.Context) {
	var req ConvertTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	g, conv, err := h.service.Converter().TableToGraph(c.Request.Context(), req.Tables)
	if err != nil {
		writeConversionError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversionResponse{Data: g, Conversion: conv})
}

// HandleConvertGraphToVector handles POST /v1/compose/convert/graph_to_vector.
//
// Response:
//
//	200 OK: ConversionResponse with []VectorRecord data
//	400 Bad Request: Malformed graph
func (h *Handlers) HandleConvertGraphToVector(c *gin.Context) {
	var req ConvertGraphRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	records, conv, err := h.service.Converter().GraphToVector(c.Request.Context(), req.Graph)
	if err != nil {
		writeConversionError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConversionResponse{Data: records, Conversion: conv})
}

// HandleLineage handles GET /v1/compose/provenance/lineage.
//
// Query Parameters:
//
//	artifact_ref: The artifact reference to trace (required)
//
// Response:
//
//	200 OK: LineageResponse, records ordered source-first
//	400 Bad Request: Missing parameter
//	404 Not Found: No record produced the artifact
func (h *Handlers) HandleLineage(c *gin.Context) {
	ref := c.Query("artifact_ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "artifact_ref parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	records, err := h.service.TraceToSource(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, provenance.ErrArtifactUnknown) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "ARTIFACT_UNKNOWN"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "LINEAGE_FAILED"})
		return
	}

	c.JSON(http.StatusOK, LineageResponse{ArtifactRef: ref, Records: records})
}

// HandleHealth handles GET /v1/compose/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/compose/ready. Ready means the registry is
// frozen and serving lock-free reads.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.service.reg.Frozen() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "registry not frozen"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "tools": h.service.reg.Count()})
}

// =============================================================================
// Helpers
// =============================================================================

// intentFrom builds an optional discovery intent from request fields.
func intentFrom(semanticInput, semanticOutput string) *chain.Intent {
	if semanticInput == "" && semanticOutput == "" {
		return nil
	}
	return &chain.Intent{SemanticInput: semanticInput, SemanticOutput: semanticOutput}
}

// decodePayload turns the raw JSON payload into the in-memory form the
// first chain tool expects for the given representation.
func decodePayload(t capability.DataType, raw json.RawMessage) (any, error) {
	switch t {
	case capability.TypeFile, capability.TypeText, capability.TypeTableRef:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("payload for %s must be a JSON string: %w", t, err)
		}
		return s, nil
	case capability.TypeGraph:
		var g crossmodal.Graph
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("payload for %s must be a graph object: %w", t, err)
		}
		return &g, nil
	case capability.TypeTable:
		var ts crossmodal.TableSet
		if err := json.Unmarshal(raw, &ts); err != nil {
			return nil, fmt.Errorf("payload for %s must be a table set object: %w", t, err)
		}
		return &ts, nil
	case capability.TypeEvidenceSet:
		var items []toolkit.Evidence
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("payload for %s must be an evidence array: %w", t, err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("input type %s cannot be supplied over HTTP", t)
	}
}

// writeConversionError maps converter errors onto HTTP statuses.
func writeConversionError(c *gin.Context, err error) {
	var unresolved *crossmodal.UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNRESOLVED_REFERENCE"})
		return
	}
	var loss *crossmodal.ConversionLossError
	if errors.As(err, &loss) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "CONVERSION_LOSS_REJECTED"})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "CONVERSION_FAILED"})
}
