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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/compose/services/compose/capability"
	"github.com/AleutianAI/compose/services/compose/chain"
	"github.com/AleutianAI/compose/services/compose/config"
	"github.com/AleutianAI/compose/services/compose/crossmodal"
	"github.com/AleutianAI/compose/services/compose/engine"
	"github.com/AleutianAI/compose/services/compose/provenance"
	"github.com/AleutianAI/compose/services/compose/storage/sqlite"
	"github.com/AleutianAI/compose/services/compose/toolkit"
	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

// newTestRouter wires the full stack on in-memory backends.
func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	reg := capability.NewRegistry(nil)
	if err := toolkit.RegisterBuiltins(reg, toolkit.Deps{
		Converter: converter,
		Tables:    tables,
		Assessor:  assessor,
	}); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	reg.Freeze()

	recorder := provenance.NewMemoryRecorder(nil)
	eng, err := engine.NewEngine(reg, recorder, cfg.Limits.MaxConcurrentChains, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	discovery := chain.NewDiscovery(reg, nil, chain.WithMaxChainLength(cfg.Limits.MaxChainLength))
	service, err := NewService(reg, discovery, eng, recorder, converter, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(service))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleGetTools(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/v1/compose/tools", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "load_file") {
		t.Errorf("tool list missing load_file: %s", w.Body.String())
	}
}

func TestHandleDiscoverChain_TwoStep(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/compose/chains/discover",
		`{"input_type":"GRAPH","output_type":"TABLE_REF"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp DiscoverChainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"graph_to_table", "persist_table"}
	if len(resp.ToolIDs) != 2 || resp.ToolIDs[0] != want[0] || resp.ToolIDs[1] != want[1] {
		t.Errorf("ToolIDs = %v, want %v", resp.ToolIDs, want)
	}
}

func TestHandleDiscoverChain_NotFound(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/compose/chains/discover",
		`{"input_type":"CONCLUSION","output_type":"GRAPH"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "CHAIN_NOT_FOUND") {
		t.Errorf("body missing error code: %s", w.Body.String())
	}
}

func TestHandleExecuteChain_GraphToTable(t *testing.T) {
	router := newTestRouter(t)

	body := `{
		"input_type": "GRAPH",
		"output_type": "TABLE",
		"data": {
			"entities": [
				{"id": "e1", "type": "person"},
				{"id": "e2", "type": "org"}
			],
			"relationships": [
				{"id": "r1", "type": "works_at", "source_id": "e1", "target_id": "e2"}
			]
		}
	}`
	w := doJSON(t, router, http.MethodPost, "/v1/compose/chains/execute", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ExecuteChainResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Aborted || resp.Result == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Result.CombinedUncertainty <= 0 {
		t.Errorf("flattening a graph with edges must carry uncertainty, got %v", resp.Result.CombinedUncertainty)
	}
	if len(resp.Result.ReasoningTrace) == 0 {
		t.Error("result missing reasoning trace")
	}
}

func TestHandleExecuteChain_BadPayload(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/compose/chains/execute",
		`{"input_type":"FILE","output_type":"TEXT","data":{"not":"a string"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
}

func TestHandleConvert_TableToGraphUnresolvedFK(t *testing.T) {
	router := newTestRouter(t)

	body := `{"tables": {
		"entities": [{"entity_id": "e1", "entity_type": "person", "out_degree": 0, "in_degree": 0}],
		"relations": [{"relation_id": "r1", "relation_type": "knows", "source_id": "e1", "target_id": "ghost"}]
	}}`
	w := doJSON(t, router, http.MethodPost, "/v1/compose/convert/table_to_graph", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "UNRESOLVED_REFERENCE") {
		t.Errorf("body missing error code: %s", w.Body.String())
	}
}

func TestHandleLineage(t *testing.T) {
	router := newTestRouter(t)

	if w := doJSON(t, router, http.MethodGet, "/v1/compose/provenance/lineage", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing param: status = %d, want 400", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/v1/compose/provenance/lineage?artifact_ref=absent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown ref: status = %d, want 404", w.Code)
	}

	// Execute a chain, then trace its final artifact.
	exec := doJSON(t, router, http.MethodPost, "/v1/compose/chains/execute",
		`{"input_type":"GRAPH","output_type":"TABLE","data":{"entities":[{"id":"e1","type":"t"}],"relationships":[]}}`)
	if exec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body = %s", exec.Code, exec.Body.String())
	}
	var resp ExecuteChainResponse
	if err := json.Unmarshal(exec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w := doJSON(t, router, http.MethodGet, "/v1/compose/provenance/lineage?artifact_ref="+resp.Result.FinalRef, "")
	if w.Code != http.StatusOK {
		t.Fatalf("lineage status = %d, body = %s", w.Code, w.Body.String())
	}
	var lineage LineageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &lineage); err != nil {
		t.Fatalf("unmarshal lineage: %v", err)
	}
	if len(lineage.Records) != 1 || lineage.Records[0].ToolID != "graph_to_table" {
		t.Errorf("lineage = %+v", lineage.Records)
	}
}

func TestHandleHealthAndReady(t *testing.T) {
	router := newTestRouter(t)

	if w := doJSON(t, router, http.MethodGet, "/v1/compose/health", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := doJSON(t, router, http.MethodGet, "/v1/compose/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready status = %d, body = %s", w.Code, w.Body.String())
	}
}
