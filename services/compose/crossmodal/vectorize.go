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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

// =============================================================================
// Vectorizer
// =============================================================================

// Vectorizer embeds a text document into a unit-normalized vector.
type Vectorizer interface {
	// Embed returns the embedding for text together with the name of the
	// model that actually produced it. The returned vector is
	// unit-normalized, so cosine similarity reduces to a dot product. An
	// implementation that degrades to a weaker projection must return that
	// projection's model name, never its configured one, so provenance
	// records what really happened.
	Embed(ctx context.Context, text string) ([]float32, string, error)

	// Model names the embedding model this Vectorizer is configured to
	// produce. Embed may report a different model after degradation.
	Model() string
}

// =============================================================================
// DeterministicProjector
// =============================================================================

// projectorDim is the fixed dimensionality of the hashed projection.
const projectorDim = 64

// projectorModel is the model name the hashed projection reports.
const projectorModel = "hashed-projection-64"

// DeterministicProjector is an in-process Vectorizer built on hashed feature
// buckets. It needs no network, always succeeds, and the same document
// always yields the same vector, which makes it the default for tests and
// for deployments without an embedding service. It captures token overlap,
// not semantics.
//
// Thread Safety: Safe for concurrent use. Stateless.
type DeterministicProjector struct{}

// Embed hashes each whitespace token into one of projectorDim buckets and
// returns the unit-normalized bucket counts.
func (DeterministicProjector) Embed(_ context.Context, text string) ([]float32, string, error) {
	vec := make([]float32, projectorDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%projectorDim]++
	}
	if norm := l2Norm(vec); norm > 0 {
		for i := range vec {
			vec[i] /= float32(norm)
		}
	}
	return vec, projectorModel, nil
}

// Model implements Vectorizer.
func (DeterministicProjector) Model() string { return projectorModel }

// =============================================================================
// HTTPEmbedder
// =============================================================================

// embedReq is the /api/embed request body.
type embedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResp is the /api/embed response body.
type embedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HTTPEmbedder is a Vectorizer backed by an Ollama-compatible /api/embed
// endpoint. When the endpoint fails it degrades to the deterministic
// projector with a warning rather than failing the conversion, so a flaky
// embedding service cannot take down chain execution.
//
// Thread Safety: Safe for concurrent use.
type HTTPEmbedder struct {
	url      string
	model    string
	client   *http.Client
	fallback DeterministicProjector
	logger   *slog.Logger
}

// NewHTTPEmbedder creates an HTTPEmbedder.
//
// Description:
//
//	Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment
//	when url or model are empty.
func NewHTTPEmbedder(url, model string, logger *slog.Logger) *HTTPEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	return &HTTPEmbedder{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Embed implements Vectorizer with graceful degradation to the hashed
// projector on endpoint failure. The degraded path reports the projector's
// model name, not the remote model's, so callers can tell the two apart.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, string, error) {
	vec, err := e.callEmbed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding service unavailable, using hashed projection",
			slog.String("error", err.Error()),
		)
		return e.fallback.Embed(ctx, text)
	}

	norm := l2Norm(vec)
	if norm == 0 {
		return e.fallback.Embed(ctx, text)
	}
	for i := range vec {
		vec[i] /= float32(norm)
	}
	return vec, e.model, nil
}

// Model implements Vectorizer.
func (e *HTTPEmbedder) Model() string { return e.model }

func (e *HTTPEmbedder) callEmbed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embedReq{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed embedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
