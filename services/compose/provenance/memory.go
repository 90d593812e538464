// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provenance

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// MemoryRecorder
// =============================================================================

// MemoryRecorder is an in-process Recorder. It is the fallback when no
// durable store is available, and the fixture recorder for tests.
//
// Thread Safety: Safe for concurrent use.
type MemoryRecorder struct {
	mu         sync.RWMutex
	byOp       map[string]Record
	byArtifact map[string]string // artifact ref -> producing operation ID
	order      []string          // operation IDs in append order
	logger     *slog.Logger
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder(logger *slog.Logger) *MemoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryRecorder{
		byOp:       make(map[string]Record),
		byArtifact: make(map[string]string),
		logger:     logger,
	}
}

// TrackOperation appends one record. See Recorder.
func (m *MemoryRecorder) TrackOperation(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := rec.validate(); err != nil {
		return "", err
	}
	if rec.OperationID == "" {
		rec.OperationID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byOp[rec.OperationID]; exists {
		return "", &AppendOnlyViolationError{OperationID: rec.OperationID}
	}
	for _, out := range rec.OutputsRef {
		if _, exists := m.byArtifact[out]; exists {
			return "", &AppendOnlyViolationError{ArtifactRef: out}
		}
	}

	m.byOp[rec.OperationID] = rec
	for _, out := range rec.OutputsRef {
		m.byArtifact[out] = rec.OperationID
	}
	m.order = append(m.order, rec.OperationID)

	m.logger.Debug("provenance recorded",
		slog.String("operation_id", rec.OperationID),
		slog.String("tool_id", rec.ToolID),
		slog.Bool("success", rec.Success),
	)
	return rec.OperationID, nil
}

// TraceToSource returns the source-first lineage of artifactRef. See Recorder.
func (m *MemoryRecorder) TraceToSource(ctx context.Context, artifactRef string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return traceLineage(artifactRef, func(ref string) (Record, bool, error) {
		opID, ok := m.byArtifact[ref]
		if !ok {
			return Record{}, false, nil
		}
		return m.byOp[opID], true, nil
	})
}

// Operations returns the chain's records in step order. See Recorder.
func (m *MemoryRecorder) Operations(ctx context.Context, chainID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []Record
	for _, opID := range m.order {
		rec := m.byOp[opID]
		if rec.ChainID == chainID {
			recs = append(recs, rec)
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Step < recs[j].Step })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Count returns the number of stored records.
func (m *MemoryRecorder) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byOp)
}
