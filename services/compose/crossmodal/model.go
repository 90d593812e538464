// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crossmodal converts data between graph, table, and vector
// representations with explicit information-loss accounting.
//
// Conversions between representations are rarely free: flattening a graph
// into rows discards path context, and projecting entities into vectors
// discards almost everything except similarity structure. Every conversion
// here therefore returns what was lost and at what uncertainty, and a
// conversion that claims to be lossless without proving it is rejected as a
// ConversionLossError rather than silently trusted.
package crossmodal

import (
	"fmt"
	"sort"
)

// =============================================================================
// Graph Model
// =============================================================================

// Entity is a typed graph node with free-form attributes.
type Entity struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Relationship is a typed directed edge between two entities.
type Relationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Graph is an entity-relationship graph.
type Graph struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Validate checks referential integrity: every relationship endpoint must
// name an entity present in the graph.
func (g *Graph) Validate() error {
	ids := make(map[string]bool, len(g.Entities))
	for _, e := range g.Entities {
		if e.ID == "" {
			return fmt.Errorf("crossmodal: entity with empty id")
		}
		if ids[e.ID] {
			return fmt.Errorf("crossmodal: duplicate entity id %q", e.ID)
		}
		ids[e.ID] = true
	}
	for _, r := range g.Relationships {
		if !ids[r.SourceID] {
			return &UnresolvedReferenceError{RelationID: r.ID, MissingEntityID: r.SourceID}
		}
		if !ids[r.TargetID] {
			return &UnresolvedReferenceError{RelationID: r.ID, MissingEntityID: r.TargetID}
		}
	}
	return nil
}

// EntityByID returns the entity with the given ID.
func (g *Graph) EntityByID(id string) (Entity, bool) {
	for _, e := range g.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

// =============================================================================
// Table Model
// =============================================================================

// EntityRow is the tabular rendering of one entity. Degree counts are
// computed at flatten time so the row retains at least the local
// connectivity the graph expressed.
type EntityRow struct {
	EntityID   string         `json:"entity_id"`
	EntityType string         `json:"entity_type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	OutDegree  int            `json:"out_degree"`
	InDegree   int            `json:"in_degree"`
}

// RelationRow is the tabular rendering of one relationship. SourceID and
// TargetID are foreign keys into the entity rows.
type RelationRow struct {
	RelationID   string         `json:"relation_id"`
	RelationType string         `json:"relation_type"`
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	Properties   map[string]any `json:"properties,omitempty"`
}

// TableSet is the pair of tables a flattened graph becomes.
type TableSet struct {
	Entities  []EntityRow   `json:"entities"`
	Relations []RelationRow `json:"relations"`
}

// RowCount returns the total number of rows across both tables.
func (t *TableSet) RowCount() int {
	return len(t.Entities) + len(t.Relations)
}

// =============================================================================
// Vector Model
// =============================================================================

// VectorRecord is one entity's embedding.
type VectorRecord struct {
	EntityID string    `json:"entity_id"`
	Vector   []float32 `json:"vector"`
	Model    string    `json:"model"`
}

// =============================================================================
// Helpers
// =============================================================================

// isScalar reports whether an attribute value survives a round trip through
// tabular form without structural loss.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// sortedKeys returns map keys in stable order, for deterministic output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
