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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/compose/services/compose/uncertainty"
)

var convertTracer = otel.Tracer("compose/crossmodal")

// =============================================================================
// Loss Accounting
// =============================================================================

// Loss categories name what a conversion discards. They appear verbatim in
// conversion reasoning so downstream consumers can decide whether the loss
// matters for their question.
const (
	LossMultiHopPaths     = "multi_hop_paths"
	LossCentralityContext = "centrality_context"
	LossSubgraphMotifs    = "subgraph_motifs"
	LossNestedAttributes  = "nested_attributes"
	LossReconstructionFid = "reconstruction_fidelity"
	LossAttributeDetail   = "attribute_detail"
	LossRelationStructure = "relational_structure"
)

// degradedProjectionPenalty is added to a vector conversion's uncertainty
// when the configured embedder fell back to the hashed projection. The
// fallback captures token overlap, not meaning, and the acknowledgment has
// to say so.
const degradedProjectionPenalty = 0.10

// Conversion is the loss acknowledgment every conversion must produce.
type Conversion struct {
	// Uncertainty is the conversion's assessed uncertainty in [0,1]. Zero is
	// only legal when Lossless is true.
	Uncertainty float64 `json:"uncertainty"`

	// Reasoning explains the assessment in writing.
	Reasoning string `json:"reasoning"`

	// LossCategories names what was discarded. Empty only when Lossless.
	LossCategories []string `json:"loss_categories,omitempty"`

	// Lossless marks a conversion proven to discard nothing.
	Lossless bool `json:"lossless"`
}

// ConversionLossError reports a conversion whose loss acknowledgment is
// missing or self-contradictory. It exists so an unexamined conversion can
// never enter a chain looking like a trustworthy one.
type ConversionLossError struct {
	Operation string
	Detail    string
}

func (e *ConversionLossError) Error() string {
	return fmt.Sprintf("crossmodal: %s: unacceptable loss acknowledgment: %s", e.Operation, e.Detail)
}

// UnresolvedReferenceError reports a relation row whose foreign key names no
// known entity. Reconstruction refuses to guess.
type UnresolvedReferenceError struct {
	RelationID      string
	MissingEntityID string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("crossmodal: relation %q references unknown entity %q", e.RelationID, e.MissingEntityID)
}

// checkAcknowledgment enforces the loss-reporting contract on a finished
// conversion before it is released to the caller.
func checkAcknowledgment(op string, c Conversion) error {
	if strings.TrimSpace(c.Reasoning) == "" {
		return &ConversionLossError{Operation: op, Detail: "no written reasoning"}
	}
	if c.Lossless {
		if c.Uncertainty != 0 || len(c.LossCategories) != 0 {
			return &ConversionLossError{Operation: op, Detail: "lossless claim alongside reported loss"}
		}
		return nil
	}
	if c.Uncertainty <= 0 {
		return &ConversionLossError{Operation: op, Detail: "zero uncertainty without a losslessness proof"}
	}
	if len(c.LossCategories) == 0 {
		return &ConversionLossError{Operation: op, Detail: "nonzero uncertainty without named loss categories"}
	}
	return nil
}

// =============================================================================
// Converter
// =============================================================================

// Converter performs the graph/table/vector conversions.
//
// Thread Safety: Safe for concurrent use. All state is read-only after
// construction.
type Converter struct {
	assessor   uncertainty.Assessor
	vectorizer Vectorizer
	maxRows    int
	logger     *slog.Logger
}

// NewConverter creates a Converter.
//
// Inputs:
//
//	assessor - Supplies per-transformation uncertainty. Must not be nil.
//	vectorizer - Embeds entities for GraphToVector. Must not be nil.
//	maxRows - Upper bound on rows per conversion. Zero means no bound.
//	logger - May be nil (slog.Default).
func NewConverter(assessor uncertainty.Assessor, vectorizer Vectorizer, maxRows int, logger *slog.Logger) (*Converter, error) {
	if assessor == nil {
		return nil, fmt.Errorf("crossmodal: assessor must not be nil")
	}
	if vectorizer == nil {
		return nil, fmt.Errorf("crossmodal: vectorizer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{assessor: assessor, vectorizer: vectorizer, maxRows: maxRows, logger: logger}, nil
}

// GraphToTable flattens a graph into entity and relation tables.
//
// Description:
//
//	Each entity becomes one row carrying its scalar attributes plus computed
//	in/out degree counts; each relationship becomes one row with foreign
//	keys into the entity table. Rows are emitted in ID order so the same
//	graph always yields the same tables.
//
//	The conversion is acknowledged lossless only when it provably is: a
//	graph with no relationships and only scalar attributes. Any graph with
//	edges loses multi-hop path context, centrality context, and subgraph
//	motifs that the row form cannot express, and the acknowledgment says so.
func (c *Converter) GraphToTable(ctx context.Context, g Graph) (TableSet, Conversion, error) {
	_, span := convertTracer.Start(ctx, "crossmodal.GraphToTable")
	defer span.End()

	if err := g.Validate(); err != nil {
		return TableSet{}, Conversion{}, err
	}
	if c.maxRows > 0 && len(g.Entities)+len(g.Relationships) > c.maxRows {
		return TableSet{}, Conversion{}, fmt.Errorf("crossmodal: graph would produce %d rows, limit is %d",
			len(g.Entities)+len(g.Relationships), c.maxRows)
	}

	outDeg := make(map[string]int, len(g.Entities))
	inDeg := make(map[string]int, len(g.Entities))
	for _, r := range g.Relationships {
		outDeg[r.SourceID]++
		inDeg[r.TargetID]++
	}

	nestedAttrs := false
	ts := TableSet{
		Entities:  make([]EntityRow, 0, len(g.Entities)),
		Relations: make([]RelationRow, 0, len(g.Relationships)),
	}
	for _, e := range g.Entities {
		for _, k := range sortedKeys(e.Attributes) {
			if !isScalar(e.Attributes[k]) {
				nestedAttrs = true
			}
		}
		ts.Entities = append(ts.Entities, EntityRow{
			EntityID:   e.ID,
			EntityType: e.Type,
			Attributes: e.Attributes,
			OutDegree:  outDeg[e.ID],
			InDegree:   inDeg[e.ID],
		})
	}
	for _, r := range g.Relationships {
		ts.Relations = append(ts.Relations, RelationRow{
			RelationID:   r.ID,
			RelationType: r.Type,
			SourceID:     r.SourceID,
			TargetID:     r.TargetID,
			Properties:   r.Properties,
		})
	}
	sort.Slice(ts.Entities, func(i, j int) bool { return ts.Entities[i].EntityID < ts.Entities[j].EntityID })
	sort.Slice(ts.Relations, func(i, j int) bool { return ts.Relations[i].RelationID < ts.Relations[j].RelationID })

	var conv Conversion
	if len(g.Relationships) == 0 && !nestedAttrs {
		conv = Conversion{
			Lossless: true,
			Reasoning: fmt.Sprintf(
				"flattened %d entities with scalar attributes and no relationships; every graph fact has an exact row form, so the conversion is provably lossless",
				len(g.Entities)),
		}
	} else {
		categories := []string{LossMultiHopPaths, LossCentralityContext, LossSubgraphMotifs}
		if nestedAttrs {
			categories = append(categories, LossNestedAttributes)
		}
		a := c.assessor.Assess(
			uncertainty.Descriptor{Construct: "entity_relationship_graph", DataType: "GRAPH"},
			uncertainty.Descriptor{Construct: "entity_relation_tables", DataType: "TABLE"},
			"crossmodal_flatten",
		)
		conv = Conversion{
			Uncertainty:    a.Uncertainty,
			LossCategories: categories,
			Reasoning: fmt.Sprintf(
				"%s; rows keep local degree counts but discard %s",
				a.Reasoning, strings.Join(categories, ", ")),
		}
	}

	if err := checkAcknowledgment("graph_to_table", conv); err != nil {
		return TableSet{}, Conversion{}, err
	}
	recordConversion("graph_to_table", conv)
	c.logger.Debug("graph flattened",
		slog.Int("entities", len(ts.Entities)),
		slog.Int("relations", len(ts.Relations)),
		slog.Bool("lossless", conv.Lossless),
		slog.Float64("uncertainty", conv.Uncertainty),
	)
	return ts, conv, nil
}

// TableToGraph reconstructs a graph from entity and relation tables.
//
// Description:
//
//	Every relation row's foreign keys must resolve to an entity row; an
//	unresolved key is a hard *UnresolvedReferenceError, never a silently
//	dropped edge. Computed degree columns are discarded, which loses
//	nothing: they are derivable from the reconstructed edges.
//
// Edge Cases:
//
//	A reconstructed graph cannot be confirmed identical to whatever graph
//	the tables originally came from, so reconstruction with relations is
//	acknowledged with reconstruction-fidelity loss rather than claimed
//	lossless.
func (c *Converter) TableToGraph(ctx context.Context, ts TableSet) (Graph, Conversion, error) {
	_, span := convertTracer.Start(ctx, "crossmodal.TableToGraph")
	defer span.End()

	if c.maxRows > 0 && ts.RowCount() > c.maxRows {
		return Graph{}, Conversion{}, fmt.Errorf("crossmodal: table set has %d rows, limit is %d", ts.RowCount(), c.maxRows)
	}

	known := make(map[string]bool, len(ts.Entities))
	nestedAttrs := false
	g := Graph{
		Entities:      make([]Entity, 0, len(ts.Entities)),
		Relationships: make([]Relationship, 0, len(ts.Relations)),
	}
	for _, row := range ts.Entities {
		if row.EntityID == "" {
			return Graph{}, Conversion{}, fmt.Errorf("crossmodal: entity row with empty id")
		}
		if known[row.EntityID] {
			return Graph{}, Conversion{}, fmt.Errorf("crossmodal: duplicate entity row %q", row.EntityID)
		}
		known[row.EntityID] = true
		for _, k := range sortedKeys(row.Attributes) {
			if !isScalar(row.Attributes[k]) {
				nestedAttrs = true
			}
		}
		g.Entities = append(g.Entities, Entity{
			ID:         row.EntityID,
			Type:       row.EntityType,
			Attributes: row.Attributes,
		})
	}
	for _, row := range ts.Relations {
		if !known[row.SourceID] {
			return Graph{}, Conversion{}, &UnresolvedReferenceError{RelationID: row.RelationID, MissingEntityID: row.SourceID}
		}
		if !known[row.TargetID] {
			return Graph{}, Conversion{}, &UnresolvedReferenceError{RelationID: row.RelationID, MissingEntityID: row.TargetID}
		}
		g.Relationships = append(g.Relationships, Relationship{
			ID:         row.RelationID,
			Type:       row.RelationType,
			SourceID:   row.SourceID,
			TargetID:   row.TargetID,
			Properties: row.Properties,
		})
	}

	var conv Conversion
	if len(ts.Relations) == 0 && !nestedAttrs {
		conv = Conversion{
			Lossless: true,
			Reasoning: fmt.Sprintf(
				"reconstructed %d entities from scalar rows with no relations; the mapping is exact in both directions, so the conversion is provably lossless",
				len(g.Entities)),
		}
	} else {
		a := c.assessor.Assess(
			uncertainty.Descriptor{Construct: "entity_relation_tables", DataType: "TABLE"},
			uncertainty.Descriptor{Construct: "entity_relationship_graph", DataType: "GRAPH"},
			"crossmodal_reconstruct",
		)
		conv = Conversion{
			Uncertainty:    a.Uncertainty,
			LossCategories: []string{LossReconstructionFid},
			Reasoning: fmt.Sprintf(
				"%s; the reconstructed graph is faithful to the rows but cannot be confirmed against the pre-flattening original",
				a.Reasoning),
		}
	}

	if err := checkAcknowledgment("table_to_graph", conv); err != nil {
		return Graph{}, Conversion{}, err
	}
	recordConversion("table_to_graph", conv)
	return g, conv, nil
}

// GraphToVector projects every entity into an embedding vector.
//
// Description:
//
//	Each entity is rendered as a stable text document (type, ID, sorted
//	attributes) and embedded by the configured Vectorizer. The projection
//	keeps similarity structure and discards nearly everything else; the
//	acknowledgment is correspondingly blunt. Never lossless.
func (c *Converter) GraphToVector(ctx context.Context, g Graph) ([]VectorRecord, Conversion, error) {
	_, span := convertTracer.Start(ctx, "crossmodal.GraphToVector")
	defer span.End()

	if err := g.Validate(); err != nil {
		return nil, Conversion{}, err
	}

	records := make([]VectorRecord, 0, len(g.Entities))
	degradedModel := ""
	for _, e := range g.Entities {
		vec, model, err := c.vectorizer.Embed(ctx, entityDocument(e))
		if err != nil {
			return nil, Conversion{}, fmt.Errorf("crossmodal: embed entity %q: %w", e.ID, err)
		}
		if model != c.vectorizer.Model() {
			degradedModel = model
		}
		records = append(records, VectorRecord{
			EntityID: e.ID,
			Vector:   vec,
			Model:    model,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].EntityID < records[j].EntityID })

	a := c.assessor.Assess(
		uncertainty.Descriptor{Construct: "entity_relationship_graph", DataType: "GRAPH"},
		uncertainty.Descriptor{Construct: "entity_embedding_vectors", DataType: "VECTOR"},
		"crossmodal_projection",
	)
	u := a.Uncertainty
	reasoning := fmt.Sprintf(
		"%s; vectors preserve similarity structure only, discarding attribute detail and relational structure",
		a.Reasoning)
	if degradedModel != "" {
		u = uncertainty.Clamp01(u + degradedProjectionPenalty)
		reasoning += fmt.Sprintf(
			"; embedding service unavailable, vectors fell back to %s (token overlap, not semantics)",
			degradedModel)
		c.logger.Warn("vector conversion degraded to fallback projection",
			slog.String("configured_model", c.vectorizer.Model()),
			slog.String("actual_model", degradedModel),
		)
	}
	conv := Conversion{
		Uncertainty:    u,
		LossCategories: []string{LossAttributeDetail, LossRelationStructure},
		Reasoning:      reasoning,
	}

	if err := checkAcknowledgment("graph_to_vector", conv); err != nil {
		return nil, Conversion{}, err
	}
	recordConversion("graph_to_vector", conv)
	return records, conv, nil
}

// entityDocument renders an entity as a deterministic embedding document.
func entityDocument(e Entity) string {
	parts := make([]string, 0, len(e.Attributes)+2)
	parts = append(parts, e.Type, e.ID)
	for _, k := range sortedKeys(e.Attributes) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Attributes[k]))
	}
	return strings.Join(parts, ". ")
}
