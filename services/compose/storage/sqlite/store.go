// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite persists tabular data sets in an embedded SQLite database.
//
// Flattened graphs can be large; passing them between chain steps by value
// would copy every row through every hop. The store lets a chain persist a
// TableSet once and hand downstream steps a reference instead. Writes use
// optimistic versioning: two chains racing on the same reference produce a
// ConcurrencyConflictError for the loser, never a silent overwrite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/AleutianAI/compose/services/compose/crossmodal"
)

// =============================================================================
// Errors
// =============================================================================

// ErrTableSetNotFound is returned when a reference names no stored table set.
var ErrTableSetNotFound = errors.New("sqlite: table set not found")

// ConcurrencyConflictError reports a write that lost a version race: the
// stored table set changed between the caller's read and its write.
type ConcurrencyConflictError struct {
	Ref             string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("sqlite: table set %q is at version %d, caller expected %d",
		e.Ref, e.ActualVersion, e.ExpectedVersion)
}

// =============================================================================
// TabularStore
// =============================================================================

// schema creates the tables on first open. Attribute and property maps are
// stored as JSON text; the row identity columns stay relational so foreign
// keys remain queryable.
const schema = `
CREATE TABLE IF NOT EXISTS table_sets (
	ref        TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS entity_rows (
	ref         TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	attributes  TEXT,
	out_degree  INTEGER NOT NULL,
	in_degree   INTEGER NOT NULL,
	PRIMARY KEY (ref, entity_id)
);
CREATE TABLE IF NOT EXISTS relation_rows (
	ref           TEXT NOT NULL,
	relation_id   TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	source_id     TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	properties    TEXT,
	PRIMARY KEY (ref, relation_id)
);
`

// TabularStore is the SQLite-backed table set store.
//
// Thread Safety: Safe for concurrent use. SQLite serializes writers; version
// checks run inside the writing transaction, so a lost race surfaces as
// *ConcurrencyConflictError rather than interleaved rows.
type TabularStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewTabularStore opens (creating if needed) the store at dataDir. An empty
// dataDir defaults to ~/.aleutian/compose/tables.
func NewTabularStore(dataDir string, logger *slog.Logger) (*TabularStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sqlite: resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".aleutian", "compose", "tables")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("sqlite: create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "tables.db")

	// WAL keeps readers unblocked while a chain persists a large set.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	logger.Debug("tabular store opened", slog.String("path", dbPath))
	return &TabularStore{db: db, path: dbPath, logger: logger}, nil
}

// Close closes the database connection.
func (s *TabularStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *TabularStore) Path() string {
	return s.path
}

// WriteTableSet stores ts under ref and returns the new version.
//
// Description:
//
//	expectedVersion is the version the caller last observed; 0 means the
//	caller expects to create the reference. A mismatch means another chain
//	wrote in between, and the call fails with *ConcurrencyConflictError
//	without touching the stored rows.
func (s *TabularStore) WriteTableSet(ctx context.Context, ref string, ts crossmodal.TableSet, expectedVersion int64) (int64, error) {
	if ref == "" {
		return 0, fmt.Errorf("sqlite: table set ref must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM table_sets WHERE ref = ?`, ref).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("sqlite: read version: %w", err)
	}
	if current != expectedVersion {
		return 0, &ConcurrencyConflictError{Ref: ref, ExpectedVersion: expectedVersion, ActualVersion: current}
	}
	next := current + 1

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO table_sets (ref, version, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`,
		ref, next, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("sqlite: upsert table set: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_rows WHERE ref = ?`, ref); err != nil {
		return 0, fmt.Errorf("sqlite: clear entity rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relation_rows WHERE ref = ?`, ref); err != nil {
		return 0, fmt.Errorf("sqlite: clear relation rows: %w", err)
	}

	for _, row := range ts.Entities {
		attrs, err := marshalMap(row.Attributes)
		if err != nil {
			return 0, fmt.Errorf("sqlite: encode attributes for %q: %w", row.EntityID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_rows (ref, entity_id, entity_type, attributes, out_degree, in_degree)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ref, row.EntityID, row.EntityType, attrs, row.OutDegree, row.InDegree); err != nil {
			return 0, fmt.Errorf("sqlite: insert entity row %q: %w", row.EntityID, err)
		}
	}
	for _, row := range ts.Relations {
		props, err := marshalMap(row.Properties)
		if err != nil {
			return 0, fmt.Errorf("sqlite: encode properties for %q: %w", row.RelationID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relation_rows (ref, relation_id, relation_type, source_id, target_id, properties)
			VALUES (?, ?, ?, ?, ?, ?)`,
			ref, row.RelationID, row.RelationType, row.SourceID, row.TargetID, props); err != nil {
			return 0, fmt.Errorf("sqlite: insert relation row %q: %w", row.RelationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit write: %w", err)
	}
	s.logger.Debug("table set written",
		slog.String("ref", ref),
		slog.Int64("version", next),
		slog.Int("rows", ts.RowCount()),
	)
	return next, nil
}

// ReadTableSet loads the table set stored under ref, with its version.
// Returns ErrTableSetNotFound for an unknown reference.
func (s *TabularStore) ReadTableSet(ctx context.Context, ref string) (crossmodal.TableSet, int64, error) {
	var ts crossmodal.TableSet

	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM table_sets WHERE ref = ?`, ref).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return ts, 0, fmt.Errorf("%w: %s", ErrTableSetNotFound, ref)
	}
	if err != nil {
		return ts, 0, fmt.Errorf("sqlite: read version: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, entity_type, attributes, out_degree, in_degree
		FROM entity_rows WHERE ref = ? ORDER BY entity_id`, ref)
	if err != nil {
		return ts, 0, fmt.Errorf("sqlite: query entity rows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var row crossmodal.EntityRow
		var attrs sql.NullString
		if err := rows.Scan(&row.EntityID, &row.EntityType, &attrs, &row.OutDegree, &row.InDegree); err != nil {
			return ts, 0, fmt.Errorf("sqlite: scan entity row: %w", err)
		}
		if row.Attributes, err = unmarshalMap(attrs); err != nil {
			return ts, 0, fmt.Errorf("sqlite: decode attributes for %q: %w", row.EntityID, err)
		}
		ts.Entities = append(ts.Entities, row)
	}
	if err := rows.Err(); err != nil {
		return ts, 0, fmt.Errorf("sqlite: iterate entity rows: %w", err)
	}

	relRows, err := s.db.QueryContext(ctx, `
		SELECT relation_id, relation_type, source_id, target_id, properties
		FROM relation_rows WHERE ref = ? ORDER BY relation_id`, ref)
	if err != nil {
		return ts, 0, fmt.Errorf("sqlite: query relation rows: %w", err)
	}
	defer func() { _ = relRows.Close() }()
	for relRows.Next() {
		var row crossmodal.RelationRow
		var props sql.NullString
		if err := relRows.Scan(&row.RelationID, &row.RelationType, &row.SourceID, &row.TargetID, &props); err != nil {
			return ts, 0, fmt.Errorf("sqlite: scan relation row: %w", err)
		}
		if row.Properties, err = unmarshalMap(props); err != nil {
			return ts, 0, fmt.Errorf("sqlite: decode properties for %q: %w", row.RelationID, err)
		}
		ts.Relations = append(ts.Relations, row)
	}
	if err := relRows.Err(); err != nil {
		return ts, 0, fmt.Errorf("sqlite: iterate relation rows: %w", err)
	}

	return ts, version, nil
}

// DeleteTableSet removes ref and its rows. Deleting an unknown ref is a no-op.
func (s *TabularStore) DeleteTableSet(ctx context.Context, ref string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM entity_rows WHERE ref = ?`,
		`DELETE FROM relation_rows WHERE ref = ?`,
		`DELETE FROM table_sets WHERE ref = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ref); err != nil {
			return fmt.Errorf("sqlite: delete table set: %w", err)
		}
	}
	return tx.Commit()
}

// marshalMap encodes a map as JSON text, empty maps as NULL.
func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// unmarshalMap decodes JSON text back into a map; NULL becomes nil.
func unmarshalMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
