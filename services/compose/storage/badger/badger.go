// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps BadgerDB behind a small transactional API.
//
// BadgerDB is embedded: no network call, no availability dependency, and
// roughly 100µs access latency, which is the right shape for an append-only
// provenance log owned by a single process. The wrapper exists so callers
// deal in context-aware read/write closures instead of raw DB handles.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Configuration
// =============================================================================

// Config describes how to open a DB.
type Config struct {
	// Path is the on-disk directory for the DB. Ignored when InMemory.
	Path string

	// InMemory opens a non-persistent DB. Used by tests.
	InMemory bool

	// SyncWrites forces fsync on every commit. The provenance log favors
	// durability over throughput, so the default config enables it.
	SyncWrites bool

	// Logger receives open/close diagnostics. May be nil (slog.Default).
	Logger *slog.Logger
}

// DefaultConfig returns the production configuration: durable writes under
// ~/.aleutian/compose/provenance (or the working directory if no home).
func DefaultConfig() Config {
	dir := "provenance"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".aleutian", "compose", "provenance")
	}
	return Config{Path: dir, SyncWrites: true}
}

// InMemoryConfig returns a non-persistent configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// DB
// =============================================================================

// DB is an opened BadgerDB instance.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine; writers are serialized by BadgerDB itself.
type DB struct {
	db     *dgbadger.DB
	logger *slog.Logger
}

// OpenDB opens a DB with the given configuration.
//
// Description:
//
//	Creates the target directory when opening on disk. Badger's own logger
//	is silenced; open/close events go through slog instead.
//
// Outputs:
//
//	*DB - The opened instance. The caller owns its lifecycle.
//	error - Non-nil if the directory cannot be created or Badger fails to open.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: path must not be empty for on-disk DB")
		}
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("badger: create dir %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	logger.Debug("badger opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
		slog.Bool("sync_writes", cfg.SyncWrites),
	)
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying DB.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

// WithReadTxn runs fn inside a read-only transaction.
//
// Inputs:
//
//	ctx - Checked before the transaction starts; Badger itself does not
//	observe contexts, so long-running fns should check ctx themselves.
//	fn - The transaction body.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// WithWriteTxn runs fn inside a read-write transaction.
//
// Thread Safety: Safe for concurrent use; Badger serializes conflicting
// writers and returns ErrConflict to the loser, which surfaces unchanged.
func (d *DB) WithWriteTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}
