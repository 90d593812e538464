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
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/compose/services/compose/storage/badger"
)

// =============================================================================
// Key Schema
// =============================================================================

// Versioned prefixes keep future record format changes from colliding with
// existing entries.
const (
	recKeyPrefix = "prov/rec/v1/" // + operation ID   -> gob(Record)
	artKeyPrefix = "prov/art/v1/" // + artifact ref   -> operation ID
	chnKeyPrefix = "prov/chn/v1/" // + chain ID/step  -> operation ID
)

func recKey(opID string) []byte { return []byte(recKeyPrefix + opID) }

func artKey(ref string) []byte { return []byte(artKeyPrefix + ref) }

func chnKey(chainID string, step int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", chnKeyPrefix, chainID, step))
}

// =============================================================================
// BadgerRecorder
// =============================================================================

// BadgerRecorder is the durable Recorder. Records are gob-encoded under
// versioned keys; artifact and chain indexes are maintained in the same
// transaction as the record itself, so the log can never reference a record
// that does not exist.
//
// Thread Safety: Safe for concurrent use. Conflicting appends (two writers
// claiming the same artifact) are serialized by Badger; the loser's retry
// observes the index entry and fails with *AppendOnlyViolationError.
type BadgerRecorder struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerRecorder creates a BadgerRecorder on the given opened DB. The
// caller retains ownership of the DB lifecycle.
func NewBadgerRecorder(db *badger.DB, logger *slog.Logger) (*BadgerRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("provenance: badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerRecorder{db: db, logger: logger}, nil
}

// TrackOperation appends one record. See Recorder.
func (b *BadgerRecorder) TrackOperation(ctx context.Context, rec Record) (string, error) {
	if err := rec.validate(); err != nil {
		return "", err
	}
	if rec.OperationID == "" {
		rec.OperationID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return "", fmt.Errorf("provenance: encode record: %w", err)
	}

	err := b.db.WithWriteTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(recKey(rec.OperationID)); err == nil {
			return &AppendOnlyViolationError{OperationID: rec.OperationID}
		} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
			return err
		}
		for _, out := range rec.OutputsRef {
			if _, err := txn.Get(artKey(out)); err == nil {
				return &AppendOnlyViolationError{ArtifactRef: out}
			} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
				return err
			}
		}

		if err := txn.Set(recKey(rec.OperationID), buf.Bytes()); err != nil {
			return err
		}
		for _, out := range rec.OutputsRef {
			if err := txn.Set(artKey(out), []byte(rec.OperationID)); err != nil {
				return err
			}
		}
		if rec.ChainID != "" {
			if err := txn.Set(chnKey(rec.ChainID, rec.Step), []byte(rec.OperationID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	b.logger.Debug("provenance recorded",
		slog.String("operation_id", rec.OperationID),
		slog.String("tool_id", rec.ToolID),
		slog.Bool("success", rec.Success),
	)
	return rec.OperationID, nil
}

// TraceToSource returns the source-first lineage of artifactRef. See Recorder.
//
// The whole walk runs inside one read transaction so it sees a consistent
// snapshot even while other chains are appending.
func (b *BadgerRecorder) TraceToSource(ctx context.Context, artifactRef string) ([]Record, error) {
	var trail []Record
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		trail, err = traceLineage(artifactRef, func(ref string) (Record, bool, error) {
			item, err := txn.Get(artKey(ref))
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				return Record{}, false, nil
			}
			if err != nil {
				return Record{}, false, err
			}
			opID, err := item.ValueCopy(nil)
			if err != nil {
				return Record{}, false, err
			}
			rec, err := getRecord(txn, string(opID))
			if err != nil {
				return Record{}, false, err
			}
			return rec, true, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return trail, nil
}

// Operations returns the chain's records in step order. See Recorder.
func (b *BadgerRecorder) Operations(ctx context.Context, chainID string, limit int) ([]Record, error) {
	var recs []Record
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		prefix := []byte(chnKeyPrefix + chainID + "/")
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(recs) >= limit {
				break
			}
			opID, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := getRecord(txn, string(opID))
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func getRecord(txn *dgbadger.Txn, opID string) (Record, error) {
	item, err := txn.Get(recKey(opID))
	if err != nil {
		return Record{}, fmt.Errorf("provenance: record %s: %w", opID, err)
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("provenance: decode record %s: %w", opID, err)
	}
	return rec, nil
}
