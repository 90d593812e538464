// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenDB_EmptyPathRejected(t *testing.T) {
	if _, err := OpenDB(Config{Path: ""}); err == nil {
		t.Error("expected error for empty on-disk path")
	}
}

func TestWithWriteTxn_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithWriteTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	if err != nil {
		t.Fatalf("WithWriteTxn: %v", err)
	}

	var got []byte
	err = db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		t.Fatalf("WithReadTxn: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("value = %q, want %q", got, "v")
	}
}

func TestWithReadTxn_MissingKey(t *testing.T) {
	db := openTestDB(t)

	err := db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		_, err := txn.Get([]byte("absent"))
		return err
	})
	if !errors.Is(err, dgbadger.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := db.WithWriteTxn(ctx, func(*dgbadger.Txn) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("write: expected context.Canceled, got %v", err)
	}
	if err := db.WithReadTxn(ctx, func(*dgbadger.Txn) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("read: expected context.Canceled, got %v", err)
	}
}
