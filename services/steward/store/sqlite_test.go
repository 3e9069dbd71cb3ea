// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// openTestSQLite creates a fresh on-disk database with an invoices table.
func openTestSQLite(t *testing.T) *SQLiteSource {
	t.Helper()
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "steward_test.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	_, err = src.DB().Exec(`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		status TEXT,
		amount REAL,
		created_at TEXT
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	seed := []struct {
		user, status string
		amount       float64
		created      string
	}{
		{"u1", "paid", 100, "2026-01-05"},
		{"u1", "open", 250, "2026-02-10"},
		{"u1", "paid", 50, "2026-03-15"},
		{"u2", "open", 999, "2026-01-20"},
	}
	for _, s := range seed {
		_, err := src.DB().Exec(
			`INSERT INTO invoices (user_id, status, amount, created_at) VALUES (?, ?, ?, ?)`,
			s.user, s.status, s.amount, s.created)
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return src
}

func TestSQLiteSource_ListFilterOrderWindow(t *testing.T) {
	src := openTestSQLite(t)
	ctx := context.Background()

	q := Query{OrderBy: "created_at", Desc: true, Limit: 2}.
		Where("user_id", OpEq, "u1")
	rows, err := src.List(ctx, "invoices", q)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Str("created_at") != "2026-03-15" {
		t.Errorf("expected newest first, got %s", rows[0].Str("created_at"))
	}

	// Second page.
	q.Offset = 2
	rows, err = src.List(ctx, "invoices", q)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row on page 2, got %d", len(rows))
	}
}

func TestSQLiteSource_CountAndAggregate(t *testing.T) {
	src := openTestSQLite(t)
	ctx := context.Background()

	n, err := src.Count(ctx, "invoices", Query{}.Where("status", OpEq, "paid"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 paid invoices, got %d", n)
	}

	sum, err := src.Aggregate(ctx, "invoices", Query{}.Where("user_id", OpEq, "u1"), AggSum, "amount")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if sum != 400 {
		t.Errorf("expected sum 400, got %f", sum)
	}

	avg, err := src.Aggregate(ctx, "invoices", Query{}.Where("user_id", OpEq, "u1"), AggAvg, "amount")
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if avg < 133.3 || avg > 133.4 {
		t.Errorf("expected avg ~133.33, got %f", avg)
	}
}

func TestSQLiteSource_AggregateEmptySetIsZero(t *testing.T) {
	src := openTestSQLite(t)
	sum, err := src.Aggregate(context.Background(), "invoices",
		Query{}.Where("status", OpEq, "void"), AggSum, "amount")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if sum != 0 {
		t.Errorf("expected 0 for empty set, got %f", sum)
	}
}

func TestSQLiteSource_UnknownTableAndField(t *testing.T) {
	src := openTestSQLite(t)
	ctx := context.Background()

	if _, err := src.DescribeSchema(ctx, "nope"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable, got %v", err)
	}
	if _, err := src.List(ctx, "invoices", Query{}.Where("bogus", OpEq, 1)); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if _, err := src.Aggregate(ctx, "invoices", Query{}, AggSum, "bogus"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField for aggregate field, got %v", err)
	}
	// Identifier injection is rejected before SQL text.
	if _, err := src.List(ctx, "invoices; DROP TABLE invoices", Query{}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("expected ErrUnknownTable for bad identifier, got %v", err)
	}
}

func TestSQLiteSource_SchemaCache(t *testing.T) {
	src := openTestSQLite(t)
	ctx := context.Background()

	first, err := src.DescribeSchema(ctx, "invoices")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	second, err := src.DescribeSchema(ctx, "invoices")
	if err != nil {
		t.Fatalf("describe cached: %v", err)
	}
	if len(first) != len(second) || second["amount"] != "real" {
		t.Fatalf("cached schema differs: %v vs %v", first, second)
	}

	// Callers own their copy; mutating it must not poison the cache.
	second["amount"] = "mutated"
	third, _ := src.DescribeSchema(ctx, "invoices")
	if third["amount"] != "real" {
		t.Errorf("cache poisoned by caller mutation: %v", third)
	}

	// Unknown tables are not cached negatively: a table created after a
	// failed lookup resolves on the next call.
	if _, err := src.DescribeSchema(ctx, "payments"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
	if _, err := src.DB().Exec(`CREATE TABLE payments (id INTEGER PRIMARY KEY, amount REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	schema, err := src.DescribeSchema(ctx, "payments")
	if err != nil {
		t.Fatalf("describe after create: %v", err)
	}
	if schema["amount"] != "real" {
		t.Errorf("schema = %v", schema)
	}
}

func TestSQLiteSource_CRUD(t *testing.T) {
	src := openTestSQLite(t)
	ctx := context.Background()

	id, err := src.Insert(ctx, "invoices", map[string]any{
		"user_id": "u3", "status": "open", "amount": 75.0, "created_at": "2026-04-01",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	if err := src.Update(ctx, "invoices", id, map[string]any{"status": "paid"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, err := src.List(ctx, "invoices", Query{}.Where("id", OpEq, id))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Str("status") != "paid" {
		t.Fatalf("update not applied: %+v", rows)
	}

	if err := src.Delete(ctx, "invoices", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := src.Count(ctx, "invoices", Query{}.Where("id", OpEq, id))
	if n != 0 {
		t.Errorf("expected row deleted, count=%d", n)
	}
}
