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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// MemorySource
// =============================================================================

// MemorySource implements RecordSource on in-process maps. Used by unit
// tests and by single-binary demo deployments that have no database.
//
// # Thread Safety
//
// Safe for concurrent use (single RWMutex; tables are small).
type MemorySource struct {
	mu      sync.RWMutex
	tables  map[string][]Record
	schemas map[string]map[string]string
	nextID  map[string]int64
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		tables:  make(map[string][]Record),
		schemas: make(map[string]map[string]string),
		nextID:  make(map[string]int64),
	}
}

// AddTable registers a table with its schema and initial rows. Rows
// without an "id" field are assigned sequential ids.
func (m *MemorySource) AddTable(table string, schema map[string]string, rows []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[table] = schema
	var maxID int64
	for _, r := range rows {
		if r.ID() > maxID {
			maxID = r.ID()
		}
	}
	for _, r := range rows {
		if r.ID() == 0 {
			maxID++
			r["id"] = maxID
		}
	}
	m.tables[table] = rows
	m.nextID[table] = maxID + 1
}

// DescribeSchema returns the registered schema for table.
func (m *MemorySource) DescribeSchema(_ context.Context, table string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schema, ok := m.schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	out := make(map[string]string, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	return out, nil
}

// List returns the rows matching q.
func (m *MemorySource) List(ctx context.Context, table string, q Query) ([]Record, error) {
	matched, err := m.match(ctx, table, q.Conds)
	if err != nil {
		return nil, err
	}
	if q.OrderBy != "" {
		field, desc := q.OrderBy, q.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			less := lessValue(matched[i][field], matched[j][field])
			if desc {
				return !less && !equalValue(matched[i][field], matched[j][field])
			}
			return less
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count returns the number of rows matching q's conditions.
func (m *MemorySource) Count(ctx context.Context, table string, q Query) (int64, error) {
	matched, err := m.match(ctx, table, q.Conds)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Aggregate computes op over field in memory.
func (m *MemorySource) Aggregate(ctx context.Context, table string, q Query, op AggOp, field string) (float64, error) {
	schema, err := m.DescribeSchema(ctx, table)
	if err != nil {
		return 0, err
	}
	if _, ok := schema[field]; !ok {
		return 0, fmt.Errorf("%w: %q on %s", ErrUnknownField, field, table)
	}
	matched, err := m.match(ctx, table, q.Conds)
	if err != nil {
		return 0, err
	}
	return Reduce(matched, op, func(r Record) (float64, bool) {
		return r.Float(field)
	}), nil
}

// Insert adds a row and returns its id.
func (m *MemorySource) Insert(_ context.Context, table string, fields map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[table]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	id := m.nextID[table]
	if id == 0 {
		id = 1
	}
	m.nextID[table] = id + 1
	rec := make(Record, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = id
	m.tables[table] = append(m.tables[table], rec)
	return id, nil
}

// Update modifies the row with the given id.
func (m *MemorySource) Update(_ context.Context, table string, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	for _, r := range rows {
		if r.ID() == id {
			for k, v := range fields {
				r[k] = v
			}
			return nil
		}
	}
	return nil
}

// Delete removes the row with the given id.
func (m *MemorySource) Delete(_ context.Context, table string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	out := rows[:0]
	for _, r := range rows {
		if r.ID() != id {
			out = append(out, r)
		}
	}
	m.tables[table] = out
	return nil
}

// match returns copies of the rows satisfying all conds.
func (m *MemorySource) match(ctx context.Context, table string, conds []Cond) ([]Record, error) {
	schema, err := m.DescribeSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, c := range conds {
		if _, ok := schema[c.Field]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.tables[table] {
		if matchesAll(r, conds) {
			cp := make(Record, len(r))
			for k, v := range r {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func matchesAll(r Record, conds []Cond) bool {
	for _, c := range conds {
		v := r[c.Field]
		switch c.Op {
		case OpLike:
			if !strings.Contains(
				strings.ToLower(fmt.Sprintf("%v", v)),
				strings.ToLower(fmt.Sprintf("%v", c.Value))) {
				return false
			}
		case OpGte:
			if lessValue(v, c.Value) {
				return false
			}
		case OpLte:
			if lessValue(c.Value, v) {
				return false
			}
		default:
			if !equalValue(v, c.Value) {
				return false
			}
		}
	}
	return true
}

// lessValue compares two loosely typed values, numerically when both
// coerce to float64, lexically otherwise.
func lessValue(a, b any) bool {
	fa, aok := toFloat64(a)
	fb, bok := toFloat64(b)
	if aok && bok {
		return fa < fb
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func equalValue(a, b any) bool {
	fa, aok := toFloat64(a)
	fb, bok := toFloat64(b)
	if aok && bok {
		return fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// Reduce folds records into a single aggregate value using extract to pull
// the numeric input per record. Shared by MemorySource and the query
// service's computed-field (in-memory) aggregation path.
func Reduce(records []Record, op AggOp, extract func(Record) (float64, bool)) float64 {
	var (
		sum   float64
		count int64
		min   float64
		max   float64
		first = true
	)
	for _, r := range records {
		v, ok := extract(r)
		if !ok {
			continue
		}
		count++
		sum += v
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	switch op {
	case AggAvg:
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	case AggMin:
		return min
	case AggMax:
		return max
	case AggCount:
		return float64(count)
	default:
		return sum
	}
}
