// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the generic record source consumed by the query
// execution service. The engine never speaks a concrete query language;
// it builds a Query value and hands it to a RecordSource implementation
// (SQLite for local data, in-memory for tests).
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

// ErrUnknownTable is returned when a backing table is not present in the
// record source. The query service converts this into the remote-routing
// seam rather than a hard failure.
var ErrUnknownTable = errors.New("unknown table")

// ErrUnknownField is returned when an aggregate or filter references a
// field that is not a column of the target table.
var ErrUnknownField = errors.New("unknown field")

// =============================================================================
// Record
// =============================================================================

// Record is a single row from a record source, keyed by column name.
//
// # Description
//
// Values carry whatever type the backing store produced (int64, float64,
// string, time.Time, nil). The accessor helpers perform the loose numeric
// coercion the rendering and aggregation layers need.
type Record map[string]any

// ID returns the record's integer primary key, or 0 if absent.
func (r Record) ID() int64 {
	return toInt64(r["id"])
}

// Int returns the named field as an int64, or 0 if absent or non-numeric.
func (r Record) Int(field string) int64 {
	return toInt64(r[field])
}

// Str returns the named field as a string ("" if absent or nil).
func (r Record) Str(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Float returns the named field as a float64 and whether the field held a
// numeric value.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat64(v)
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// =============================================================================
// Query
// =============================================================================

// Op is a predicate comparison operator.
type Op string

const (
	OpEq   Op = "="
	OpGte  Op = ">="
	OpLte  Op = "<="
	OpLike Op = "like"
)

// Cond is a single field predicate.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Query is the store-agnostic predicate built by the filter service and
// executed by a RecordSource.
//
// Zero Limit means "no limit". Offset is row-based, applied after ordering.
type Query struct {
	Conds   []Cond
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Where appends a condition and returns the query for chaining.
func (q Query) Where(field string, op Op, value any) Query {
	q.Conds = append(q.Conds, Cond{Field: field, Op: op, Value: value})
	return q
}

// =============================================================================
// Aggregation
// =============================================================================

// AggOp is a numeric aggregation operation.
type AggOp string

const (
	AggSum   AggOp = "sum"
	AggAvg   AggOp = "avg"
	AggMin   AggOp = "min"
	AggMax   AggOp = "max"
	AggCount AggOp = "count"
)

// ParseAggOp maps a raw operation name to an AggOp, defaulting to sum.
func ParseAggOp(raw string) AggOp {
	switch AggOp(raw) {
	case AggAvg, AggMin, AggMax, AggCount:
		return AggOp(raw)
	default:
		return AggSum
	}
}

// =============================================================================
// RecordSource
// =============================================================================

// RecordSource is the narrow interface the engine requires from the
// underlying data storage.
//
// # Description
//
// Implementations must treat an unknown table as ErrUnknownTable so the
// query service can distinguish "not here, maybe remote" from a genuine
// storage failure. DescribeSchema is the introspection hook used by the
// catalog builder and the filter service's field gating.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type RecordSource interface {
	// List returns the rows matching q, in q's order, window applied.
	List(ctx context.Context, table string, q Query) ([]Record, error)

	// Count returns the number of rows matching q's conditions
	// (ordering and windowing are ignored).
	Count(ctx context.Context, table string, q Query) (int64, error)

	// Aggregate computes op over field for the rows matching q's
	// conditions. Returns ErrUnknownField if field is not a column.
	Aggregate(ctx context.Context, table string, q Query, op AggOp, field string) (float64, error)

	// DescribeSchema returns column name -> type name for table.
	DescribeSchema(ctx context.Context, table string) (map[string]string, error)

	// Insert adds a row and returns its new id.
	Insert(ctx context.Context, table string, fields map[string]any) (int64, error)

	// Update modifies the row with the given id. Unknown id is not an error.
	Update(ctx context.Context, table string, id int64, fields map[string]any) error

	// Delete removes the row with the given id. Unknown id is not an error.
	Delete(ctx context.Context, table string, id int64) error
}
