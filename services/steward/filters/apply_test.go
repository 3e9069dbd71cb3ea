// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filters

import (
	"errors"
	"testing"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
)

func pageState(start int, ids ...int64) *session.QueryState {
	return &session.QueryState{
		EntityName:    "invoice",
		EntityIDs:     ids,
		StartPosition: start,
		EndPosition:   start + len(ids) - 1,
	}
}

var invoiceSchema = map[string]string{
	"id": "integer", "user_id": "text", "status": "text",
	"amount": "real", "created_at": "text",
}

func TestResolveIDFilterValue_Positional(t *testing.T) {
	st := pageState(1, 101, 102, 103)

	cases := []struct {
		name string
		raw  any
		want int64
	}{
		{"ordinal word", "second", 102},
		{"ordinal word in phrase", "the second one", 102},
		{"ordinal suffix", "2nd", 102},
		{"ordinal suffix in phrase", "the 3rd invoice", 103},
		{"json number inside page", float64(2), 102},
		{"digit string inside page", "2", 102},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveIDFilterValue(tc.raw, st)
			if !ok || got != tc.want {
				t.Errorf("ResolveIDFilterValue(%v) = %d, %v; want %d", tc.raw, got, ok, tc.want)
			}
		})
	}
}

func TestResolveIDFilterValue_AbsolutePositionOnLaterPage(t *testing.T) {
	// Page two: absolute positions 11-13.
	st := pageState(11, 101, 102, 103)

	got, ok := ResolveIDFilterValue(float64(12), st)
	if !ok || got != 102 {
		t.Fatalf("absolute position 12 = %d, %v; want 102", got, ok)
	}
	// Relative fallback: "item 2" on the same page.
	got, ok = ResolveIDFilterValue(float64(2), st)
	if !ok || got != 102 {
		t.Fatalf("relative position 2 = %d, %v; want 102", got, ok)
	}
}

func TestResolveIDFilterValue_LiteralFallback(t *testing.T) {
	st := pageState(1, 101, 102, 103)

	// Outside the window: read as a record id.
	got, ok := ResolveIDFilterValue(float64(217), st)
	if !ok || got != 217 {
		t.Fatalf("literal 217 = %d, %v; want 217", got, ok)
	}
	// '#' prefix forces the literal reading even inside the window.
	got, ok = ResolveIDFilterValue("#2", st)
	if !ok || got != 2 {
		t.Fatalf("#2 = %d, %v; want 2", got, ok)
	}
	// No session context at all: numerals stay literal.
	got, ok = ResolveIDFilterValue(float64(42), nil)
	if !ok || got != 42 {
		t.Fatalf("literal without state = %d, %v; want 42", got, ok)
	}
}

func TestResolveIDFilterValue_Unresolvable(t *testing.T) {
	st := pageState(1, 101, 102, 103)

	cases := []struct {
		name string
		raw  any
		st   *session.QueryState
	}{
		{"ordinal outside page", "tenth", st},
		{"ordinal suffix outside page", "217th", st},
		{"ordinal without state", "second", nil},
		{"empty string", "", st},
		{"no numeral", "the latest", st},
		{"zero", float64(0), st},
		{"unsupported type", []string{"x"}, st},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, ok := ResolveIDFilterValue(tc.raw, tc.st); ok {
				t.Errorf("expected failure, got %d", got)
			}
		})
	}
}

func TestApply_IDShortCircuitsOtherFilters(t *testing.T) {
	st := pageState(1, 101, 102, 103)
	status := "paid"
	fs := &FilterSet{ID: "2nd", Status: status, DateField: "created_at", DateValue: "2026-01-01"}

	q, err := Apply(store.Query{}, fs, invoiceSchema, catalog.FilterConfig{}, st, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.Conds) != 1 {
		t.Fatalf("expected single id condition, got %+v", q.Conds)
	}
	c := q.Conds[0]
	if c.Field != "id" || c.Op != store.OpEq || c.Value != int64(102) {
		t.Fatalf("unexpected id condition: %+v", c)
	}
}

func TestApply_UnresolvedReferenceIsError(t *testing.T) {
	fs := &FilterSet{ID: "second"}
	_, err := Apply(store.Query{}, fs, invoiceSchema, catalog.FilterConfig{}, nil, nil)
	if !errors.Is(err, ErrUnresolvedReference) {
		t.Fatalf("expected ErrUnresolvedReference, got %v", err)
	}
}

func TestApply_DateOperators(t *testing.T) {
	cases := []struct {
		name   string
		fs     FilterSet
		expect []store.Cond
	}{
		{
			"equality default",
			FilterSet{DateField: "created_at", DateValue: "2026-03-01"},
			[]store.Cond{{Field: "created_at", Op: store.OpEq, Value: "2026-03-01"}},
		},
		{
			"gte",
			FilterSet{DateField: "created_at", DateValue: "2026-03-01", DateOperator: ">="},
			[]store.Cond{{Field: "created_at", Op: store.OpGte, Value: "2026-03-01"}},
		},
		{
			"lte",
			FilterSet{DateField: "created_at", DateValue: "2026-03-01", DateOperator: "<="},
			[]store.Cond{{Field: "created_at", Op: store.OpLte, Value: "2026-03-01"}},
		},
		{
			"between",
			FilterSet{DateField: "created_at", DateValue: "2026-03-01", DateOperator: "between", DateEnd: "2026-03-31"},
			[]store.Cond{
				{Field: "created_at", Op: store.OpGte, Value: "2026-03-01"},
				{Field: "created_at", Op: store.OpLte, Value: "2026-03-31"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Apply(store.Query{}, &tc.fs, invoiceSchema, catalog.FilterConfig{}, nil, nil)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if len(q.Conds) != len(tc.expect) {
				t.Fatalf("expected %d conds, got %+v", len(tc.expect), q.Conds)
			}
			for i, want := range tc.expect {
				if q.Conds[i] != want {
					t.Errorf("cond %d = %+v, want %+v", i, q.Conds[i], want)
				}
			}
		})
	}
}

func TestApply_SchemaGatesFilters(t *testing.T) {
	// Customers have neither status nor amount columns.
	customerSchema := map[string]string{"id": "integer", "name": "text", "created_at": "text"}
	min := 100.0
	fs := &FilterSet{
		Status:    "paid",
		AmountMin: &min,
		DateField: "due_date",
		DateValue: "2026-01-01",
	}

	q, err := Apply(store.Query{}, fs, customerSchema, catalog.FilterConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.Conds) != 0 {
		t.Fatalf("expected all filters dropped, got %+v", q.Conds)
	}
}

func TestApply_AmountRangeUsesConfiguredField(t *testing.T) {
	min, max := 100.0, 500.0
	fs := &FilterSet{AmountMin: &min, AmountMax: &max}
	fc := catalog.FilterConfig{AmountField: "amount"}

	q, err := Apply(store.Query{}, fs, invoiceSchema, fc, nil, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(q.Conds) != 2 {
		t.Fatalf("expected min+max conds, got %+v", q.Conds)
	}
	if q.Conds[0].Field != "amount" || q.Conds[0].Op != store.OpGte || q.Conds[0].Value != 100.0 {
		t.Errorf("min cond wrong: %+v", q.Conds[0])
	}
	if q.Conds[1].Field != "amount" || q.Conds[1].Op != store.OpLte || q.Conds[1].Value != 500.0 {
		t.Errorf("max cond wrong: %+v", q.Conds[1])
	}
}

func TestApplyUserScope(t *testing.T) {
	fc := catalog.FilterConfig{UserField: "user_id"}

	q := ApplyUserScope(store.Query{}, nil, fc, "u1")
	if len(q.Conds) != 1 || q.Conds[0].Field != "user_id" || q.Conds[0].Value != "u1" {
		t.Fatalf("expected user_id scope, got %+v", q.Conds)
	}

	// Empty user id disables scoping.
	q = ApplyUserScope(store.Query{}, nil, fc, "")
	if len(q.Conds) != 0 {
		t.Fatalf("expected no scope, got %+v", q.Conds)
	}

	// A custom ScopeFunc wins over the configured field.
	cfg := &catalog.EntityConfig{
		ScopeFunc: func(q store.Query, userID string) store.Query {
			return q.Where("owner", store.OpEq, userID)
		},
	}
	q = ApplyUserScope(store.Query{}, cfg, fc, "u1")
	if len(q.Conds) != 1 || q.Conds[0].Field != "owner" {
		t.Fatalf("expected ScopeFunc to win, got %+v", q.Conds)
	}
}

func TestFilterSet_MapRoundTrip(t *testing.T) {
	min := 100.0
	fs := &FilterSet{
		DateField: "created_at", DateValue: "2026-03-01", DateOperator: ">=",
		Status: "paid", AmountField: "amount", AmountMin: &min,
	}

	got := FromMap(fs.ToMap())
	if got == nil {
		t.Fatal("round trip lost the filter set")
	}
	if got.DateField != fs.DateField || got.DateOperator != fs.DateOperator ||
		got.Status != fs.Status || got.AmountField != fs.AmountField {
		t.Errorf("round trip mismatch: %+v vs %+v", got, fs)
	}
	if got.AmountMin == nil || *got.AmountMin != 100.0 {
		t.Errorf("amount_min lost: %+v", got.AmountMin)
	}

	if FromMap(nil) != nil {
		t.Error("nil map should yield nil filter set")
	}
	if (&FilterSet{}).ToMap() != nil {
		t.Error("empty filter set should yield nil map")
	}
	var nilFS *FilterSet
	if !nilFS.IsZero() {
		t.Error("nil filter set should be zero")
	}
}
