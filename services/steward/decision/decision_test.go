// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/Steward/services/llm"
	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
)

func TestNormalizeTool(t *testing.T) {
	for _, known := range AllTools {
		if got := NormalizeTool(string(known)); got != known {
			t.Errorf("NormalizeTool(%q) = %q", known, got)
		}
	}
	for _, unknown := range []string{"", "search", "db_delete", "DB_QUERY"} {
		if got := NormalizeTool(unknown); got != ToolDBQuery {
			t.Errorf("NormalizeTool(%q) = %q, want db_query", unknown, got)
		}
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name     string
		response string
		wantTool Tool
		wantErr  bool
	}{
		{
			"plain JSON",
			`{"tool": "db_count", "reasoning": "counting", "parameters": {"model": "invoice"}}`,
			ToolDBCount, false,
		},
		{
			"fenced JSON",
			"```json\n{\"tool\": \"vector_search\", \"parameters\": {\"query\": \"refund policy\"}}\n```",
			ToolVectorSearch, false,
		},
		{
			"JSON embedded in prose",
			`Sure, here is my decision: {"tool": "db_query_next", "parameters": {}} hope that helps`,
			ToolDBQueryNext, false,
		},
		{
			"unknown tool normalized",
			`{"tool": "grep_codebase", "parameters": {}}`,
			ToolDBQuery, false,
		},
		{"empty", "", ToolDBQuery, true},
		{"no JSON at all", "I think you should list the invoices.", ToolDBQuery, true},
		{"missing tool field", `{"reasoning": "hmm", "parameters": {}}`, ToolDBQuery, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec, err := ParseDecision(tc.response)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", dec)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dec.Tool != tc.wantTool {
				t.Errorf("tool = %q, want %q", dec.Tool, tc.wantTool)
			}
		})
	}
}

func TestParseDecision_TypedParameters(t *testing.T) {
	dec, err := ParseDecision(`{
		"tool": "db_aggregate",
		"reasoning": "sum of amounts",
		"parameters": {
			"model": "invoice",
			"aggregate": {"operation": "sum", "field": "amount"},
			"filters": {"status": "unpaid", "amount_min": 50}
		}
	}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Parameters.Model != "invoice" {
		t.Errorf("model = %q", dec.Parameters.Model)
	}
	if dec.Parameters.Aggregate == nil || dec.Parameters.Aggregate.Operation != "sum" {
		t.Errorf("aggregate = %+v", dec.Parameters.Aggregate)
	}
	fs := dec.Parameters.Filters
	if fs == nil || fs.Status != "unpaid" || fs.AmountMin == nil || *fs.AmountMin != 50 {
		t.Errorf("filters = %+v", fs)
	}
}

func testEntities(names ...string) []catalog.EntityDescriptor {
	out := make([]catalog.EntityDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, catalog.EntityDescriptor{Name: n})
	}
	return out
}

func TestFallback_PriorityOrder(t *testing.T) {
	entities := testEntities("invoice", "customer")

	// Counting beats aggregation when both trigger words are present.
	dec := Fallback("how many invoices total do I have", entities, FallbackConfig{})
	if dec.Tool != ToolDBCount {
		t.Fatalf("tool = %q, want db_count", dec.Tool)
	}
	if dec.Parameters.Model != "invoice" {
		t.Errorf("model = %q, want invoice", dec.Parameters.Model)
	}
}

func TestFallback_Heuristics(t *testing.T) {
	entities := testEntities("invoice", "customer")

	cases := []struct {
		name     string
		message  string
		wantTool Tool
		wantOp   string
	}{
		{"count", "how many invoices do I have", ToolDBCount, ""},
		{"sum via total", "what is the total of my invoices", ToolDBAggregate, "sum"},
		{"avg", "average invoice amount please", ToolDBAggregate, "avg"},
		{"min", "minimum invoice this year", ToolDBAggregate, "min"},
		{"max", "maximum invoice this year", ToolDBAggregate, "max"},
		{"pagination next", "next", ToolDBQueryNext, ""},
		{"pagination more", "show me more", ToolDBQueryNext, ""},
		{"default", "invoices from march", ToolDBQuery, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := Fallback(tc.message, entities, FallbackConfig{AggregateField: "amount"})
			if dec.Tool != tc.wantTool {
				t.Fatalf("tool = %q, want %q", dec.Tool, tc.wantTool)
			}
			if tc.wantOp != "" {
				if dec.Parameters.Aggregate == nil {
					t.Fatal("aggregate params missing")
				}
				if dec.Parameters.Aggregate.Operation != tc.wantOp {
					t.Errorf("op = %q, want %q", dec.Parameters.Aggregate.Operation, tc.wantOp)
				}
				if dec.Parameters.Aggregate.Field != "amount" {
					t.Errorf("field = %q, want configured default", dec.Parameters.Aggregate.Field)
				}
			}
		})
	}
}

func TestFallback_AlwaysReturnsEnumMember(t *testing.T) {
	known := map[Tool]bool{}
	for _, tool := range AllTools {
		known[tool] = true
	}

	messages := []string{
		"", " ", "next", "how many", "total", "garbage ~~~ 123",
		"show invoices and customers", strings.Repeat("a", 10_000),
	}
	for _, msg := range messages {
		dec := Fallback(msg, testEntities("invoice"), FallbackConfig{})
		if dec == nil {
			t.Fatalf("nil decision for %q", msg)
		}
		if !known[dec.Tool] {
			t.Errorf("message %q produced unknown tool %q", msg, dec.Tool)
		}
	}
}

func TestFallback_EntityDetection(t *testing.T) {
	// Sole catalog entry wins even when unnamed.
	dec := Fallback("show me everything", testEntities("invoice"), FallbackConfig{})
	if dec.Parameters.Model != "invoice" {
		t.Errorf("sole entity not defaulted: %q", dec.Parameters.Model)
	}

	// Ambiguous mention of two entities resolves to none.
	dec = Fallback("compare invoices with customers", testEntities("invoice", "customer"), FallbackConfig{})
	if dec.Parameters.Model != "" {
		t.Errorf("ambiguous detection should be empty, got %q", dec.Parameters.Model)
	}
}

func TestFallback_VectorSearchDefaultCarriesQuery(t *testing.T) {
	dec := Fallback("something about shipping delays", testEntities("invoice"), FallbackConfig{Tool: ToolVectorSearch})
	if dec.Tool != ToolVectorSearch {
		t.Fatalf("tool = %q", dec.Tool)
	}
	if dec.Parameters.Query != "something about shipping delays" {
		t.Errorf("query = %q", dec.Parameters.Query)
	}
}

// mockChat returns a canned response or error.
type mockChat struct {
	response string
	err      error
	called   bool
}

func (m *mockChat) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	m.called = true
	return m.response, m.err
}

func TestDecider_ModelPath(t *testing.T) {
	mock := &mockChat{response: `{"tool": "db_count", "reasoning": "r", "parameters": {"model": "invoice"}}`}
	d, err := NewDecider(mock, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}

	dec := d.Decide(context.Background(), PromptData{
		Entities: testEntities("invoice"),
		Message:  "how many invoices",
	})
	if !mock.called {
		t.Fatal("model not called")
	}
	if dec.Tool != ToolDBCount || dec.Parameters.Model != "invoice" {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestDecider_CallErrorFallsBack(t *testing.T) {
	mock := &mockChat{err: errors.New("connection refused")}
	d, err := NewDecider(mock, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}

	dec := d.Decide(context.Background(), PromptData{
		Entities: testEntities("invoice"),
		Message:  "how many invoices",
	})
	if dec == nil || dec.Tool != ToolDBCount {
		t.Fatalf("expected heuristic db_count, got %+v", dec)
	}
}

func TestDecider_UnparsableFallsBack(t *testing.T) {
	mock := &mockChat{response: "I would recommend listing the invoices."}
	d, err := NewDecider(mock, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}

	dec := d.Decide(context.Background(), PromptData{
		Entities: testEntities("invoice"),
		Message:  "list invoices",
	})
	if dec == nil || dec.Tool != ToolDBQuery {
		t.Fatalf("expected heuristic db_query, got %+v", dec)
	}
}

func TestDecider_NilClientUsesFallback(t *testing.T) {
	d, err := NewDecider(nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new decider: %v", err)
	}
	dec := d.Decide(context.Background(), PromptData{Message: "next"})
	if dec.Tool != ToolDBQueryNext {
		t.Fatalf("expected db_query_next, got %+v", dec)
	}
}

func TestPromptBuilder_RendersCatalogAndState(t *testing.T) {
	p, err := NewPromptBuilder()
	if err != nil {
		t.Fatalf("new prompt builder: %v", err)
	}

	data := PromptData{
		Entities: []catalog.EntityDescriptor{
			{
				Name:         "invoice",
				Description:  "Customer invoices",
				BackingTable: "invoices",
				KeyFields:    []string{"status", "amount"},
				FieldSchema:  map[string]string{"id": "integer", "amount": "real"},
			},
		},
		Partitions: []catalog.Partition{{Node: "finance-eu", Entities: []string{"vat_report"}}},
		State: &session.QueryState{
			EntityName:      "invoice",
			Page:            1,
			TotalPages:      2,
			TotalCount:      12,
			EntityIDs:       []int64{101, 102},
			EntitySummaries: []string{"Invoice #101", "Invoice #102"},
			StartPosition:   1,
			EndPosition:     2,
		},
		History: []llm.Message{{Role: "user", Content: "hello"}},
		Message: "list invoices",
	}

	prompt, err := p.BuildSystemPrompt(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"invoice", "Customer invoices", "finance-eu", "vat_report",
		"Invoice #102", "page 1 of 2", "answer_from_context", "db_query_next",
		"amount, id", // sorted column list
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	user := p.BuildUserPrompt("list invoices")
	if !strings.Contains(user, "list invoices") || !strings.Contains(user, "JSON only") {
		t.Errorf("user prompt malformed: %q", user)
	}
}
