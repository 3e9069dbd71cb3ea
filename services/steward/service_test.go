// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package steward

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/Steward/services/llm"
	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
	"github.com/AleutianAI/Steward/services/steward/vector"
)

// scriptedChat replays canned decision responses in order. An empty
// script means every call errors, forcing the heuristic fallback.
type scriptedChat struct {
	responses []string
	calls     int
}

func (s *scriptedChat) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	if s.calls >= len(s.responses) {
		return "", fmt.Errorf("no scripted response for call %d", s.calls)
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

// emptySearcher always finds nothing.
type emptySearcher struct{ calls int }

func (e *emptySearcher) Search(_ context.Context, _, _ string, _ int) (*vector.SearchResult, error) {
	e.calls++
	return &vector.SearchResult{}, nil
}

// cannedSearcher returns a fixed result and records the last limit.
type cannedSearcher struct {
	result    *vector.SearchResult
	lastLimit int
}

func (c *cannedSearcher) Search(_ context.Context, _, _ string, limit int) (*vector.SearchResult, error) {
	c.lastLimit = limit
	return c.result, nil
}

// newTestService wires a full engine over 15 in-memory invoices for u1.
func newTestService(t *testing.T, chat llm.ChatClient, searcher vector.SemanticSearcher) (*Service, session.StateStore) {
	t.Helper()
	return newTestServiceWithConfig(t, chat, searcher, Config{PageSize: 10})
}

func newTestServiceWithConfig(t *testing.T, chat llm.ChatClient, searcher vector.SemanticSearcher, cfg Config) (*Service, session.StateStore) {
	t.Helper()

	src := store.NewMemorySource()
	schema := map[string]string{
		"id": "integer", "user_id": "text", "status": "text",
		"amount": "real", "created_at": "text",
	}
	rows := make([]store.Record, 0, 15)
	for i := 1; i <= 15; i++ {
		status := "unpaid"
		if i%3 == 0 {
			status = "paid"
		}
		rows = append(rows, store.Record{
			"id": int64(300 + i), "user_id": "u1", "status": status,
			"amount": float64(i * 25), "created_at": fmt.Sprintf("2026-06-%02d", i),
		})
	}
	src.AddTable("invoices", schema, rows)

	reg := catalog.NewRegistry(src, nil)
	reg.Register(&catalog.EntityConfig{
		Name:        "invoice",
		Description: "Customer invoices",
		Table:       "invoices",
		Collection:  "InvoiceDocs",
		Filter:      &catalog.FilterConfig{UserField: "user_id", AmountField: "amount"},
	})

	states := session.NewMemoryStateStore(time.Hour)
	svc, err := NewService(Dependencies{
		Registry: reg,
		Source:   src,
		States:   states,
		Chat:     chat,
		Searcher: searcher,
	}, cfg, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, states
}

func TestProcess_ListInvoicesPersistsState(t *testing.T) {
	svc, states := newTestService(t, nil, nil)
	ctx := context.Background()

	res := svc.Process(ctx, "list invoices", "s1", "u1", nil)
	if !res.Success {
		t.Fatalf("process failed: %s", res.Error)
	}
	if res.Tool != "db_query" {
		t.Errorf("tool = %q, want db_query", res.Tool)
	}
	if res.Page != 1 || len(res.EntityIDs) != 10 {
		t.Fatalf("page/ids wrong: %+v", res)
	}

	st, err := states.Get(ctx, "s1")
	if err != nil || st == nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if st.EntityName != "invoice" || len(st.EntityIDs) != 10 {
		t.Errorf("state wrong: %+v", st)
	}
}

func TestProcess_PositionalReferenceAfterList(t *testing.T) {
	// Turn 2 is model-decided: "2" becomes a db_query with an id filter
	// that the filter service resolves positionally.
	chat := &scriptedChat{responses: []string{
		`{"tool": "db_query", "reasoning": "list request", "parameters": {"model": "invoice"}}`,
		`{"tool": "db_query", "reasoning": "positional reference", "parameters": {"model": "invoice", "filters": {"id": 2}}}`,
	}}
	svc, states := newTestService(t, chat, nil)
	ctx := context.Background()

	first := svc.Process(ctx, "list invoices", "s1", "u1", nil)
	if !first.Success {
		t.Fatalf("turn 1 failed: %s", first.Error)
	}

	st, _ := states.Get(ctx, "s1")
	wantID := st.EntityIDs[1]

	second := svc.Process(ctx, "2", "s1", "u1", []llm.Message{
		{Role: "user", Content: "list invoices"},
		{Role: "assistant", Content: first.Response},
	})
	if !second.Success {
		t.Fatalf("turn 2 failed: %s", second.Error)
	}
	if len(second.EntityIDs) != 1 || second.EntityIDs[0] != wantID {
		t.Fatalf("ids = %v, want [%d]", second.EntityIDs, wantID)
	}
	if !strings.Contains(second.Response, fmt.Sprintf("#%d", wantID)) {
		t.Errorf("detail response = %q", second.Response)
	}
}

func TestProcess_HowManyInvoices(t *testing.T) {
	// No model at all: the counting heuristic must carry the turn.
	svc, _ := newTestService(t, nil, nil)

	res := svc.Process(context.Background(), "how many invoices do I have", "s1", "u1", nil)
	if !res.Success {
		t.Fatalf("process failed: %s", res.Error)
	}
	if res.Tool != "db_count" {
		t.Errorf("tool = %q, want db_count", res.Tool)
	}
	if res.Count == nil || *res.Count != 15 {
		t.Fatalf("count = %v, want 15", res.Count)
	}
	if !strings.Contains(res.Response, "15") {
		t.Errorf("response missing literal count: %q", res.Response)
	}
}

func TestProcess_VectorEmptyFallsBackToQuery(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"tool": "vector_search", "reasoning": "docs question", "parameters": {"model": "invoice", "query": "payment terms"}}`,
	}}
	searcher := &emptySearcher{}
	svc, _ := newTestService(t, chat, searcher)

	res := svc.Process(context.Background(), "what are my invoice payment terms", "s1", "u1", nil)
	if !res.Success {
		t.Fatalf("fallback query failed: %s", res.Error)
	}
	if searcher.calls != 1 {
		t.Errorf("searcher called %d times", searcher.calls)
	}
	if res.Tool != "db_query" {
		t.Errorf("tool = %q, want db_query", res.Tool)
	}
	if res.Metadata["fallback_from"] != "vector_search" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestProcess_VectorSearchUsesConfiguredLimit(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"tool": "vector_search", "reasoning": "docs question", "parameters": {"model": "invoice", "query": "payment terms"}}`,
	}}
	searcher := &cannedSearcher{result: &vector.SearchResult{Contexts: []string{"Net 30."}}}
	svc, _ := newTestServiceWithConfig(t, chat, searcher, Config{PageSize: 10, FallbackLimit: 2})

	res := svc.Process(context.Background(), "what are my invoice payment terms", "s1", "u1", nil)
	if !res.Success {
		t.Fatalf("search failed: %s", res.Error)
	}
	if searcher.lastLimit != 2 {
		t.Errorf("searcher limit = %d, want configured 2", searcher.lastLimit)
	}
}

func TestProcess_ModelFailureNeverSurfaces(t *testing.T) {
	// Scripted chat with no responses errors every call; the turn must
	// still complete via the fallback.
	svc, _ := newTestService(t, &scriptedChat{}, nil)

	res := svc.Process(context.Background(), "show me my invoices please", "s1", "u1", nil)
	if !res.Success {
		t.Fatalf("process failed: %s", res.Error)
	}
	if res.Tool != "db_query" {
		t.Errorf("tool = %q", res.Tool)
	}
}

func TestWindowHistory(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	svc.cfg.HistoryWindow = 2
	svc.cfg.HistoryTruncateLen = 10

	history := []llm.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: strings.Repeat("x", 50)},
	}
	out := svc.windowHistory(history)
	if len(out) != 2 {
		t.Fatalf("window = %d messages, want 2", len(out))
	}
	if out[0].Content != "second" {
		t.Errorf("oldest kept = %q", out[0].Content)
	}
	if out[1].Content != strings.Repeat("x", 10)+"..." {
		t.Errorf("truncation wrong: %q", out[1].Content)
	}
	// The caller's slice must not be mutated.
	if history[2].Content != strings.Repeat("x", 50) {
		t.Error("input history mutated")
	}
}

func TestWindowHistory_TruncatesOnRuneBoundaries(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	svc.cfg.HistoryTruncateLen = 10

	history := []llm.Message{
		{Role: "user", Content: strings.Repeat("é", 50)},
	}
	out := svc.windowHistory(history)
	if len(out) != 1 {
		t.Fatalf("window = %d messages, want 1", len(out))
	}
	want := strings.Repeat("é", 10) + "..."
	if out[0].Content != want {
		t.Errorf("truncation wrong: %q, want %q", out[0].Content, want)
	}
	if !utf8.ValidString(out[0].Content) {
		t.Error("truncated content is not valid UTF-8")
	}
}

func TestConfig_SupportsFunctionCalling(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		model string
		want  bool
	}{
		{"gpt-4o-mini", true},
		{"claude-sonnet", true},
		{"GPT-4o", true},
		{"mistral-7b", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := cfg.SupportsFunctionCalling(tc.model); got != tc.want {
			t.Errorf("SupportsFunctionCalling(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}
