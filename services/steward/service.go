// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package steward assembles the decision-and-dispatch engine behind the
// conversational data assistant: one user message in, one tool decision,
// one execution, one result envelope out.
package steward

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Steward/services/llm"
	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/decision"
	"github.com/AleutianAI/Steward/services/steward/dispatch"
	"github.com/AleutianAI/Steward/services/steward/query"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
	"github.com/AleutianAI/Steward/services/steward/vector"
)

var serviceTracer = otel.Tracer("aleutian.steward")

// =============================================================================
// Config
// =============================================================================

// Config is the full tuning surface of the engine. Every field has a
// working default; env overrides are applied in main, not here.
type Config struct {
	// PageSize is the list page length.
	PageSize int

	// DecisionTemperature / DecisionMaxTokens tune the decision call.
	DecisionTemperature float32
	DecisionMaxTokens   int

	// DecisionTimeout bounds the decision model call.
	DecisionTimeout time.Duration

	// HistoryWindow is the number of trailing conversation messages shown
	// to the decision model; HistoryTruncateLen caps each message's length.
	HistoryWindow      int
	HistoryTruncateLen int

	// FallbackTool is the heuristic default when no stronger pattern
	// matches: db_query or vector_search.
	FallbackTool decision.Tool

	// FallbackLimit caps the contexts a semantic search retrieves per call.
	FallbackLimit int

	// DefaultAggregateField is used when an aggregation names no field and
	// the entity has no configured amount field.
	DefaultAggregateField string

	// CurrencySymbol prefixes rendered monetary amounts.
	CurrencySymbol string

	// FunctionCallingModelPatterns lists model-name substrings known to
	// support native function calling. Callers that branch on model
	// capabilities check with SupportsFunctionCalling.
	FunctionCallingModelPatterns []string

	// SessionTTL bounds QueryState retention.
	SessionTTL time.Duration
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:                     10,
		DecisionTemperature:          0.1,
		DecisionMaxTokens:            500,
		DecisionTimeout:              10 * time.Second,
		HistoryWindow:                6,
		HistoryTruncateLen:           400,
		FallbackTool:                 decision.ToolDBQuery,
		FallbackLimit:                5,
		DefaultAggregateField:        "amount",
		CurrencySymbol:               "$",
		FunctionCallingModelPatterns: []string{"gpt-4", "gpt-5", "claude", "gemini", "qwen", "llama-3"},
		SessionTTL:                   session.DefaultTTL,
	}
}

// SupportsFunctionCalling reports whether the named model matches a
// configured function-calling pattern.
func (c Config) SupportsFunctionCalling(model string) bool {
	m := strings.ToLower(model)
	for _, p := range c.FunctionCallingModelPatterns {
		if strings.Contains(m, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// =============================================================================
// Service
// =============================================================================

// Dependencies are the external collaborators the engine is wired over.
type Dependencies struct {
	// Registry is the entity catalog. Must not be nil.
	Registry *catalog.Registry

	// Source is the record backend. Must not be nil.
	Source store.RecordSource

	// States persists QueryState between turns. Must not be nil.
	States session.StateStore

	// Chat is the decision model. Nil forces the heuristic fallback on
	// every turn.
	Chat llm.ChatClient

	// Searcher is the semantic-search backend. Nil disables vector_search.
	Searcher vector.SemanticSearcher
}

// Service runs one user turn end to end: decide, dispatch, respond.
//
// # Thread Safety
//
// Safe for concurrent use. Sessions are independent; concurrent turns
// within one session are last-write-wins on QueryState.
type Service struct {
	deps       Dependencies
	cfg        Config
	decider    *decision.Decider
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewService wires the engine.
//
// # Inputs
//
//   - deps: External collaborators. Registry, Source and States are
//     required; Chat and Searcher are optional.
//   - cfg: Engine tuning. Zero values get defaults.
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - *Service: The wired engine.
//   - error: Non-nil if the decision prompt template fails to parse.
func NewService(deps Dependencies, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.DecisionMaxTokens <= 0 {
		cfg.DecisionMaxTokens = def.DecisionMaxTokens
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = def.DecisionTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.HistoryTruncateLen <= 0 {
		cfg.HistoryTruncateLen = def.HistoryTruncateLen
	}
	if cfg.FallbackTool == "" {
		cfg.FallbackTool = def.FallbackTool
	}
	if cfg.FallbackLimit <= 0 {
		cfg.FallbackLimit = def.FallbackLimit
	}
	if cfg.DefaultAggregateField == "" {
		cfg.DefaultAggregateField = def.DefaultAggregateField
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = def.CurrencySymbol
	}

	decider, err := decision.NewDecider(deps.Chat, decision.Config{
		Temperature: cfg.DecisionTemperature,
		MaxTokens:   cfg.DecisionMaxTokens,
		Timeout:     cfg.DecisionTimeout,
		Fallback: decision.FallbackConfig{
			Tool:           cfg.FallbackTool,
			AggregateField: cfg.DefaultAggregateField,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	executor := query.NewExecutor(deps.Registry, deps.Source, deps.States, query.Config{
		PageSize:              cfg.PageSize,
		CurrencySymbol:        cfg.CurrencySymbol,
		DefaultAggregateField: cfg.DefaultAggregateField,
	}, logger)

	dispatcher := dispatch.NewDispatcher(deps.Registry, executor, deps.Searcher, dispatch.Config{
		SearchLimit: cfg.FallbackLimit,
	}, logger)

	return &Service{
		deps:       deps,
		cfg:        cfg,
		decider:    decider,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Registry exposes the entity catalog for the discovery endpoint.
func (s *Service) Registry() *catalog.Registry {
	return s.deps.Registry
}

// Ready reports whether the record backend answers.
func (s *Service) Ready(ctx context.Context) bool {
	entities := s.deps.Registry.Describe(ctx)
	return len(entities) > 0
}

// Process runs one user turn.
//
// # Description
//
// Builds the decision inputs (fresh catalog descriptors, session
// QueryState, windowed history), asks the decider for a tool, and
// dispatches it. Decision-layer failures never surface: the heuristic
// fallback guarantees a dispatchable decision for every message.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - message: The raw user message.
//   - sessionID: Conversation key for QueryState. Empty disables
//     positional references and pagination continuation.
//   - userID: Invoking user, empty when unscoped.
//   - history: Prior conversation turns, oldest first. May be nil.
//
// # Outputs
//
//   - *query.ToolResult: Never nil.
func (s *Service) Process(ctx context.Context, message, sessionID, userID string, history []llm.Message) *query.ToolResult {
	ctx, span := serviceTracer.Start(ctx, "steward.Service.Process",
		trace.WithAttributes(attribute.String("session_id", sessionID)),
	)
	defer span.End()

	data := decision.PromptData{
		Entities:   s.deps.Registry.Describe(ctx),
		Partitions: s.deps.Registry.Partitions(),
		State:      s.sessionState(ctx, sessionID),
		History:    s.windowHistory(history),
		Message:    message,
	}

	dec := s.decider.Decide(ctx, data)
	s.logger.Info("turn decided",
		slog.String("session_id", sessionID),
		slog.String("tool", string(dec.Tool)),
		slog.String("entity", dec.Parameters.Model))

	result := s.dispatcher.Dispatch(ctx, dec, message, sessionID, userID)
	span.SetAttributes(
		attribute.String("tool", result.Tool),
		attribute.Bool("success", result.Success),
	)
	return result
}

// sessionState reads the session's QueryState; nil on any miss.
func (s *Service) sessionState(ctx context.Context, sessionID string) *session.QueryState {
	if sessionID == "" {
		return nil
	}
	st, err := s.deps.States.Get(ctx, sessionID)
	if err != nil {
		s.logger.Warn("session state read failed",
			slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return nil
	}
	return st
}

// windowHistory keeps the trailing HistoryWindow messages and truncates
// each to HistoryTruncateLen runes, so one long paste cannot crowd the
// catalog out of the decision prompt. Truncation happens on rune
// boundaries so multi-byte content is never split mid-sequence.
func (s *Service) windowHistory(history []llm.Message) []llm.Message {
	if len(history) > s.cfg.HistoryWindow {
		history = history[len(history)-s.cfg.HistoryWindow:]
	}
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		if len(m.Content) > s.cfg.HistoryTruncateLen {
			if runes := []rune(m.Content); len(runes) > s.cfg.HistoryTruncateLen {
				m.Content = string(runes[:s.cfg.HistoryTruncateLen]) + "..."
			}
		}
		out = append(out, m)
	}
	return out
}
