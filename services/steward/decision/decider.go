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
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Steward/services/llm"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "decision",
		Name:      "total",
		Help:      "Decisions by outcome: model, fallback_call, fallback_parse",
	}, []string{"outcome"})

	decisionToolTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "decision",
		Name:      "tool_total",
		Help:      "Decisions by selected tool",
	}, []string{"tool"})

	decisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "steward",
		Subsystem: "decision",
		Name:      "latency_seconds",
		Help:      "Latency of decision model calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var deciderTracer = otel.Tracer("aleutian.steward.decision")

// =============================================================================
// Decider
// =============================================================================

// Config tunes the decision model call.
type Config struct {
	// Temperature for the decision call. Low values keep the JSON stable.
	Temperature float32

	// MaxTokens caps the decision completion.
	MaxTokens int

	// Timeout bounds the model call. Zero uses the default (10s).
	Timeout time.Duration

	// Fallback tunes the heuristic path.
	Fallback FallbackConfig
}

// DefaultConfig returns the standard decision configuration.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.1,
		MaxTokens:   500,
		Timeout:     10 * time.Second,
		Fallback:    FallbackConfig{Tool: ToolDBQuery, AggregateField: "amount"},
	}
}

// Decider produces a Decision per user turn.
//
// # Description
//
// Renders the decision prompt, calls the chat model, and parses the JSON
// decision. A failed call or unparsable response is never surfaced: the
// deterministic heuristic fallback decides instead. A nil chat client
// skips the model entirely and always uses the fallback.
//
// # Thread Safety
//
// Decider is safe for concurrent use.
type Decider struct {
	client  llm.ChatClient
	prompts *PromptBuilder
	cfg     Config
	logger  *slog.Logger
}

// NewDecider creates a Decider.
//
// # Inputs
//
//   - client: Chat backend. Nil forces the heuristic path.
//   - cfg: Decision tuning. Zero values get defaults.
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - *Decider: The configured decider.
//   - error: Non-nil if the prompt template fails to parse.
func NewDecider(client llm.ChatClient, cfg Config, logger *slog.Logger) (*Decider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	prompts, err := NewPromptBuilder()
	if err != nil {
		return nil, err
	}
	return &Decider{client: client, prompts: prompts, cfg: cfg, logger: logger}, nil
}

// Decide selects the tool for one user turn.
//
// # Inputs
//
//   - ctx: Context for cancellation/timeout.
//   - data: The prompt inputs (message, catalog, session state, history).
//
// # Outputs
//
//   - *Decision: Never nil; the fallback guarantees a dispatchable
//     decision for every input.
func (d *Decider) Decide(ctx context.Context, data PromptData) *Decision {
	ctx, span := deciderTracer.Start(ctx, "decision.Decider.Decide",
		trace.WithAttributes(
			attribute.Int("entities", len(data.Entities)),
			attribute.Bool("has_state", data.State != nil),
		),
	)
	defer span.End()

	dec := d.decideWithModel(ctx, data)
	if dec == nil {
		dec = Fallback(data.Message, data.Entities, d.cfg.Fallback)
	}

	decisionToolTotal.WithLabelValues(string(dec.Tool)).Inc()
	span.SetAttributes(attribute.String("tool", string(dec.Tool)))
	return dec
}

// decideWithModel runs the model path; nil means "use the fallback".
func (d *Decider) decideWithModel(ctx context.Context, data PromptData) *Decision {
	if d.client == nil {
		return nil
	}

	system, err := d.prompts.BuildSystemPrompt(data)
	if err != nil {
		d.logger.Error("decision prompt render failed", slog.String("error", err.Error()))
		decisionTotal.WithLabelValues("fallback_call").Inc()
		return nil
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: d.prompts.BuildUserPrompt(data.Message)},
	}

	temp := d.cfg.Temperature
	maxTok := d.cfg.MaxTokens
	params := llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTok}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	response, err := d.client.Chat(callCtx, messages, params)
	decisionLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		d.logger.Warn("decision model call failed, using heuristic fallback",
			slog.String("error", err.Error()))
		decisionTotal.WithLabelValues("fallback_call").Inc()
		return nil
	}

	dec, err := ParseDecision(response)
	if err != nil {
		d.logger.Warn("decision response unparsable, using heuristic fallback",
			slog.String("error", err.Error()))
		decisionTotal.WithLabelValues("fallback_parse").Inc()
		return nil
	}

	d.logger.Debug("decision made by model",
		slog.String("tool", string(dec.Tool)),
		slog.String("model_entity", dec.Parameters.Model))
	decisionTotal.WithLabelValues("model").Inc()
	return dec
}
