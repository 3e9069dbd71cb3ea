// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch routes a Decision to exactly one tool execution and
// applies the two cross-cutting post-execution policies in one place:
// the semantic-search-empty fallback and the remote-routing signal.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/decision"
	"github.com/AleutianAI/Steward/services/steward/query"
	"github.com/AleutianAI/Steward/services/steward/vector"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "dispatch",
		Name:      "total",
		Help:      "Dispatches by tool and outcome",
	}, []string{"tool", "outcome"})

	dispatchFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "dispatch",
		Name:      "vector_fallback_total",
		Help:      "Semantic searches re-executed as structured queries",
	})

	dispatchRouteTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "dispatch",
		Name:      "route_to_node_total",
		Help:      "Results flagged for remote-node routing",
	})
)

var dispatchTracer = otel.Tracer("aleutian.steward.dispatch")

// nodeRoutableTools is the fixed whitelist of tools whose local-data
// failures become routing signals.
var nodeRoutableTools = map[decision.Tool]bool{
	decision.ToolDBQuery:     true,
	decision.ToolDBCount:     true,
	decision.ToolDBAggregate: true,
	decision.ToolModelTool:   true,
}

// =============================================================================
// Dispatcher
// =============================================================================

// Config tunes dispatch execution.
type Config struct {
	// SearchLimit caps semantic-search contexts per call.
	SearchLimit int
}

// DefaultConfig returns the standard dispatch configuration.
func DefaultConfig() Config {
	return Config{SearchLimit: 5}
}

// Dispatcher executes decisions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Dispatcher struct {
	registry *catalog.Registry
	executor *query.Executor
	searcher vector.SemanticSearcher
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
//
// # Inputs
//
//   - registry: Entity catalog. Must not be nil.
//   - executor: Query executor. Must not be nil.
//   - searcher: Semantic search backend. Nil disables vector_search
//     (it then behaves as an empty search, triggering the fallback).
//   - cfg: Dispatch tuning. Zero values get defaults.
//   - logger: Logger instance. May be nil.
func NewDispatcher(registry *catalog.Registry, executor *query.Executor, searcher vector.SemanticSearcher, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultConfig().SearchLimit
	}
	return &Dispatcher{
		registry: registry,
		executor: executor,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Dispatch executes one decision and returns the uniform envelope.
//
// # Description
//
// Normalizes the tool name (anything unknown becomes db_query), routes
// to exactly one execution, then applies the post-execution policies:
// an empty semantic search with a named entity re-executes as db_query
// tagged "fallback_from"; a not-available-locally failure of a
// node-routable tool becomes a should_route_to_node annotation instead
// of a user-facing error.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - dec: The decision. Must not be nil.
//   - message: The raw user message (used by vector_search when the
//     decision carries no query).
//   - sessionID: Session key for QueryState.
//   - userID: Invoking user, empty when unscoped.
//
// # Outputs
//
//   - *query.ToolResult: Never nil.
func (d *Dispatcher) Dispatch(ctx context.Context, dec *decision.Decision, message, sessionID, userID string) *query.ToolResult {
	tool := decision.NormalizeTool(string(dec.Tool))
	ctx, span := dispatchTracer.Start(ctx, "dispatch.Dispatcher.Dispatch",
		trace.WithAttributes(
			attribute.String("tool", string(tool)),
			attribute.String("entity", dec.Parameters.Model),
		),
	)
	defer span.End()

	opts := query.Options{SessionID: sessionID, UserID: userID}
	result := d.execute(ctx, tool, dec, message, opts)

	// Policy 1: semantic-search-empty fallback.
	if tool == decision.ToolVectorSearch && d.searchCameUpEmpty(result) && dec.Parameters.Model != "" {
		d.logger.Info("semantic search empty, falling back to structured query",
			slog.String("entity", dec.Parameters.Model))
		dispatchFallbackTotal.Inc()
		result = d.executor.ListQuery(ctx, dec.Parameters.Model, dec.Parameters.Filters, 1, opts)
		result.Tag("fallback_from", string(decision.ToolVectorSearch))
	}

	// Policy 2: remote-routing signal.
	if nodeRoutableTools[tool] && !result.Success && result.NotAvailableLocally() {
		result.ShouldRouteToNode = true
		if result.RouteModel == "" {
			result.RouteModel = result.EntityType
		}
		dispatchRouteTotal.Inc()
		span.SetAttributes(attribute.Bool("route_to_node", true))
	}

	outcome := "ok"
	if !result.Success {
		outcome = "error"
	}
	dispatchTotal.WithLabelValues(string(tool), outcome).Inc()
	span.SetAttributes(attribute.Bool("success", result.Success))
	return result
}

// execute routes to exactly one tool.
func (d *Dispatcher) execute(ctx context.Context, tool decision.Tool, dec *decision.Decision, message string, opts query.Options) *query.ToolResult {
	p := dec.Parameters
	switch tool {
	case decision.ToolAnswerFromContext:
		answer := p.Answer
		if answer == "" {
			answer = dec.Reasoning
		}
		return &query.ToolResult{Success: true, Tool: string(tool), Response: answer}

	case decision.ToolDBQuery:
		return d.executor.ListQuery(ctx, p.Model, p.Filters, 1, opts)

	case decision.ToolDBQueryNext:
		return d.executor.NextPage(ctx, opts)

	case decision.ToolDBCount:
		return d.executor.Count(ctx, p.Model, p.Filters, opts)

	case decision.ToolDBAggregate:
		var op, field string
		if p.Aggregate != nil {
			op, field = p.Aggregate.Operation, p.Aggregate.Field
		}
		return d.executor.Aggregate(ctx, p.Model, p.Filters, op, field, opts)

	case decision.ToolVectorSearch:
		return d.vectorSearch(ctx, p, message)

	case decision.ToolModelTool:
		return d.modelTool(ctx, p, opts.UserID)

	case decision.ToolNodeQuery:
		return d.nodeQuery(p)

	case decision.ToolExitToOrchestrator:
		r := &query.ToolResult{
			Success:  true,
			Tool:     string(tool),
			Response: "This request spans multiple data domains and is being handed to the orchestrator.",
		}
		r.Tag("exit", "orchestrator")
		return r

	default:
		// NormalizeTool makes this unreachable; kept as a guard.
		return d.executor.ListQuery(ctx, p.Model, p.Filters, 1, opts)
	}
}

// =============================================================================
// Vector Search
// =============================================================================

// searchTarget pairs an entity with its document collection.
type searchTarget struct {
	entity     string
	collection string
}

// searchTargets resolves the collections a semantic search covers: the
// named entity's collection, or every searchable collection in the
// catalog when no entity was named.
func (d *Dispatcher) searchTargets(model string) []searchTarget {
	if model != "" {
		if cfg, ok := d.registry.Resolve(model); ok && cfg.Collection != "" {
			return []searchTarget{{entity: cfg.Name, collection: cfg.Collection}}
		}
		return nil
	}
	var targets []searchTarget
	for _, name := range d.registry.Names() {
		if cfg, ok := d.registry.Resolve(name); ok && cfg.Collection != "" {
			targets = append(targets, searchTarget{entity: cfg.Name, collection: cfg.Collection})
		}
	}
	return targets
}

// vectorSearch runs the semantic search against the decided entity's
// collection, or across every searchable collection in the catalog when
// no entity was named. The first collection with matches wins; a backend
// error on one collection is logged and the remaining collections are
// still tried.
func (d *Dispatcher) vectorSearch(ctx context.Context, p decision.Parameters, message string) *query.ToolResult {
	const tool = "vector_search"

	queryText := p.Query
	if queryText == "" {
		queryText = message
	}

	targets := d.searchTargets(p.Model)
	if d.searcher == nil || len(targets) == 0 {
		// No backend or no searchable collection: an empty search, so
		// the dispatcher-level fallback can take over.
		return &query.ToolResult{Success: false, Tool: tool, Error: "semantic search unavailable"}
	}

	for _, target := range targets {
		res, err := d.searcher.Search(ctx, target.collection, queryText, d.cfg.SearchLimit)
		if err != nil {
			d.logger.Warn("semantic search failed",
				slog.String("collection", target.collection), slog.String("error", err.Error()))
			continue
		}
		if res.Empty() {
			continue
		}
		answer := res.Answer
		if answer == "" {
			answer = strings.Join(res.Contexts, "\n\n")
		}
		r := &query.ToolResult{Success: true, Tool: tool, Response: answer, EntityType: target.entity}
		r.Tag("contexts", len(res.Contexts))
		return r
	}
	return &query.ToolResult{Success: false, Tool: tool, Error: "no matching documents"}
}

// searchCameUpEmpty reports whether a vector_search result carries no
// usable context: a failed call, empty response text, or zero contexts.
func (d *Dispatcher) searchCameUpEmpty(r *query.ToolResult) bool {
	if !r.Success || r.Response == "" {
		return true
	}
	if n, ok := r.Metadata["contexts"].(int); ok && n == 0 {
		return true
	}
	return false
}

// =============================================================================
// Node Query
// =============================================================================

// nodeQuery raises the hand-off signal for a remote partition. The
// dispatcher never calls the node itself.
func (d *Dispatcher) nodeQuery(p decision.Parameters) *query.ToolResult {
	entity := catalog.Normalize(p.Model)
	node := p.Node
	if node == "" {
		if part, ok := d.registry.PartitionFor(entity); ok {
			node = part.Node
		}
	}
	if node == "" {
		return query.Failure("node_query", "no partition serves "+entity)
	}
	r := &query.ToolResult{
		Success:           true,
		Tool:              "node_query",
		EntityType:        entity,
		ShouldRouteToNode: true,
		RouteModel:        entity,
		Response:          "Routing the " + entity + " request to node " + node + ".",
	}
	r.Tag("node", node)
	return r
}
