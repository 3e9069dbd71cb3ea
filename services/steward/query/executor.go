// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query executes the four structured-query tools: paginated list,
// count, aggregate, and pagination continuation. Every successful list
// query persists the session's QueryState so later turns can page
// forward or refer to results by position.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/filters"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	queryExecTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steward",
		Subsystem: "query",
		Name:      "executions_total",
		Help:      "Query executions by operation and outcome",
	}, []string{"operation", "outcome"})

	queryExecLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "steward",
		Subsystem: "query",
		Name:      "latency_seconds",
		Help:      "Latency of query executions",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"operation"})
)

var queryTracer = otel.Tracer("aleutian.steward.query")

// =============================================================================
// Executor
// =============================================================================

// Options carries the per-turn execution context.
type Options struct {
	// SessionID keys the QueryState. Empty disables state persistence
	// and positional reference resolution.
	SessionID string

	// UserID scopes queries to the invoking user. Empty means unscoped.
	UserID string
}

// Config tunes query execution and rendering.
type Config struct {
	// PageSize is the list page length.
	PageSize int

	// CurrencySymbol prefixes rendered monetary amounts.
	CurrencySymbol string

	// DefaultAggregateField is used when an aggregation names no field
	// and the entity has no configured amount field.
	DefaultAggregateField string
}

// DefaultConfig returns the standard query configuration.
func DefaultConfig() Config {
	return Config{PageSize: 10, CurrencySymbol: "$", DefaultAggregateField: "amount"}
}

// Executor runs structured queries against the record source.
//
// # Thread Safety
//
// Safe for concurrent use.
type Executor struct {
	registry *catalog.Registry
	source   store.RecordSource
	states   session.StateStore
	cfg      Config
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
//
// # Inputs
//
//   - registry: Entity catalog. Must not be nil.
//   - source: Record source. Must not be nil.
//   - states: Session state store. Must not be nil.
//   - cfg: Execution tuning. Zero values get defaults.
//   - logger: Logger instance. May be nil.
func NewExecutor(registry *catalog.Registry, source store.RecordSource, states session.StateStore, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = DefaultConfig().CurrencySymbol
	}
	if cfg.DefaultAggregateField == "" {
		cfg.DefaultAggregateField = DefaultConfig().DefaultAggregateField
	}
	return &Executor{registry: registry, source: source, states: states, cfg: cfg, logger: logger}
}

// entityContext is the resolved execution context for one entity.
type entityContext struct {
	cfg    *catalog.EntityConfig
	schema map[string]string
	fc     catalog.FilterConfig
}

// resolve maps an entity reference to its config and schema. A nil
// entityContext with a non-nil result means the caller should return the
// result as-is (unresolvable or introspection failure).
func (e *Executor) resolve(ctx context.Context, tool, entityRef string) (*entityContext, *ToolResult) {
	cfg, ok := e.registry.Resolve(entityRef)
	if !ok {
		return nil, NotLocalFailure(tool, catalog.Normalize(entityRef))
	}
	schema, err := e.source.DescribeSchema(ctx, cfg.Table)
	if err != nil {
		if errors.Is(err, store.ErrUnknownTable) {
			return nil, NotLocalFailure(tool, cfg.Name)
		}
		e.logger.Error("schema introspection failed",
			slog.String("entity", cfg.Name), slog.String("error", err.Error()))
		return nil, Failure(tool, "could not inspect "+cfg.Name)
	}
	return &entityContext{
		cfg:    cfg,
		schema: schema,
		fc:     catalog.FilterConfigFor(cfg, schema),
	}, nil
}

// buildQuery assembles scope + AI filters for an entity.
func (e *Executor) buildQuery(ec *entityContext, fs *filters.FilterSet, st *session.QueryState, userID string) (store.Query, error) {
	q := filters.ApplyUserScope(store.Query{}, ec.cfg, ec.fc, userID)
	return filters.Apply(q, fs, ec.schema, ec.fc, st, e.logger)
}

// recencyOrder picks the ordering column: created_at when the entity has
// one, the primary key otherwise. Always descending.
func recencyOrder(schema map[string]string) string {
	if _, ok := schema["created_at"]; ok {
		return "created_at"
	}
	return "id"
}

// hydrateEagerLoads attaches one-line summaries of related records named
// by the entity's eager-load hints, keyed by the related entity's name.
// A hint resolves through the foreign-key column "<related>_id" on the
// listed entity. Hydration is best-effort: a missing related entity,
// foreign-key column, or row leaves the record untouched.
func (e *Executor) hydrateEagerLoads(ctx context.Context, ec *entityContext, records []store.Record) {
	for _, related := range ec.fc.EagerLoad {
		rc, fail := e.resolve(ctx, "db_query", related)
		if fail != nil {
			e.logger.Debug("eager-load target unresolved",
				slog.String("entity", ec.cfg.Name), slog.String("related", related))
			continue
		}
		fk := rc.cfg.Name + "_id"
		if _, ok := ec.schema[fk]; !ok {
			continue
		}

		summaries := make(map[int64]string, len(records))
		for _, r := range records {
			id := r.Int(fk)
			if id == 0 {
				continue
			}
			summary, seen := summaries[id]
			if !seen {
				rows, err := e.source.List(ctx, rc.cfg.Table,
					store.Query{Limit: 1}.Where("id", store.OpEq, id))
				if err != nil || len(rows) == 0 {
					summaries[id] = ""
				} else {
					summaries[id] = e.renderSummary(rc, rows[0])
				}
				summary = summaries[id]
			}
			if summary != "" {
				r[rc.cfg.Name] = summary
			}
		}
	}
}

// state reads the session's QueryState, nil on any miss or store error.
func (e *Executor) state(ctx context.Context, sessionID string) *session.QueryState {
	if sessionID == "" {
		return nil
	}
	st, err := e.states.Get(ctx, sessionID)
	if err != nil {
		e.logger.Warn("session state read failed", slog.String("error", err.Error()))
		return nil
	}
	return st
}

// =============================================================================
// List
// =============================================================================

// ListQuery runs a filtered, paginated list query.
//
// # Description
//
// Resolves the entity, applies user scope and AI filters, counts the
// total, fetches one page ordered by recency, hydrates the entity's
// eager-load hints, persists QueryState, and renders the page. An
// unresolvable entity yields a remote-routing
// candidate rather than a hard failure. A page beyond the last renders
// "end of results" instead of erroring. Exactly one match via an
// explicit id filter renders the full-detail view.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - entityRef: Entity name as decided by the model.
//   - fs: AI-proposed filters. May be nil.
//   - page: 1-based page number. Values < 1 are treated as 1.
//   - opts: Session/user context.
//
// # Outputs
//
//   - *ToolResult: Never nil.
func (e *Executor) ListQuery(ctx context.Context, entityRef string, fs *filters.FilterSet, page int, opts Options) *ToolResult {
	const tool = "db_query"
	ctx, span := queryTracer.Start(ctx, "query.Executor.ListQuery")
	defer span.End()
	start := time.Now()
	defer func() { queryExecLatency.WithLabelValues("list").Observe(time.Since(start).Seconds()) }()

	if page < 1 {
		page = 1
	}

	ec, fail := e.resolve(ctx, tool, entityRef)
	if fail != nil {
		queryExecTotal.WithLabelValues("list", "unresolved").Inc()
		return fail
	}
	span.SetAttributes(attribute.String("entity", ec.cfg.Name), attribute.Int("page", page))

	st := e.state(ctx, opts.SessionID)
	q, err := e.buildQuery(ec, fs, st, opts.UserID)
	if err != nil {
		if errors.Is(err, filters.ErrUnresolvedReference) {
			queryExecTotal.WithLabelValues("list", "bad_reference").Inc()
			return Failure(tool, "I couldn't tell which "+ec.cfg.Name+" you meant. Please refer to it by its number or id.")
		}
		queryExecTotal.WithLabelValues("list", "error").Inc()
		return Failure(tool, "could not build the query")
	}

	total, err := e.source.Count(ctx, ec.cfg.Table, q)
	if err != nil {
		e.logger.Error("count failed", slog.String("entity", ec.cfg.Name), slog.String("error", err.Error()))
		queryExecTotal.WithLabelValues("list", "error").Inc()
		return Failure(tool, "query failed for "+ec.cfg.Name)
	}

	totalPages := int((total + int64(e.cfg.PageSize) - 1) / int64(e.cfg.PageSize))

	q.OrderBy = recencyOrder(ec.schema)
	q.Desc = true
	q.Limit = e.cfg.PageSize
	q.Offset = (page - 1) * e.cfg.PageSize

	records, err := e.source.List(ctx, ec.cfg.Table, q)
	if err != nil {
		e.logger.Error("list failed", slog.String("entity", ec.cfg.Name), slog.String("error", err.Error()))
		queryExecTotal.WithLabelValues("list", "error").Inc()
		return Failure(tool, "query failed for "+ec.cfg.Name)
	}

	if len(records) == 0 {
		if page > 1 {
			queryExecTotal.WithLabelValues("list", "end").Inc()
			return &ToolResult{
				Success: true, Tool: tool, EntityType: ec.cfg.Name,
				Page: page, TotalPages: totalPages, TotalCount: total,
				Response: endOfResults(ec.cfg.Name),
			}
		}
		queryExecTotal.WithLabelValues("list", "empty").Inc()
		return &ToolResult{
			Success: true, Tool: tool, EntityType: ec.cfg.Name,
			Page: 1, TotalPages: 0, TotalCount: 0,
			Response: "No " + plural(ec.cfg.Name) + " found.",
		}
	}

	e.hydrateEagerLoads(ctx, ec, records)

	// Single explicit-id match renders the detail view.
	if len(records) == 1 && fs != nil && fs.ID != nil {
		queryExecTotal.WithLabelValues("list", "detail").Inc()
		return &ToolResult{
			Success: true, Tool: tool, EntityType: ec.cfg.Name,
			Page: page, TotalPages: totalPages, TotalCount: total,
			EntityIDs: []int64{records[0].ID()},
			Response:  e.renderDetail(ec, records[0]),
		}
	}

	startPos := (page-1)*e.cfg.PageSize + 1
	ids := make([]int64, 0, len(records))
	summaries := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID())
		summaries = append(summaries, e.renderSummary(ec, r))
	}

	newState := &session.QueryState{
		EntityName:      ec.cfg.Name,
		BackingTable:    ec.cfg.Table,
		Filters:         fs.ToMap(),
		UserID:          opts.UserID,
		Page:            page,
		TotalPages:      totalPages,
		TotalCount:      total,
		EntityIDs:       ids,
		EntitySummaries: summaries,
		StartPosition:   startPos,
		EndPosition:     startPos + len(records) - 1,
	}
	if opts.SessionID != "" {
		if err := e.states.Put(ctx, opts.SessionID, newState); err != nil {
			e.logger.Warn("session state write failed", slog.String("error", err.Error()))
		}
	}

	queryExecTotal.WithLabelValues("list", "ok").Inc()
	return &ToolResult{
		Success: true, Tool: tool, EntityType: ec.cfg.Name,
		Page: page, TotalPages: totalPages, TotalCount: total,
		HasMore: page < totalPages, EntityIDs: ids,
		Response: e.renderList(ec, newState),
	}
}

// =============================================================================
// Count
// =============================================================================

// Count counts records matching the filters.
func (e *Executor) Count(ctx context.Context, entityRef string, fs *filters.FilterSet, opts Options) *ToolResult {
	const tool = "db_count"
	ctx, span := queryTracer.Start(ctx, "query.Executor.Count")
	defer span.End()
	start := time.Now()
	defer func() { queryExecLatency.WithLabelValues("count").Observe(time.Since(start).Seconds()) }()

	ec, fail := e.resolve(ctx, tool, entityRef)
	if fail != nil {
		queryExecTotal.WithLabelValues("count", "unresolved").Inc()
		return fail
	}
	span.SetAttributes(attribute.String("entity", ec.cfg.Name))

	st := e.state(ctx, opts.SessionID)
	q, err := e.buildQuery(ec, fs, st, opts.UserID)
	if err != nil {
		queryExecTotal.WithLabelValues("count", "error").Inc()
		return Failure(tool, "could not build the query")
	}

	total, err := e.source.Count(ctx, ec.cfg.Table, q)
	if err != nil {
		e.logger.Error("count failed", slog.String("entity", ec.cfg.Name), slog.String("error", err.Error()))
		queryExecTotal.WithLabelValues("count", "error").Inc()
		return Failure(tool, "count failed for "+ec.cfg.Name)
	}

	queryExecTotal.WithLabelValues("count", "ok").Inc()
	return &ToolResult{
		Success: true, Tool: tool, EntityType: ec.cfg.Name,
		Count:    &total,
		Response: fmt.Sprintf("You have %d %s.", total, plural(ec.cfg.Name)),
	}
}

// =============================================================================
// Aggregate
// =============================================================================

// Aggregate computes an aggregation over a numeric field.
//
// # Description
//
// The field resolves explicit > configured amount field > global default.
// Two calculation paths: database-native aggregation when the field is a
// stored column (preferred), or in-memory reduction when the field names
// a registered computed-field function. A field that is neither is a
// hard error, surfaced verbatim.
func (e *Executor) Aggregate(ctx context.Context, entityRef string, fs *filters.FilterSet, operation, field string, opts Options) *ToolResult {
	const tool = "db_aggregate"
	ctx, span := queryTracer.Start(ctx, "query.Executor.Aggregate")
	defer span.End()
	start := time.Now()
	defer func() { queryExecLatency.WithLabelValues("aggregate").Observe(time.Since(start).Seconds()) }()

	ec, fail := e.resolve(ctx, tool, entityRef)
	if fail != nil {
		queryExecTotal.WithLabelValues("aggregate", "unresolved").Inc()
		return fail
	}

	op := store.ParseAggOp(operation)
	if field == "" {
		field = ec.fc.AmountField
	}
	if field == "" {
		field = e.cfg.DefaultAggregateField
	}
	span.SetAttributes(
		attribute.String("entity", ec.cfg.Name),
		attribute.String("op", string(op)),
		attribute.String("field", field),
	)

	st := e.state(ctx, opts.SessionID)
	q, err := e.buildQuery(ec, fs, st, opts.UserID)
	if err != nil {
		queryExecTotal.WithLabelValues("aggregate", "error").Inc()
		return Failure(tool, "could not build the query")
	}

	var value float64
	if _, isColumn := ec.schema[field]; isColumn {
		value, err = e.source.Aggregate(ctx, ec.cfg.Table, q, op, field)
		if err != nil {
			e.logger.Error("aggregate failed", slog.String("entity", ec.cfg.Name), slog.String("error", err.Error()))
			queryExecTotal.WithLabelValues("aggregate", "error").Inc()
			return Failure(tool, "aggregate failed for "+ec.cfg.Name)
		}
	} else if compute, ok := ec.cfg.ComputedFields[field]; ok {
		records, listErr := e.source.List(ctx, ec.cfg.Table, q)
		if listErr != nil {
			e.logger.Error("aggregate materialization failed", slog.String("entity", ec.cfg.Name), slog.String("error", listErr.Error()))
			queryExecTotal.WithLabelValues("aggregate", "error").Inc()
			return Failure(tool, "aggregate failed for "+ec.cfg.Name)
		}
		value = store.Reduce(records, op, compute)
	} else {
		queryExecTotal.WithLabelValues("aggregate", "bad_field").Inc()
		return Failure(tool, fmt.Sprintf("field %q is neither a column nor a computed field of %s", field, ec.cfg.Name))
	}

	queryExecTotal.WithLabelValues("aggregate", "ok").Inc()
	return &ToolResult{
		Success: true, Tool: tool, EntityType: ec.cfg.Name,
		Response: e.renderAggregate(ec, op, field, value),
	}
}

// =============================================================================
// Pagination Continuation
// =============================================================================

// NextPage continues the session's previous list query.
//
// # Description
//
// Reads the session's QueryState. With no state, asks the user to run a
// query first. At or past the last page, reports completion without
// advancing — repeated "next" at the boundary is idempotent. Otherwise
// replays the original filters against page+1.
func (e *Executor) NextPage(ctx context.Context, opts Options) *ToolResult {
	const tool = "db_query_next"
	ctx, span := queryTracer.Start(ctx, "query.Executor.NextPage")
	defer span.End()

	st := e.state(ctx, opts.SessionID)
	if st == nil {
		queryExecTotal.WithLabelValues("next", "no_state").Inc()
		return Failure(tool, "There is no previous list to continue. Ask for a list first.")
	}

	if st.Page >= st.TotalPages {
		queryExecTotal.WithLabelValues("next", "end").Inc()
		return &ToolResult{
			Success: true, Tool: tool, EntityType: st.EntityName,
			Page: st.Page, TotalPages: st.TotalPages, TotalCount: st.TotalCount,
			Response: endOfResults(st.EntityName),
		}
	}

	queryExecTotal.WithLabelValues("next", "ok").Inc()
	result := e.ListQuery(ctx, st.EntityName, filters.FromMap(st.Filters), st.Page+1, Options{
		SessionID: opts.SessionID,
		UserID:    st.UserID,
	})
	result.Tool = tool
	return result
}
