// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/decision"
	"github.com/AleutianAI/Steward/services/steward/query"
)

// =============================================================================
// CRUD Tool Invocation
// =============================================================================

// operationFor classifies what a tool does to its entity: explicit tool
// metadata first, name-based keyword detection only when absent.
func operationFor(spec catalog.ToolSpec) string {
	if spec.Operation != "" {
		return spec.Operation
	}
	name := strings.ToLower(spec.Name)
	switch {
	case containsAny(name, "create", "add", "new"):
		return catalog.OpCreate
	case containsAny(name, "delete", "remove", "cancel"):
		return catalog.OpDelete
	default:
		// Mutations that are neither create nor delete (mark, send,
		// edit) modify an existing record.
		return catalog.OpUpdate
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// modelTool invokes an entity-owned CRUD tool.
//
// # Description
//
// Resolves the entity and tool, determines the required operation, and
// checks it against the invoking user's allowed-operations set before
// the handler runs. A denied operation fails with an explicit
// "permission denied: {operation}" message and is never retried.
func (d *Dispatcher) modelTool(ctx context.Context, p decision.Parameters, userID string) *query.ToolResult {
	const tool = "model_tool"

	if p.ToolName == "" {
		return query.Failure(tool, "no tool was named")
	}

	cfg, ok := d.registry.Resolve(p.Model)
	if !ok {
		return query.NotLocalFailure(tool, catalog.Normalize(p.Model))
	}

	spec, ok := cfg.Tool(p.ToolName)
	if !ok {
		return query.Failure(tool, "unknown tool "+p.ToolName+" for "+cfg.Name)
	}

	op := operationFor(spec)
	if !cfg.OpsFor(userID)[op] {
		d.logger.Warn("tool invocation denied",
			slog.String("tool", spec.Name),
			slog.String("operation", op),
			slog.String("user", userID))
		return query.Failure(tool, "permission denied: "+op)
	}

	if spec.Handler == nil {
		return query.Failure(tool, "tool "+spec.Name+" has no handler")
	}

	response, err := spec.Handler(ctx, userID, p.ToolParams)
	if err != nil {
		d.logger.Error("tool handler failed",
			slog.String("tool", spec.Name), slog.String("error", err.Error()))
		return query.Failure(tool, spec.Name+" failed: "+err.Error())
	}

	r := &query.ToolResult{Success: true, Tool: tool, Response: response, EntityType: cfg.Name}
	r.Tag("tool_name", spec.Name)
	r.Tag("operation", op)
	return r
}
