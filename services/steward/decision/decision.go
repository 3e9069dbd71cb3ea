// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision turns a user message into a typed tool decision. The
// language model proposes a decision as JSON; a deterministic heuristic
// stands in whenever the call fails or the JSON cannot be parsed, so a
// turn always produces a dispatchable Decision.
package decision

import "github.com/AleutianAI/Steward/services/steward/filters"

// =============================================================================
// Tool Enum
// =============================================================================

// Tool is the fixed set of dispatchable tools. Any value outside this
// set normalizes to ToolDBQuery.
type Tool string

const (
	// ToolAnswerFromContext answers directly from the visible context.
	ToolAnswerFromContext Tool = "answer_from_context"

	// ToolDBQuery runs a filtered, paginated structured list query.
	ToolDBQuery Tool = "db_query"

	// ToolDBQueryNext continues the previous list query on the next page.
	ToolDBQueryNext Tool = "db_query_next"

	// ToolDBCount counts records matching the filters.
	ToolDBCount Tool = "db_count"

	// ToolDBAggregate computes sum/avg/min/max over a numeric field.
	ToolDBAggregate Tool = "db_aggregate"

	// ToolVectorSearch runs a semantic search over an entity's collection.
	ToolVectorSearch Tool = "vector_search"

	// ToolModelTool invokes an entity-owned CRUD tool.
	ToolModelTool Tool = "model_tool"

	// ToolNodeQuery hands a query to a named remote partition.
	ToolNodeQuery Tool = "node_query"

	// ToolExitToOrchestrator signals a multi-entity or multi-step request
	// the engine cannot serve alone.
	ToolExitToOrchestrator Tool = "exit_to_orchestrator"
)

// AllTools lists every member of the tool enum.
var AllTools = []Tool{
	ToolAnswerFromContext,
	ToolDBQuery,
	ToolDBQueryNext,
	ToolDBCount,
	ToolDBAggregate,
	ToolVectorSearch,
	ToolModelTool,
	ToolNodeQuery,
	ToolExitToOrchestrator,
}

// NormalizeTool maps a raw tool name to a member of the enum. Unknown
// values become ToolDBQuery, the default structured-query tool.
func NormalizeTool(raw string) Tool {
	t := Tool(raw)
	for _, known := range AllTools {
		if t == known {
			return t
		}
	}
	return ToolDBQuery
}

// =============================================================================
// Decision
// =============================================================================

// AggregateParams names the aggregation operation and target field.
type AggregateParams struct {
	// Operation is one of sum, avg, min, max, count. Empty defaults to sum.
	Operation string `json:"operation,omitempty"`

	// Field is the numeric field to aggregate. Empty falls back to the
	// entity's configured amount field.
	Field string `json:"field,omitempty"`
}

// Parameters is the typed parameter block of a Decision. The model emits
// it as a JSON map; only the fields relevant to the chosen tool are set.
type Parameters struct {
	// Model is the target entity's catalog name.
	Model string `json:"model,omitempty"`

	// Filters constrains structured queries.
	Filters *filters.FilterSet `json:"filters,omitempty"`

	// Aggregate configures db_aggregate.
	Aggregate *AggregateParams `json:"aggregate,omitempty"`

	// Query is the free-text search string for vector_search.
	Query string `json:"query,omitempty"`

	// Node names the remote partition for node_query.
	Node string `json:"node,omitempty"`

	// Answer is the direct answer text for answer_from_context.
	Answer string `json:"answer,omitempty"`

	// ToolName and ToolParams select and parameterize a model_tool call.
	ToolName   string         `json:"tool_name,omitempty"`
	ToolParams map[string]any `json:"tool_params,omitempty"`
}

// Decision is the per-turn outcome of the decision service: one tool,
// the model's reasoning, and the tool's parameters. Produced once per
// user turn and consumed once by the dispatcher.
type Decision struct {
	Tool       Tool       `json:"tool"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Parameters Parameters `json:"parameters"`
}
