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
	"bytes"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/AleutianAI/Steward/services/llm"
	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
)

// =============================================================================
// Prompt Builder
// =============================================================================

// PromptBuilder renders the per-turn decision prompt.
//
// # Description
//
// The prompt encodes the entity catalog, known remote partitions, the
// currently visible result list (with display positions), a bounded
// window of conversation history, and a strict priority-ordered decision
// tree the model must walk top to bottom.
//
// # Thread Safety
//
// PromptBuilder is safe for concurrent use.
type PromptBuilder struct {
	tmpl *template.Template
}

// PromptData is the template input for one decision turn.
type PromptData struct {
	// Entities is the current catalog, sorted by name.
	Entities []catalog.EntityDescriptor

	// Partitions lists known remote nodes and what they serve.
	Partitions []catalog.Partition

	// State is the session's cached list view, nil when none.
	State *session.QueryState

	// History is the truncated recent conversation.
	History []llm.Message

	// Message is the current user message.
	Message string
}

const systemPromptTemplate = `You are the decision layer of a data assistant. Select the SINGLE BEST tool for the user's message.

## Available Entities
{{range .Entities}}
### {{.Name}}
{{.Description}}
Backing table: {{.BackingTable}}
{{- if .KeyFields}}
Key fields: {{join .KeyFields ", "}}
{{- end}}
{{- if .FieldSchema}}
Columns: {{columns .FieldSchema}}
{{- end}}
Capabilities: structured_query={{.Capabilities.StructuredQuery}}, semantic_search={{.Capabilities.SemanticSearch}}, mutation={{.Capabilities.Mutation}}
{{- if .Tools}}
Tools:{{range $name, $t := .Tools}} {{$name}}{{end}}
{{- end}}
{{end}}
{{- if .Partitions}}
## Remote Partitions
These entities live on other nodes. Use node_query for them:
{{- range .Partitions}}
- node "{{.Node}}" serves: {{join .Entities ", "}}
{{- end}}
{{- end}}
{{- if .State}}

## Currently Visible List
Entity: {{.State.EntityName}} (page {{.State.Page}} of {{.State.TotalPages}}, {{.State.TotalCount}} total)
{{- range $i, $s := .State.EntitySummaries}}
{{position $.State $i}}. {{$s}}
{{- end}}
The user may refer to these by position ("the 2nd one", "item {{.State.EndPosition}}").
{{- end}}
{{- if .History}}

## Recent Conversation
{{- range .History}}
{{.Role}}: {{.Content}}
{{- end}}
{{- end}}

## DECISION TREE (FOLLOW STRICTLY, FIRST MATCH WINS)

1. The answer is already fully present in the visible context above -> answer_from_context
2. Pure continuation words ("next", "more", "continue") with no new filter -> db_query_next
3. Mutating intent (create, update, delete, send, mark) -> model_tool
4. Counting intent ("how many") -> db_count
5. Aggregation intent (sum, total, average, min, max of a numeric field) -> db_aggregate
6. Structured retrieval (list/show/get/find with field-expressible filters) -> db_query
7. Meaning-based, fuzzy, or similarity request -> vector_search
8. The entity lives on a remote partition listed above -> node_query
9. Cross-entity or multi-step planning -> exit_to_orchestrator
10. Otherwise -> best-guess db_query

## Output Format
Respond with ONLY a JSON object. No explanation, no markdown, just JSON:
{"tool": "<tool_name>", "reasoning": "<one sentence>", "parameters": {...}}

Parameter shapes by tool:
- db_query / db_count: {"model": "<entity>", "filters": {"id": ..., "date_field": ..., "date_value": ..., "date_operator": "=|>=|<=|between", "date_end": ..., "status": ..., "amount_field": ..., "amount_min": ..., "amount_max": ...}}
- db_aggregate: {"model": "<entity>", "aggregate": {"operation": "sum|avg|min|max|count", "field": "<column>"}, "filters": {...}}
- vector_search: {"model": "<entity>", "query": "<search text>"}
- model_tool: {"model": "<entity>", "tool_name": "<tool>", "tool_params": {...}}
- node_query: {"model": "<entity>", "node": "<partition>"}
- answer_from_context: {"answer": "<the answer>"}
- db_query_next / exit_to_orchestrator: {}

Example outputs:
{"tool": "db_query", "reasoning": "User wants their unpaid invoices", "parameters": {"model": "invoice", "filters": {"status": "unpaid"}}}
{"tool": "db_count", "reasoning": "User asked how many", "parameters": {"model": "invoice"}}
{"tool": "answer_from_context", "reasoning": "The total is already shown", "parameters": {"answer": "You have 3 invoices totaling 400."}}`

const userPromptSuffix = "\n\nSelect the best tool and respond with JSON only."

// NewPromptBuilder parses the decision prompt template.
//
// # Outputs
//
//   - *PromptBuilder: Configured builder.
//   - error: Non-nil if template parsing fails.
func NewPromptBuilder() (*PromptBuilder, error) {
	funcMap := template.FuncMap{
		"join": strings.Join,
		"columns": func(schema map[string]string) string {
			names := make([]string, 0, len(schema))
			for name := range schema {
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, ", ")
		},
		"position": func(st *session.QueryState, i int) int {
			return st.StartPosition + i
		},
	}

	tmpl, err := template.New("decision").Funcs(funcMap).Parse(systemPromptTemplate)
	if err != nil {
		slog.Error("decision prompt template failed to parse", "error", err)
		return nil, err
	}
	return &PromptBuilder{tmpl: tmpl}, nil
}

// BuildSystemPrompt renders the system prompt for one turn.
func (p *PromptBuilder) BuildSystemPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildUserPrompt renders the user message with the JSON-only reminder.
func (p *PromptBuilder) BuildUserPrompt(message string) string {
	return "User message: " + message + userPromptSuffix
}
