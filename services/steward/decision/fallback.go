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
	"regexp"
	"strings"

	"github.com/AleutianAI/Steward/services/steward/catalog"
)

// =============================================================================
// Deterministic Fallback
// =============================================================================

// FallbackConfig tunes the heuristic fallback decision.
type FallbackConfig struct {
	// Tool is the decision when no heuristic matches. Must be
	// ToolDBQuery or ToolVectorSearch.
	Tool Tool

	// AggregateField is the numeric field used when an aggregation
	// heuristic fires with no field named.
	AggregateField string
}

var (
	countingRe   = regexp.MustCompile(`(?i)\bhow many\b|\bcount\b|\bnumber of\b`)
	paginationRe = regexp.MustCompile(`(?i)^\s*(next|more|continue)\b|\b(next|more) page\b|\bshow (me )?more\b`)
)

// aggregateOps maps aggregation trigger words to operations, checked in
// order so "total" wins over a trailing "average" mention.
var aggregateOps = []struct {
	word string
	op   string
}{
	{"total", "sum"},
	{"sum", "sum"},
	{"average", "avg"},
	{"avg", "avg"},
	{"minimum", "min"},
	{"min", "min"},
	{"maximum", "max"},
	{"max", "max"},
}

// Fallback produces a deterministic Decision from the message alone.
//
// # Description
//
// Runs when the model call failed or its response was unparsable. The
// heuristics mirror the prompt's decision tree order: counting beats
// aggregation beats pagination beats the configured default. The result
// always carries a tool from the enum, for every input including the
// empty string — the engine never halts on a malformed model response.
//
// # Inputs
//
//   - message: The raw user message. May be empty.
//   - entities: The current catalog, for entity name detection.
//   - cfg: Fallback tuning. Zero values get defaults.
//
// # Outputs
//
//   - *Decision: Never nil.
func Fallback(message string, entities []catalog.EntityDescriptor, cfg FallbackConfig) *Decision {
	if cfg.Tool != ToolVectorSearch {
		cfg.Tool = ToolDBQuery
	}

	lower := strings.ToLower(message)
	model := detectEntity(lower, entities)

	if countingRe.MatchString(lower) {
		return &Decision{
			Tool:       ToolDBCount,
			Reasoning:  "heuristic: counting intent",
			Parameters: Parameters{Model: model},
		}
	}

	for _, agg := range aggregateOps {
		if strings.Contains(lower, agg.word) {
			field := cfg.AggregateField
			return &Decision{
				Tool:      ToolDBAggregate,
				Reasoning: "heuristic: aggregation intent (" + agg.word + ")",
				Parameters: Parameters{
					Model:     model,
					Aggregate: &AggregateParams{Operation: agg.op, Field: field},
				},
			}
		}
	}

	if paginationRe.MatchString(lower) {
		return &Decision{
			Tool:      ToolDBQueryNext,
			Reasoning: "heuristic: pagination intent",
		}
	}

	d := &Decision{
		Tool:       cfg.Tool,
		Reasoning:  "heuristic: default tool",
		Parameters: Parameters{Model: model},
	}
	if cfg.Tool == ToolVectorSearch {
		d.Parameters.Query = message
	}
	return d
}

// detectEntity finds the single catalog entity named in the message by
// substring match. Falls back to the sole catalog entry when the catalog
// has exactly one entity; returns "" when ambiguous or absent.
func detectEntity(lower string, entities []catalog.EntityDescriptor) string {
	var found string
	for _, e := range entities {
		if strings.Contains(lower, e.Name) {
			if found != "" && found != e.Name {
				return ""
			}
			found = e.Name
		}
	}
	if found == "" && len(entities) == 1 {
		return entities[0].Name
	}
	return found
}
