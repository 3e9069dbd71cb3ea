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
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// Response Parsing
// =============================================================================

// rawDecision mirrors Decision with a loose tool field so an unknown
// tool name survives unmarshaling and can be normalized.
type rawDecision struct {
	Tool       string     `json:"tool"`
	Reasoning  string     `json:"reasoning"`
	Parameters Parameters `json:"parameters"`
}

// ParseDecision extracts a Decision from a raw model response.
//
// # Description
//
// Three stages: strip markdown code fences and try a direct parse, then
// extract the first balanced '{...}' block and parse that, then give up.
// A parsed decision with an unknown tool name is normalized to db_query
// rather than rejected; only structurally unparsable content errors.
//
// # Inputs
//
//   - response: The raw model output.
//
// # Outputs
//
//   - *Decision: The parsed decision with a normalized tool.
//   - error: Non-nil when no JSON object could be extracted.
func ParseDecision(response string) (*Decision, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	// Clean up markdown code blocks
	cleaned := strings.TrimPrefix(response, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if d, err := parseRaw(cleaned); err == nil {
		return d, nil
	}

	// Find the first JSON object embedded in surrounding prose.
	startIdx := strings.Index(cleaned, "{")
	endIdx := strings.LastIndex(cleaned, "}")
	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return nil, fmt.Errorf("no JSON object found in response: %s", truncate(response, 100))
	}

	d, err := parseRaw(cleaned[startIdx : endIdx+1])
	if err != nil {
		return nil, fmt.Errorf("failed to parse decision JSON: %w, response: %s", err, truncate(response, 100))
	}
	return d, nil
}

func parseRaw(jsonStr string) (*Decision, error) {
	var raw rawDecision
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, err
	}
	if raw.Tool == "" {
		return nil, fmt.Errorf("decision missing tool field")
	}
	return &Decision{
		Tool:       NormalizeTool(raw.Tool),
		Reasoning:  raw.Reasoning,
		Parameters: raw.Parameters,
	}, nil
}

// truncate shortens s for log and error messages.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
