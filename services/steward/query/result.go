// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

// =============================================================================
// ToolResult
// =============================================================================

// ToolResult is the uniform envelope every tool returns.
//
// # Description
//
// Success/Response/Tool are always set. The pagination fields are only
// populated by list queries. ShouldRouteToNode and RouteModel are set by
// the dispatcher, never by the executors; notAvailableLocally is the
// executor-side signal the dispatcher translates into them.
type ToolResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Tool     string `json:"tool"`
	Error    string `json:"error,omitempty"`

	Count      *int64 `json:"count,omitempty"`
	Page       int    `json:"page,omitempty"`
	TotalPages int    `json:"total_pages,omitempty"`
	TotalCount int64  `json:"total_count,omitempty"`
	HasMore    bool   `json:"has_more,omitempty"`

	EntityIDs  []int64 `json:"entity_ids,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`

	ShouldRouteToNode bool   `json:"should_route_to_node,omitempty"`
	RouteModel        string `json:"route_model,omitempty"`

	// Metadata carries cross-cutting tags such as the semantic-search
	// fallback marker.
	Metadata map[string]any `json:"metadata,omitempty"`

	// notAvailableLocally marks a failure caused by data living on
	// another node. Internal to the engine.
	notAvailableLocally bool
}

// NotAvailableLocally reports whether the failure should become a
// remote-routing signal rather than a user-facing error.
func (r *ToolResult) NotAvailableLocally() bool {
	return r != nil && r.notAvailableLocally
}

// Tag sets a metadata key, allocating the map on first use.
func (r *ToolResult) Tag(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}

// Failure builds a failed result with a human-readable message.
func Failure(tool, message string) *ToolResult {
	return &ToolResult{Success: false, Tool: tool, Error: message, Response: message}
}

// NotLocalFailure builds a failed result flagged for remote routing:
// the named entity is unknown here but may live on another node.
func NotLocalFailure(tool, entity string) *ToolResult {
	r := Failure(tool, "model "+entity+" not found")
	r.EntityType = entity
	r.notAvailableLocally = true
	return r
}
