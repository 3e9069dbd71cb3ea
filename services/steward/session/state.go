// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the per-conversation QueryState and the TTL-bound
// store it lives in. QueryState is written on every successful list query
// and read back by pagination continuation, ordinal reference resolution,
// and CRUD tools that need "the entity just shown".
package session

import "time"

// DefaultTTL is the lifetime of a QueryState entry. Thirty minutes covers
// a normal conversation; after that an ordinal reference has lost its
// anchor anyway.
const DefaultTTL = 30 * time.Minute

// =============================================================================
// QueryState
// =============================================================================

// QueryState is the session-scoped snapshot of the last list query.
//
// # Description
//
// Created or overwritten on every successful list query, keyed by session
// id. Concurrent writes from one session are last-write-wins; a human
// session is effectively single-threaded, so no locking is layered on top
// of the store.
type QueryState struct {
	// EntityName is the catalog name of the listed entity.
	EntityName string `json:"entity_name"`

	// BackingTable is the resolved backing table of the entity.
	BackingTable string `json:"backing_table"`

	// Filters are the AI-proposed filters the list was executed with,
	// replayed verbatim by pagination continuation.
	Filters map[string]any `json:"filters,omitempty"`

	// UserID is the scoping user, empty when unscoped.
	UserID string `json:"user_id,omitempty"`

	// Page and TotalPages describe the pagination cursor.
	Page       int `json:"page"`
	TotalPages int `json:"total_pages"`

	// TotalCount is the total number of matching records.
	TotalCount int64 `json:"total_count"`

	// EntityIDs are the record ids shown on the current page, in display
	// order. Ordinal references resolve against this slice.
	EntityIDs []int64 `json:"entity_ids"`

	// EntitySummaries are the one-line renderings shown to the user,
	// parallel to EntityIDs.
	EntitySummaries []string `json:"entity_summaries"`

	// StartPosition and EndPosition are the 1-based absolute display
	// positions of the first and last entry on this page.
	StartPosition int `json:"start_position"`
	EndPosition   int `json:"end_position"`
}

// PositionToID maps a 1-based display position to a record id.
//
// # Description
//
// Tries absolute positioning first (position - StartPosition indexes into
// the cached page), then simple relative positioning (position - 1). The
// dual strategy is required because a user may say "item 12" meaning
// either the absolute list position or the position within the visible
// page.
//
// # Outputs
//
//   - int64: The resolved record id.
//   - bool: False when neither strategy lands inside the cached page.
func (s *QueryState) PositionToID(position int) (int64, bool) {
	if s == nil || len(s.EntityIDs) == 0 || position <= 0 {
		return 0, false
	}
	if idx := position - s.StartPosition; idx >= 0 && idx < len(s.EntityIDs) {
		return s.EntityIDs[idx], true
	}
	if idx := position - 1; idx >= 0 && idx < len(s.EntityIDs) {
		return s.EntityIDs[idx], true
	}
	return 0, false
}
