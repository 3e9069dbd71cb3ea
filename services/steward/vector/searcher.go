// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector is the semantic-search seam of the dispatcher. The
// dispatcher only needs two facts from a search: the answer text and
// whether any supporting contexts were found — an empty context set
// triggers the structured-query fallback.
package vector

import "context"

// SearchResult is the outcome of a semantic search.
type SearchResult struct {
	// Answer is the synthesized or extracted answer text. May be empty.
	Answer string `json:"answer"`

	// Contexts are the matched source snippets backing the answer. An
	// empty slice means the search found nothing relevant.
	Contexts []string `json:"contexts,omitempty"`
}

// Empty reports whether the search produced no usable result.
func (r *SearchResult) Empty() bool {
	return r == nil || (r.Answer == "" && len(r.Contexts) == 0)
}

// SemanticSearcher runs a natural-language search over an entity's
// document collection.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type SemanticSearcher interface {
	// Search queries the named collection. A collection with no matches
	// returns an empty result, not an error.
	Search(ctx context.Context, collection, query string, limit int) (*SearchResult, error)
}
