// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// =============================================================================
// Weaviate Searcher
// =============================================================================

// contentField is the text property every searchable collection carries.
const contentField = "content"

// WeaviateSearcher implements SemanticSearcher against a Weaviate
// instance using nearText queries.
//
// # Description
//
// Each entity collection is a Weaviate class holding chunked documents
// with a "content" text property. The searcher returns the matched
// chunk texts as contexts; answer synthesis is left to the caller.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type WeaviateSearcher struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateSearcher connects to a Weaviate instance.
//
// # Inputs
//
//   - host: Host and port, e.g. "localhost:8080".
//   - scheme: "http" or "https".
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - *WeaviateSearcher: The connected searcher.
//   - error: Non-nil if the client cannot be constructed.
func NewWeaviateSearcher(host, scheme string, logger *slog.Logger) (*WeaviateSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}
	return &WeaviateSearcher{client: client, logger: logger}, nil
}

// Search implements SemanticSearcher using a nearText GraphQL query.
func (w *WeaviateSearcher) Search(ctx context.Context, collection, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	resp, err := w.client.GraphQL().Get().
		WithClassName(collection).
		WithFields(
			graphql.Field{Name: contentField},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
		).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search %q: %w", collection, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate search %q: %s", collection, strings.Join(msgs, "; "))
	}

	result := &SearchResult{}
	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return result, nil
	}
	objects, ok := get[collection].([]any)
	if !ok {
		return result, nil
	}
	for _, obj := range objects {
		fields, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := fields[contentField].(string); ok && text != "" {
			result.Contexts = append(result.Contexts, text)
		}
	}

	w.logger.Debug("semantic search complete",
		slog.String("collection", collection),
		slog.Int("contexts", len(result.Contexts)))
	return result, nil
}
