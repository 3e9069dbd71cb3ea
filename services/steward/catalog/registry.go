// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/Steward/services/steward/store"
)

var catalogTracer = otel.Tracer("aleutian.steward.catalog")

// =============================================================================
// Registry
// =============================================================================

// Registry maps entity names to their configuration and answers the
// catalog-build call each decision cycle.
//
// # Description
//
// Populated at startup (Register / LoadConfig), read on every turn.
// Describe never returns an error: an entity whose backing table cannot
// be introspected is logged and skipped, and the decision/dispatch layers
// treat it as unknown.
//
// # Thread Safety
//
// Safe for concurrent use. Registration after startup (config reload)
// takes the write lock.
type Registry struct {
	mu         sync.RWMutex
	entities   map[string]*EntityConfig
	partitions []Partition
	source     store.RecordSource
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry over the given record source.
//
// # Inputs
//
//   - source: Record source used for schema introspection. Must not be nil.
//   - logger: Logger instance. May be nil.
func NewRegistry(source store.RecordSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entities: make(map[string]*EntityConfig),
		source:   source,
		logger:   logger,
	}
}

// Register adds or replaces an entity configuration.
func (r *Registry) Register(cfg *EntityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[cfg.Name] = cfg
}

// RegisterTool attaches a mutation tool to a registered entity.
//
// # Outputs
//
//   - error: Non-nil if the entity is not registered.
func (r *Registry) RegisterTool(entity string, tool ToolSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.entities[entity]
	if !ok {
		return fmt.Errorf("register tool %s: unknown entity %q", tool.Name, entity)
	}
	cfg.Tools = append(cfg.Tools, tool)
	return nil
}

// SetPartitions replaces the known remote partitions.
func (r *Registry) SetPartitions(parts []Partition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions = parts
}

// Partitions returns the known remote partitions.
func (r *Registry) Partitions() []Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Partition, len(r.partitions))
	copy(out, r.partitions)
	return out
}

// PartitionFor returns the node serving the named entity, if any.
func (r *Registry) PartitionFor(entity string) (Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name := Normalize(entity)
	for _, p := range r.partitions {
		if p.Serves(name) {
			return p, true
		}
	}
	return Partition{}, false
}

// Resolve looks up an entity by name. Matching is case-insensitive and
// tolerates a plural "s" suffix ("invoices" resolves "invoice").
func (r *Registry) Resolve(name string) (*EntityConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := Normalize(name)
	if cfg, ok := r.entities[n]; ok {
		return cfg, true
	}
	if strings.HasSuffix(n, "s") {
		if cfg, ok := r.entities[strings.TrimSuffix(n, "s")]; ok {
			return cfg, true
		}
	}
	return nil, false
}

// Names returns the registered entity names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for n := range r.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Normalize lowercases and trims an entity reference.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// =============================================================================
// Describe
// =============================================================================

// Describe builds fresh entity descriptors for a decision cycle.
//
// # Description
//
// For each registered entity: resolves the field schema from the record
// source, the filter config (explicit, else derived by schema inspection),
// the declared tools, and the capability flags. An entity whose schema
// cannot be introspected is logged and skipped — Describe never fails.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//
// # Outputs
//
//   - []EntityDescriptor: Descriptors sorted by name. Possibly empty.
func (r *Registry) Describe(ctx context.Context) []EntityDescriptor {
	ctx, span := catalogTracer.Start(ctx, "catalog.Registry.Describe")
	defer span.End()

	r.mu.RLock()
	configs := make([]*EntityConfig, 0, len(r.entities))
	for _, cfg := range r.entities {
		configs = append(configs, cfg)
	}
	r.mu.RUnlock()

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })

	out := make([]EntityDescriptor, 0, len(configs))
	for _, cfg := range configs {
		schema, err := r.source.DescribeSchema(ctx, cfg.Table)
		if err != nil {
			r.logger.Warn("catalog: entity skipped, schema introspection failed",
				slog.String("entity", cfg.Name),
				slog.String("table", cfg.Table),
				slog.String("error", err.Error()),
			)
			continue
		}

		fc := FilterConfig{}
		if cfg.Filter != nil {
			fc = *cfg.Filter
		} else {
			fc = deriveFilterConfig(schema)
		}

		tools := make(map[string]ToolSpec, len(cfg.Tools))
		for _, t := range cfg.Tools {
			tools[t.Name] = t
		}

		out = append(out, EntityDescriptor{
			Name:         cfg.Name,
			Description:  cfg.Description,
			BackingTable: cfg.Table,
			FieldSchema:  schema,
			KeyFields:    cfg.KeyFields,
			FilterConfig: fc,
			Tools:        tools,
			Capabilities: Capabilities{
				StructuredQuery: true,
				SemanticSearch:  cfg.Collection != "",
				Mutation:        len(cfg.Tools) > 0,
			},
		})
	}
	return out
}

// FilterConfigFor resolves the effective filter config for an entity:
// the explicit registration wins, else schema-based derivation.
func FilterConfigFor(cfg *EntityConfig, schema map[string]string) FilterConfig {
	if cfg.Filter != nil {
		return *cfg.Filter
	}
	return deriveFilterConfig(schema)
}

// deriveFilterConfig inspects a schema when no explicit filter config was
// registered: user scoping keys off a user_id column, and the aggregation
// default is the first conventional money column present.
func deriveFilterConfig(schema map[string]string) FilterConfig {
	fc := FilterConfig{}
	if _, ok := schema["user_id"]; ok {
		fc.UserField = "user_id"
	}
	for _, candidate := range []string{"amount", "total"} {
		if _, ok := schema[candidate]; ok {
			fc.AmountField = candidate
			break
		}
	}
	return fc
}
