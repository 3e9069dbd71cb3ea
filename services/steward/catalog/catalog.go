// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog builds the entity/tool catalog the decision service
// reasons over and the dispatcher executes against. Entities are
// registered explicitly at startup (declarative YAML for the static
// portion, code for handlers and computed fields); there is no runtime
// reflection or naming-convention discovery.
package catalog

import (
	"context"

	"github.com/AleutianAI/Steward/services/steward/store"
)

// =============================================================================
// Tool Operations
// =============================================================================

// Operation classifies what a mutation tool does to its entity. The
// dispatcher checks the invoking user's allowed-operations set against
// this before the handler runs.
const (
	OpRead   = "read"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ToolHandler executes a mutation tool. The returned string is the
// human-readable response placed in the result envelope.
type ToolHandler func(ctx context.Context, userID string, params map[string]any) (string, error)

// ComputedFieldFunc derives a numeric value from a record for in-memory
// aggregation when the field is not a stored column. The bool reports
// whether the record contributes a value.
type ComputedFieldFunc func(r store.Record) (float64, bool)

// RenderFunc renders a record for display.
type RenderFunc func(r store.Record) string

// =============================================================================
// ToolSpec
// =============================================================================

// ToolSpec describes a single mutation tool owned by an entity.
//
// # Description
//
// Parameters holds the JSON Schema shown to the language model; use
// ReflectParams to derive it from the handler's Go parameter struct.
// Operation is authoritative for permission checks; when empty the
// dispatcher falls back to keyword detection on the tool name.
type ToolSpec struct {
	// Name is the tool name the model will select (e.g. "create_invoice").
	Name string `json:"name"`

	// Description explains what the tool does, for the decision prompt.
	Description string `json:"description"`

	// Parameters is the JSON Schema for the tool's parameters.
	Parameters any `json:"parameters,omitempty"`

	// Operation is one of read, create, update, delete.
	Operation string `json:"operation,omitempty"`

	// Handler executes the tool. Never mutated after registration.
	Handler ToolHandler `json:"-"`
}

// =============================================================================
// FilterConfig
// =============================================================================

// FilterConfig carries the per-entity filtering hints.
type FilterConfig struct {
	// UserField is the ownership column injected by user scoping.
	// Empty disables user scoping for the entity.
	UserField string `json:"user_field,omitempty" yaml:"user_field"`

	// EagerLoad lists related fields the list query should hydrate.
	EagerLoad []string `json:"eager_load,omitempty" yaml:"eager_load"`

	// AmountField is the default numeric field for aggregation.
	AmountField string `json:"amount_field,omitempty" yaml:"amount_field"`
}

// Capabilities flags what an entity supports.
type Capabilities struct {
	StructuredQuery bool `json:"structured_query"`
	SemanticSearch  bool `json:"semantic_search"`
	Mutation        bool `json:"mutation"`
}

// =============================================================================
// EntityDescriptor
// =============================================================================

// EntityDescriptor is the per-entity catalog entry handed to the decision
// service each turn. Built fresh per decision cycle; never persisted.
type EntityDescriptor struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	BackingTable string              `json:"backing_table"`
	FieldSchema  map[string]string   `json:"field_schema"`
	KeyFields    []string            `json:"key_fields,omitempty"`
	FilterConfig FilterConfig        `json:"filter_config"`
	Tools        map[string]ToolSpec `json:"tools,omitempty"`
	Capabilities Capabilities        `json:"capabilities"`
}

// ToolNames returns the entity's tool names in stable order of the map
// iteration at build time (descriptors are rebuilt per cycle; the prompt
// sorts them itself).
func (d *EntityDescriptor) ToolNames() []string {
	names := make([]string, 0, len(d.Tools))
	for n := range d.Tools {
		names = append(names, n)
	}
	return names
}

// =============================================================================
// EntityConfig
// =============================================================================

// EntityConfig is the full registration record for an entity: the
// declarative portion (loadable from YAML) plus the code-attached
// handlers, computed fields, and render functions.
type EntityConfig struct {
	// Name is the catalog name, singular, lowercase (e.g. "invoice").
	Name string `yaml:"name" validate:"required,lowercase"`

	// Description is shown to the model in the catalog section.
	Description string `yaml:"description" validate:"required"`

	// Table is the backing table in the record source.
	Table string `yaml:"table" validate:"required"`

	// Collection is the semantic-search collection name. Empty disables
	// semantic search for the entity.
	Collection string `yaml:"collection"`

	// KeyFields are the fields highlighted to the model for filter
	// reasoning (subset of the schema).
	KeyFields []string `yaml:"key_fields"`

	// Filter carries the filtering hints. Nil triggers schema-based
	// derivation at describe time.
	Filter *FilterConfig `yaml:"filter"`

	// AllowedOps is the static allowed-operations set for mutations.
	AllowedOps []string `yaml:"allowed_ops" validate:"dive,oneof=read create update delete"`

	// Tools, ComputedFields and renderers are attached in code.
	Tools          []ToolSpec                   `yaml:"-"`
	ComputedFields map[string]ComputedFieldFunc `yaml:"-"`
	RenderSummary  RenderFunc                   `yaml:"-"`
	RenderDetail   RenderFunc                   `yaml:"-"`

	// ScopeFunc overrides the FilterConfig.UserField ownership predicate
	// when an entity needs custom scoping (e.g. team visibility).
	ScopeFunc func(q store.Query, userID string) store.Query `yaml:"-"`

	// AllowedOpsFunc overrides AllowedOps per user when set.
	AllowedOpsFunc func(userID string) []string `yaml:"-"`
}

// OpsFor returns the allowed-operations set for a user. Read is always
// permitted; mutations must be granted explicitly.
func (c *EntityConfig) OpsFor(userID string) map[string]bool {
	ops := c.AllowedOps
	if c.AllowedOpsFunc != nil {
		ops = c.AllowedOpsFunc(userID)
	}
	set := map[string]bool{OpRead: true}
	for _, op := range ops {
		set[op] = true
	}
	return set
}

// Tool returns the named tool spec, searching this entity only.
func (c *EntityConfig) Tool(name string) (ToolSpec, bool) {
	for _, t := range c.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolSpec{}, false
}

// =============================================================================
// Partition
// =============================================================================

// Partition names a remote node and the entities it serves. The decision
// prompt lists partitions so the model can hand off; the dispatcher only
// raises the routing signal, it never calls the node.
type Partition struct {
	Node     string   `yaml:"node" validate:"required"`
	Entities []string `yaml:"entities" validate:"required,min=1"`
}

// Serves reports whether the partition serves the named entity.
func (p Partition) Serves(entity string) bool {
	for _, e := range p.Entities {
		if e == entity {
			return true
		}
	}
	return false
}
