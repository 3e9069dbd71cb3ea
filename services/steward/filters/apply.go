// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package filters translates AI-proposed filter sets into store
// predicates and resolves ordinal/positional references against the
// session's last-shown result list.
//
// A field only reaches the store if it is a real column on the target
// entity: the model sometimes invents filters, and malformed-field
// errors must never surface from the storage layer.
package filters

import (
	"errors"
	"log/slog"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
)

// ErrUnresolvedReference is returned when the model supplied an id filter
// that names a display position outside the session's cached list and
// cannot be read as a literal record id.
var ErrUnresolvedReference = errors.New("unresolved item reference")

// =============================================================================
// FilterSet
// =============================================================================

// FilterSet is the filter shape the model emits inside Decision
// parameters. All values arrive as loosely typed JSON; typing happens
// here, once.
type FilterSet struct {
	// ID short-circuits every other filter when present: it may be a
	// literal record id, an ordinal word, or a display position.
	ID any `json:"id,omitempty"`

	// Date range: operator one of =, >=, <=, between (DateEnd bounds the
	// between form).
	DateField    string `json:"date_field,omitempty"`
	DateValue    string `json:"date_value,omitempty"`
	DateOperator string `json:"date_operator,omitempty"`
	DateEnd      string `json:"date_end,omitempty"`

	// Status equality.
	Status string `json:"status,omitempty"`

	// Amount range on AmountField (falls back to the entity's configured
	// amount field).
	AmountField string   `json:"amount_field,omitempty"`
	AmountMin   *float64 `json:"amount_min,omitempty"`
	AmountMax   *float64 `json:"amount_max,omitempty"`
}

// IsZero reports whether the filter set carries nothing.
func (f *FilterSet) IsZero() bool {
	if f == nil {
		return true
	}
	return f.ID == nil && f.DateField == "" && f.DateValue == "" &&
		f.Status == "" && f.AmountMin == nil && f.AmountMax == nil
}

// ToMap renders the filter set for QueryState persistence, so pagination
// continuation can replay it.
func (f *FilterSet) ToMap() map[string]any {
	if f == nil {
		return nil
	}
	m := map[string]any{}
	if f.ID != nil {
		m["id"] = f.ID
	}
	if f.DateField != "" {
		m["date_field"] = f.DateField
	}
	if f.DateValue != "" {
		m["date_value"] = f.DateValue
	}
	if f.DateOperator != "" {
		m["date_operator"] = f.DateOperator
	}
	if f.DateEnd != "" {
		m["date_end"] = f.DateEnd
	}
	if f.Status != "" {
		m["status"] = f.Status
	}
	if f.AmountField != "" {
		m["amount_field"] = f.AmountField
	}
	if f.AmountMin != nil {
		m["amount_min"] = *f.AmountMin
	}
	if f.AmountMax != nil {
		m["amount_max"] = *f.AmountMax
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// FromMap rebuilds a FilterSet from a persisted QueryState filter map.
func FromMap(m map[string]any) *FilterSet {
	if len(m) == 0 {
		return nil
	}
	f := &FilterSet{}
	f.ID = m["id"]
	f.DateField, _ = m["date_field"].(string)
	f.DateValue, _ = m["date_value"].(string)
	f.DateOperator, _ = m["date_operator"].(string)
	f.DateEnd, _ = m["date_end"].(string)
	f.Status, _ = m["status"].(string)
	f.AmountField, _ = m["amount_field"].(string)
	if v, ok := m["amount_min"].(float64); ok {
		f.AmountMin = &v
	}
	if v, ok := m["amount_max"].(float64); ok {
		f.AmountMax = &v
	}
	return f
}

// =============================================================================
// Apply
// =============================================================================

// Apply translates a FilterSet into conditions on q.
//
// # Description
//
// The id filter is exclusive: when present and resolvable it becomes the
// only condition (beyond any already on q, such as user scope). Ordinal
// and positional id forms resolve against the session's QueryState. Every
// other filter is gated on schema membership and silently dropped when
// the named field is not a column — a dropped filter is logged, never an
// error.
//
// # Inputs
//
//   - q: Predicate under construction (user scope may already be applied).
//   - fs: The AI-proposed filter set. Nil is a no-op.
//   - schema: Column name -> type for the target entity.
//   - fc: The entity's filter config (amount field default).
//   - st: Session QueryState for positional resolution. May be nil.
//   - logger: Logger instance. May be nil.
//
// # Outputs
//
//   - store.Query: q with conditions appended.
//   - error: ErrUnresolvedReference when an id reference cannot be
//     resolved. No other error is produced.
func Apply(q store.Query, fs *FilterSet, schema map[string]string, fc catalog.FilterConfig, st *session.QueryState, logger *slog.Logger) (store.Query, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if fs == nil {
		return q, nil
	}

	// ID is exclusive: short-circuits all other filters.
	if fs.ID != nil {
		id, ok := ResolveIDFilterValue(fs.ID, st)
		if !ok {
			return q, ErrUnresolvedReference
		}
		return q.Where("id", store.OpEq, id), nil
	}

	if fs.DateField != "" && fs.DateValue != "" {
		if _, ok := schema[fs.DateField]; ok {
			switch fs.DateOperator {
			case ">=":
				q = q.Where(fs.DateField, store.OpGte, fs.DateValue)
			case "<=":
				q = q.Where(fs.DateField, store.OpLte, fs.DateValue)
			case "between":
				q = q.Where(fs.DateField, store.OpGte, fs.DateValue)
				if fs.DateEnd != "" {
					q = q.Where(fs.DateField, store.OpLte, fs.DateEnd)
				}
			default:
				q = q.Where(fs.DateField, store.OpEq, fs.DateValue)
			}
		} else {
			logger.Debug("filter dropped: date field not a column",
				slog.String("field", fs.DateField))
		}
	}

	if fs.Status != "" {
		if _, ok := schema["status"]; ok {
			q = q.Where("status", store.OpEq, fs.Status)
		} else {
			logger.Debug("filter dropped: entity has no status column")
		}
	}

	if fs.AmountMin != nil || fs.AmountMax != nil {
		field := fs.AmountField
		if field == "" {
			field = fc.AmountField
		}
		if _, ok := schema[field]; ok && field != "" {
			if fs.AmountMin != nil {
				q = q.Where(field, store.OpGte, *fs.AmountMin)
			}
			if fs.AmountMax != nil {
				q = q.Where(field, store.OpLte, *fs.AmountMax)
			}
		} else {
			logger.Debug("filter dropped: amount field not a column",
				slog.String("field", field))
		}
	}

	return q, nil
}

// ApplyUserScope injects the ownership predicate for an entity, before
// any AI-specified filters.
//
// A custom per-entity ScopeFunc wins over the configured user field. An
// empty userID or an entity with neither hook nor user field is a no-op.
func ApplyUserScope(q store.Query, cfg *catalog.EntityConfig, fc catalog.FilterConfig, userID string) store.Query {
	if userID == "" {
		return q
	}
	if cfg != nil && cfg.ScopeFunc != nil {
		return cfg.ScopeFunc(q, userID)
	}
	if fc.UserField != "" {
		return q.Where(fc.UserField, store.OpEq, userID)
	}
	return q
}
