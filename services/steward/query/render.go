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

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/Steward/services/steward/session"
	"github.com/AleutianAI/Steward/services/steward/store"
)

// =============================================================================
// Rendering
// =============================================================================

// renderSummary renders a one-line view of a record: the entity's
// registered summary renderer when present, a generic line otherwise.
func (e *Executor) renderSummary(ec *entityContext, r store.Record) string {
	if ec.cfg.RenderSummary != nil {
		return ec.cfg.RenderSummary(r)
	}

	parts := []string{fmt.Sprintf("%s #%d", title(ec.cfg.Name), r.ID())}
	if status := r.Str("status"); status != "" {
		parts = append(parts, status)
	}
	if ec.fc.AmountField != "" {
		if amount, ok := r.Float(ec.fc.AmountField); ok {
			parts = append(parts, e.money(amount))
		}
	}
	if date := r.Str("created_at"); date != "" {
		parts = append(parts, date)
	}
	// Eager-loaded relations were attached under the related entity's
	// canonical name.
	for _, related := range ec.fc.EagerLoad {
		key := related
		if cfg, ok := e.registry.Resolve(related); ok {
			key = cfg.Name
		}
		if s := r.Str(key); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// renderDetail renders the full view of a single record.
func (e *Executor) renderDetail(ec *entityContext, r store.Record) string {
	if ec.cfg.RenderDetail != nil {
		return ec.cfg.RenderDetail(r)
	}

	fields := make([]string, 0, len(r))
	for name := range r {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s #%d\n", title(ec.cfg.Name), r.ID())
	for _, name := range fields {
		if name == "id" {
			continue
		}
		value := r.Str(name)
		if name == ec.fc.AmountField {
			if amount, ok := r.Float(name); ok {
				value = e.money(amount)
			}
		}
		fmt.Fprintf(&sb, "  %s: %s\n", name, value)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderList renders the numbered page view with absolute positions and
// a continuation hint when further pages exist.
func (e *Executor) renderList(ec *entityContext, st *session.QueryState) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Showing %d-%d of %d %s (page %d of %d):\n",
		st.StartPosition, st.EndPosition, st.TotalCount, plural(ec.cfg.Name), st.Page, st.TotalPages)
	for i, summary := range st.EntitySummaries {
		fmt.Fprintf(&sb, "%d. %s\n", st.StartPosition+i, summary)
	}
	if st.Page < st.TotalPages {
		sb.WriteString("Say \"more\" or \"next\" to see the next page.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderAggregate renders the aggregation result. Counts are integers;
// everything else is money-formatted on the entity's amount field and
// plain otherwise.
func (e *Executor) renderAggregate(ec *entityContext, op store.AggOp, field string, value float64) string {
	if op == store.AggCount {
		return fmt.Sprintf("The %s of %s is %d.", opNoun(op), plural(ec.cfg.Name), int64(value))
	}
	rendered := fmt.Sprintf("%.2f", value)
	if field == ec.fc.AmountField {
		rendered = e.money(value)
	}
	return fmt.Sprintf("The %s %s of your %s is %s.", opNoun(op), field, plural(ec.cfg.Name), rendered)
}

// money formats a monetary amount with the configured symbol.
func (e *Executor) money(v float64) string {
	return fmt.Sprintf("%s%.2f", e.cfg.CurrencySymbol, v)
}

func endOfResults(entity string) string {
	return "You've reached the end of the " + plural(entity) + " list."
}

func opNoun(op store.AggOp) string {
	switch op {
	case store.AggSum:
		return "total"
	case store.AggAvg:
		return "average"
	case store.AggMin:
		return "minimum"
	case store.AggMax:
		return "maximum"
	case store.AggCount:
		return "count"
	default:
		return string(op)
	}
}

func plural(entity string) string {
	if strings.HasSuffix(entity, "s") {
		return entity
	}
	return entity + "s"
}

func title(entity string) string {
	if entity == "" {
		return entity
	}
	return strings.ToUpper(entity[:1]) + entity[1:]
}
