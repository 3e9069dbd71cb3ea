// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package filters

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/Steward/services/steward/session"
)

// =============================================================================
// Ordinal / Positional Reference Resolution
// =============================================================================

// ordinalWords maps spelled ordinals to 1-based display positions.
var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

var (
	// ordinalSuffixRe matches an embedded numeral with an ordinal suffix
	// ("2nd", "the 11th one").
	ordinalSuffixRe = regexp.MustCompile(`(\d+)\s*(?:st|nd|rd|th)\b`)

	// entityIDsRe matches a numeral near the literal phrase "entity ids",
	// which the rendered list uses to label positions.
	entityIDsRe = regexp.MustCompile(`entity\s+ids?\D*(\d+)`)

	// bareNumberRe matches a numeral with no surrounding context.
	bareNumberRe = regexp.MustCompile(`\d+`)
)

// ResolveIDFilterValue resolves a raw id filter value to a record id.
//
// # Description
//
// Handles four raw forms:
//
//  1. A plain integer (JSON number or digit string).
//  2. An ordinal word ("first".."tenth"), mapped to position 1-10.
//  3. An embedded numeral near an ordinal suffix ("2nd") or near the
//     phrase "entity ids".
//  4. A bare numeral with no ordinal context.
//
// Explicitly positional forms (2, 3) resolve through the session's
// QueryState: absolute positioning first, then relative (see
// QueryState.PositionToID). Ambiguous numerals (1, 4) try positional
// resolution and fall back to the literal value as a record id — the
// model may say "2" for the second shown item or "217" for invoice #217,
// and only the cached list distinguishes them. A leading '#' forces the
// literal reading.
//
// # Inputs
//
//   - raw: The id filter value as produced by JSON decoding.
//   - st: Session QueryState. Nil means no positional context.
//
// # Outputs
//
//   - int64: The resolved record id.
//   - bool: False when nothing resolvable was found.
func ResolveIDFilterValue(raw any, st *session.QueryState) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return resolveNumeric(int(v), st)
	case int:
		return resolveNumeric(v, st)
	case int64:
		return resolveNumeric(int(v), st)
	case string:
		return resolveString(v, st)
	default:
		return 0, false
	}
}

func resolveString(s string, st *session.QueryState) (int64, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return 0, false
	}

	// '#217' is an explicit record id.
	if strings.HasPrefix(t, "#") {
		if n, err := strconv.Atoi(strings.TrimPrefix(t, "#")); err == nil {
			return int64(n), true
		}
		return 0, false
	}

	// Ordinal word: strictly positional.
	for word, pos := range ordinalWords {
		if strings.Contains(t, word) {
			id, ok := st.PositionToID(pos)
			return id, ok
		}
	}

	// Numeral with ordinal suffix: strictly positional.
	if m := ordinalSuffixRe.FindStringSubmatch(t); m != nil {
		pos, _ := strconv.Atoi(m[1])
		id, ok := st.PositionToID(pos)
		return id, ok
	}

	// Numeral near "entity ids": positional.
	if m := entityIDsRe.FindStringSubmatch(t); m != nil {
		pos, _ := strconv.Atoi(m[1])
		id, ok := st.PositionToID(pos)
		return id, ok
	}

	// Bare numeral: ambiguous.
	if m := bareNumberRe.FindString(t); m != "" {
		n, _ := strconv.Atoi(m)
		return resolveNumeric(n, st)
	}

	return 0, false
}

// resolveNumeric resolves an ambiguous numeral: positional when it lands
// inside the cached list, literal record id otherwise.
func resolveNumeric(n int, st *session.QueryState) (int64, bool) {
	if n <= 0 {
		return 0, false
	}
	if id, ok := st.PositionToID(n); ok {
		return id, true
	}
	return int64(n), true
}
