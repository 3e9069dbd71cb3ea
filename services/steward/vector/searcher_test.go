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

import "testing"

func TestSearchResult_Empty(t *testing.T) {
	cases := []struct {
		name   string
		result *SearchResult
		want   bool
	}{
		{"nil", nil, true},
		{"zero value", &SearchResult{}, true},
		{"answer only", &SearchResult{Answer: "42"}, false},
		{"contexts only", &SearchResult{Contexts: []string{"snippet"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.result.Empty(); got != tc.want {
				t.Errorf("Empty() = %v, want %v", got, tc.want)
			}
		})
	}
}
