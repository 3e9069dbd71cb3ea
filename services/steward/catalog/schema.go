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
	"github.com/invopop/jsonschema"
)

// ReflectParams derives the JSON Schema for a tool's parameters from its
// Go parameter struct.
//
// # Description
//
// The schema is inlined (no $defs indirection) and carries no $id, so it
// embeds cleanly into the decision prompt and into tool listings. Field
// descriptions come from `jsonschema:"description=..."` struct tags.
//
// # Inputs
//
//   - v: Zero value of the parameter struct (e.g. CreateInvoiceParams{}).
//
// # Outputs
//
//   - *jsonschema.Schema: Inlined parameter schema.
func ReflectParams(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	return schema
}
