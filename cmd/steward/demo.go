// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/Steward/services/steward/catalog"
	"github.com/AleutianAI/Steward/services/steward/store"
)

// =============================================================================
// Demo Schema & Data
// =============================================================================

const demoSchema = `
CREATE TABLE IF NOT EXISTS customers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS invoices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	customer_id INTEGER REFERENCES customers(id),
	status TEXT NOT NULL DEFAULT 'unpaid',
	amount REAL NOT NULL,
	created_at TEXT NOT NULL
);
`

// seedDemoData creates the demo tables and, when the invoices table is
// empty, inserts a small dataset for user "u1".
func seedDemoData(source *store.SQLiteSource) error {
	db := source.DB()
	if _, err := db.Exec(demoSchema); err != nil {
		return fmt.Errorf("create demo schema: %w", err)
	}

	var n int64
	if err := db.QueryRow("SELECT COUNT(*) FROM invoices").Scan(&n); err != nil {
		return fmt.Errorf("check demo data: %w", err)
	}
	if n > 0 {
		return nil
	}

	customers := []struct{ name, email string }{
		{"Acme Corp", "billing@acme.example"},
		{"Globex", "accounts@globex.example"},
	}
	customerIDs := make([]int64, 0, len(customers))
	for i, c := range customers {
		res, err := db.Exec(
			"INSERT INTO customers (user_id, name, email, created_at) VALUES (?, ?, ?, ?)",
			"u1", c.name, c.email, fmt.Sprintf("2026-01-%02d", i+1))
		if err != nil {
			return fmt.Errorf("seed customers: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("seed customers: %w", err)
		}
		customerIDs = append(customerIDs, id)
	}
	for i := 1; i <= 24; i++ {
		status := "unpaid"
		if i%2 == 0 {
			status = "paid"
		}
		_, err := db.Exec(
			"INSERT INTO invoices (user_id, customer_id, status, amount, created_at) VALUES (?, ?, ?, ?, ?)",
			"u1", customerIDs[i%len(customerIDs)], status, float64(i*15), fmt.Sprintf("2026-07-%02d", i))
		if err != nil {
			return fmt.Errorf("seed invoices: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Code-Attached Entity Behavior
// =============================================================================

// CreateInvoiceParams is the parameter schema for create_invoice.
type CreateInvoiceParams struct {
	Amount    float64 `json:"amount" jsonschema:"description=Invoice amount,required"`
	Status    string  `json:"status,omitempty" jsonschema:"description=Initial status: paid or unpaid"`
	CreatedAt string  `json:"created_at,omitempty" jsonschema:"description=Issue date (YYYY-MM-DD)"`
}

// MarkInvoicePaidParams is the parameter schema for mark_invoice_paid.
type MarkInvoicePaidParams struct {
	ID int64 `json:"id" jsonschema:"description=Invoice id to mark paid,required"`
}

// DeleteInvoiceParams is the parameter schema for delete_invoice.
type DeleteInvoiceParams struct {
	ID int64 `json:"id" jsonschema:"description=Invoice id to delete,required"`
}

// attachInvoiceBehavior wires the demo tools, computed fields, and
// renderers onto the declaratively loaded catalog. Registration failures
// mean the YAML dropped the entity; that is a config error worth dying
// for at startup.
func attachInvoiceBehavior(registry *catalog.Registry, source store.RecordSource) {
	mustRegister := func(entity string, tool catalog.ToolSpec) {
		if err := registry.RegisterTool(entity, tool); err != nil {
			slog.Error("Demo tool registration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	mustRegister("invoice", catalog.ToolSpec{
		Name:        "create_invoice",
		Description: "Create a new invoice for the current user.",
		Parameters:  catalog.ReflectParams(CreateInvoiceParams{}),
		Operation:   catalog.OpCreate,
		Handler: func(ctx context.Context, userID string, params map[string]any) (string, error) {
			amount, ok := paramFloat(params, "amount")
			if !ok || amount <= 0 {
				return "", fmt.Errorf("create_invoice: amount must be a positive number")
			}
			status := paramString(params, "status")
			if status == "" {
				status = "unpaid"
			}
			createdAt := paramString(params, "created_at")
			if createdAt == "" {
				createdAt = "2026-01-01"
			}
			id, err := source.Insert(ctx, "invoices", map[string]any{
				"user_id": userID, "status": status,
				"amount": amount, "created_at": createdAt,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Created invoice #%d for %.2f (%s).", id, amount, status), nil
		},
	})

	mustRegister("invoice", catalog.ToolSpec{
		Name:        "mark_invoice_paid",
		Description: "Mark an existing invoice as paid.",
		Parameters:  catalog.ReflectParams(MarkInvoicePaidParams{}),
		Operation:   catalog.OpUpdate,
		Handler: func(ctx context.Context, _ string, params map[string]any) (string, error) {
			id, ok := paramInt64(params, "id")
			if !ok {
				return "", fmt.Errorf("mark_invoice_paid: id is required")
			}
			if err := source.Update(ctx, "invoices", id, map[string]any{"status": "paid"}); err != nil {
				return "", err
			}
			return fmt.Sprintf("Invoice #%d marked as paid.", id), nil
		},
	})

	// The default catalog grants create and update only, so this tool
	// demonstrates the permission-denied path until delete is granted.
	mustRegister("invoice", catalog.ToolSpec{
		Name:        "delete_invoice",
		Description: "Delete an invoice permanently.",
		Parameters:  catalog.ReflectParams(DeleteInvoiceParams{}),
		Operation:   catalog.OpDelete,
		Handler: func(ctx context.Context, _ string, params map[string]any) (string, error) {
			id, ok := paramInt64(params, "id")
			if !ok {
				return "", fmt.Errorf("delete_invoice: id is required")
			}
			if err := source.Delete(ctx, "invoices", id); err != nil {
				return "", err
			}
			return fmt.Sprintf("Invoice #%d deleted.", id), nil
		},
	})

	if cfg, ok := registry.Resolve("invoice"); ok {
		cfg.ComputedFields = map[string]catalog.ComputedFieldFunc{
			"amount_with_tax": func(r store.Record) (float64, bool) {
				v, ok := r.Float("amount")
				return v * 1.1, ok
			},
		}
	}

	if cfg, ok := registry.Resolve("customer"); ok {
		cfg.RenderSummary = func(r store.Record) string {
			parts := []string{fmt.Sprintf("Customer #%d", r.ID())}
			if name := r.Str("name"); name != "" {
				parts = append(parts, name)
			}
			if email := r.Str("email"); email != "" {
				parts = append(parts, "<"+email+">")
			}
			return strings.Join(parts, ", ")
		}
	}
}

// =============================================================================
// Loose-Parameter Helpers
// =============================================================================
//
// Tool parameters arrive as decoded JSON, so numbers are float64 and
// everything needs a tolerant read.

func paramString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramFloat(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func paramInt64(params map[string]any, key string) (int64, bool) {
	v, ok := paramFloat(params, key)
	if !ok {
		return 0, false
	}
	return int64(v), true
}
