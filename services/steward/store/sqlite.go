// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// =============================================================================
// SQLiteSource
// =============================================================================

// SQLiteSource implements RecordSource on a SQLite database via the pure-Go
// modernc.org/sqlite driver.
//
// # Description
//
// Field and table identifiers cannot be bound as SQL parameters, so every
// identifier that reaches SQL text is validated against identRe first.
// Values always travel as bound parameters. Schema lookups are served from
// a small cache populated on first access per table; SQLite's PRAGMA
// table_info is cheap but the filter service calls DescribeSchema on every
// turn. Unknown tables are never cached, so a table created after open
// still resolves.
//
// # Thread Safety
//
// Safe for concurrent use. database/sql pools connections internally; the
// schema cache is guarded by its own mutex and hands out copies.
type SQLiteSource struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	schemas map[string]map[string]string
}

// identRe accepts conventional SQL identifiers only. Anything else is
// rejected before reaching SQL text.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens (or creates) a SQLite database at dsn and returns a
// ready RecordSource.
//
// # Inputs
//
//   - dsn: SQLite DSN. Use "file::memory:?cache=shared" for tests.
//   - logger: Logger for slow-path diagnostics. May be nil.
//
// # Outputs
//
//   - *SQLiteSource: Open source. Caller owns Close.
//   - error: Non-nil if the database cannot be opened or pinged.
func OpenSQLite(dsn string, logger *slog.Logger) (*SQLiteSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteSource{
		db:      db,
		logger:  logger,
		schemas: make(map[string]map[string]string),
	}, nil
}

// DB exposes the underlying handle for schema setup in main and tests.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// DescribeSchema returns column name -> declared type for table.
//
// Returns ErrUnknownTable when the table does not exist. Successful
// lookups are cached for the lifetime of the source; callers get an
// independent copy each call.
func (s *SQLiteSource) DescribeSchema(ctx context.Context, table string) (map[string]string, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	s.mu.RLock()
	cached, ok := s.schemas[table]
	s.mu.RUnlock()
	if ok {
		return copySchema(cached), nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	schema := make(map[string]string)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		schema[name] = strings.ToLower(typ)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	s.mu.Lock()
	s.schemas[table] = schema
	s.mu.Unlock()
	return copySchema(schema), nil
}

func copySchema(schema map[string]string) map[string]string {
	out := make(map[string]string, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	return out
}

// List returns the rows matching q.
func (s *SQLiteSource) List(ctx context.Context, table string, q Query) ([]Record, error) {
	schema, err := s.DescribeSchema(ctx, table)
	if err != nil {
		return nil, err
	}

	where, args, err := buildWhere(q.Conds, schema)
	if err != nil {
		return nil, err
	}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "SELECT * FROM %s%s", table, where)
	if q.OrderBy != "" {
		if _, ok := schema[q.OrderBy]; !ok {
			return nil, fmt.Errorf("%w: order by %q", ErrUnknownField, q.OrderBy)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(sb, " ORDER BY %s %s", q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(sb, " LIMIT %d", q.Limit)
		if q.Offset > 0 {
			fmt.Fprintf(sb, " OFFSET %d", q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of rows matching q's conditions.
func (s *SQLiteSource) Count(ctx context.Context, table string, q Query) (int64, error) {
	schema, err := s.DescribeSchema(ctx, table)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(q.Conds, schema)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s%s", table, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// Aggregate computes op over field with SQL-native aggregation.
func (s *SQLiteSource) Aggregate(ctx context.Context, table string, q Query, op AggOp, field string) (float64, error) {
	schema, err := s.DescribeSchema(ctx, table)
	if err != nil {
		return 0, err
	}
	if _, ok := schema[field]; !ok {
		return 0, fmt.Errorf("%w: %q on %s", ErrUnknownField, field, table)
	}
	where, args, err := buildWhere(q.Conds, schema)
	if err != nil {
		return 0, err
	}

	var expr string
	switch op {
	case AggAvg:
		expr = fmt.Sprintf("AVG(%s)", field)
	case AggMin:
		expr = fmt.Sprintf("MIN(%s)", field)
	case AggMax:
		expr = fmt.Sprintf("MAX(%s)", field)
	case AggCount:
		expr = fmt.Sprintf("COUNT(%s)", field)
	default:
		expr = fmt.Sprintf("SUM(%s)", field)
	}

	var v sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s%s", expr, table, where), args...).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("aggregate %s(%s) on %s: %w", op, field, table, err)
	}
	if !v.Valid {
		return 0, nil
	}
	return v.Float64, nil
}

// Insert adds a row and returns its id.
func (s *SQLiteSource) Insert(ctx context.Context, table string, fields map[string]any) (int64, error) {
	if !identRe.MatchString(table) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	// Deterministic column order keeps the statement cache warm.
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !identRe.MatchString(c) {
			return 0, fmt.Errorf("%w: %q", ErrUnknownField, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		args[i] = fields[c]
		marks[i] = "?"
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(marks, ", ")),
		args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	return res.LastInsertId()
}

// Update modifies the row with the given id.
func (s *SQLiteSource) Update(ctx context.Context, table string, id int64, fields map[string]any) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if len(fields) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: %q", ErrUnknownField, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		args = append(args, fields[c])
	}
	args = append(args, id)
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

// Delete removes the row with the given id.
func (s *SQLiteSource) Delete(ctx context.Context, table string, id int64) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// buildWhere renders q.Conds into a WHERE clause with bound parameters.
// Fields not present in schema are rejected — the filter service gates
// fields too, but the store is the last line of defense.
func buildWhere(conds []Cond, schema map[string]string) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, c := range conds {
		if !identRe.MatchString(c.Field) {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
		}
		if _, ok := schema[c.Field]; !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, c.Field)
		}
		switch c.Op {
		case OpLike:
			parts = append(parts, c.Field+" LIKE ?")
			args = append(args, "%"+fmt.Sprintf("%v", c.Value)+"%")
		case OpGte:
			parts = append(parts, c.Field+" >= ?")
			args = append(args, c.Value)
		case OpLte:
			parts = append(parts, c.Field+" <= ?")
			args = append(args, c.Value)
		default:
			parts = append(parts, c.Field+" = ?")
			args = append(args, c.Value)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}
