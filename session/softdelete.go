// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package session

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"nesodb.io/synclite/internal/sqlx"
	"nesodb.io/synclite/schema"
)

// A Shield is a statement executor aware of the soft-delete contract:
// deletes against a table flagged for soft deletion become updates
// setting the reserved deleted flag, and reads/updates against such a
// table carry an implicit not-deleted predicate unless the unscoped
// variant is requested. Tables without the flag pass through
// unchanged.
//
// Statements run on the session's active executor, so they compose
// with whatever transaction or savepoint scope is open.
type Shield struct {
	s        *Session
	tables   map[string]*schema.Table
	unscoped bool
}

// NewShield returns a shield over the session for the given table set.
func NewShield(s *Session, tables ...*schema.Table) *Shield {
	byName := make(map[string]*schema.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	return &Shield{s: s, tables: byName}
}

// Unscoped returns a view of the shield that skips both the delete
// rewrite and the not-deleted predicate.
func (h *Shield) Unscoped() *Shield {
	u := *h
	u.unscoped = true
	return &u
}

func (h *Shield) shielded(table string) bool {
	t, ok := h.tables[table]
	return ok && t.SoftDelete && !h.unscoped
}

// Delete removes the rows matching the given column equality
// conditions. On a soft-delete table the statement is rewritten into
// an update flagging the rows instead. Returns the affected row count.
func (h *Shield) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	var b *sqlx.Builder
	if h.shielded(table) {
		b = sqlx.Build("UPDATE").Ident(table).P("SET").Ident(schema.ColDeleted).P("=", "1")
	} else {
		b = sqlx.Build("DELETE FROM").Ident(table)
	}
	args, err := h.where(b, table, where)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, b.String(), args)
}

// Update sets the given columns on the rows matching the conditions.
func (h *Shield) Update(ctx context.Context, table string, set, where map[string]any) (int64, error) {
	if len(set) == 0 {
		return 0, fmt.Errorf("session: update %q: empty assignment list", table)
	}
	b := sqlx.Build("UPDATE").Ident(table).P("SET")
	keys := sortedKeys(set)
	args := make([]any, 0, len(set)+len(where)+1)
	b.MapComma(len(keys), func(i int, b *sqlx.Builder) {
		b.Ident(keys[i]).P("=", "?")
	})
	for _, k := range keys {
		v, err := sqlx.BindValue(set[k])
		if err != nil {
			return 0, err
		}
		args = append(args, v)
	}
	wargs, err := h.where(b, table, where)
	if err != nil {
		return 0, err
	}
	return h.exec(ctx, b.String(), append(args, wargs...))
}

// Select queries the given columns of the rows matching the
// conditions. An empty column list selects every column.
func (h *Shield) Select(ctx context.Context, table string, columns []string, where map[string]any) (*sql.Rows, error) {
	b := sqlx.Build("SELECT")
	if len(columns) == 0 {
		b.P("*")
	} else {
		b.MapComma(len(columns), func(i int, b *sqlx.Builder) {
			b.Ident(columns[i])
		})
	}
	b.P("FROM").Ident(table)
	args, err := h.where(b, table, where)
	if err != nil {
		return nil, err
	}
	return h.s.Executor().QueryContext(ctx, b.String(), args...)
}

// Count returns the number of rows matching the conditions.
func (h *Shield) Count(ctx context.Context, table string, where map[string]any) (int64, error) {
	b := sqlx.Build("SELECT COUNT(*) FROM").Ident(table)
	args, err := h.where(b, table, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := h.s.Executor().QueryRowContext(ctx, b.String(), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// where writes the WHERE clause: the caller's equality conditions in
// sorted column order, with the not-deleted predicate appended on
// shielded tables.
func (h *Shield) where(b *sqlx.Builder, table string, where map[string]any) ([]any, error) {
	keys := sortedKeys(where)
	conds := len(keys)
	if h.shielded(table) {
		conds++
	}
	if conds == 0 {
		return nil, nil
	}
	b.P("WHERE")
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			b.P("AND")
		}
		b.Ident(k).P("=", "?")
		v, err := sqlx.BindValue(where[k])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if h.shielded(table) {
		if len(keys) > 0 {
			b.P("AND")
		}
		b.Ident(schema.ColDeleted).P("=", "0")
	}
	return args, nil
}

func (h *Shield) exec(ctx context.Context, stmt string, args []any) (int64, error) {
	res, err := h.s.Executor().ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
