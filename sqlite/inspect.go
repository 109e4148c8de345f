// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"nesodb.io/synclite/internal/sqlx"
	"nesodb.io/synclite/schema"
)

type (
	// A LiveColumn is the introspected shape of one column.
	LiveColumn struct {
		Name    string
		Type    string // declared type as reported by the engine
		Storage schema.Storage
		NotNull bool
		Default sql.NullString
		PK      int // 0 when not part of the primary key, else 1-based position
	}

	// A LiveIndex is the introspected shape of one index.
	LiveIndex struct {
		Name    string
		Unique  bool
		Origin  string // "c" created, "u" unique constraint, "pk" primary key
		Columns []string
	}

	// A LiveTable mirrors a table's live structure. It is produced
	// fresh on every sync call and never cached: the live database is
	// the source of truth for the current state.
	LiveTable struct {
		Name     string
		Columns  []*LiveColumn
		Indexes  []*LiveIndex
		Triggers []string
	}
)

// Column returns the first live column that matched the given name.
func (t *LiveTable) Column(name string) (*LiveColumn, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// PK returns the primary-key column names ordered by their position.
func (t *LiveTable) PK() []string {
	var pk []*LiveColumn
	for _, c := range t.Columns {
		if c.PK > 0 {
			pk = append(pk, c)
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].PK < pk[j].PK })
	names := make([]string, len(pk))
	for i, c := range pk {
		names[i] = c.Name
	}
	return names
}

// Trigger reports if the table carries a trigger with the given name.
func (t *LiveTable) Trigger(name string) bool {
	for _, tg := range t.Triggers {
		if tg == name {
			return true
		}
	}
	return false
}

const (
	// Query to list database tables, excluding the engine's own bookkeeping tables.
	tablesQuery = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"

	// Query to list table columns.
	columnsQuery = "SELECT name, type, `notnull`, dflt_value, pk FROM pragma_table_info('%s') ORDER BY cid"

	// Query to list table indexes.
	indexesQuery = "SELECT name, `unique`, origin FROM pragma_index_list('%s') ORDER BY name"

	// Query to list index columns.
	indexColumnsQuery = "SELECT name FROM pragma_index_info('%s') ORDER BY seqno"

	// Query to list triggers and the tables they belong to.
	triggersQuery = "SELECT name, tbl_name FROM sqlite_master WHERE type = 'trigger' ORDER BY name"
)

// InspectTables returns the live structure of every user table,
// ordered by table name.
func (d *Driver) InspectTables(ctx context.Context) ([]*LiveTable, error) {
	rows, err := d.QueryContext(ctx, tablesQuery)
	if err != nil {
		return nil, &IntrospectionError{Err: err}
	}
	names, err := sqlx.ScanStrings(rows)
	if err != nil {
		return nil, &IntrospectionError{Err: err}
	}
	tables := make([]*LiveTable, 0, len(names))
	for _, name := range names {
		t := &LiveTable{Name: name}
		if err := d.inspectColumns(ctx, t); err != nil {
			return nil, &IntrospectionError{Err: err}
		}
		if err := d.inspectIndexes(ctx, t); err != nil {
			return nil, &IntrospectionError{Err: err}
		}
		tables = append(tables, t)
	}
	if err := d.inspectTriggers(ctx, tables); err != nil {
		return nil, &IntrospectionError{Err: err}
	}
	return tables, nil
}

func (d *Driver) inspectColumns(ctx context.Context, t *LiveTable) error {
	rows, err := d.QueryContext(ctx, fmt.Sprintf(columnsQuery, t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		c := &LiveColumn{}
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &c.Default, &c.PK); err != nil {
			return fmt.Errorf("scanning columns of %q: %w", t.Name, err)
		}
		c.Storage = affinityOf(c.Type)
		t.Columns = append(t.Columns, c)
	}
	return rows.Err()
}

func (d *Driver) inspectIndexes(ctx context.Context, t *LiveTable) error {
	rows, err := d.QueryContext(ctx, fmt.Sprintf(indexesQuery, t.Name))
	if err != nil {
		return err
	}
	if err := func() error {
		defer rows.Close()
		for rows.Next() {
			idx := &LiveIndex{}
			if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Origin); err != nil {
				return fmt.Errorf("scanning indexes of %q: %w", t.Name, err)
			}
			// Primary-key and unique-constraint indexes are owned by
			// the table definition, not by the index diff.
			if strings.HasPrefix(idx.Name, "sqlite_autoindex") {
				continue
			}
			t.Indexes = append(t.Indexes, idx)
		}
		return rows.Err()
	}(); err != nil {
		return err
	}
	for _, idx := range t.Indexes {
		rows, err := d.QueryContext(ctx, fmt.Sprintf(indexColumnsQuery, idx.Name))
		if err != nil {
			return err
		}
		if idx.Columns, err = sqlx.ScanStrings(rows); err != nil {
			return fmt.Errorf("scanning columns of index %q: %w", idx.Name, err)
		}
	}
	return nil
}

func (d *Driver) inspectTriggers(ctx context.Context, tables []*LiveTable) error {
	rows, err := d.QueryContext(ctx, triggersQuery)
	if err != nil {
		return err
	}
	defer rows.Close()
	byName := make(map[string]*LiveTable, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}
	for rows.Next() {
		var name, table string
		if err := rows.Scan(&name, &table); err != nil {
			return fmt.Errorf("scanning triggers: %w", err)
		}
		if t, ok := byName[table]; ok {
			t.Triggers = append(t.Triggers, name)
		}
	}
	return rows.Err()
}

// affinityOf maps a declared column type to its storage class using
// the engine's type-affinity rules. Types without a match resolve to
// numeric affinity, reported here as real storage.
func affinityOf(typ string) schema.Storage {
	t := strings.ToUpper(typ)
	switch {
	case strings.Contains(t, "INT"):
		return schema.StorageInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return schema.StorageText
	case t == "", strings.Contains(t, "BLOB"):
		return schema.StorageBlob
	default:
		return schema.StorageReal
	}
}
