// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package schema

import "fmt"

// NewTable returns a new table with the given name.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// AddColumns appends the given columns to the table.
func (t *Table) AddColumns(cs ...*Column) *Table {
	t.Columns = append(t.Columns, cs...)
	return t
}

// SetPrimaryKey sets the primary-key columns of the table.
func (t *Table) SetPrimaryKey(names ...string) *Table {
	t.PrimaryKey = names
	return t
}

// AddIndex appends an index over the given columns.
func (t *Table) AddIndex(unique bool, columns ...string) *Table {
	t.Indexes = append(t.Indexes, &Index{Columns: columns, Unique: unique})
	return t
}

// SetTimestamps requests the reserved create/update timestamp columns.
func (t *Table) SetTimestamps(create, update bool) *Table {
	t.Timestamps = Timestamps{Create: create, Update: update}
	return t
}

// SetSoftDelete requests the reserved deleted-flag column.
func (t *Table) SetSoftDelete(b bool) *Table {
	t.SoftDelete = b
	return t
}

// NewColumn returns a new column with the given name and kind.
func NewColumn(name string, k Kind) *Column {
	return &Column{Name: name, Kind: k}
}

// SetNotNull sets the NOT NULL constraint of the column.
func (c *Column) SetNotNull(b bool) *Column {
	c.NotNull = b
	return c
}

// SetDefault sets the default expression of the column.
func (c *Column) SetDefault(x Expr) *Column {
	c.Default = x
	return c
}

// SetCast records a declaration-time cast annotation. The annotation
// is erased at the model boundary and never influences diffing.
func (c *Column) SetCast(typ string) *Column {
	c.Cast = typ
	return c
}

// A DuplicateColumnError describes two columns sharing one name,
// including a user column colliding with a reserved name.
type DuplicateColumnError struct {
	Table  string
	Column string
}

func (e *DuplicateColumnError) Error() string {
	return fmt.Sprintf("schema: duplicate column %q in table %q", e.Column, e.Table)
}

// An InvalidPrimaryKeyError describes a primary key referencing a
// column that does not exist.
type InvalidPrimaryKeyError struct {
	Table  string
	Column string
}

func (e *InvalidPrimaryKeyError) Error() string {
	return fmt.Sprintf("schema: primary key of table %q references unknown column %q", e.Table, e.Column)
}

// Validate checks the table definition. It is called once at
// definition time, before the table participates in a diff.
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Columns)+3)
	for _, c := range t.Realize() {
		if seen[c.Name] {
			return &DuplicateColumnError{Table: t.Name, Column: c.Name}
		}
		seen[c.Name] = true
	}
	for _, name := range t.PrimaryKey {
		if !seen[name] {
			return &InvalidPrimaryKeyError{Table: t.Name, Column: name}
		}
	}
	if c, ok := t.IncrementID(); ok {
		if pk := t.PrimaryKey; len(pk) > 1 || len(pk) == 1 && pk[0] != c.Name {
			return &InvalidPrimaryKeyError{Table: t.Name, Column: c.Name}
		}
	}
	return nil
}
