// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package schema defines the declarative table model consumed by the
// synchronization engine: tables, columns, column kinds, indexes and
// the change set (diff plan) computed between a declared schema and a
// live database.
package schema

import (
	"context"
	"database/sql"
)

// Storage is one of the physical column encodings the storage engine
// supports natively.
type Storage string

// The closed set of storage types.
const (
	StorageInteger Storage = "integer"
	StorageText    Storage = "text"
	StorageReal    Storage = "real"
	StorageBlob    Storage = "blob"
)

// Reserved column names. They are materialized on tables that request
// timestamps or soft deletion and are part of the public contract:
// user columns must not reuse them.
const (
	ColCreateTime = "create_time"
	ColUpdateTime = "update_time"
	ColDeleted    = "is_deleted"
)

type (
	// A Kind describes the logical type of a column. The closed set of
	// kinds below implements this interface; each kind maps
	// deterministically to one Storage type.
	Kind interface {
		kind()
	}

	// IncrementIDKind is an auto-incrementing integer primary key.
	// A table may declare at most one such column.
	IncrementIDKind struct{}

	// IntegerKind is a plain integer column.
	IntegerKind struct{}

	// BooleanKind is stored as integer 0/1.
	BooleanKind struct{}

	// StringKind is a text column.
	StringKind struct{}

	// ObjectKind holds a value serialized to a canonical text encoding.
	ObjectKind struct{}

	// FloatKind is a floating-point column.
	FloatKind struct{}

	// BlobKind holds raw bytes.
	BlobKind struct{}
)

func (IncrementIDKind) kind() {}
func (IntegerKind) kind()     {}
func (BooleanKind) kind()     {}
func (StringKind) kind()      {}
func (ObjectKind) kind()      {}
func (FloatKind) kind()       {}
func (BlobKind) kind()        {}

// StorageOf returns the storage type a kind maps to.
func StorageOf(k Kind) Storage {
	switch k.(type) {
	case IncrementIDKind, IntegerKind, BooleanKind:
		return StorageInteger
	case StringKind, ObjectKind:
		return StorageText
	case FloatKind:
		return StorageReal
	case BlobKind:
		return StorageBlob
	}
	return StorageText
}

type (
	// Expr defines an SQL expression used as a column default.
	Expr interface {
		expr()
	}

	// Literal represents a basic literal expression like 1, or 'one'.
	Literal struct {
		V string
	}

	// RawExpr represents a raw expression like CURRENT_TIMESTAMP that
	// is inlined as-is on migration.
	RawExpr struct {
		X string
	}
)

func (*Literal) expr() {}
func (*RawExpr) expr() {}

type (
	// A Column represents a column definition. Column identity for
	// diffing is its name; kind (through its storage mapping) and
	// nullability are diffed attributes.
	Column struct {
		Name    string
		Kind    Kind
		NotNull bool
		Default Expr

		// Cast is a declaration-time annotation narrowing the value
		// type the application sees. It has no runtime representation:
		// the diff engine and the storage mapping ignore it entirely.
		Cast string
	}

	// An Index represents an index over one or more columns. Index
	// identity is its column-name tuple plus uniqueness; the index
	// name is generated and carries no identity.
	Index struct {
		Columns []string
		Unique  bool
	}

	// Timestamps requests the reserved timestamp columns and, for
	// Update, the row-update trigger.
	Timestamps struct {
		Create bool
		Update bool
	}

	// A Table represents a table definition.
	Table struct {
		Name       string
		Columns    []*Column
		PrimaryKey []string
		Indexes    []*Index
		Timestamps Timestamps
		SoftDelete bool
	}
)

// ExecQuerier wraps the database/sql standard methods used by the
// engine. Both *sql.DB and *sql.Tx implement it.
type ExecQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Column returns the first column that matched the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// IncrementID returns the auto-increment column, if declared.
func (t *Table) IncrementID() (*Column, bool) {
	for _, c := range t.Columns {
		if _, ok := c.Kind.(IncrementIDKind); ok {
			return c, true
		}
	}
	return nil, false
}

// Realize returns the effective column list: declared columns followed
// by the reserved columns implied by the table flags, in fixed order.
func (t *Table) Realize() []*Column {
	cols := make([]*Column, len(t.Columns), len(t.Columns)+3)
	copy(cols, t.Columns)
	if t.Timestamps.Create {
		cols = append(cols, &Column{
			Name:    ColCreateTime,
			Kind:    StringKind{},
			NotNull: true,
			Default: &RawExpr{X: "CURRENT_TIMESTAMP"},
		})
	}
	if t.Timestamps.Update {
		cols = append(cols, &Column{
			Name:    ColUpdateTime,
			Kind:    StringKind{},
			NotNull: true,
			Default: &RawExpr{X: "CURRENT_TIMESTAMP"},
		})
	}
	if t.SoftDelete {
		cols = append(cols, &Column{
			Name:    ColDeleted,
			Kind:    BooleanKind{},
			NotNull: true,
			Default: &Literal{V: "0"},
		})
	}
	return cols
}

// EffectivePK returns the primary-key column names: the explicit
// primary key when declared, otherwise the increment-id column.
func (t *Table) EffectivePK() []string {
	if len(t.PrimaryKey) > 0 {
		return t.PrimaryKey
	}
	if c, ok := t.IncrementID(); ok {
		return []string{c.Name}
	}
	return nil
}
