// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlite implements the dialect engine: driver handle,
// structural introspection, schema diffing and DDL application for an
// embedded SQLite database.
package sqlite

import (
	"context"
	"fmt"

	"golang.org/x/mod/semver"

	"nesodb.io/synclite/internal/sqlx"
	"nesodb.io/synclite/schema"
)

type (
	// Driver represents a SQLite driver for introspecting database
	// structure, diffing it against a declared schema and applying the
	// resulting plan.
	Driver struct {
		conn
	}

	// database connection and its information.
	conn struct {
		schema.ExecQuerier
		// System variables that are set on Open.
		version   string
		fkEnabled bool
	}
)

// Open opens a new SQLite driver over the given connection or
// transaction handle.
func Open(db schema.ExecQuerier) (*Driver, error) {
	c := conn{ExecQuerier: db}
	if err := db.QueryRowContext(context.Background(), "SELECT sqlite_version()").Scan(&c.version); err != nil {
		return nil, fmt.Errorf("sqlite: scanning database version: %w", err)
	}
	if err := db.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&c.fkEnabled); err != nil {
		return nil, fmt.Errorf("sqlite: check foreign_keys pragma: %w", err)
	}
	return &Driver{conn: c}, nil
}

// Version returns the SQLite library version string.
func (d *Driver) Version() string { return d.version }

// ForeignKeysEnabled reports if foreign-key enforcement was on when
// the driver was opened.
func (d *Driver) ForeignKeysEnabled() bool { return d.fkEnabled }

// SupportsDropColumn reports if the connected SQLite version can
// execute ALTER TABLE ... DROP COLUMN (3.35.0 and above). Older
// versions fall back to a table rebuild for column removal.
func (d *Driver) SupportsDropColumn() bool {
	return semver.Compare("v"+d.version, "v3.35.0") >= 0
}

// SchemaVersion reads the user_version pragma used to stamp applied
// schema and migration versions.
func (d *Driver) SchemaVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := d.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: read user_version: %w", err)
	}
	return v, nil
}

// SetSchemaVersion writes the user_version pragma.
func (d *Driver) SetSchemaVersion(ctx context.Context, v int64) error {
	if _, err := d.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("sqlite: write user_version: %w", err)
	}
	return nil
}

// IntegrityCheck runs the quick_check pragma and returns an error if
// the database reports corruption.
func (d *Driver) IntegrityCheck(ctx context.Context) error {
	rows, err := d.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return fmt.Errorf("sqlite: integrity check: %w", err)
	}
	report, err := sqlx.ScanStrings(rows)
	if err != nil {
		return fmt.Errorf("sqlite: integrity check: %w", err)
	}
	if len(report) != 1 || report[0] != "ok" {
		return fmt.Errorf("sqlite: integrity check failed: %v", report)
	}
	return nil
}

// An IntrospectionError describes a failure reading the live database
// structure.
type IntrospectionError struct {
	Err error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("sqlite: inspect live structure: %v", e.Err)
}

func (e *IntrospectionError) Unwrap() error { return e.Err }

// An ApplyError describes a structural statement that failed mid-plan.
type ApplyError struct {
	Stmt string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("sqlite: apply %q: %v", e.Stmt, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// A ConflictError describes an unsatisfiable diff, e.g. a declared
// table colliding with the shadow name of a rebuilt table.
type ConflictError struct {
	Table  string
	Shadow string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sqlite: rebuilding table %q: shadow table %q already declared", e.Table, e.Shadow)
}

// shadowName returns the temporary name a table is rebuilt under.
func shadowName(table string) string { return "new_" + table }

// indexName returns the generated name for a declared index.
func indexName(table string, idx *schema.Index) string {
	name := "idx_" + table
	for _, c := range idx.Columns {
		name += "_" + c
	}
	return name
}

// updateTriggerName returns the name of the update-time trigger.
func updateTriggerName(table string) string {
	return "tg_" + table + "_update_time"
}

// Build instantiates a new builder and writes the given phrase to it.
func Build(phrase string) *sqlx.Builder {
	return sqlx.Build(phrase)
}
