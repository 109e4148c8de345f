// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package synclite reconciles the structure of an embedded SQLite
// database with a declarative schema: it introspects the live
// structure, computes a minimal plan of structural changes and applies
// it atomically, so applications declare the tables they want instead
// of hand-writing migration scripts.
package synclite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"nesodb.io/synclite/schema"
	"nesodb.io/synclite/session"
	"nesodb.io/synclite/sqlite"
)

// ErrorKind classifies a sync failure.
type ErrorKind uint

const (
	// KindNone reports a successful sync.
	KindNone ErrorKind = iota
	// KindIntegrityCheckFailed reports that the pre-sync integrity
	// check failed; no changes were attempted.
	KindIntegrityCheckFailed
	// KindIntrospection reports a failure reading the live structure.
	KindIntrospection
	// KindConflict reports an unsatisfiable diff, including
	// definition-time schema errors.
	KindConflict
	// KindApply reports a structural statement that failed mid-plan.
	KindApply
	// KindTransaction reports a failure of the transactional scope
	// itself or of application code running inside it.
	KindTransaction
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindIntegrityCheckFailed:
		return "integrity_check_failed"
	case KindIntrospection:
		return "schema_introspection"
	case KindConflict:
		return "schema_conflict"
	case KindApply:
		return "ddl_apply"
	default:
		return "transaction_failure"
	}
}

// A StatusResult reports the outcome of a table update. Failures are
// carried in the result instead of being returned as errors.
type StatusResult struct {
	Ready bool
	Kind  ErrorKind
	Err   error
}

// A TableUpdater brings the database structure up to date and reports
// the outcome. SchemaUpdater is the diff-based implementation; an
// ordered migration-list runner is another.
type TableUpdater func(ctx context.Context, db *sql.DB, log *slog.Logger) StatusResult

type syncOptions struct {
	log            *slog.Logger
	integrityCheck bool
}

// A SyncOption configures SyncSchema.
type SyncOption func(*syncOptions)

// WithIntegrityCheck requests a database integrity check before any
// structural change is attempted.
func WithIntegrityCheck() SyncOption {
	return func(o *syncOptions) { o.integrityCheck = true }
}

// WithLogger sets the logger used for sync reporting.
func WithLogger(log *slog.Logger) SyncOption {
	return func(o *syncOptions) { o.log = log }
}

// SyncSchema reconciles the live database structure with the declared
// table set. The whole plan is applied inside one transaction: a
// mid-plan failure rolls back every change of this call, so a partial
// schema state is never observable, and the user_version pragma is
// bumped only when structural changes were applied.
//
// SyncSchema never returns an error; failures are logged and captured
// in the StatusResult.
func SyncSchema(ctx context.Context, db *sql.DB, tables []*schema.Table, opts ...SyncOption) StatusResult {
	var o syncOptions
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = slog.Default()
	}
	if o.integrityCheck {
		drv, err := sqlite.Open(db)
		if err == nil {
			err = drv.IntegrityCheck(ctx)
		}
		if err != nil {
			log.Error("synclite: integrity check failed", "error", err)
			return StatusResult{Kind: KindIntegrityCheckFailed, Err: err}
		}
	}
	var (
		s     = session.New(db, log)
		cause error
	)
	applied, ok := session.Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (int, error) {
		drv, err := sqlite.Open(ex)
		if err != nil {
			return 0, &sqlite.IntrospectionError{Err: err}
		}
		live, err := drv.InspectTables(ctx)
		if err != nil {
			return 0, err
		}
		plan, err := drv.Diff(live, tables)
		if err != nil {
			return 0, err
		}
		if len(plan) == 0 {
			return 0, nil
		}
		if err := drv.Apply(ctx, plan); err != nil {
			return 0, err
		}
		v, err := drv.SchemaVersion(ctx)
		if err != nil {
			return 0, err
		}
		return len(plan), drv.SetSchemaVersion(ctx, v+1)
	}, session.WithOnRollback[int](func(err error) { cause = err }))
	if !ok {
		kind := Classify(cause)
		log.Error("synclite: schema sync failed", "kind", kind.String(), "error", cause)
		return StatusResult{Kind: kind, Err: cause}
	}
	if applied > 0 {
		log.Info("synclite: schema synchronized", "changes", applied)
	}
	return StatusResult{Ready: true}
}

// SchemaUpdater returns the diff-engine TableUpdater for the given
// declared tables.
func SchemaUpdater(tables ...*schema.Table) TableUpdater {
	return func(ctx context.Context, db *sql.DB, log *slog.Logger) StatusResult {
		return SyncSchema(ctx, db, tables, WithLogger(log))
	}
}

// Classify maps an error to the ErrorKind reported for it. Errors
// without a more specific classification count as transaction
// failures.
func Classify(err error) ErrorKind {
	var (
		ie  *sqlite.IntrospectionError
		ae  *sqlite.ApplyError
		ce  *sqlite.ConflictError
		de  *schema.DuplicateColumnError
		pke *schema.InvalidPrimaryKeyError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &ie):
		return KindIntrospection
	case errors.As(err, &ae):
		return KindApply
	case errors.As(err, &ce), errors.As(err, &de), errors.As(err, &pke):
		return KindConflict
	default:
		return KindTransaction
	}
}
