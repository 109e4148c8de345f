// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package session provides the safe-execution primitives layered over
// one database connection: arbitrarily nestable transactions backed by
// savepoints, a precompiled parameterized-query cache and a
// soft-delete-aware statement executor.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"nesodb.io/synclite/schema"
)

// A Session owns one logical database connection and the transaction
// state attached to it. Nesting is represented by a savepoint counter,
// not by a stack of sessions: exactly one root transaction can be open
// at a time and further Transact calls inside it open savepoints named
// sp_<n>.
//
// A Session is not safe for concurrent use. Sequential use of one
// connection per Session is assumed; parallelism is achieved with
// separate Sessions over separate connections.
type Session struct {
	db  *sql.DB
	log *slog.Logger

	// Transaction context: the active root transaction, if any, and
	// the savepoint counter. The counter only increases while the root
	// is open and resets to zero when it closes.
	tx    *sql.Tx
	depth int
}

// New returns a session over the given database handle. A nil logger
// defaults to slog.Default.
func New(db *sql.DB, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{db: db, log: log}
}

// DB returns the underlying database handle.
func (s *Session) DB() *sql.DB { return s.db }

// InTx reports if a root transaction is open.
func (s *Session) InTx() bool { return s.tx != nil }

// Executor returns the handle statements should run on: the active
// transaction when one is open, the bare connection otherwise. This is
// how statements issued through higher layers pick up whatever scope
// is active.
func (s *Session) Executor() schema.ExecQuerier {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

type (
	// TxOption configures the hooks of a single Transact call.
	TxOption[T any] func(*txHooks[T])

	txHooks[T any] struct {
		onCommit   func(T)
		onRollback func(error)
	}
)

// WithOnCommit registers a hook receiving the result after the scope
// resolved successfully.
func WithOnCommit[T any](f func(T)) TxOption[T] {
	return func(h *txHooks[T]) { h.onCommit = f }
}

// WithOnRollback registers a hook receiving the failure after the
// scope was rolled back.
func WithOnRollback[T any](f func(error)) TxOption[T] {
	return func(h *txHooks[T]) { h.onRollback = f }
}

// Transact runs fn in an atomic scope. With no transaction open it
// begins one, commits on success and rolls back on failure; inside an
// open transaction it opens a uniquely named savepoint instead, so
// a failure rolls back only to that savepoint.
//
// A failure is not returned: it is logged, handed to the rollback hook
// and the call resolves to the zero value with ok=false. Callers that
// need the failure itself must capture it with WithOnRollback.
func Transact[T any](ctx context.Context, s *Session, fn func(context.Context, schema.ExecQuerier) (T, error), opts ...TxOption[T]) (v T, ok bool) {
	var hooks txHooks[T]
	for _, opt := range opts {
		opt(&hooks)
	}
	var err error
	if s.tx == nil {
		v, err = root(ctx, s, fn)
	} else {
		v, err = nested(ctx, s, fn)
	}
	if err != nil {
		s.log.Error("synclite: transaction rolled back", "error", err)
		if hooks.onRollback != nil {
			hooks.onRollback(err)
		}
		var zero T
		return zero, false
	}
	if hooks.onCommit != nil {
		hooks.onCommit(v)
	}
	return v, true
}

func root[T any](ctx context.Context, s *Session, fn func(context.Context, schema.ExecQuerier) (T, error)) (v T, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return v, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx, s.depth = tx, 0
	// The transaction context is cleared on every exit path.
	defer func() {
		s.tx, s.depth = nil, 0
	}()
	if v, err = fn(ctx, tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w; rollback: %v", err, rerr)
		}
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, fmt.Errorf("commit transaction: %w", err)
	}
	return v, nil
}

func nested[T any](ctx context.Context, s *Session, fn func(context.Context, schema.ExecQuerier) (T, error)) (v T, err error) {
	s.depth++
	name := fmt.Sprintf("sp_%d", s.depth)
	defer func() { s.depth-- }()
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return v, fmt.Errorf("savepoint %s: %w", name, err)
	}
	if v, err = fn(ctx, s.tx); err != nil {
		if _, rerr := s.tx.ExecContext(ctx, "ROLLBACK TO "+name); rerr != nil {
			return v, fmt.Errorf("%w; rollback to %s: %v", err, name, rerr)
		}
		if _, rerr := s.tx.ExecContext(ctx, "RELEASE "+name); rerr != nil {
			return v, fmt.Errorf("%w; release %s: %v", err, name, rerr)
		}
		return v, err
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return v, fmt.Errorf("release %s: %w", name, err)
	}
	return v, nil
}
