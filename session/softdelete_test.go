// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package session

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"nesodb.io/synclite/internal/sqltest"
	"nesodb.io/synclite/schema"
)

func shieldOver(t *testing.T) (*Shield, sqlmock.Sqlmock) {
	t.Helper()
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	users := schema.NewTable("users").
		AddColumns(schema.NewColumn("name", schema.StringKind{})).
		SetSoftDelete(true)
	logs := schema.NewTable("logs").
		AddColumns(schema.NewColumn("line", schema.StringKind{}))
	return NewShield(New(db, nil), users, logs), m
}

func TestShield_Delete(t *testing.T) {
	h, m := shieldOver(t)
	ctx := context.Background()

	t.Run("soft-delete table rewritten", func(t *testing.T) {
		m.ExpectExec(sqltest.Escape("UPDATE `users` SET `is_deleted` = 1 WHERE `id` = ? AND `is_deleted` = 0")).
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		n, err := h.Delete(ctx, "users", map[string]any{"id": 7})
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})

	t.Run("plain table deletes", func(t *testing.T) {
		m.ExpectExec(sqltest.Escape("DELETE FROM `logs` WHERE `id` = ?")).
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		_, err := h.Delete(ctx, "logs", map[string]any{"id": 7})
		require.NoError(t, err)
	})

	t.Run("unscoped deletes for real", func(t *testing.T) {
		m.ExpectExec(sqltest.Escape("DELETE FROM `users` WHERE `id` = ?")).
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		_, err := h.Unscoped().Delete(ctx, "users", map[string]any{"id": 7})
		require.NoError(t, err)
	})

	t.Run("no conditions flags every row", func(t *testing.T) {
		m.ExpectExec(sqltest.Escape("UPDATE `users` SET `is_deleted` = 1 WHERE `is_deleted` = 0")).
			WillReturnResult(sqlmock.NewResult(0, 3))
		n, err := h.Delete(ctx, "users", nil)
		require.NoError(t, err)
		require.Equal(t, int64(3), n)
	})
	require.NoError(t, m.ExpectationsWereMet())
}

func TestShield_Update(t *testing.T) {
	h, m := shieldOver(t)
	ctx := context.Background()

	// Assignments are written in sorted key order, then the conditions,
	// then the implicit liveness predicate.
	m.ExpectExec(sqltest.Escape("UPDATE `users` SET `age` = ?, `name` = ? WHERE `id` = ? AND `is_deleted` = 0")).
		WithArgs(30, "ariel", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := h.Update(ctx, "users", map[string]any{"name": "ariel", "age": 30}, map[string]any{"id": 7})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = h.Update(ctx, "users", nil, map[string]any{"id": 7})
	require.EqualError(t, err, `session: update "users": empty assignment list`)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestShield_Select(t *testing.T) {
	h, m := shieldOver(t)
	ctx := context.Background()

	t.Run("columns and conditions", func(t *testing.T) {
		m.ExpectQuery(sqltest.Escape("SELECT `id`, `name` FROM `users` WHERE `org` = ? AND `is_deleted` = 0")).
			WithArgs("acme").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ariel"))
		rows, err := h.Select(ctx, "users", []string{"id", "name"}, map[string]any{"org": "acme"})
		require.NoError(t, err)
		rows.Close()
	})

	t.Run("star without conditions still scoped", func(t *testing.T) {
		m.ExpectQuery(sqltest.Escape("SELECT * FROM `users` WHERE `is_deleted` = 0")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		rows, err := h.Select(ctx, "users", nil, nil)
		require.NoError(t, err)
		rows.Close()
	})

	t.Run("unscoped sees flagged rows", func(t *testing.T) {
		m.ExpectQuery(sqltest.Escape("SELECT * FROM `users`")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		rows, err := h.Unscoped().Select(ctx, "users", nil, nil)
		require.NoError(t, err)
		rows.Close()
	})
	require.NoError(t, m.ExpectationsWereMet())
}

func TestShield_Count(t *testing.T) {
	h, m := shieldOver(t)
	m.ExpectQuery(sqltest.Escape("SELECT COUNT(*) FROM `users` WHERE `is_deleted` = 0")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	n, err := h.Count(context.Background(), "users", nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestShield_InTransaction(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	users := schema.NewTable("users").
		AddColumns(schema.NewColumn("name", schema.StringKind{})).
		SetSoftDelete(true)
	m.ExpectBegin()
	m.ExpectExec(sqltest.Escape("UPDATE `users` SET `is_deleted` = 1 WHERE `id` = ? AND `is_deleted` = 0")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	s := New(db, nil)
	h := NewShield(s, users)
	_, ok := Transact(context.Background(), s, func(ctx context.Context, _ schema.ExecQuerier) (int64, error) {
		// The shield runs on the session's active scope.
		return h.Delete(ctx, "users", map[string]any{"id": 7})
	})
	require.True(t, ok)
	require.NoError(t, m.ExpectationsWereMet())
}
