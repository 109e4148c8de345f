// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package session

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"nesodb.io/synclite/schema"
)

// testDB opens an isolated database file for one test.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTransact_Commit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE kv (k text, v text)")
	require.NoError(t, err)

	s := New(db, nil)
	var committed []int64
	n, ok := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (int64, error) {
		require.True(t, s.InTx())
		res, err := ex.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}, WithOnCommit(func(id int64) { committed = append(committed, id) }))
	require.True(t, ok)
	require.Equal(t, []int64{1}, committed)
	require.Equal(t, int64(1), n)
	require.False(t, s.InTx())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count))
	require.Equal(t, 1, count)
}

func TestTransact_RollbackOnFailure(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE kv (k text, v text)")
	require.NoError(t, err)

	s := New(db, nil)
	boom := errors.New("boom")
	var rolledBack error
	v, ok := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (string, error) {
		if _, err := ex.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('a', '1')"); err != nil {
			return "", err
		}
		return "ignored", boom
	}, WithOnRollback[string](func(err error) { rolledBack = err }))
	require.False(t, ok)
	require.Zero(t, v)
	require.ErrorIs(t, rolledBack, boom)
	require.False(t, s.InTx())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count))
	require.Equal(t, 0, count)
}

func TestTransact_NestedSavepoint(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, "CREATE TABLE kv (k text, v text)")
	require.NoError(t, err)

	s := New(db, nil)
	_, ok := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
		if _, err := ex.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('outer', '1')"); err != nil {
			return struct{}{}, err
		}
		// The failing inner scope rolls back only its own work.
		_, innerOK := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
			if _, err := ex.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES ('inner', '2')"); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, errors.New("inner failure")
		})
		require.False(t, innerOK)
		return struct{}{}, nil
	})
	require.True(t, ok)

	var keys []string
	rows, err := db.QueryContext(ctx, "SELECT k FROM kv ORDER BY k")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"outer"}, keys)
}

func TestTransact_SavepointNames(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectBegin()
	m.ExpectExec("SAVEPOINT sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("SAVEPOINT sp_2$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("RELEASE sp_2$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("RELEASE sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	// A sibling savepoint at the same depth reuses the freed name.
	m.ExpectExec("SAVEPOINT sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("RELEASE sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectCommit()

	s := New(db, nil)
	noop := func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
		return struct{}{}, nil
	}
	_, ok := Transact(context.Background(), s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
		_, ok := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
			_, ok := Transact(ctx, s, noop)
			require.True(t, ok)
			return struct{}{}, nil
		})
		require.True(t, ok)
		_, ok = Transact(ctx, s, noop)
		require.True(t, ok)
		return struct{}{}, nil
	})
	require.True(t, ok)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestTransact_FailedSavepointRollsBackToMark(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectBegin()
	m.ExpectExec("SAVEPOINT sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("ROLLBACK TO sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec("RELEASE sp_1$").WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectCommit()

	s := New(db, nil)
	_, ok := Transact(context.Background(), s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
		_, ok := Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
			return struct{}{}, errors.New("inner failure")
		})
		require.False(t, ok)
		return struct{}{}, nil
	})
	require.True(t, ok)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestSession_Executor(t *testing.T) {
	db := testDB(t)
	s := New(db, nil)
	require.Equal(t, schema.ExecQuerier(db), s.Executor())
	Transact(context.Background(), s, func(ctx context.Context, ex schema.ExecQuerier) (struct{}, error) {
		require.Equal(t, ex, s.Executor())
		require.NotEqual(t, schema.ExecQuerier(db), s.Executor())
		return struct{}{}, nil
	})
	require.Equal(t, schema.ExecQuerier(db), s.Executor())
}
