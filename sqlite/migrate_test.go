// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"nesodb.io/synclite/internal/sqltest"
	"nesodb.io/synclite/schema"
)

func TestApply_AddTable(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape(
		"CREATE TABLE `users` (`id` integer NOT NULL PRIMARY KEY AUTOINCREMENT, `name` text NULL, " +
			"`create_time` text NOT NULL DEFAULT CURRENT_TIMESTAMP, `update_time` text NOT NULL DEFAULT CURRENT_TIMESTAMP, " +
			"`is_deleted` integer NOT NULL DEFAULT 0)",
	)).WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("CREATE UNIQUE INDEX `idx_users_name` ON `users` (`name`)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape(
		"CREATE TRIGGER `tg_users_update_time` AFTER UPDATE ON `users` FOR EACH ROW " +
			"WHEN NEW.`update_time` = OLD.`update_time` " +
			"BEGIN UPDATE `users` SET `update_time` = CURRENT_TIMESTAMP WHERE rowid = NEW.rowid; END",
	)).WillReturnResult(sqlmock.NewResult(0, 0))

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	users := schema.NewTable("users").
		AddColumns(
			schema.NewColumn("id", schema.IncrementIDKind{}),
			schema.NewColumn("name", schema.StringKind{}),
		).
		AddIndex(true, "name").
		SetTimestamps(true, true).
		SetSoftDelete(true)
	err = drv.Apply(context.Background(), []schema.Change{&schema.AddTable{T: users}})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestApply_CompositePrimaryKey(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape(
		"CREATE TABLE `grades` (`student` text NOT NULL, `course` text NOT NULL, `grade` real NULL, " +
			"PRIMARY KEY (`student`, `course`))",
	)).WillReturnResult(sqlmock.NewResult(0, 0))

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	grades := schema.NewTable("grades").
		AddColumns(
			schema.NewColumn("student", schema.StringKind{}).SetNotNull(true),
			schema.NewColumn("course", schema.StringKind{}).SetNotNull(true),
			schema.NewColumn("grade", schema.FloatKind{}),
		).
		SetPrimaryKey("student", "course")
	err = drv.Apply(context.Background(), []schema.Change{&schema.AddTable{T: grades}})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestApply_ModifyTable(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape("ALTER TABLE `person` DROP COLUMN `stale`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("ALTER TABLE `person` ADD COLUMN `age` integer NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("DROP INDEX `idx_person_stale`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("CREATE INDEX `idx_person_age` ON `person` (`age`)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("DROP TRIGGER `tg_person_update_time`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	person := schema.NewTable("person").AddColumns(schema.NewColumn("age", schema.IntegerKind{}))
	err = drv.Apply(context.Background(), []schema.Change{
		&schema.ModifyTable{T: person, Changes: []schema.Change{
			&schema.DropColumn{Name: "stale"},
			&schema.AddColumn{C: person.Columns[0]},
			&schema.DropIndex{Name: "idx_person_stale"},
			&schema.AddIndex{I: &schema.Index{Columns: []string{"age"}}},
			&schema.DropTrigger{Name: "tg_person_update_time"},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestApply_RebuildTable(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape("CREATE TABLE `new_person` (`name` text NULL, `age` integer NOT NULL)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("INSERT INTO `new_person` (`name`) SELECT `name` FROM `person`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("DROP TABLE `person`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("ALTER TABLE `new_person` RENAME TO `person`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	m.ExpectExec(sqltest.Escape("CREATE INDEX `idx_person_age` ON `person` (`age`)")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	person := schema.NewTable("person").
		AddColumns(
			schema.NewColumn("name", schema.StringKind{}),
			schema.NewColumn("age", schema.IntegerKind{}).SetNotNull(true),
		).
		AddIndex(false, "age")
	err = drv.Apply(context.Background(), []schema.Change{
		&schema.RebuildTable{T: person, Copy: []string{"name"}},
	})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestApply_DropTable(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape("DROP TABLE `stale`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	err = drv.Apply(context.Background(), []schema.Change{&schema.DropTable{Name: "stale"}})
	require.NoError(t, err)
	require.NoError(t, m.ExpectationsWereMet())
}

func TestApply_StatementError(t *testing.T) {
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	m.ExpectExec(sqltest.Escape("DROP TABLE `stale`")).
		WillReturnError(context.DeadlineExceeded)

	drv := &Driver{conn: conn{ExecQuerier: db, version: "3.36.0"}}
	err = drv.Apply(context.Background(), []schema.Change{&schema.DropTable{Name: "stale"}})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	require.Equal(t, "DROP TABLE `stale`", applyErr.Stmt)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultExpr(t *testing.T) {
	require.Equal(t, "CURRENT_TIMESTAMP", defaultExpr(&schema.RawExpr{X: "CURRENT_TIMESTAMP"}))
	require.Equal(t, "0", defaultExpr(&schema.Literal{V: "0"}))
	require.Equal(t, "1.5", defaultExpr(&schema.Literal{V: "1.5"}))
	require.Equal(t, "'it''s'", defaultExpr(&schema.Literal{V: "it's"}))
}
