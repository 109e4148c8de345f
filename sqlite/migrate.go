// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"nesodb.io/synclite/internal/sqlx"
	"nesodb.io/synclite/schema"
)

// Apply executes the changes of a diff plan on the database. An error
// is returned if one of the statements fails; callers run Apply inside
// a transaction so a mid-plan failure leaves the database unchanged.
func (d *Driver) Apply(ctx context.Context, changes []schema.Change) (err error) {
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.AddTable:
			err = d.addTable(ctx, c.T, c.T.Name)
		case *schema.DropTable:
			err = d.exec(ctx, Build("DROP TABLE").Ident(c.Name).String())
		case *schema.ModifyTable:
			err = d.modifyTable(ctx, c)
		case *schema.RebuildTable:
			err = d.rebuildTable(ctx, c)
		default:
			err = fmt.Errorf("sqlite: unsupported change %T", c)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// addTable creates the table under the given name together with its
// declared indexes and, if requested, the update-time trigger.
func (d *Driver) addTable(ctx context.Context, t *schema.Table, name string) error {
	if err := d.exec(ctx, createTableStmt(t, name)); err != nil {
		return err
	}
	for _, idx := range t.Indexes {
		if err := d.addIndex(ctx, t.Name, idx); err != nil {
			return err
		}
	}
	if t.Timestamps.Update {
		return d.addTrigger(ctx, t.Name)
	}
	return nil
}

// createTableStmt builds the CREATE TABLE statement for the realized
// shape of t under the given table name.
func createTableStmt(t *schema.Table, name string) string {
	cols := t.Realize()
	b := Build("CREATE TABLE").Ident(name)
	b.Wrap(func(b *sqlx.Builder) {
		b.MapComma(len(cols), func(i int, b *sqlx.Builder) {
			column(b, cols[i])
		})
		// An increment-id primary key is inlined on its column.
		if pk := t.EffectivePK(); len(pk) > 0 {
			if _, ok := t.IncrementID(); !ok {
				b.Comma().P("PRIMARY KEY")
				b.Wrap(func(b *sqlx.Builder) {
					b.MapComma(len(pk), func(i int, b *sqlx.Builder) {
						b.Ident(pk[i])
					})
				})
			}
		}
	})
	return b.String()
}

// column writes a single column definition.
func column(b *sqlx.Builder, c *schema.Column) {
	b.Ident(c.Name).P(string(schema.StorageOf(c.Kind)))
	if _, inc := c.Kind.(schema.IncrementIDKind); inc {
		b.P("NOT", "NULL", "PRIMARY", "KEY", "AUTOINCREMENT")
		return
	}
	if !c.NotNull {
		b.P("NULL")
	} else {
		b.P("NOT", "NULL")
	}
	if c.Default != nil {
		b.P("DEFAULT", defaultExpr(c.Default))
	}
}

// defaultExpr formats a default expression: raw expressions are
// inlined as-is, literals are quoted unless numeric.
func defaultExpr(x schema.Expr) string {
	switch x := x.(type) {
	case *schema.RawExpr:
		return x.X
	case *schema.Literal:
		if _, err := strconv.ParseFloat(x.V, 64); err == nil {
			return x.V
		}
		return "'" + strings.ReplaceAll(x.V, "'", "''") + "'"
	}
	return ""
}

func (d *Driver) modifyTable(ctx context.Context, modify *schema.ModifyTable) error {
	for _, change := range modify.Changes {
		var err error
		switch change := change.(type) {
		case *schema.DropColumn:
			err = d.exec(ctx, Build("ALTER TABLE").Ident(modify.T.Name).P("DROP COLUMN").Ident(change.Name).String())
		case *schema.AddColumn:
			b := Build("ALTER TABLE").Ident(modify.T.Name).P("ADD COLUMN")
			column(b, change.C)
			err = d.exec(ctx, b.String())
		case *schema.DropIndex:
			err = d.exec(ctx, Build("DROP INDEX").Ident(change.Name).String())
		case *schema.AddIndex:
			err = d.addIndex(ctx, modify.T.Name, change.I)
		case *schema.DropTrigger:
			err = d.exec(ctx, Build("DROP TRIGGER").Ident(change.Name).String())
		case *schema.AddTrigger:
			err = d.addTrigger(ctx, modify.T.Name)
		default:
			err = fmt.Errorf("sqlite: unexpected change in modify table: %T", change)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// rebuildTable applies changes the engine cannot express with ALTER:
// create a shadow table with the new shape, copy the overlapping
// columns by name, drop the old table and rename the shadow into
// place. Indexes and the update-time trigger are recreated on the
// final table.
func (d *Driver) rebuildTable(ctx context.Context, rebuild *schema.RebuildTable) error {
	shadow := shadowName(rebuild.T.Name)
	if err := d.exec(ctx, createTableStmt(rebuild.T, shadow)); err != nil {
		return err
	}
	if len(rebuild.Copy) > 0 {
		b := Build("INSERT INTO").Ident(shadow)
		b.Wrap(func(b *sqlx.Builder) {
			b.MapComma(len(rebuild.Copy), func(i int, b *sqlx.Builder) {
				b.Ident(rebuild.Copy[i])
			})
		})
		b.P("SELECT")
		b.MapComma(len(rebuild.Copy), func(i int, b *sqlx.Builder) {
			b.Ident(rebuild.Copy[i])
		})
		b.P("FROM").Ident(rebuild.T.Name)
		if err := d.exec(ctx, b.String()); err != nil {
			return err
		}
	}
	if err := d.exec(ctx, Build("DROP TABLE").Ident(rebuild.T.Name).String()); err != nil {
		return err
	}
	if err := d.exec(ctx, Build("ALTER TABLE").Ident(shadow).P("RENAME TO").Ident(rebuild.T.Name).String()); err != nil {
		return err
	}
	for _, idx := range rebuild.T.Indexes {
		if err := d.addIndex(ctx, rebuild.T.Name, idx); err != nil {
			return err
		}
	}
	if rebuild.T.Timestamps.Update {
		return d.addTrigger(ctx, rebuild.T.Name)
	}
	return nil
}

func (d *Driver) addIndex(ctx context.Context, table string, idx *schema.Index) error {
	b := Build("CREATE")
	if idx.Unique {
		b.P("UNIQUE")
	}
	b.P("INDEX").Ident(indexName(table, idx)).P("ON").Ident(table)
	b.Wrap(func(b *sqlx.Builder) {
		b.MapComma(len(idx.Columns), func(i int, b *sqlx.Builder) {
			b.Ident(idx.Columns[i])
		})
	})
	return d.exec(ctx, b.String())
}

// addTrigger creates the trigger that stamps the update-time column
// on every row update. The WHEN clause skips rows whose update-time
// was set explicitly by the caller.
func (d *Driver) addTrigger(ctx context.Context, table string) error {
	stmt := fmt.Sprintf(
		"CREATE TRIGGER `%[1]s` AFTER UPDATE ON `%[2]s` FOR EACH ROW WHEN NEW.`%[3]s` = OLD.`%[3]s` "+
			"BEGIN UPDATE `%[2]s` SET `%[3]s` = CURRENT_TIMESTAMP WHERE rowid = NEW.rowid; END",
		updateTriggerName(table), table, schema.ColUpdateTime,
	)
	return d.exec(ctx, stmt)
}

func (d *Driver) exec(ctx context.Context, stmt string, args ...any) error {
	if _, err := d.ExecContext(ctx, stmt, args...); err != nil {
		return &ApplyError{Stmt: stmt, Err: err}
	}
	return nil
}
