// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package migrate runs ordered, externally authored migrations. It is
// the simpler alternative to the diff engine: instead of reconciling a
// declared schema, it applies every migration whose version is above
// the database's stamped version, in order, inside one transaction.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"nesodb.io/synclite"
	"nesodb.io/synclite/schema"
	"nesodb.io/synclite/session"
	"nesodb.io/synclite/sqlite"
)

type (
	// A Migration is one externally authored structural step.
	Migration struct {
		Version int64
		Name    string
		Apply   func(context.Context, schema.ExecQuerier) error
	}

	// A Runner applies a list of migrations in version order.
	Runner struct {
		Migrations []Migration
	}
)

// Updater returns the migration list as a TableUpdater: it applies, in
// one transaction, every migration above the stamped user_version and
// stamps the highest applied version.
func (r *Runner) Updater() synclite.TableUpdater {
	return func(ctx context.Context, db *sql.DB, log *slog.Logger) synclite.StatusResult {
		if log == nil {
			log = slog.Default()
		}
		var (
			s     = session.New(db, log)
			cause error
		)
		_, ok := session.Transact(ctx, s, func(ctx context.Context, ex schema.ExecQuerier) (int64, error) {
			drv, err := sqlite.Open(ex)
			if err != nil {
				return 0, err
			}
			current, err := drv.SchemaVersion(ctx)
			if err != nil {
				return 0, err
			}
			pending := make([]Migration, len(r.Migrations))
			copy(pending, r.Migrations)
			sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })
			applied := current
			for _, m := range pending {
				if m.Version <= current {
					continue
				}
				if err := m.Apply(ctx, ex); err != nil {
					return 0, fmt.Errorf("migration %d %q: %w", m.Version, m.Name, err)
				}
				log.Info("synclite: migration applied", "version", m.Version, "name", m.Name)
				applied = m.Version
			}
			if applied == current {
				return current, nil
			}
			return applied, drv.SetSchemaVersion(ctx, applied)
		}, session.WithOnRollback[int64](func(err error) { cause = err }))
		if !ok {
			return synclite.StatusResult{Kind: synclite.Classify(cause), Err: cause}
		}
		return synclite.StatusResult{Ready: true}
	}
}
