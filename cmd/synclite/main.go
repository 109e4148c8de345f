// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Command synclite synchronizes the structure of a SQLite database
// file with a YAML schema declaration, and provides inspection and
// integrity-check helpers for the same file.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	_ "modernc.org/sqlite"

	"nesodb.io/synclite"
	"nesodb.io/synclite/schemayaml"
	"nesodb.io/synclite/sqlite"
)

// CLI defines the command-line interface.
var CLI struct {
	Verbose bool `short:"v" help:"Enable debug logging."`

	Sync    SyncCmd    `cmd:"" help:"Reconcile the database structure with a schema file."`
	Inspect InspectCmd `cmd:"" help:"Print the live structure of the database."`
	Check   CheckCmd   `cmd:"" help:"Run the database integrity check."`
}

// SyncCmd reconciles a database file with a schema declaration.
type SyncCmd struct {
	DB     string `help:"Path to the database file." required:"" type:"path"`
	Schema string `help:"Path to the YAML schema declaration." required:"" type:"existingfile"`
	Check  bool   `name:"integrity-check" help:"Run an integrity check before syncing."`
}

func (c *SyncCmd) Run(log *slog.Logger) error {
	f, err := os.Open(c.Schema)
	if err != nil {
		return err
	}
	defer f.Close()
	tables, err := schemayaml.Load(f)
	if err != nil {
		return err
	}
	db, err := openDB(c.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	opts := []synclite.SyncOption{synclite.WithLogger(log)}
	if c.Check {
		opts = append(opts, synclite.WithIntegrityCheck())
	}
	if res := synclite.SyncSchema(context.Background(), db, tables, opts...); !res.Ready {
		return fmt.Errorf("sync failed (%s): %w", res.Kind, res.Err)
	}
	fmt.Println("schema in sync")
	return nil
}

// InspectCmd prints the live structure of a database file.
type InspectCmd struct {
	DB string `help:"Path to the database file." required:"" type:"existingfile"`
}

func (c *InspectCmd) Run(log *slog.Logger) error {
	db, err := openDB(c.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	drv, err := sqlite.Open(db)
	if err != nil {
		return err
	}
	ctx := context.Background()
	tables, err := drv.InspectTables(ctx)
	if err != nil {
		return err
	}
	version, err := drv.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("sqlite %s, schema version %d, foreign keys %v\n", drv.Version(), version, drv.ForeignKeysEnabled())
	for _, t := range tables {
		fmt.Printf("table %s\n", t.Name)
		for _, col := range t.Columns {
			nullable := "null"
			if col.NotNull {
				nullable = "not null"
			}
			fmt.Printf("  column %-20s %-8s %s\n", col.Name, col.Storage, nullable)
		}
		for _, idx := range t.Indexes {
			fmt.Printf("  index  %s %v unique=%v\n", idx.Name, idx.Columns, idx.Unique)
		}
		for _, tg := range t.Triggers {
			fmt.Printf("  trigger %s\n", tg)
		}
	}
	return nil
}

// CheckCmd runs the integrity check pragma.
type CheckCmd struct {
	DB string `help:"Path to the database file." required:"" type:"existingfile"`
}

func (c *CheckCmd) Run(log *slog.Logger) error {
	db, err := openDB(c.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	drv, err := sqlite.Open(db)
	if err != nil {
		return err
	}
	if err := drv.IntegrityCheck(context.Background()); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

// openDB opens the database file with a single connection: the engine
// assumes one logical connection per session.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("synclite"),
		kong.Description("Declarative schema synchronization for SQLite files."),
		kong.UsageOnError(),
	)
	level := slog.LevelInfo
	if CLI.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx.FatalIfErrorf(ctx.Run(log))
}
