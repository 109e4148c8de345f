// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package sqlite

import (
	"sort"

	"nesodb.io/synclite/schema"
)

// Diff compares the introspected live state against the declared
// table set and returns the plan of structural changes that brings
// the live database to the declared shape. The plan is deterministic:
// tables are visited in name order and each table contributes at most
// one table-level change. Diffing an already-synchronized database
// returns an empty plan.
func (d *Driver) Diff(live []*LiveTable, want []*schema.Table) ([]schema.Change, error) {
	wantByName := make(map[string]*schema.Table, len(want))
	for _, t := range want {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		wantByName[t.Name] = t
	}
	liveByName := make(map[string]*LiveTable, len(live))
	for _, t := range live {
		liveByName[t.Name] = t
	}
	var changes []schema.Change
	for _, name := range tableNames(wantByName, liveByName) {
		t, wantOK := wantByName[name]
		lt, liveOK := liveByName[name]
		switch {
		case wantOK && !liveOK:
			changes = append(changes, &schema.AddTable{T: t})
		case !wantOK && liveOK:
			changes = append(changes, &schema.DropTable{Name: name})
		default:
			change, err := d.tableDiff(t, lt, wantByName, liveByName)
			if err != nil {
				return nil, err
			}
			if change != nil {
				changes = append(changes, change)
			}
		}
	}
	return changes, nil
}

// tableDiff returns the single table-level change for a table present
// in both worlds, or nil if the shapes already match.
func (d *Driver) tableDiff(t *schema.Table, lt *LiveTable, want map[string]*schema.Table, live map[string]*LiveTable) (schema.Change, error) {
	var (
		cols  = t.Realize()
		adds  []*schema.Column
		drops []string
		pairs int
	)
	for _, lc := range lt.Columns {
		if _, ok := realizedColumn(cols, lc.Name); !ok {
			drops = append(drops, lc.Name)
		}
	}
	sort.Strings(drops)
	for _, c := range cols {
		lc, ok := lt.Column(c.Name)
		switch {
		case !ok:
			adds = append(adds, c)
		case schema.StorageOf(c.Kind) != lc.Storage || notNullOf(c) != lc.NotNull:
			// The engine cannot alter a column in place; a changed
			// column is a drop+add pair, which forces a rebuild.
			pairs++
		}
	}
	rebuild := pairs > 0 ||
		!equalNames(t.EffectivePK(), lt.PK()) ||
		len(adds) > 0 && len(drops) > 0 ||
		len(drops) > 0 && !d.SupportsDropColumn() ||
		hasUnsafeAdd(adds)
	if rebuild {
		shadow := shadowName(t.Name)
		if _, ok := want[shadow]; ok {
			return nil, &ConflictError{Table: t.Name, Shadow: shadow}
		}
		if _, ok := live[shadow]; ok {
			return nil, &ConflictError{Table: t.Name, Shadow: shadow}
		}
		return &schema.RebuildTable{T: t, Copy: copiedColumns(cols, lt)}, nil
	}
	var ops []schema.Change
	for _, name := range drops {
		ops = append(ops, &schema.DropColumn{Name: name})
	}
	for _, c := range adds {
		ops = append(ops, &schema.AddColumn{C: c})
	}
	ops = append(ops, indexDiff(t, lt)...)
	ops = append(ops, triggerDiff(t, lt)...)
	if len(ops) == 0 {
		return nil, nil
	}
	return &schema.ModifyTable{T: t, Changes: ops}, nil
}

// notNullOf returns the constraint a column is created with. An
// increment-id column is NOT NULL regardless of its declaration.
func notNullOf(c *schema.Column) bool {
	if _, ok := c.Kind.(schema.IncrementIDKind); ok {
		return true
	}
	return c.NotNull
}

// hasUnsafeAdd reports if any added column cannot be expressed as a
// plain ADD COLUMN statement: a NOT NULL column has no value for
// existing rows, and the engine rejects non-constant defaults.
func hasUnsafeAdd(adds []*schema.Column) bool {
	for _, c := range adds {
		if c.NotNull || c.Default != nil {
			return true
		}
	}
	return false
}

// copiedColumns returns the names of the columns that survive a
// rebuild by being copied into the shadow table, in desired-column
// order: columns present in both shapes with matching storage and
// nullability. A changed column is a drop+add pair and restarts empty.
func copiedColumns(cols []*schema.Column, lt *LiveTable) []string {
	var names []string
	for _, c := range cols {
		lc, ok := lt.Column(c.Name)
		if !ok {
			continue
		}
		if schema.StorageOf(c.Kind) != lc.Storage || notNullOf(c) != lc.NotNull {
			continue
		}
		names = append(names, c.Name)
	}
	return names
}

// indexDiff compares declared indexes against live ones. Identity is
// the ordered column-name tuple plus uniqueness: reordering columns is
// a drop+create, not a no-op.
func indexDiff(t *schema.Table, lt *LiveTable) []schema.Change {
	wantKeys := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		wantKeys[indexKey(idx.Columns, idx.Unique)] = true
	}
	liveKeys := make(map[string]bool, len(lt.Indexes))
	for _, idx := range lt.Indexes {
		liveKeys[indexKey(idx.Columns, idx.Unique)] = true
	}
	var ops []schema.Change
	dropped := make([]string, 0, len(lt.Indexes))
	for _, idx := range lt.Indexes {
		if !wantKeys[indexKey(idx.Columns, idx.Unique)] {
			dropped = append(dropped, idx.Name)
		}
	}
	sort.Strings(dropped)
	for _, name := range dropped {
		ops = append(ops, &schema.DropIndex{Name: name})
	}
	for _, idx := range t.Indexes {
		if !liveKeys[indexKey(idx.Columns, idx.Unique)] {
			ops = append(ops, &schema.AddIndex{I: idx})
		}
	}
	return ops
}

func indexKey(columns []string, unique bool) string {
	key := ""
	for _, c := range columns {
		key += c + ","
	}
	if unique {
		key += "!"
	}
	return key
}

// triggerDiff reconciles the update-time trigger. The create-time
// default is applied at row insert and is never retrofitted here.
func triggerDiff(t *schema.Table, lt *LiveTable) []schema.Change {
	name := updateTriggerName(t.Name)
	switch has := lt.Trigger(name); {
	case t.Timestamps.Update && !has:
		return []schema.Change{&schema.AddTrigger{}}
	case !t.Timestamps.Update && has:
		return []schema.Change{&schema.DropTrigger{Name: name}}
	}
	return nil
}

func realizedColumn(cols []*schema.Column, name string) (*schema.Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func tableNames(want map[string]*schema.Table, live map[string]*LiveTable) []string {
	seen := make(map[string]bool, len(want)+len(live))
	var names []string
	for name := range want {
		seen[name] = true
		names = append(names, name)
	}
	for name := range live {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
