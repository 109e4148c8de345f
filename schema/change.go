// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package schema

type (
	// A Change represents a single structural operation in a diff
	// plan. A plan is an ordered []Change, sorted by table name: each
	// table contributes exactly one table-level change (AddTable,
	// DropTable, ModifyTable or RebuildTable). A plan is a pure value;
	// it owns no live resources and is discarded after application.
	Change interface {
		change()
	}

	// AddTable describes a table creation change. Indexes and the
	// update-time trigger of the table are created with it.
	AddTable struct {
		T *Table
	}

	// DropTable describes a table removal change.
	DropTable struct {
		Name string
	}

	// ModifyTable describes an incremental table modification: a
	// sequence of column, index and trigger changes the engine can
	// express as direct ALTER/CREATE/DROP statements.
	ModifyTable struct {
		T       *Table
		Changes []Change
	}

	// RebuildTable describes a full table rebuild: create a shadow
	// table with the new shape, copy the named columns, drop the old
	// table and rename the shadow into place. Emitted for changes the
	// engine cannot apply incrementally (primary-key changes, type
	// changes, mixed add/drop sets).
	RebuildTable struct {
		T *Table
		// Copy lists the columns present in both the old and the new
		// shape, copied by name during the rebuild.
		Copy []string
	}

	// AddColumn describes a column creation change.
	AddColumn struct {
		C *Column
	}

	// DropColumn describes a column removal change.
	DropColumn struct {
		Name string
	}

	// AddIndex describes an index creation change.
	AddIndex struct {
		I *Index
	}

	// DropIndex describes an index removal change. The name is the
	// live index name observed during introspection.
	DropIndex struct {
		Name string
	}

	// AddTrigger describes creation of the update-time trigger.
	AddTrigger struct{}

	// DropTrigger describes removal of the update-time trigger. The
	// name is the live trigger name observed during introspection.
	DropTrigger struct {
		Name string
	}
)

func (*AddTable) change()     {}
func (*DropTable) change()    {}
func (*ModifyTable) change()  {}
func (*RebuildTable) change() {}
func (*AddColumn) change()    {}
func (*DropColumn) change()   {}
func (*AddIndex) change()     {}
func (*DropIndex) change()    {}
func (*AddTrigger) change()   {}
func (*DropTrigger) change()  {}
