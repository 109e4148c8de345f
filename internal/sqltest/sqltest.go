// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqltest provides helpers for writing statement-level tests
// against a mocked database connection.
package sqltest

import (
	"database/sql/driver"
	"regexp"
	"strconv"
	"strings"

	"github.com/DATA-DOG/go-sqlmock"
)

// Rows converts textual table output, in the shape the pragma queries
// print it, to sqlmock rows. The first content line names the columns
// and every following line is a row. Integer cells are typed as int64
// so they scan into the flag and position fields of the live model,
// empty cells and the "nil" and NULL keywords scan as NULL, and
// everything else stays text. For example:
//
//	 name |   type  | notnull | pk
//	------+---------+---------+----
//	 id   | integer |    1    |  1
//	 name | text    |    0    |  0
func Rows(table string) *sqlmock.Rows {
	var rows *sqlmock.Rows
	for _, line := range strings.Split(table, "\n") {
		cells := splitCells(line)
		if cells == nil {
			continue
		}
		if rows == nil {
			rows = sqlmock.NewRows(cells)
			continue
		}
		values := make([]driver.Value, len(cells))
		for i, c := range cells {
			values[i] = cellValue(c)
		}
		rows.AddRow(values...)
	}
	return rows
}

// splitCells splits one table line into trimmed cells. Blank lines and
// +--- separator rules yield nil.
func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '+' || line[0] == '-' {
		return nil
	}
	cells := strings.Split(line, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func cellValue(c string) driver.Value {
	switch {
	case c == "" || c == "nil" || c == "NULL":
		return nil
	default:
		if n, err := strconv.ParseInt(c, 10, 64); err == nil {
			return n
		}
		return c
	}
}

// Escape turns a statement into an anchored sqlmock expectation:
// metacharacters are quoted, leading indentation is folded away and
// the pattern must match the executed statement in full.
func Escape(query string) string {
	lines := strings.Split(query, "\n")
	for i := range lines {
		lines[i] = strings.TrimPrefix(lines[i], " ")
	}
	query = strings.TrimSpace(strings.Join(lines, " "))
	return "^" + regexp.QuoteMeta(query) + "$"
}
