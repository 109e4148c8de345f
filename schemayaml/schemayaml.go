// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package schemayaml loads table declarations from YAML files into the
// schema model. It exists for the CLI; applications embedding the
// engine declare tables in code.
package schemayaml

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"nesodb.io/synclite/schema"
)

type (
	// File is the root of a schema declaration file.
	File struct {
		Tables []TableSpec `yaml:"tables"`
	}

	// TableSpec declares one table.
	TableSpec struct {
		Name       string         `yaml:"name"`
		Columns    []ColumnSpec   `yaml:"columns"`
		PrimaryKey []string       `yaml:"primary_key"`
		Indexes    []IndexSpec    `yaml:"indexes"`
		Timestamps TimestampsSpec `yaml:"timestamps"`
		SoftDelete bool           `yaml:"soft_delete"`
	}

	// ColumnSpec declares one column.
	ColumnSpec struct {
		Name    string  `yaml:"name"`
		Kind    string  `yaml:"kind"`
		NotNull bool    `yaml:"not_null"`
		Default *string `yaml:"default"`
		Cast    string  `yaml:"cast"`
	}

	// IndexSpec declares one index.
	IndexSpec struct {
		Columns []string `yaml:"columns"`
		Unique  bool     `yaml:"unique"`
	}

	// TimestampsSpec declares the reserved timestamp columns.
	TimestampsSpec struct {
		Create bool `yaml:"create"`
		Update bool `yaml:"update"`
	}
)

// Load reads a schema declaration file and returns the validated
// table set.
func Load(r io.Reader) ([]*schema.Table, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("schemayaml: decode: %w", err)
	}
	tables := make([]*schema.Table, 0, len(f.Tables))
	for _, ts := range f.Tables {
		t, err := ts.table()
		if err != nil {
			return nil, err
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (ts TableSpec) table() (*schema.Table, error) {
	t := schema.NewTable(ts.Name).
		SetPrimaryKey(ts.PrimaryKey...).
		SetTimestamps(ts.Timestamps.Create, ts.Timestamps.Update).
		SetSoftDelete(ts.SoftDelete)
	for _, cs := range ts.Columns {
		kind, err := kindOf(cs.Kind)
		if err != nil {
			return nil, fmt.Errorf("schemayaml: table %q, column %q: %w", ts.Name, cs.Name, err)
		}
		c := schema.NewColumn(cs.Name, kind).SetNotNull(cs.NotNull).SetCast(cs.Cast)
		if cs.Default != nil {
			c.SetDefault(&schema.Literal{V: *cs.Default})
		}
		t.AddColumns(c)
	}
	for _, is := range ts.Indexes {
		t.AddIndex(is.Unique, is.Columns...)
	}
	return t, nil
}

func kindOf(name string) (schema.Kind, error) {
	switch name {
	case "increment-id":
		return schema.IncrementIDKind{}, nil
	case "integer", "int":
		return schema.IntegerKind{}, nil
	case "boolean", "bool":
		return schema.BooleanKind{}, nil
	case "string", "text":
		return schema.StringKind{}, nil
	case "object", "json":
		return schema.ObjectKind{}, nil
	case "float", "real":
		return schema.FloatKind{}, nil
	case "blob":
		return schema.BlobKind{}, nil
	}
	return nil, fmt.Errorf("unknown column kind %q", name)
}
