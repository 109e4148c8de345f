// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

// Package sqlx provides internal helpers shared by the dialect engine
// and the session layer: a small SQL text builder and the value
// serializer used for binding literal values.
package sqlx

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Builder provides a helper for writing SQL statements. Identifiers
// are quoted with QuoteChar and phrases are separated by one space.
type Builder struct {
	strings.Builder
	QuoteChar byte
}

// Build instantiates a new builder and writes the given phrase to it.
func Build(phrase string) *Builder {
	b := &Builder{QuoteChar: '`'}
	return b.P(phrase)
}

// P writes a list of phrases to the builder, space separated.
func (b *Builder) P(phrases ...string) *Builder {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		b.pad()
		b.WriteString(p)
	}
	return b
}

// Ident writes the given identifier quoted.
func (b *Builder) Ident(name string) *Builder {
	b.pad()
	b.WriteByte(b.QuoteChar)
	b.WriteString(name)
	b.WriteByte(b.QuoteChar)
	return b
}

// Comma writes a comma. The next phrase is padded as usual.
func (b *Builder) Comma() *Builder {
	b.WriteString(",")
	return b
}

// Wrap wraps the output of f with parentheses.
func (b *Builder) Wrap(f func(b *Builder)) *Builder {
	b.pad()
	b.WriteByte('(')
	f(b)
	b.WriteByte(')')
	return b
}

// MapComma maps the given length of elements with comma separation.
func (b *Builder) MapComma(n int, f func(i int, b *Builder)) *Builder {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.Comma()
		}
		f(i, b)
	}
	return b
}

func (b *Builder) pad() {
	if n := b.Len(); n > 0 {
		switch s := b.String(); s[n-1] {
		case ' ', '(':
		default:
			b.WriteByte(' ')
		}
	}
}

// BindValue serializes a Go value into a driver-storable primitive:
// booleans become 0/1 integers, and values without a native storage
// representation are serialized to their canonical JSON text form.
func BindValue(v any) (any, error) {
	switch v := v.(type) {
	case nil, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, string, []byte, time.Time:
		return v, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sqlx: serialize value of type %T: %w", v, err)
		}
		return string(buf), nil
	}
}

// BindValues serializes a slice of values in place of their originals.
func BindValues(vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		bound, err := BindValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = bound
	}
	return out, nil
}

// ScanStrings scans sql.Rows into a slice of strings and closes it.
func ScanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var vs []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return vs, rows.Err()
}
