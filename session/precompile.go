// Copyright 2023-present The Synclite Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nesodb.io/synclite/internal/sqlx"
	"nesodb.io/synclite/schema"
)

// A Binder hands out virtual-parameter tokens during query
// construction. The builder function receives one and places tokens
// where literal values would normally go; on every later compilation
// only those slots are re-bound with actual values.
type Binder interface {
	// Named returns the virtual token standing in for the parameter
	// with the given name.
	Named(name string) any
}

// Virtual tokens are framed with a control character so no legitimate
// literal value collides with them. A real literal that happens to
// match the token format is undefined behavior and a documented
// limitation of the cache, not a supported case.
const (
	tokenPrefix = "\x16vp:"
	tokenSuffix = "\x16"
)

type tokenBinder struct{}

func (tokenBinder) Named(name string) any { return tokenPrefix + name + tokenSuffix }

// tokenName reports if a captured slot value is a virtual token and
// returns the parameter name it refers to.
func tokenName(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, tokenPrefix) || !strings.HasSuffix(s, tokenSuffix) {
		return "", false
	}
	return s[len(tokenPrefix) : len(s)-len(tokenSuffix)], true
}

// A Compiled separates one-time query construction from repeated
// execution: the first Compile invokes the builder function once with
// virtual tokens, captures the SQL text and the ordered parameter
// slots, and every later Compile reuses them, substituting only the
// token slots.
//
// Like the Session it is meant to run on, a Compiled is not safe for
// concurrent use.
type Compiled struct {
	build func(Binder) (string, []any)

	ready bool
	text  string
	slots []any
}

// Precompile returns a compiled-query handle for the given builder
// function. Construction is deferred to the first Compile call.
func Precompile(build func(Binder) (string, []any)) *Compiled {
	return &Compiled{build: build}
}

// Compile returns the cached SQL text and the bound argument list for
// the given parameter values. Values are run through the same
// serializer used for ordinary statement binding.
func (c *Compiled) Compile(params map[string]any) (string, []any, error) {
	if !c.ready {
		c.text, c.slots = c.build(tokenBinder{})
		c.ready = true
	}
	args := make([]any, len(c.slots))
	for i, slot := range c.slots {
		name, ok := tokenName(slot)
		if !ok {
			args[i] = slot
			continue
		}
		v, ok := params[name]
		if !ok {
			return "", nil, fmt.Errorf("session: compile: missing value for parameter %q", name)
		}
		bound, err := sqlx.BindValue(v)
		if err != nil {
			return "", nil, err
		}
		args[i] = bound
	}
	return c.text, args, nil
}

// Exec compiles with the given parameters and executes the statement
// on the given handle.
func (c *Compiled) Exec(ctx context.Context, ex schema.ExecQuerier, params map[string]any) (sql.Result, error) {
	text, args, err := c.Compile(params)
	if err != nil {
		return nil, err
	}
	return ex.ExecContext(ctx, text, args...)
}

// Query compiles with the given parameters and runs the query on the
// given handle.
func (c *Compiled) Query(ctx context.Context, ex schema.ExecQuerier, params map[string]any) (*sql.Rows, error) {
	text, args, err := c.Compile(params)
	if err != nil {
		return nil, err
	}
	return ex.QueryContext(ctx, text, args...)
}

// Dispose invalidates the cached text and slots, forcing the next
// Compile to rebuild. Disposing twice is a no-op.
func (c *Compiled) Dispose() {
	c.ready = false
	c.text = ""
	c.slots = nil
}
