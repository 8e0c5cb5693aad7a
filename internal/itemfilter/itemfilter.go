// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package itemfilter selects items with an expr-lang boolean expression over
// the item id and its decoded JSON payload, for example
//
//	id startsWith "build-" && data.progress >= 50
package itemfilter

import (
	"encoding/json"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/autobrr/jobwatch/internal/remote"
)

type env struct {
	ID   string `expr:"id"`
	Data any    `expr:"data"`
}

type Filter struct {
	source  string
	program *vm.Program
}

// Compile parses source. An empty source yields a nil Filter that matches
// every item.
func Compile(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}

	program, err := expr.Compile(source, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "compile filter %q", source)
	}
	return &Filter{source: source, program: program}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match evaluates the filter against item. A payload that is not valid JSON
// or an expression that fails at runtime is reported as an error.
func (f *Filter) Match(item remote.Item) (bool, error) {
	if f == nil {
		return true, nil
	}

	e := env{ID: item.ID}
	if len(item.Data) > 0 {
		if err := json.Unmarshal(item.Data, &e.Data); err != nil {
			return false, errors.Wrapf(err, "decode data of %s", item.ID)
		}
	}

	out, err := expr.Run(f.program, e)
	if err != nil {
		return false, errors.Wrapf(err, "evaluate filter on %s", item.ID)
	}
	matched, _ := out.(bool)
	return matched, nil
}

// Select returns the items f matches. Items the filter cannot evaluate are
// dropped and reported through onError when it is not nil.
func (f *Filter) Select(items []remote.Item, onError func(remote.Item, error)) []remote.Item {
	if f == nil {
		return items
	}

	out := make([]remote.Item, 0, len(items))
	for _, item := range items {
		ok, err := f.Match(item)
		if err != nil {
			if onError != nil {
				onError(item, err)
			}
			continue
		}
		if ok {
			out = append(out, item)
		}
	}
	return out
}
