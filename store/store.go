// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store defines the tabular persistence boundary the kernel
// repositories read from and flush to. Adapters provide row-level CRUD with
// structured predicates; the kernel never sees driver types.
package store

import "context"

// Row is a single table row keyed by column name.
type Row map[string]any

// Cond is one predicate term; terms are ANDed together.
type Cond struct {
	Column string
	Op     string // "=", "<>", "<", "<=", ">", ">=", "LIKE"
	Value  any
}

type OrderBy struct {
	Column string
	Desc   bool
}

// Predicate selects rows from a table. A zero Limit means unbounded.
type Predicate struct {
	Conds []Cond
	Order []OrderBy
	Limit int
}

func Eq(column string, value any) Cond  { return Cond{Column: column, Op: "=", Value: value} }
func Lte(column string, value any) Cond { return Cond{Column: column, Op: "<=", Value: value} }
func Gte(column string, value any) Cond { return Cond{Column: column, Op: ">=", Value: value} }

// Where builds a predicate from a list of ANDed terms.
func Where(conds ...Cond) *Predicate {
	return &Predicate{Conds: conds}
}

func (p *Predicate) OrderedBy(column string, desc bool) *Predicate {
	p.Order = append(p.Order, OrderBy{Column: column, Desc: desc})
	return p
}

func (p *Predicate) WithLimit(n int) *Predicate {
	p.Limit = n
	return p
}

type StmtOp int

const (
	OpInsert StmtOp = iota
	OpDelete
)

// Stmt is one element of a consolidated write batch. Insert statements carry
// Values; delete statements carry the Key terms identifying rows to remove.
type Stmt struct {
	Op     StmtOp
	Table  string
	Values Row
	Key    []Cond
}

// LimitStyle is the adapter's row-limiting dialect, queried once by callers
// instead of type-testing the adapter.
type LimitStyle int

const (
	// LimitSuffix appends "LIMIT n" (postgres, sqlite).
	LimitSuffix LimitStyle = iota
	// TopPrefix injects "TOP n" after SELECT (sql server).
	TopPrefix
)

// Adapter is the backing-store contract consumed by every repository.
//
// GetTable reads rows matching pred (all rows when pred is nil), projected
// to columns (all columns when nil). UpdateTable upserts rows by the given
// key columns. DeleteTable removes matching rows. ExecBatch applies a
// consolidated stream of insert/delete statements; adapters may split the
// stream into multiple round trips but must preserve statement order.
type Adapter interface {
	GetTable(ctx context.Context, table string, columns []string, pred *Predicate) ([]Row, error)
	UpdateTable(ctx context.Context, table string, keyColumns []string, rows []Row) error
	DeleteTable(ctx context.Context, table string, pred *Predicate) error
	ExecBatch(ctx context.Context, stmts []Stmt) error
	LimitStyle() LimitStyle
}
