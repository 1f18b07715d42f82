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

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an Adapter holding all tables in process memory. It backs
// simulation runs and the repository test suites.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Row),
	}
}

func (m *Memory) LimitStyle() LimitStyle {
	return LimitSuffix
}

// Clear drops every table; used between test cases.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string][]Row)
}

func (m *Memory) GetTable(_ context.Context, table string, columns []string, pred *Predicate) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Projection happens last so ORDER BY can reference columns the
	// caller did not select.
	res := make([]Row, 0, 16)
	for _, row := range m.tables[table] {
		if matches(row, pred) {
			res = append(res, row)
		}
	}

	if pred != nil && len(pred.Order) > 0 {
		sort.SliceStable(res, func(i, j int) bool {
			for _, o := range pred.Order {
				c := compare(res[i][o.Column], res[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if pred != nil && pred.Limit > 0 && len(res) > pred.Limit {
		res = res[:pred.Limit]
	}

	out := make([]Row, len(res))
	for i, row := range res {
		out[i] = project(row, columns)
	}
	return out, nil
}

func (m *Memory) UpdateTable(_ context.Context, table string, keyColumns []string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range rows {
		for _, k := range keyColumns {
			if _, ok := row[k]; !ok {
				return ErrMissingKey
			}
		}

		replaced := false
		for idx, existing := range m.tables[table] {
			match := true
			for _, k := range keyColumns {
				if compare(existing[k], row[k]) != 0 {
					match = false
					break
				}
			}
			if match {
				m.tables[table][idx] = cloneRow(row)
				replaced = true
				break
			}
		}
		if !replaced {
			m.tables[table] = append(m.tables[table], cloneRow(row))
		}
	}
	return nil
}

func (m *Memory) DeleteTable(_ context.Context, table string, pred *Predicate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(table, pred)
	return nil
}

func (m *Memory) deleteLocked(table string, pred *Predicate) {
	kept := make([]Row, 0, len(m.tables[table]))
	for _, row := range m.tables[table] {
		if !matches(row, pred) {
			kept = append(kept, row)
		}
	}
	m.tables[table] = kept
}

func (m *Memory) ExecBatch(_ context.Context, stmts []Stmt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, stmt := range stmts {
		switch stmt.Op {
		case OpInsert:
			m.tables[stmt.Table] = append(m.tables[stmt.Table], cloneRow(stmt.Values))
		case OpDelete:
			m.deleteLocked(stmt.Table, &Predicate{Conds: stmt.Key})
		}
	}
	return nil
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func project(row Row, columns []string) Row {
	if len(columns) == 0 {
		return cloneRow(row)
	}
	out := make(Row, len(columns))
	for _, col := range columns {
		out[col] = row[col]
	}
	return out
}

func matches(row Row, pred *Predicate) bool {
	if pred == nil {
		return true
	}
	for _, c := range pred.Conds {
		v, ok := row[c.Column]
		if !ok {
			return false
		}
		cmp := compare(v, c.Value)
		switch c.Op {
		case "=", "LIKE":
			if cmp != 0 {
				return false
			}
		case "<>":
			if cmp == 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compare orders two column values, normalizing numeric types so int and
// float comparisons behave like they would in the database.
func compare(a, b any) int {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return -1
		}
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return -1
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return -1
		}
		return strings.Compare(as, bs)
	}

	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return -1
		}
		switch {
		case ab == bb:
			return 0
		case bb:
			return -1
		}
		return 1
	}

	if a == b {
		return 0
	}
	return -1
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	}
	return 0, false
}
