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
	"fmt"
	"sort"
	"strings"
	"time"
)

const sqlTimeFormat = "2006-01-02 15:04:05.000"

// CompileSelect renders a predicate into a SELECT statement with positional
// arguments. The limit clause follows the requested dialect.
func CompileSelect(style LimitStyle, table string, columns []string, pred *Predicate) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, 4)

	proj := "*"
	if len(columns) > 0 {
		proj = strings.Join(columns, ", ")
	}

	sb.WriteString("SELECT ")
	if pred != nil && pred.Limit > 0 && style == TopPrefix {
		fmt.Fprintf(&sb, "TOP %d ", pred.Limit)
	}
	sb.WriteString(proj)
	sb.WriteString(" FROM ")
	sb.WriteString(table)

	if pred != nil && len(pred.Conds) > 0 {
		sb.WriteString(" WHERE ")
		for idx, c := range pred.Conds {
			if idx > 0 {
				sb.WriteString(" AND ")
			}
			args = append(args, c.Value)
			fmt.Fprintf(&sb, "%s %s $%d", c.Column, c.Op, len(args))
		}
	}

	if pred != nil && len(pred.Order) > 0 {
		sb.WriteString(" ORDER BY ")
		for idx, o := range pred.Order {
			if idx > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(o.Column)
			if o.Desc {
				sb.WriteString(" DESC")
			}
		}
	}

	if pred != nil && pred.Limit > 0 && style == LimitSuffix {
		fmt.Fprintf(&sb, " LIMIT %d", pred.Limit)
	}

	return sb.String(), args
}

// CompileStmt renders a batch statement into literal SQL. Batch statements
// are executed as a multi-statement command, so values are embedded as
// literals rather than bound parameters.
func CompileStmt(style LimitStyle, s Stmt) string {
	var sb strings.Builder
	switch s.Op {
	case OpInsert:
		cols := make([]string, 0, len(s.Values))
		for col := range s.Values {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		sb.WriteString("INSERT INTO ")
		sb.WriteString(s.Table)
		sb.WriteString(" (")
		sb.WriteString(strings.Join(cols, ", "))
		sb.WriteString(") VALUES (")
		for idx, col := range cols {
			if idx > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(Literal(style, s.Values[col]))
		}
		sb.WriteString(");")
	case OpDelete:
		sb.WriteString("DELETE FROM ")
		sb.WriteString(s.Table)
		sb.WriteString(" WHERE ")
		for idx, c := range s.Key {
			if idx > 0 {
				sb.WriteString(" AND ")
			}
			fmt.Fprintf(&sb, "%s %s %s", c.Column, c.Op, Literal(style, c.Value))
		}
		sb.WriteString(";")
	}
	return sb.String()
}

// Literal renders a Go value as a SQL literal. Booleans follow the
// dialect: TRUE/FALSE where LIMIT is a suffix, 1/0 where TOP is a prefix,
// matching how the bound-parameter paths type the same columns.
func Literal(style LimitStyle, v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case time.Time:
		return "'" + val.Format(sqlTimeFormat) + "'"
	case bool:
		if style == TopPrefix {
			if val {
				return "1"
			}
			return "0"
		}
		if val {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return fmt.Sprintf("%v", val)
	case float32:
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%d", v)
	}
}
