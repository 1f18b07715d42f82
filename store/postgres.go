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
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of pgxpool.Pool the adapter depends on; pgxmock
// satisfies it in tests.
type PgxIface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// SQL is an Adapter over a relational store reached through pgx.
type SQL struct {
	db    PgxIface
	style LimitStyle
}

// Connect opens the pool configured under database.url and wraps it in an
// adapter speaking the LIMIT dialect.
func Connect(ctx context.Context) (*SQL, error) {
	pool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return NewSQL(pool, LimitSuffix), nil
}

func NewSQL(db PgxIface, style LimitStyle) *SQL {
	return &SQL{db: db, style: style}
}

func (s *SQL) LimitStyle() LimitStyle {
	return s.style
}

func (s *SQL) GetTable(ctx context.Context, table string, columns []string, pred *Predicate) ([]Row, error) {
	subLog := log.With().Str("Table", table).Logger()

	sql, args := CompileSelect(s.style, table, columns, pred)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		subLog.Error().Stack().Err(err).Str("Query", sql).Msg("could not query table")
		return nil, err
	}
	defer rows.Close()

	res := make([]Row, 0, 16)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			subLog.Error().Stack().Err(err).Msg("could not read row values")
			return nil, err
		}
		row := make(Row, len(vals))
		for idx, fd := range rows.FieldDescriptions() {
			row[string(fd.Name)] = vals[idx]
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

func (s *SQL) UpdateTable(ctx context.Context, table string, keyColumns []string, rows []Row) error {
	for _, row := range rows {
		if err := s.upsert(ctx, table, keyColumns, row); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) upsert(ctx context.Context, table string, keyColumns []string, row Row) error {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	keySet := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		if _, ok := row[k]; !ok {
			return ErrMissingKey
		}
		keySet[k] = true
	}

	if s.style == TopPrefix {
		// no ON CONFLICT upsert in this dialect; replace by key
		conds := make([]Cond, 0, len(keyColumns))
		for _, k := range keyColumns {
			conds = append(conds, Eq(k, row[k]))
		}
		if err := s.DeleteTable(ctx, table, Where(conds...)); err != nil {
			return err
		}
		return s.insertRow(ctx, table, cols, row)
	}

	var sb strings.Builder
	args := make([]any, 0, len(cols))
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (", table, strings.Join(cols, ", "))
	for idx, col := range cols {
		if idx > 0 {
			sb.WriteString(",")
		}
		args = append(args, row[col])
		fmt.Fprintf(&sb, "$%d", len(args))
	}
	fmt.Fprintf(&sb, ") ON CONFLICT (%s) ", strings.Join(keyColumns, ", "))

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		if !keySet[col] {
			updates = append(updates, fmt.Sprintf("%s=EXCLUDED.%s", col, col))
		}
	}
	if len(updates) == 0 {
		sb.WriteString("DO NOTHING")
	} else {
		fmt.Fprintf(&sb, "DO UPDATE SET %s", strings.Join(updates, ", "))
	}

	_, err := s.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		log.Error().Stack().Err(err).Str("Table", table).Msg("could not upsert row")
	}
	return err
}

func (s *SQL) insertRow(ctx context.Context, table string, cols []string, row Row) error {
	var sb strings.Builder
	args := make([]any, 0, len(cols))
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (", table, strings.Join(cols, ", "))
	for idx, col := range cols {
		if idx > 0 {
			sb.WriteString(",")
		}
		args = append(args, row[col])
		fmt.Fprintf(&sb, "$%d", len(args))
	}
	sb.WriteString(")")
	_, err := s.db.Exec(ctx, sb.String(), args...)
	return err
}

func (s *SQL) DeleteTable(ctx context.Context, table string, pred *Predicate) error {
	var sb strings.Builder
	args := make([]any, 0, 4)
	fmt.Fprintf(&sb, "DELETE FROM %s", table)
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
	_, err := s.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		log.Error().Stack().Err(err).Str("Table", table).Msg("could not delete rows")
	}
	return err
}

// ExecBatch joins the statement stream into a single multi-statement
// command. Values are rendered as literals because the simple protocol does
// not bind parameters across statements.
func (s *SQL) ExecBatch(ctx context.Context, stmts []Stmt) error {
	if len(stmts) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, stmt := range stmts {
		sb.WriteString(CompileStmt(s.style, stmt))
	}
	_, err := s.db.Exec(ctx, sb.String())
	if err != nil {
		log.Error().Stack().Err(err).Int("NumStatements", len(stmts)).Msg("could not execute batch")
	}
	return err
}

