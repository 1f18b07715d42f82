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

package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/store"
)

// Query paths read through to the store; they never serve from the pending
// buffers. Each applies nearest-prior windowing: find the latest row date
// at or before the requested date, then select every row on that same
// calendar day.

// LoadPositions returns the portfolio's position snapshots on the nearest
// day at or before date.
func (l *Ledger) LoadPositions(ctx context.Context, p *instrument.Portfolio, date time.Time) ([]Position, error) {
	cacheKey := fmt.Sprintf("pos_%d_%s", p.ID, date.Format("2006-01-02T15:04:05"))
	if cached, ok := l.queryCache.Get(cacheKey); ok {
		return cached.([]Position), nil
	}

	day, ok, err := l.nearestPriorDay(ctx, positionTable, "PortfolioID", p.ID, "Timestamp", date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Position{}, nil
	}

	rows, err := l.db.GetTable(ctx, positionTable, nil,
		store.Where(
			store.Eq("PortfolioID", p.ID),
			store.Gte("Timestamp", day),
			store.Lte("Timestamp", common.CloseOfBusiness(day)),
		).OrderedBy("Timestamp", false))
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		positions = append(positions, positionFromRow(row))
	}
	l.queryCache.Add(cacheKey, positions)
	return positions, nil
}

// LoadOrders returns the portfolio's orders on the nearest day at or
// before date.
func (l *Ledger) LoadOrders(ctx context.Context, p *instrument.Portfolio, date time.Time) ([]Order, error) {
	cacheKey := fmt.Sprintf("ord_%d_%s", p.ID, date.Format("2006-01-02T15:04:05"))
	if cached, ok := l.queryCache.Get(cacheKey); ok {
		return cached.([]Order), nil
	}

	day, ok, err := l.nearestPriorDay(ctx, ordersTable, "PortfolioID", p.ID, "OrderDate", date)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Order{}, nil
	}

	rows, err := l.db.GetTable(ctx, ordersTable, nil,
		store.Where(
			store.Eq("PortfolioID", p.ID),
			store.Gte("OrderDate", day),
			store.Lte("OrderDate", common.CloseOfBusiness(day)),
		).OrderedBy("OrderDate", false))
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, orderFromRow(row))
	}
	l.queryCache.Add(cacheKey, orders)
	return orders, nil
}

// OpenOrders returns the submitted orders on the nearest day at or before
// date.
func (l *Ledger) OpenOrders(ctx context.Context, p *instrument.Portfolio, date time.Time) ([]Order, error) {
	orders, err := l.LoadOrders(ctx, p, date)
	if err != nil {
		return nil, err
	}
	open := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == OrderSubmitted {
			open = append(open, o)
		}
	}
	return open, nil
}

// NonExecutedOrders returns the orders on the nearest day at or before
// date that did not execute.
func (l *Ledger) NonExecutedOrders(ctx context.Context, p *instrument.Portfolio, date time.Time) ([]Order, error) {
	orders, err := l.LoadOrders(ctx, p, date)
	if err != nil {
		return nil, err
	}
	rejected := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == OrderNotExecuted {
			rejected = append(rejected, o)
		}
	}
	return rejected, nil
}

// LastPositionTimestamp returns the latest position timestamp on file for
// the portfolio.
func (l *Ledger) LastPositionTimestamp(ctx context.Context, p *instrument.Portfolio) (time.Time, error) {
	return l.boundaryTimestamp(ctx, positionTable, p.ID, "Timestamp", true)
}

// FirstPositionTimestamp returns the earliest position timestamp on file
// for the portfolio.
func (l *Ledger) FirstPositionTimestamp(ctx context.Context, p *instrument.Portfolio) (time.Time, error) {
	return l.boundaryTimestamp(ctx, positionTable, p.ID, "Timestamp", false)
}

// LastOrderTimestamp returns the latest order date on file for the
// portfolio.
func (l *Ledger) LastOrderTimestamp(ctx context.Context, p *instrument.Portfolio) (time.Time, error) {
	return l.boundaryTimestamp(ctx, ordersTable, p.ID, "OrderDate", true)
}

func (l *Ledger) boundaryTimestamp(ctx context.Context, table string, portfolioID int, column string, latest bool) (time.Time, error) {
	rows, err := l.db.GetTable(ctx, table, []string{column},
		store.Where(store.Eq("PortfolioID", portfolioID)).OrderedBy(column, latest).WithLimit(1))
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, ErrNotFound
	}
	return store.AsTime(rows[0][column]), nil
}

// nearestPriorDay finds the latest row date at or before date and returns
// the midnight of its calendar day.
func (l *Ledger) nearestPriorDay(ctx context.Context, table, scopeColumn string, scopeID int, dateColumn string, date time.Time) (time.Time, bool, error) {
	rows, err := l.db.GetTable(ctx, table, []string{dateColumn},
		store.Where(
			store.Eq(scopeColumn, scopeID),
			store.Lte(dateColumn, date),
		).OrderedBy(dateColumn, true).WithLimit(1))
	if err != nil {
		return time.Time{}, false, err
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	ts := store.AsTime(rows[0][dateColumn])
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	return day, true, nil
}
