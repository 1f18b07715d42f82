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

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/store"
)

// Reserves returns the portfolio's funding reserves, loading them once and
// serving from memory afterwards.
func (l *Ledger) Reserves(ctx context.Context, p *instrument.Portfolio) ([]Reserve, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reservesLocked(ctx, p.ID)
}

// Reserve resolves the portfolio's reserve for a currency.
func (l *Ledger) Reserve(ctx context.Context, p *instrument.Portfolio, currencyID int) (Reserve, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserves, err := l.reservesLocked(ctx, p.ID)
	if err != nil {
		return Reserve{}, err
	}
	for _, r := range reserves {
		if r.CurrencyID == currencyID {
			return r, nil
		}
	}
	return Reserve{}, ErrNotFound
}

// AddReserve sets the funding instruments for a currency. The scope's rows
// are read once, the matching currency updated in place or appended, and
// the whole scope written back.
func (l *Ledger) AddReserve(ctx context.Context, p *instrument.Portfolio, currencyID, longInstrumentID, shortInstrumentID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	reserves, err := l.reservesLocked(ctx, p.ID)
	if err != nil {
		return err
	}

	found := false
	for i := range reserves {
		if reserves[i].CurrencyID == currencyID {
			reserves[i].LongInstrumentID = longInstrumentID
			reserves[i].ShortInstrumentID = shortInstrumentID
			found = true
			break
		}
	}
	if !found {
		reserves = append(reserves, Reserve{
			PortfolioID:       p.ID,
			CurrencyID:        currencyID,
			LongInstrumentID:  longInstrumentID,
			ShortInstrumentID: shortInstrumentID,
		})
	}
	l.reserves[p.ID] = reserves

	if p.Simulated {
		return nil
	}

	rows := make([]store.Row, 0, len(reserves))
	for _, r := range reserves {
		rows = append(rows, store.Row{
			"PortfolioID":       r.PortfolioID,
			"CurrencyID":        r.CurrencyID,
			"LongInstrumentID":  r.LongInstrumentID,
			"ShortInstrumentID": r.ShortInstrumentID,
		})
	}
	return l.db.UpdateTable(ctx, reservesTable, []string{"PortfolioID", "CurrencyID"}, rows)
}

func (l *Ledger) reservesLocked(ctx context.Context, portfolioID int) ([]Reserve, error) {
	if reserves, ok := l.reserves[portfolioID]; ok {
		return reserves, nil
	}

	rows, err := l.db.GetTable(ctx, reservesTable, nil,
		store.Where(store.Eq("PortfolioID", portfolioID)))
	if err != nil {
		return nil, err
	}

	reserves := make([]Reserve, 0, len(rows))
	for _, row := range rows {
		reserves = append(reserves, Reserve{
			PortfolioID:       store.AsInt(row["PortfolioID"]),
			CurrencyID:        store.AsInt(row["CurrencyID"]),
			LongInstrumentID:  store.AsInt(row["LongInstrumentID"]),
			ShortInstrumentID: store.AsInt(row["ShortInstrumentID"]),
		})
	}
	l.reserves[portfolioID] = reserves
	return reserves, nil
}
