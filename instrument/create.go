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

package instrument

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
)

// CreateInstrument inserts a base instrument row and returns the cached
// instance. A simulated instrument gets a negative id and a "$"-prefixed
// name and lives in memory only. The base rows (Instrument, SystemData,
// ThirdPartyData, Categories) are built first and written in sequence;
// a failure part way through deletes the rows already written.
func (r *Repository) CreateInstrument(ctx context.Context, name, description string, typ Type, currencyID int, funding FundingType, simulated bool) (*Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if simulated {
		if !strings.HasPrefix(name, SimulationPrefix) {
			name = SimulationPrefix + name
		}
		if _, ok := r.byName.Get(name); ok {
			return nil, ErrAlreadyExists
		}
		now := time.Now()
		inst := &Instrument{
			ID:          r.allocSimID(),
			Name:        name,
			Description: description,
			Type:        typ,
			CurrencyID:  currencyID,
			FundingType: funding,
			CalendarID:  -1,
			ScaleFactor: 1,
			CreateTime:  now,
			UpdateTime:  now,
			Simulated:   true,
		}
		r.cacheLocked(inst)
		return inst, nil
	}

	if _, ok := r.byName.Get(name); ok {
		return nil, ErrAlreadyExists
	}
	rows, err := r.db.GetTable(ctx, instrumentTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	id, err := r.nextInstrumentID(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	batch := []struct {
		table string
		row   store.Row
	}{
		{instrumentTable, store.Row{
			"ID":               id,
			"Name":             name,
			"Description":      description,
			"InstrumentTypeID": int(typ),
			"CurrencyID":       currencyID,
			"FundingTypeID":    int(funding),
			"CustomCalendarID": -1,
		}},
		{systemDataTable, store.Row{
			"ID":            id,
			"CreateTime":    now,
			"UpdateTime":    now,
			"Revision":      0,
			"Deleted":       false,
			"ExecutionCost": 0.0,
			"ScaleFactor":   1.0,
		}},
		{thirdPartyTable, store.Row{"ID": id, "Ticker": "", "Reference": ""}},
		{categoriesTable, store.Row{"ID": id, "AssetClass": "", "GeographicalRegion": ""}},
	}

	written := make([]string, 0, len(batch))
	for _, item := range batch {
		if err := r.db.UpdateTable(ctx, item.table, []string{"ID"}, []store.Row{item.row}); err != nil {
			r.compensate(ctx, id, written)
			return nil, err
		}
		written = append(written, item.table)
	}

	e, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Root(), nil
}

// compensate deletes the rows a failed multi-table create already wrote.
func (r *Repository) compensate(ctx context.Context, id int, tables []string) {
	for i := len(tables) - 1; i >= 0; i-- {
		if err := r.db.DeleteTable(ctx, tables[i], store.Where(store.Eq("ID", id))); err != nil {
			log.Error().Stack().Err(err).
				Int("InstrumentID", id).
				Str("Table", tables[i]).
				Msg("could not roll back partial instrument create")
		}
	}
}

// CreateSecurity attaches listing identity to an instrument and re-caches
// it as a Security. Isin and sedol are interned through their dictionary
// tables.
func (r *Repository) CreateSecurity(ctx context.Context, e Entity, isin, sedol string, exchangeID int, pointSize float64) (*Security, error) {
	root := e.Root()
	switch root.Type {
	case TypePortfolio, TypeStrategy, TypeDeposit, TypeSwap:
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(root.ID); ok {
		switch cur.(type) {
		case *Security, *Future:
			return nil, ErrAlreadyExists
		}
	}

	if !root.Simulated {
		rows, err := r.db.GetTable(ctx, securityTable, nil, store.Where(store.Eq("ID", root.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		isinID, err := r.isins.intern(ctx, isin)
		if err != nil {
			return nil, err
		}
		sedolID, err := r.sedols.intern(ctx, sedol)
		if err != nil {
			return nil, err
		}

		row := store.Row{
			"ID":         root.ID,
			"IsinID":     isinID,
			"SedolID":    sedolID,
			"ExchangeID": exchangeID,
			"PointSize":  pointSize,
		}
		if err := r.db.UpdateTable(ctx, securityTable, []string{"ID"}, []store.Row{row}); err != nil {
			return nil, err
		}
	}

	sec := &Security{
		Instrument: *root,
		Isin:       isin,
		Sedol:      sedol,
		ExchangeID: exchangeID,
		PointSize:  pointSize,
	}
	r.cacheLocked(sec)
	return sec, nil
}

// FutureTerms carries the contract fields of a new future.
type FutureTerms struct {
	GenericMonths     string
	FirstDeliveryDate time.Time
	LastDeliveryDate  time.Time
	FirstNoticeDate   time.Time
	LastTradeDate     time.Time
	TickSize          float64
	ContractSize      float64
	ContractMonth     int
	ContractYear      int
	UnderlyingID      int
}

// CreateFuture attaches contract terms to a security of type Future and
// re-caches it as a Future. Chain links are wired later by Futures.
func (r *Repository) CreateFuture(ctx context.Context, sec *Security, terms FutureTerms) (*Future, error) {
	if sec.Type != TypeFuture {
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(sec.ID); ok {
		if _, isFuture := cur.(*Future); isFuture {
			return nil, ErrAlreadyExists
		}
	}

	if !sec.Simulated {
		rows, err := r.db.GetTable(ctx, futureTable, nil, store.Where(store.Eq("ID", sec.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		row := store.Row{
			"ID":                     sec.ID,
			"GenericMonths":          terms.GenericMonths,
			"FirstDeliveryDate":      terms.FirstDeliveryDate,
			"LastDeliveryDate":       terms.LastDeliveryDate,
			"FirstNoticeDate":        terms.FirstNoticeDate,
			"LastTradeDate":          terms.LastTradeDate,
			"TickSize":               terms.TickSize,
			"ContractSize":           terms.ContractSize,
			"ContractMonth":          terms.ContractMonth,
			"ContractYear":           terms.ContractYear,
			"UnderlyingInstrumentID": terms.UnderlyingID,
		}
		if err := r.db.UpdateTable(ctx, futureTable, []string{"ID"}, []store.Row{row}); err != nil {
			return nil, err
		}
	}

	fut := &Future{
		Security:          *sec,
		GenericMonths:     terms.GenericMonths,
		FirstDeliveryDate: terms.FirstDeliveryDate,
		LastDeliveryDate:  terms.LastDeliveryDate,
		FirstNoticeDate:   terms.FirstNoticeDate,
		LastTradeDate:     terms.LastTradeDate,
		TickSize:          terms.TickSize,
		ContractSize:      terms.ContractSize,
		ContractMonth:     terms.ContractMonth,
		ContractYear:      terms.ContractYear,
		UnderlyingID:      terms.UnderlyingID,
	}
	r.cacheLocked(fut)
	return fut, nil
}

// CreatePortfolio attaches accounting scope to an instrument of type
// Portfolio and re-caches it as a Portfolio.
func (r *Repository) CreatePortfolio(ctx context.Context, e Entity, parentPortfolioID, strategyID, residualID int, custodian, account string, cloud bool) (*Portfolio, error) {
	root := e.Root()
	if root.Type != TypePortfolio {
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(root.ID); ok {
		if _, isPortfolio := cur.(*Portfolio); isPortfolio {
			return nil, ErrAlreadyExists
		}
	}

	if !root.Simulated {
		rows, err := r.db.GetTable(ctx, portfolioTable, nil, store.Where(store.Eq("ID", root.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		row := store.Row{
			"ID":                root.ID,
			"ParentPortfolioID": parentPortfolioID,
			"StrategyID":        strategyID,
			"ResidualID":        residualID,
			"Custodian":         custodian,
			"Account":           account,
			"Cloud":             cloud,
		}
		if err := r.db.UpdateTable(ctx, portfolioTable, []string{"ID"}, []store.Row{row}); err != nil {
			return nil, err
		}
	}

	p := &Portfolio{
		Instrument:        *root,
		ParentPortfolioID: parentPortfolioID,
		StrategyID:        strategyID,
		ResidualID:        residualID,
		Custodian:         custodian,
		Account:           account,
		Cloud:             cloud,
	}
	r.cacheLocked(p)

	if cloud {
		msg := realtime.Message{Type: realtime.CreateAccount, Content: p.ID}
		if err := r.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("PortfolioID", p.ID).Msg("could not publish account creation")
		}
	}
	return p, nil
}

// CreateStrategy attaches strategy scope to an instrument of type Strategy
// and re-caches it as a Strategy.
func (r *Repository) CreateStrategy(ctx context.Context, e Entity, portfolioID int, class string, cloud bool) (*Strategy, error) {
	root := e.Root()
	if root.Type != TypeStrategy {
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(root.ID); ok {
		if _, isStrategy := cur.(*Strategy); isStrategy {
			return nil, ErrAlreadyExists
		}
	}

	if !root.Simulated {
		rows, err := r.db.GetTable(ctx, strategyTable, nil, store.Where(store.Eq("ID", root.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		row := store.Row{
			"ID":          root.ID,
			"PortfolioID": portfolioID,
			"Class":       class,
			"Cloud":       cloud,
		}
		if err := r.db.UpdateTable(ctx, strategyTable, []string{"ID"}, []store.Row{row}); err != nil {
			return nil, err
		}
	}

	s := &Strategy{
		Instrument:  *root,
		PortfolioID: portfolioID,
		Class:       class,
		Cloud:       cloud,
	}
	r.cacheLocked(s)
	return s, nil
}

// CreateDeposit attaches rate terms to an instrument of type Deposit. The
// InterestRate row is written first; a failed Deposit write deletes it.
func (r *Repository) CreateDeposit(ctx context.Context, e Entity, maturity, maturityType, dayCount int) (*Deposit, error) {
	root := e.Root()
	if root.Type != TypeDeposit {
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(root.ID); ok {
		if _, isDeposit := cur.(*Deposit); isDeposit {
			return nil, ErrAlreadyExists
		}
	}

	if !root.Simulated {
		rows, err := r.db.GetTable(ctx, depositTable, nil, store.Where(store.Eq("ID", root.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		rateRow := store.Row{"ID": root.ID, "Maturity": maturity, "MaturityTypeID": maturityType}
		if err := r.db.UpdateTable(ctx, interestRateTable, []string{"ID"}, []store.Row{rateRow}); err != nil {
			return nil, err
		}
		row := store.Row{"ID": root.ID, "DayCountID": dayCount}
		if err := r.db.UpdateTable(ctx, depositTable, []string{"ID"}, []store.Row{row}); err != nil {
			r.compensate(ctx, root.ID, []string{interestRateTable})
			return nil, err
		}
	}

	d := &Deposit{
		Instrument:   *root,
		Maturity:     maturity,
		MaturityType: maturityType,
		DayCount:     dayCount,
	}
	r.cacheLocked(d)
	return d, nil
}

// CreateSwap attaches leg terms to an instrument of type InterestRateSwap.
func (r *Repository) CreateSwap(ctx context.Context, e Entity, maturity, maturityType, floatDayCount, floatFrequency, fixedDayCount, fixedFrequency int) (*Swap, error) {
	root := e.Root()
	if root.Type != TypeSwap {
		return nil, ErrWrongKind
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byID.Get(root.ID); ok {
		if _, isSwap := cur.(*Swap); isSwap {
			return nil, ErrAlreadyExists
		}
	}

	if !root.Simulated {
		rows, err := r.db.GetTable(ctx, swapTable, nil, store.Where(store.Eq("ID", root.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, ErrAlreadyExists
		}

		rateRow := store.Row{"ID": root.ID, "Maturity": maturity, "MaturityTypeID": maturityType}
		if err := r.db.UpdateTable(ctx, interestRateTable, []string{"ID"}, []store.Row{rateRow}); err != nil {
			return nil, err
		}
		row := store.Row{
			"ID":               root.ID,
			"FloatDayCountID":  floatDayCount,
			"FloatFrequencyID": floatFrequency,
			"FixedDayCountID":  fixedDayCount,
			"FixedFrequencyID": fixedFrequency,
		}
		if err := r.db.UpdateTable(ctx, swapTable, []string{"ID"}, []store.Row{row}); err != nil {
			r.compensate(ctx, root.ID, []string{interestRateTable})
			return nil, err
		}
	}

	s := &Swap{
		Instrument:     *root,
		Maturity:       maturity,
		MaturityType:   maturityType,
		FloatDayCount:  floatDayCount,
		FloatFrequency: floatFrequency,
		FixedDayCount:  fixedDayCount,
		FixedFrequency: fixedFrequency,
	}
	r.cacheLocked(s)
	return s, nil
}
