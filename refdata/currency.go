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

package refdata

import (
	"context"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/store"
)

const (
	currencyTable     = "Currency"
	currencyPairTable = "CurrencyPair"
)

// Currency is a cached reference currency. A given id resolves to one
// instance per process.
type Currency struct {
	ID          int
	Name        string
	Description string
	CalendarID  int
}

// CurrencyPair links two currencies to the instrument quoting their
// exchange rate.
type CurrencyPair struct {
	BuyCurrencyID  int
	SellCurrencyID int
	FXInstrumentID int
}

// CurrencyRepository resolves currencies by id or name, caching every row
// it loads. Reads after first resolution are lock free; the mutex only
// serializes the check-then-act regions of create and first load.
type CurrencyRepository struct {
	db     store.Adapter
	byID   *haxmap.Map[int, *Currency]
	byName *haxmap.Map[string, *Currency]
	pairs  *haxmap.Map[string, *CurrencyPair]
	mu     sync.Mutex
}

func NewCurrencyRepository(db store.Adapter) *CurrencyRepository {
	return &CurrencyRepository{
		db:     db,
		byID:   haxmap.New[int, *Currency](),
		byName: haxmap.New[string, *Currency](),
		pairs:  haxmap.New[string, *CurrencyPair](),
	}
}

// Clear evicts all cached currencies; used by tests.
func (r *CurrencyRepository) Clear() {
	r.byID = haxmap.New[int, *Currency]()
	r.byName = haxmap.New[string, *Currency]()
	r.pairs = haxmap.New[string, *CurrencyPair]()
}

func (r *CurrencyRepository) Find(ctx context.Context, id int) (*Currency, error) {
	if ccy, ok := r.byID.Get(id); ok {
		return ccy, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ccy, ok := r.byID.Get(id); ok {
		return ccy, nil
	}

	rows, err := r.db.GetTable(ctx, currencyTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		log.Error().Stack().Err(err).Int("CurrencyID", id).Msg("could not load currency")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

func (r *CurrencyRepository) FindByName(ctx context.Context, name string) (*Currency, error) {
	if ccy, ok := r.byName.Get(name); ok {
		return ccy, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ccy, ok := r.byName.Get(name); ok {
		return ccy, nil
	}

	rows, err := r.db.GetTable(ctx, currencyTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		log.Error().Stack().Err(err).Str("Name", name).Msg("could not load currency")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

// Create inserts a currency row and returns the cached instance. Returns
// ErrAlreadyExists when a currency with the same name is already on file.
func (r *CurrencyRepository) Create(ctx context.Context, name, description string, calendarID int) (*Currency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.GetTable(ctx, currencyTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	id, err := nextID(ctx, r.db, currencyTable, "ID")
	if err != nil {
		return nil, err
	}

	row := store.Row{
		"ID":          id,
		"Name":        name,
		"Description": description,
		"CalendarID":  calendarID,
	}
	if err := r.db.UpdateTable(ctx, currencyTable, []string{"ID"}, []store.Row{row}); err != nil {
		return nil, err
	}
	return r.cache(row), nil
}

func (r *CurrencyRepository) cache(row store.Row) *Currency {
	ccy := &Currency{
		ID:          store.AsInt(row["ID"]),
		Name:        store.AsString(row["Name"]),
		Description: store.AsString(row["Description"]),
		CalendarID:  store.AsInt(row["CalendarID"]),
	}
	r.byID.Set(ccy.ID, ccy)
	r.byName.Set(ccy.Name, ccy)
	return ccy
}

// FindPair resolves the FX instrument quoting buy against sell.
func (r *CurrencyRepository) FindPair(ctx context.Context, buyID, sellID int) (*CurrencyPair, error) {
	key := pairKey(buyID, sellID)
	if pair, ok := r.pairs.Get(key); ok {
		return pair, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if pair, ok := r.pairs.Get(key); ok {
		return pair, nil
	}

	rows, err := r.db.GetTable(ctx, currencyPairTable, nil,
		store.Where(store.Eq("BuyCurrencyID", buyID), store.Eq("SellCurrencyID", sellID)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	pair := &CurrencyPair{
		BuyCurrencyID:  store.AsInt(rows[0]["BuyCurrencyID"]),
		SellCurrencyID: store.AsInt(rows[0]["SellCurrencyID"]),
		FXInstrumentID: store.AsInt(rows[0]["FXInstrumentID"]),
	}
	r.pairs.Set(key, pair)
	return pair, nil
}

// CreatePair registers the FX instrument for a currency pair.
func (r *CurrencyRepository) CreatePair(ctx context.Context, buyID, sellID, fxInstrumentID int) (*CurrencyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.GetTable(ctx, currencyPairTable, nil,
		store.Where(store.Eq("BuyCurrencyID", buyID), store.Eq("SellCurrencyID", sellID)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	row := store.Row{
		"BuyCurrencyID":  buyID,
		"SellCurrencyID": sellID,
		"FXInstrumentID": fxInstrumentID,
	}
	if err := r.db.UpdateTable(ctx, currencyPairTable, []string{"BuyCurrencyID", "SellCurrencyID"}, []store.Row{row}); err != nil {
		return nil, err
	}
	pair := &CurrencyPair{BuyCurrencyID: buyID, SellCurrencyID: sellID, FXInstrumentID: fxInstrumentID}
	r.pairs.Set(pairKey(buyID, sellID), pair)
	return pair, nil
}
