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

const exchangeTable = "Exchange"

type Exchange struct {
	ID          int
	Name        string
	Description string
	CalendarID  int
}

type ExchangeRepository struct {
	db     store.Adapter
	byID   *haxmap.Map[int, *Exchange]
	byName *haxmap.Map[string, *Exchange]
	mu     sync.Mutex
}

func NewExchangeRepository(db store.Adapter) *ExchangeRepository {
	return &ExchangeRepository{
		db:     db,
		byID:   haxmap.New[int, *Exchange](),
		byName: haxmap.New[string, *Exchange](),
	}
}

func (r *ExchangeRepository) Clear() {
	r.byID = haxmap.New[int, *Exchange]()
	r.byName = haxmap.New[string, *Exchange]()
}

func (r *ExchangeRepository) Find(ctx context.Context, id int) (*Exchange, error) {
	if ex, ok := r.byID.Get(id); ok {
		return ex, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.byID.Get(id); ok {
		return ex, nil
	}

	rows, err := r.db.GetTable(ctx, exchangeTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		log.Error().Stack().Err(err).Int("ExchangeID", id).Msg("could not load exchange")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

func (r *ExchangeRepository) FindByName(ctx context.Context, name string) (*Exchange, error) {
	if ex, ok := r.byName.Get(name); ok {
		return ex, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ex, ok := r.byName.Get(name); ok {
		return ex, nil
	}

	rows, err := r.db.GetTable(ctx, exchangeTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

func (r *ExchangeRepository) Create(ctx context.Context, name, description string, calendarID int) (*Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.GetTable(ctx, exchangeTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	id, err := nextID(ctx, r.db, exchangeTable, "ID")
	if err != nil {
		return nil, err
	}

	row := store.Row{"ID": id, "Name": name, "Description": description, "CalendarID": calendarID}
	if err := r.db.UpdateTable(ctx, exchangeTable, []string{"ID"}, []store.Row{row}); err != nil {
		return nil, err
	}
	return r.cache(row), nil
}

func (r *ExchangeRepository) cache(row store.Row) *Exchange {
	ex := &Exchange{
		ID:          store.AsInt(row["ID"]),
		Name:        store.AsString(row["Name"]),
		Description: store.AsString(row["Description"]),
		CalendarID:  store.AsInt(row["CalendarID"]),
	}
	r.byID.Set(ex.ID, ex)
	r.byName.Set(ex.Name, ex)
	return ex
}
