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

	"github.com/quantfabric/qf-kernel/store"
)

const dataProviderTable = "DataProvider"

// DefaultProviderID identifies the kernel's own data provider row.
const DefaultProviderID = 1

type DataProvider struct {
	ID          int
	Name        string
	Description string
}

type DataProviderRepository struct {
	db     store.Adapter
	byID   *haxmap.Map[int, *DataProvider]
	byName *haxmap.Map[string, *DataProvider]
	mu     sync.Mutex
}

func NewDataProviderRepository(db store.Adapter) *DataProviderRepository {
	return &DataProviderRepository{
		db:     db,
		byID:   haxmap.New[int, *DataProvider](),
		byName: haxmap.New[string, *DataProvider](),
	}
}

func (r *DataProviderRepository) Clear() {
	r.byID = haxmap.New[int, *DataProvider]()
	r.byName = haxmap.New[string, *DataProvider]()
}

// Default returns the kernel provider, creating its row on first use.
func (r *DataProviderRepository) Default(ctx context.Context) (*DataProvider, error) {
	if p, err := r.Find(ctx, DefaultProviderID); err == nil {
		return p, nil
	}
	p, err := r.Create(ctx, "Kernel", "kernel-sourced data")
	if err == ErrAlreadyExists {
		return r.Find(ctx, DefaultProviderID)
	}
	return p, err
}

func (r *DataProviderRepository) Find(ctx context.Context, id int) (*DataProvider, error) {
	if p, ok := r.byID.Get(id); ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byID.Get(id); ok {
		return p, nil
	}

	rows, err := r.db.GetTable(ctx, dataProviderTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

func (r *DataProviderRepository) FindByName(ctx context.Context, name string) (*DataProvider, error) {
	if p, ok := r.byName.Get(name); ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.byName.Get(name); ok {
		return p, nil
	}

	rows, err := r.db.GetTable(ctx, dataProviderTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.cache(rows[0]), nil
}

func (r *DataProviderRepository) Create(ctx context.Context, name, description string) (*DataProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.GetTable(ctx, dataProviderTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	id, err := nextID(ctx, r.db, dataProviderTable, "ID")
	if err != nil {
		return nil, err
	}

	row := store.Row{"ID": id, "Name": name, "Description": description}
	if err := r.db.UpdateTable(ctx, dataProviderTable, []string{"ID"}, []store.Row{row}); err != nil {
		return nil, err
	}
	return r.cache(row), nil
}

func (r *DataProviderRepository) cache(row store.Row) *DataProvider {
	p := &DataProvider{
		ID:          store.AsInt(row["ID"]),
		Name:        store.AsString(row["Name"]),
		Description: store.AsString(row["Description"]),
	}
	r.byID.Set(p.ID, p)
	r.byName.Set(p.Name, p)
	return p
}
