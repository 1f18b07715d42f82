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
	"sync"

	"github.com/alphadose/haxmap"

	"github.com/quantfabric/qf-kernel/store"
)

// dictionary interns strings into integer ids backed by a two-column
// table. Isin and Sedol values are shared by many securities so the
// security rows store the id, not the string.
type dictionary struct {
	db      store.Adapter
	table   string
	column  string
	byValue *haxmap.Map[string, int]
	byID    *haxmap.Map[int, string]
	mu      sync.Mutex
}

func newDictionary(db store.Adapter, table, column string) *dictionary {
	return &dictionary{
		db:      db,
		table:   table,
		column:  column,
		byValue: haxmap.New[string, int](),
		byID:    haxmap.New[int, string](),
	}
}

func (d *dictionary) clear() {
	d.byValue = haxmap.New[string, int]()
	d.byID = haxmap.New[int, string]()
}

// intern resolves value to its id, inserting a new row when the value has
// never been seen. Empty values intern to 0 without a store round trip.
func (d *dictionary) intern(ctx context.Context, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	if id, ok := d.byValue.Get(value); ok {
		return id, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byValue.Get(value); ok {
		return id, nil
	}

	rows, err := d.db.GetTable(ctx, d.table, nil, store.Where(store.Eq(d.column, value)))
	if err != nil {
		return 0, err
	}
	if len(rows) > 0 {
		id := store.AsInt(rows[0]["ID"])
		d.byValue.Set(value, id)
		d.byID.Set(id, value)
		return id, nil
	}

	maxRows, err := d.db.GetTable(ctx, d.table, []string{"ID"},
		(&store.Predicate{}).OrderedBy("ID", true).WithLimit(1))
	if err != nil {
		return 0, err
	}
	id := 1
	if len(maxRows) > 0 {
		id = store.AsInt(maxRows[0]["ID"]) + 1
	}

	row := store.Row{"ID": id, d.column: value}
	if err := d.db.UpdateTable(ctx, d.table, []string{"ID"}, []store.Row{row}); err != nil {
		return 0, err
	}
	d.byValue.Set(value, id)
	d.byID.Set(id, value)
	return id, nil
}

// lookup resolves an interned id back to its string. Id 0 is the empty
// value.
func (d *dictionary) lookup(ctx context.Context, id int) (string, error) {
	if id == 0 {
		return "", nil
	}
	if v, ok := d.byID.Get(id); ok {
		return v, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if v, ok := d.byID.Get(id); ok {
		return v, nil
	}

	rows, err := d.db.GetTable(ctx, d.table, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	v := store.AsString(rows[0][d.column])
	d.byValue.Set(v, id)
	d.byID.Set(id, v)
	return v, nil
}
