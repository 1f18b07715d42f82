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
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/store"
)

// Futures loads every future written against the underlying and wires the
// roll chain: ascending last-trade date, with Previous and Next mutually
// consistent. A future that fails to load is skipped.
func (r *Repository) Futures(ctx context.Context, underlyingID int) ([]*Future, error) {
	rows, err := r.db.GetTable(ctx, futureTable, []string{"ID"},
		store.Where(store.Eq("UnderlyingInstrumentID", underlyingID)).OrderedBy("LastTradeDate", false))
	if err != nil {
		log.Error().Stack().Err(err).Int("UnderlyingID", underlyingID).Msg("could not load future chain")
		return nil, err
	}

	futures := make([]*Future, 0, len(rows))
	for _, row := range rows {
		e, err := r.Find(ctx, store.AsInt(row["ID"]))
		if err != nil {
			log.Warn().Err(err).Int("FutureID", store.AsInt(row["ID"])).Msg("skipping future in chain")
			continue
		}
		if f, ok := e.(*Future); ok {
			futures = append(futures, f)
		}
	}

	r.mu.Lock()
	for i := 1; i < len(futures); i++ {
		futures[i].Previous = futures[i-1]
		futures[i-1].Next = futures[i]
	}
	r.mu.Unlock()
	return futures, nil
}

// ActiveFuture returns the front contract for the underlying on date: the
// first future in the chain whose last-trade date has not passed.
func (r *Repository) ActiveFuture(ctx context.Context, underlyingID int, date time.Time) (*Future, error) {
	futures, err := r.Futures(ctx, underlyingID)
	if err != nil {
		return nil, err
	}
	for _, f := range futures {
		if !f.LastTradeDate.Before(date) {
			return f, nil
		}
	}
	return nil, ErrNotFound
}

// CleanFuturesFromMemory evicts every cached future whose last-trade date
// precedes date, unlinking each from its chain and dropping its cached
// series. Cleaning the tail of a chain faults on the nil Next link.
func (r *Repository) CleanFuturesFromMemory(date time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make([]*Future, 0)
	r.byID.ForEach(func(_ int, e Entity) bool {
		if f, ok := e.(*Future); ok && f.LastTradeDate.Before(date) {
			stale = append(stale, f)
		}
		return true
	})

	for _, f := range stale {
		f.Next.Previous = nil
		r.byID.Del(f.ID)
		r.byName.Del(f.Name)
		r.series.dropOwner(f.ID)
	}
}
