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

// Package strategy holds the strategy-internal memory-series store: named
// scalar state over time, keyed by (strategy, memory type, memory class).
package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
	"github.com/quantfabric/qf-kernel/timeseries"
)

const memoryTable = "StrategyMemory"

// MemoryKey identifies one memory series of a strategy.
type MemoryKey struct {
	MemoryType  int
	MemoryClass int
}

type pendingPoint struct {
	strategyID int
	key        MemoryKey
	date       time.Time
	value      float64
}

// MemoryStore caches the full memory series of every (strategy, type,
// class) key after first load and tracks new points for deferred flush,
// mirroring the instrument series store.
type MemoryStore struct {
	db  store.Adapter
	pub realtime.Publisher

	series  *haxmap.Map[string, *timeseries.Series]
	mu      sync.Mutex
	pending map[string][]pendingPoint
}

func NewMemoryStore(db store.Adapter, pub realtime.Publisher) *MemoryStore {
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &MemoryStore{
		db:      db,
		pub:     pub,
		series:  haxmap.New[string, *timeseries.Series](),
		pending: make(map[string][]pendingPoint),
	}
}

// Clear evicts every cached series and pending point; used by tests.
func (ms *MemoryStore) Clear() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.series = haxmap.New[string, *timeseries.Series]()
	ms.pending = make(map[string][]pendingPoint)
}

func memoryKey(strategyID int, key MemoryKey) string {
	return fmt.Sprintf("%d_%d_%d", strategyID, key.MemoryType, key.MemoryClass)
}

func strategyPrefix(strategyID int) string {
	return fmt.Sprintf("%d_", strategyID)
}

// Memory resolves the cached series for the key, loading all rows ordered
// by timestamp on first access.
func (ms *MemoryStore) Memory(ctx context.Context, s *instrument.Strategy, key MemoryKey) (*timeseries.Series, error) {
	k := memoryKey(s.ID, key)
	if series, ok := ms.series.Get(k); ok {
		return series, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if series, ok := ms.series.Get(k); ok {
		return series, nil
	}

	series, err := ms.loadLocked(ctx, s, key)
	if err != nil {
		return nil, err
	}
	ms.series.Set(k, series)
	return series, nil
}

func (ms *MemoryStore) loadLocked(ctx context.Context, s *instrument.Strategy, key MemoryKey) (*timeseries.Series, error) {
	if s.Simulated {
		return timeseries.New(), nil
	}

	rows, err := ms.db.GetTable(ctx, memoryTable, nil,
		store.Where(
			store.Eq("ID", s.ID),
			store.Eq("MemoryTypeID", key.MemoryType),
			store.Eq("MemoryClassID", key.MemoryClass),
		).OrderedBy("Timestamp", false))
	if err != nil {
		log.Error().Stack().Err(err).Int("StrategyID", s.ID).Msg("could not load strategy memory")
		return nil, err
	}

	dates := make([]time.Time, 0, len(rows))
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		dates = append(dates, store.AsTime(row["Timestamp"]))
		values = append(values, store.AsFloat(row["Value"]))
	}
	return timeseries.NewFromPoints(dates, values), nil
}

// MemoryPoint resolves the memory value at date under the roll policy.
func (ms *MemoryStore) MemoryPoint(ctx context.Context, s *instrument.Strategy, key MemoryKey, date time.Time, roll timeseries.RollType) (float64, error) {
	series, err := ms.Memory(ctx, s, key)
	if err != nil {
		return 0, err
	}
	return series.Value(date, roll)
}

// AddMemoryPoint upserts one memory point, queueing it for the next flush.
// NaN values stay memory-only. Cloud strategies mirror the point to peers.
func (ms *MemoryStore) AddMemoryPoint(ctx context.Context, s *instrument.Strategy, key MemoryKey, date time.Time, value float64, onlyMemory bool) error {
	series, err := ms.Memory(ctx, s, key)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	series.Set(date, value)
	if !math.IsNaN(value) && !s.Simulated {
		ms.queueLocked(s.ID, key, date, value)
	}
	ms.mu.Unlock()

	if s.Cloud {
		msg := realtime.Message{
			Type: realtime.StrategyData,
			Content: realtime.StrategyDataMessage{
				StrategyID:  s.ID,
				MemoryType:  key.MemoryType,
				MemoryClass: key.MemoryClass,
				Timestamp:   date,
				Value:       value,
			},
		}
		if err := ms.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("StrategyID", s.ID).Msg("could not publish memory point")
		}
	}

	if !onlyMemory && !s.Simulated && viper.GetBool("kernel.persist_timeseries") {
		return ms.Flush(ctx, s)
	}
	return nil
}

// AddMemorySeries bulk-loads a whole series into memory and the pending
// queue.
func (ms *MemoryStore) AddMemorySeries(ctx context.Context, s *instrument.Strategy, key MemoryKey, points *timeseries.Series) error {
	series, err := ms.Memory(ctx, s, key)
	if err != nil {
		return err
	}

	dates := points.Dates()
	values := points.Values()

	ms.mu.Lock()
	for i := range dates {
		series.Set(dates[i], values[i])
		if !math.IsNaN(values[i]) && !s.Simulated {
			ms.queueLocked(s.ID, key, dates[i], values[i])
		}
	}
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) queueLocked(strategyID int, key MemoryKey, date time.Time, value float64) {
	k := memoryKey(strategyID, key)
	queue := ms.pending[k]
	for i := range queue {
		if queue[i].date.Equal(date) {
			queue[i].value = value
			return
		}
	}
	ms.pending[k] = append(queue, pendingPoint{strategyID: strategyID, key: key, date: date, value: value})
}

// MemorySeriesIDs returns the distinct (type, class) pairs the strategy
// has on file.
func (ms *MemoryStore) MemorySeriesIDs(ctx context.Context, s *instrument.Strategy) ([]MemoryKey, error) {
	rows, err := ms.db.GetTable(ctx, memoryTable, []string{"MemoryTypeID", "MemoryClassID"},
		store.Where(store.Eq("ID", s.ID)))
	if err != nil {
		return nil, err
	}

	seen := make(map[MemoryKey]bool, len(rows))
	keys := make([]MemoryKey, 0, len(rows))
	for _, row := range rows {
		key := MemoryKey{
			MemoryType:  store.AsInt(row["MemoryTypeID"]),
			MemoryClass: store.AsInt(row["MemoryClassID"]),
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Flush reconciles every pending point of the strategy against the store:
// points at or before the key's maximum on-file timestamp become updates,
// the rest inserts deduplicated by the full natural key. Pending points
// clear only after the pass succeeds.
func (ms *MemoryStore) Flush(ctx context.Context, s *instrument.Strategy) error {
	if s.Simulated {
		return nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	prefix := strategyPrefix(s.ID)
	for k := range ms.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := ms.flushKeyLocked(ctx, k); err != nil {
			return err
		}
		delete(ms.pending, k)
	}
	return nil
}

func (ms *MemoryStore) flushKeyLocked(ctx context.Context, k string) error {
	queue := ms.pending[k]
	if len(queue) == 0 {
		return nil
	}

	head := queue[0]
	maxRows, err := ms.db.GetTable(ctx, memoryTable, []string{"Timestamp"},
		store.Where(
			store.Eq("ID", head.strategyID),
			store.Eq("MemoryTypeID", head.key.MemoryType),
			store.Eq("MemoryClassID", head.key.MemoryClass),
		).OrderedBy("Timestamp", true).WithLimit(1))
	if err != nil {
		return err
	}
	maxOnFile := time.Time{}
	if len(maxRows) > 0 {
		maxOnFile = store.AsTime(maxRows[0]["Timestamp"])
	}

	inserts := make([]store.Stmt, 0, len(queue))
	seen := make(map[string]bool, len(queue))
	for _, p := range queue {
		if math.IsNaN(p.value) {
			continue
		}
		date := common.ClampTime(p.date)
		row := store.Row{
			"ID":            p.strategyID,
			"MemoryTypeID":  p.key.MemoryType,
			"MemoryClassID": p.key.MemoryClass,
			"Timestamp":     date,
			"Value":         p.value,
		}

		if len(maxRows) > 0 && !date.After(maxOnFile) {
			if err := ms.db.UpdateTable(ctx, memoryTable,
				[]string{"ID", "MemoryTypeID", "MemoryClassID", "Timestamp"}, []store.Row{row}); err != nil {
				return err
			}
			continue
		}

		dedup := fmt.Sprintf("%d_%d_%d_%s_%v", p.strategyID, p.key.MemoryType, p.key.MemoryClass,
			date.Format(time.RFC3339Nano), p.value)
		if seen[dedup] {
			continue
		}
		seen[dedup] = true
		inserts = append(inserts, store.Stmt{Op: store.OpInsert, Table: memoryTable, Values: row})
	}

	if len(inserts) > 0 {
		return ms.db.ExecBatch(ctx, inserts)
	}
	return nil
}

// RemoveMemory deletes one memory series from the store and evicts its
// cache slot and pending points.
func (ms *MemoryStore) RemoveMemory(ctx context.Context, s *instrument.Strategy, key MemoryKey) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := memoryKey(s.ID, key)
	ms.series.Del(k)
	delete(ms.pending, k)

	if s.Simulated {
		return nil
	}
	return ms.db.DeleteTable(ctx, memoryTable,
		store.Where(
			store.Eq("ID", s.ID),
			store.Eq("MemoryTypeID", key.MemoryType),
			store.Eq("MemoryClassID", key.MemoryClass),
		))
}
