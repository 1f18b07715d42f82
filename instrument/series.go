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
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
	"github.com/quantfabric/qf-kernel/timeseries"
)

// SeriesKind names a per-instrument time series. Close and Last alias the
// same rows on file but keep separate cache slots.
type SeriesKind int

const (
	KindLast SeriesKind = iota + 1
	KindOpen
	KindHigh
	KindLow
	KindClose
	KindVolume
	KindAdjClose
)

// storageKind maps a kind to the value written in the TypeID column.
// Close stores as Last.
func storageKind(kind SeriesKind) SeriesKind {
	if kind == KindClose {
		return KindLast
	}
	return kind
}

// FetchFunc backfills a series from an external source when the store has
// no rows. It is never invoked for portfolios or strategies.
type FetchFunc func(ctx context.Context, e Entity, kind SeriesKind, providerID int) (dates []time.Time, values []float64, err error)

type pendingPoint struct {
	ownerID    int
	kind       SeriesKind
	providerID int
	date       time.Time
	value      float64
}

// SeriesStore caches the full time series of every (owner, kind, provider)
// key after first load and tracks new points for deferred flush. Keyed
// reads after first load are lock free; the mutex serializes first load,
// pending bookkeeping and flush.
type SeriesStore struct {
	db  store.Adapter
	pub realtime.Publisher

	series  *haxmap.Map[string, *timeseries.Series]
	mu      sync.Mutex
	pending map[string][]pendingPoint
	fetch   FetchFunc
}

func newSeriesStore(db store.Adapter, pub realtime.Publisher) *SeriesStore {
	return &SeriesStore{
		db:      db,
		pub:     pub,
		series:  haxmap.New[string, *timeseries.Series](),
		pending: make(map[string][]pendingPoint),
	}
}

// SetFetch installs the external backfill hook.
func (ss *SeriesStore) SetFetch(fetch FetchFunc) {
	ss.fetch = fetch
}

func (ss *SeriesStore) clear() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.series = haxmap.New[string, *timeseries.Series]()
	ss.pending = make(map[string][]pendingPoint)
}

func seriesKey(ownerID int, kind SeriesKind, providerID int) string {
	return fmt.Sprintf("%d_%d_%d", ownerID, int(kind), providerID)
}

func ownerPrefix(ownerID int) string {
	return fmt.Sprintf("%d_", ownerID)
}

// Series resolves the cached series for the key, loading all rows from the
// store ordered by timestamp on first access. When the store is empty and
// a fetch hook is installed, non-portfolio non-strategy instruments are
// backfilled through it and the fetched points are queued for flush.
func (ss *SeriesStore) Series(ctx context.Context, e Entity, kind SeriesKind, providerID int) (*timeseries.Series, error) {
	root := e.Root()
	key := seriesKey(root.ID, kind, providerID)
	if s, ok := ss.series.Get(key); ok {
		return s, nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if s, ok := ss.series.Get(key); ok {
		return s, nil
	}

	s, err := ss.loadLocked(ctx, root, kind, providerID)
	if err != nil {
		return nil, err
	}

	if s.Count() == 0 && ss.fetch != nil && !root.Simulated && fetchable(e) {
		dates, values, err := ss.fetch(ctx, e, kind, providerID)
		if err != nil {
			log.Warn().Err(err).Int("InstrumentID", root.ID).Int("Kind", int(kind)).Msg("external series fetch failed")
		} else {
			for i := range dates {
				s.Set(dates[i], values[i])
				ss.queueLocked(root.ID, kind, providerID, dates[i], values[i])
			}
		}
	}

	ss.series.Set(key, s)
	return s, nil
}

func fetchable(e Entity) bool {
	switch e.(type) {
	case *Portfolio, *Strategy:
		return false
	}
	return true
}

// loadLocked materializes the on-file rows for a key. Caller holds ss.mu.
func (ss *SeriesStore) loadLocked(ctx context.Context, root *Instrument, kind SeriesKind, providerID int) (*timeseries.Series, error) {
	if root.Simulated {
		return timeseries.New(), nil
	}

	rows, err := ss.db.GetTable(ctx, timeSeriesTable, nil,
		store.Where(
			store.Eq("ID", root.ID),
			store.Eq("TypeID", int(storageKind(kind))),
			store.Eq("ProviderID", providerID),
		).OrderedBy("Timestamp", false))
	if err != nil {
		log.Error().Stack().Err(err).Int("InstrumentID", root.ID).Int("Kind", int(kind)).Msg("could not load time series")
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

// Point resolves the series value at date under the roll policy.
func (ss *SeriesStore) Point(ctx context.Context, e Entity, kind SeriesKind, providerID int, date time.Time, roll timeseries.RollType) (float64, error) {
	s, err := ss.Series(ctx, e, kind, providerID)
	if err != nil {
		return 0, err
	}
	return s.Value(date, roll)
}

// AddPoint upserts one point. An existing date is overwritten in place;
// either way the point is queued for the next flush, replacing any queued
// point at the same date. NaN values stay memory-only. When onlyMemory is
// false and kernel.persist_timeseries is set, the owner is flushed
// immediately. Cloud strategy points are mirrored to peers.
func (ss *SeriesStore) AddPoint(ctx context.Context, e Entity, kind SeriesKind, providerID int, date time.Time, value float64, onlyMemory bool) error {
	root := e.Root()
	s, err := ss.Series(ctx, e, kind, providerID)
	if err != nil {
		return err
	}

	ss.mu.Lock()
	s.Set(date, value)
	if !math.IsNaN(value) && !root.Simulated {
		ss.queueLocked(root.ID, kind, providerID, date, value)
	}
	ss.mu.Unlock()

	if isCloud(e) {
		msg := realtime.Message{
			Type: realtime.MarketData,
			Content: realtime.MarketDataMessage{
				InstrumentID: root.ID,
				Kind:         int(storageKind(kind)),
				ProviderID:   providerID,
				Timestamp:    date,
				Value:        value,
			},
		}
		if err := ss.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("InstrumentID", root.ID).Msg("could not publish series point")
		}
	}

	if !onlyMemory && !root.Simulated && viper.GetBool("kernel.persist_timeseries") {
		return ss.Flush(ctx, e)
	}
	return nil
}

// queueLocked records a pending point, collapsing repeated writes at the
// same date to the last value. Caller holds ss.mu.
func (ss *SeriesStore) queueLocked(ownerID int, kind SeriesKind, providerID int, date time.Time, value float64) {
	key := seriesKey(ownerID, storageKind(kind), providerID)
	queue := ss.pending[key]
	for i := range queue {
		if queue[i].date.Equal(date) {
			queue[i].value = value
			return
		}
	}
	ss.pending[key] = append(queue, pendingPoint{
		ownerID:    ownerID,
		kind:       storageKind(kind),
		providerID: providerID,
		date:       date,
		value:      value,
	})
}

// Flush reconciles every pending point belonging to the owner against the
// store. Points at or before the key's maximum on-file timestamp become
// row updates; the rest become inserts, deduplicated by the full natural
// key within the pass. The pending queue for the owner is cleared only
// after the whole pass succeeds.
func (ss *SeriesStore) Flush(ctx context.Context, e Entity) error {
	root := e.Root()
	if root.Simulated {
		return nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	prefix := ownerPrefix(root.ID)
	keys := make([]string, 0, 4)
	for key := range ss.pending {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		if err := ss.flushKeyLocked(ctx, key); err != nil {
			return err
		}
		delete(ss.pending, key)
	}
	return nil
}

func (ss *SeriesStore) flushKeyLocked(ctx context.Context, key string) error {
	queue := ss.pending[key]
	if len(queue) == 0 {
		return nil
	}

	head := queue[0]
	maxRows, err := ss.db.GetTable(ctx, timeSeriesTable, []string{"Timestamp"},
		store.Where(
			store.Eq("ID", head.ownerID),
			store.Eq("TypeID", int(head.kind)),
			store.Eq("ProviderID", head.providerID),
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
			"ID":         p.ownerID,
			"TypeID":     int(p.kind),
			"ProviderID": p.providerID,
			"Timestamp":  date,
			"Value":      p.value,
		}

		if len(maxRows) > 0 && !date.After(maxOnFile) {
			if err := ss.db.UpdateTable(ctx, timeSeriesTable,
				[]string{"ID", "TypeID", "ProviderID", "Timestamp"}, []store.Row{row}); err != nil {
				return err
			}
			continue
		}

		dedup := fmt.Sprintf("%d_%d_%s_%v_%d", p.ownerID, int(p.kind), date.Format(time.RFC3339Nano), p.value, p.providerID)
		if seen[dedup] {
			continue
		}
		seen[dedup] = true
		inserts = append(inserts, store.Stmt{Op: store.OpInsert, Table: timeSeriesTable, Values: row})
	}

	if len(inserts) > 0 {
		if err := ss.db.ExecBatch(ctx, inserts); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSeries deletes the key's rows from the store and evicts its cache
// slot and pending points.
func (ss *SeriesStore) RemoveSeries(ctx context.Context, e Entity, kind SeriesKind, providerID int) error {
	root := e.Root()

	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.series.Del(seriesKey(root.ID, kind, providerID))
	delete(ss.pending, seriesKey(root.ID, storageKind(kind), providerID))

	if root.Simulated {
		return nil
	}
	return ss.db.DeleteTable(ctx, timeSeriesTable,
		store.Where(
			store.Eq("ID", root.ID),
			store.Eq("TypeID", int(storageKind(kind))),
			store.Eq("ProviderID", providerID),
		))
}

// dropOwner evicts every cache slot and pending point for the owner
// without touching the store.
func (ss *SeriesStore) dropOwner(ownerID int) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	prefix := ownerPrefix(ownerID)
	ss.series.ForEach(func(key string, _ *timeseries.Series) bool {
		if strings.HasPrefix(key, prefix) {
			ss.series.Del(key)
		}
		return true
	})
	for key := range ss.pending {
		if strings.HasPrefix(key, prefix) {
			delete(ss.pending, key)
		}
	}
}
