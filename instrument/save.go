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

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
)

// saveParallelism bounds the SaveAll fan-out.
const saveParallelism = 20

// SetProperty writes a base-row property through to the store and mirrors
// it to cloud peers. Simulated instruments mutate in memory only.
func (r *Repository) SetProperty(ctx context.Context, e Entity, name string, value any) error {
	root := e.Root()
	switch name {
	case "Description":
		root.Description = store.AsString(value)
	case "CurrencyID":
		root.CurrencyID = store.AsInt(value)
	case "FundingTypeID":
		root.FundingType = FundingType(store.AsInt(value))
	case "CustomCalendarID":
		root.CalendarID = store.AsInt(value)
	case "ExecutionCost":
		root.ExecutionCost = store.AsFloat(value)
	case "ScaleFactor":
		root.ScaleFactor = store.AsFloat(value)
	case "AssetClass":
		root.AssetClass = store.AsString(value)
	case "GeographicalRegion":
		root.Region = store.AsString(value)
	case "Deleted":
		root.Deleted = store.AsBool(value)
	default:
		return ErrUnknownProperty
	}
	root.UpdateTime = time.Now()

	if root.Simulated {
		return nil
	}
	if err := r.writeBase(ctx, root); err != nil {
		return err
	}

	if isCloud(e) {
		msg := realtime.Message{
			Type: realtime.Property,
			Content: realtime.PropertyMessage{
				EntityID: root.ID,
				Name:     name,
				Value:    value,
			},
		}
		if err := r.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("InstrumentID", root.ID).Msg("could not publish property update")
		}
	}
	return nil
}

// writeBase upserts the full base rows for an instrument. The adapter
// replaces rows wholesale so partial rows are never written.
func (r *Repository) writeBase(ctx context.Context, root *Instrument) error {
	instRow := store.Row{
		"ID":               root.ID,
		"Name":             root.Name,
		"Description":      root.Description,
		"InstrumentTypeID": int(root.Type),
		"CurrencyID":       root.CurrencyID,
		"FundingTypeID":    int(root.FundingType),
		"CustomCalendarID": root.CalendarID,
	}
	if err := r.db.UpdateTable(ctx, instrumentTable, []string{"ID"}, []store.Row{instRow}); err != nil {
		return err
	}

	sysRow := store.Row{
		"ID":            root.ID,
		"CreateTime":    root.CreateTime,
		"UpdateTime":    root.UpdateTime,
		"Revision":      0,
		"Deleted":       root.Deleted,
		"ExecutionCost": root.ExecutionCost,
		"ScaleFactor":   root.ScaleFactor,
	}
	if err := r.db.UpdateTable(ctx, systemDataTable, []string{"ID"}, []store.Row{sysRow}); err != nil {
		return err
	}

	catRow := store.Row{
		"ID":                 root.ID,
		"AssetClass":         root.AssetClass,
		"GeographicalRegion": root.Region,
	}
	return r.db.UpdateTable(ctx, categoriesTable, []string{"ID"}, []store.Row{catRow})
}

func isCloud(e Entity) bool {
	switch v := e.(type) {
	case *Portfolio:
		return v.Cloud
	case *Strategy:
		return v.Cloud
	}
	return false
}

// Remove evicts the entity from every cache and deletes all its rows,
// including its time series. A removed future is unlinked from its chain.
func (r *Repository) Remove(ctx context.Context, e Entity) error {
	root := e.Root()

	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := e.(*Future); ok {
		if f.Previous != nil {
			f.Previous.Next = f.Next
		}
		if f.Next != nil {
			f.Next.Previous = f.Previous
		}
	}

	r.byID.Del(root.ID)
	r.byName.Del(root.Name)
	r.nameMisses.Del(root.Name)
	r.series.dropOwner(root.ID)

	if root.Simulated {
		return nil
	}

	pred := store.Where(store.Eq("ID", root.ID))
	tables := []string{
		timeSeriesTable, futureTable, securityTable, portfolioTable,
		strategyTable, depositTable, swapTable, interestRateTable,
		categoriesTable, thirdPartyTable, systemDataTable, instrumentTable,
	}
	for _, t := range tables {
		if err := r.db.DeleteTable(ctx, t, pred); err != nil {
			log.Error().Stack().Err(err).Int("InstrumentID", root.ID).Str("Table", t).Msg("could not delete instrument rows")
			return err
		}
	}
	return nil
}

// RemoveFrom deletes the entity's time-series rows stamped on or after
// date and drops the cached series so the next read reloads.
func (r *Repository) RemoveFrom(ctx context.Context, e Entity, date time.Time) error {
	root := e.Root()
	if !root.Simulated {
		pred := store.Where(store.Eq("ID", root.ID), store.Gte("Timestamp", date))
		if err := r.db.DeleteTable(ctx, timeSeriesTable, pred); err != nil {
			return err
		}
	}
	r.series.dropOwner(root.ID)
	return nil
}

// SaveAll flushes pending series points for every cached instrument with a
// bounded fan-out. Per-instrument failures are logged and skipped so one
// bad flush cannot stall the rest of the batch. Simulated instruments and
// strategies saved through their portfolio are skipped.
func (r *Repository) SaveAll(ctx context.Context) {
	entities := make([]Entity, 0, 256)
	r.byID.ForEach(func(_ int, e Entity) bool {
		entities = append(entities, e)
		return true
	})

	g := new(errgroup.Group)
	g.SetLimit(saveParallelism)
	for _, e := range entities {
		e := e
		g.Go(func() error {
			root := e.Root()
			if root.Simulated {
				return nil
			}
			if s, ok := e.(*Strategy); ok && s.PortfolioID > 0 {
				return nil
			}
			if err := r.series.Flush(ctx, e); err != nil {
				log.Error().Stack().Err(err).Int("InstrumentID", root.ID).Msg("could not flush series")
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.lastSave = time.Now()
	r.mu.Unlock()
}

// LastSave reports when the last SaveAll pass completed.
func (r *Repository) LastSave() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSave
}

// StartSaveLoop schedules periodic SaveAll passes. The interval comes from
// kernel.save_interval and defaults to three hours.
func (r *Repository) StartSaveLoop() (*gocron.Scheduler, error) {
	interval := viper.GetDuration("kernel.save_interval")
	if interval <= 0 {
		interval = 3 * time.Hour
	}

	scheduler := gocron.NewScheduler(common.GetTimezone())
	_, err := scheduler.Every(interval).Do(func() {
		r.SaveAll(context.Background())
	})
	if err != nil {
		return nil, err
	}
	scheduler.StartAsync()
	return scheduler, nil
}
