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

package strategy_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/store"
	"github.com/quantfabric/qf-kernel/strategy"
	"github.com/quantfabric/qf-kernel/timeseries"
)

func day(d int) time.Time {
	return time.Date(2024, 4, d, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("MemoryStore", func() {
	var (
		ctx  context.Context
		db   *store.Memory
		repo *instrument.Repository
		ms   *strategy.MemoryStore
		s    *instrument.Strategy
	)

	signal := strategy.MemoryKey{MemoryType: 1, MemoryClass: 2}

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = instrument.NewRepository(db, nil, nil)
		ms = strategy.NewMemoryStore(db, nil)

		base, err := repo.CreateInstrument(ctx, "TREND", "", instrument.TypeStrategy, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
		s, err = repo.CreateStrategy(ctx, base, 0, "momentum", false)
		Expect(err).To(BeNil())
	})

	It("round-trips memory points through flush and reload", func() {
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 0.5, true)).To(BeNil())
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(3), 0.75, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		ms.Clear()

		v, err := ms.MemoryPoint(ctx, s, signal, day(2), timeseries.RollExact)
		Expect(err).To(BeNil())
		Expect(v).To(Equal(0.5))

		v, err = ms.MemoryPoint(ctx, s, signal, day(5), timeseries.RollPrevious)
		Expect(err).To(BeNil())
		Expect(v).To(Equal(0.75))
	})

	It("collapses repeated writes at the same date before a flush", func() {
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 1.0, true)).To(BeNil())
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 2.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(1))
		Expect(store.AsFloat(rows[0]["Value"])).To(Equal(2.0))
	})

	It("updates in place at or before the newest row and inserts past it", func() {
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 1.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 9.0, true)).To(BeNil())
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(3), 3.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil,
			store.Where(store.Eq("ID", s.ID)).OrderedBy("Timestamp", false))
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(2))
		Expect(store.AsFloat(rows[0]["Value"])).To(Equal(9.0))
		Expect(store.AsFloat(rows[1]["Value"])).To(Equal(3.0))
	})

	It("keeps NaN points memory-only", func() {
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), math.NaN(), true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(BeEmpty())

		v, err := ms.MemoryPoint(ctx, s, signal, day(2), timeseries.RollExact)
		Expect(err).To(BeNil())
		Expect(math.IsNaN(v)).To(BeTrue())
	})

	It("never persists the memory of a simulated strategy", func() {
		simBase, err := repo.CreateInstrument(ctx, "simstrat", "", instrument.TypeStrategy, 1, instrument.TotalReturn, true)
		Expect(err).To(BeNil())
		sim, err := repo.CreateStrategy(ctx, simBase, 0, "momentum", false)
		Expect(err).To(BeNil())

		Expect(ms.AddMemoryPoint(ctx, sim, signal, day(2), 1.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, sim)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(BeEmpty())

		v, err := ms.MemoryPoint(ctx, sim, signal, day(2), timeseries.RollExact)
		Expect(err).To(BeNil())
		Expect(v).To(Equal(1.0))
	})

	It("bulk-loads a series and flushes every point", func() {
		points := timeseries.NewFromPoints(
			[]time.Time{day(2), day(3), day(4)},
			[]float64{1, 2, 3})
		Expect(ms.AddMemorySeries(ctx, s, signal, points)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(3))
	})

	It("lists the distinct series keys on file", func() {
		other := strategy.MemoryKey{MemoryType: 1, MemoryClass: 3}
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 1.0, true)).To(BeNil())
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(3), 2.0, true)).To(BeNil())
		Expect(ms.AddMemoryPoint(ctx, s, other, day(2), 3.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		keys, err := ms.MemorySeriesIDs(ctx, s)
		Expect(err).To(BeNil())
		Expect(keys).To(HaveLen(2))
		Expect(keys).To(ContainElement(signal))
		Expect(keys).To(ContainElement(other))
	})

	It("removes a series from the store and the cache", func() {
		Expect(ms.AddMemoryPoint(ctx, s, signal, day(2), 1.0, true)).To(BeNil())
		Expect(ms.Flush(ctx, s)).To(BeNil())

		Expect(ms.RemoveMemory(ctx, s, signal)).To(BeNil())

		rows, err := db.GetTable(ctx, "StrategyMemory", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(BeEmpty())

		series, err := ms.Memory(ctx, s, signal)
		Expect(err).To(BeNil())
		Expect(series.Count()).To(Equal(0))
	})
})
