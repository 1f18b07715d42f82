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

package portfolio_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/portfolio"
	"github.com/quantfabric/qf-kernel/store"
)

var _ = Describe("Ledger queries", func() {
	var (
		ctx    context.Context
		db     *store.Memory
		repo   *instrument.Repository
		ledger *portfolio.Ledger
		port   *instrument.Portfolio
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = instrument.NewRepository(db, nil, nil)
		ledger = portfolio.NewLedger(db, repo, nil)

		base, err := repo.CreateInstrument(ctx, "MAIN", "", instrument.TypePortfolio, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
		port, err = repo.CreatePortfolio(ctx, base, 0, 0, 0, "", "", false)
		Expect(err).To(BeNil())
	})

	Describe("LoadPositions", func() {
		BeforeEach(func() {
			// two snapshots on the 1st, one on the 5th
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 5, Unit: 10, Timestamp: ts(1, 10)})
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 6, Unit: 20, Timestamp: ts(1, 18)})
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 5, Unit: 11, Timestamp: ts(5, 10)})
			Expect(ledger.SaveNewPositions(ctx, port)).To(BeNil())
		})

		It("returns the whole nearest prior day, not just the exact date", func() {
			// the 3rd has no rows; the window resolves to the 1st
			positions, err := ledger.LoadPositions(ctx, port, ts(3, 12))
			Expect(err).To(BeNil())
			Expect(positions).To(HaveLen(2))
			Expect(positions[0].ConstituentID).To(Equal(5))
			Expect(positions[1].ConstituentID).To(Equal(6))
		})

		It("returns an empty slice before the first snapshot", func() {
			positions, err := ledger.LoadPositions(ctx, port, ts(1, 9))
			Expect(err).To(BeNil())
			Expect(positions).To(BeEmpty())
		})

		It("covers the full day even when queried mid-day", func() {
			positions, err := ledger.LoadPositions(ctx, port, ts(1, 12))
			Expect(err).To(BeNil())
			// the 18:00 snapshot of the same day is included
			Expect(positions).To(HaveLen(2))
		})

		It("serves repeated reads from the query cache until the next flush", func() {
			positions, err := ledger.LoadPositions(ctx, port, ts(5, 12))
			Expect(err).To(BeNil())
			Expect(positions).To(HaveLen(1))

			// write directly past the ledger; the cached window must not see it
			Expect(db.UpdateTable(ctx, "Position", []string{"ConstituentID"}, []store.Row{{
				"PortfolioID": port.ID, "ConstituentID": 7, "Unit": 1.0, "Timestamp": ts(5, 13),
				"Strike": 0.0, "StrikeTimestamp": ts(5, 13), "InitialStrike": 0.0,
				"InitialStrikeTimestamp": ts(5, 13), "Aggregated": false,
			}})).To(BeNil())

			cached, err := ledger.LoadPositions(ctx, port, ts(5, 12))
			Expect(err).To(BeNil())
			Expect(cached).To(HaveLen(1))

			// a flush purges the cache
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 8, Unit: 2, Timestamp: ts(5, 14)})
			Expect(ledger.SaveNewPositions(ctx, port)).To(BeNil())

			fresh, err := ledger.LoadPositions(ctx, port, ts(5, 12))
			Expect(err).To(BeNil())
			Expect(len(fresh)).To(BeNumerically(">", 1))
		})
	})

	Describe("order queries", func() {
		var submitted, executed, rejected portfolio.Order

		BeforeEach(func() {
			submitted = portfolio.NewOrder(port.ID, 5, 100, ts(1, 10), portfolio.MarketOrder, 0)
			executed = portfolio.NewOrder(port.ID, 6, 50, ts(1, 11), portfolio.LimitOrder, 99)
			executed.Status = portfolio.OrderExecuted
			rejected = portfolio.NewOrder(port.ID, 7, 25, ts(1, 12), portfolio.MarketOrder, 0)
			rejected.Status = portfolio.OrderNotExecuted

			ledger.AddOrder(ctx, port, submitted)
			ledger.AddOrder(ctx, port, executed)
			ledger.AddOrder(ctx, port, rejected)
			Expect(ledger.SaveNewPositions(ctx, port)).To(BeNil())
		})

		It("loads the whole day in order-date order", func() {
			orders, err := ledger.LoadOrders(ctx, port, ts(2, 0))
			Expect(err).To(BeNil())
			Expect(orders).To(HaveLen(3))
			Expect(orders[0].ID).To(Equal(submitted.ID))
			Expect(orders[2].ID).To(Equal(rejected.ID))
		})

		It("filters open orders by submitted status", func() {
			open, err := ledger.OpenOrders(ctx, port, ts(1, 23))
			Expect(err).To(BeNil())
			Expect(open).To(HaveLen(1))
			Expect(open[0].ID).To(Equal(submitted.ID))
		})

		It("filters non-executed orders", func() {
			failed, err := ledger.NonExecutedOrders(ctx, port, ts(1, 23))
			Expect(err).To(BeNil())
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].ID).To(Equal(rejected.ID))
		})
	})

	Describe("boundary timestamps", func() {
		It("reports first and last position timestamps", func() {
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 5, Unit: 1, Timestamp: ts(1, 10)})
			ledger.AddPosition(ctx, port, portfolio.Position{PortfolioID: port.ID, ConstituentID: 5, Unit: 2, Timestamp: ts(8, 10)})
			Expect(ledger.SaveNewPositions(ctx, port)).To(BeNil())

			first, err := ledger.FirstPositionTimestamp(ctx, port)
			Expect(err).To(BeNil())
			Expect(first).To(Equal(ts(1, 10)))

			last, err := ledger.LastPositionTimestamp(ctx, port)
			Expect(err).To(BeNil())
			Expect(last).To(Equal(ts(8, 10)))
		})

		It("reports ErrNotFound for an empty portfolio", func() {
			_, err := ledger.LastPositionTimestamp(ctx, port)
			Expect(errors.Is(err, portfolio.ErrNotFound)).To(BeTrue())
			_, err = ledger.LastOrderTimestamp(ctx, port)
			Expect(errors.Is(err, portfolio.ErrNotFound)).To(BeTrue())
		})
	})
})

var _ = Describe("Reserves and instructions", func() {
	var (
		ctx    context.Context
		db     *store.Memory
		repo   *instrument.Repository
		ledger *portfolio.Ledger
		port   *instrument.Portfolio
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = instrument.NewRepository(db, nil, nil)
		ledger = portfolio.NewLedger(db, repo, nil)

		base, err := repo.CreateInstrument(ctx, "MAIN", "", instrument.TypePortfolio, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
		port, err = repo.CreatePortfolio(ctx, base, 0, 0, 0, "", "", false)
		Expect(err).To(BeNil())
	})

	Describe("reserves", func() {
		It("sets and updates the funding instruments per currency", func() {
			Expect(ledger.AddReserve(ctx, port, 1, 100, 101)).To(BeNil())
			Expect(ledger.AddReserve(ctx, port, 2, 200, 201)).To(BeNil())
			Expect(ledger.AddReserve(ctx, port, 1, 150, 151)).To(BeNil())

			r, err := ledger.Reserve(ctx, port, 1)
			Expect(err).To(BeNil())
			Expect(r.LongInstrumentID).To(Equal(150))
			Expect(r.ShortInstrumentID).To(Equal(151))

			all, err := ledger.Reserves(ctx, port)
			Expect(err).To(BeNil())
			Expect(all).To(HaveLen(2))

			rows, err := db.GetTable(ctx, "PortfolioReserves", nil, nil)
			Expect(err).To(BeNil())
			Expect(rows).To(HaveLen(2))
		})

		It("survives a cache clear", func() {
			Expect(ledger.AddReserve(ctx, port, 1, 100, 101)).To(BeNil())
			ledger.Clear()

			r, err := ledger.Reserve(ctx, port, 1)
			Expect(err).To(BeNil())
			Expect(r.LongInstrumentID).To(Equal(100))
		})

		It("reports ErrNotFound for an unknown currency", func() {
			_, err := ledger.Reserve(ctx, port, 9)
			Expect(errors.Is(err, portfolio.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("instructions", func() {
		It("falls back from exact to portfolio default to global default", func() {
			Expect(ledger.AddInstruction(ctx, portfolio.Instruction{PortfolioID: 0, InstrumentID: 0, ExecutionFee: 0.001})).To(BeNil())
			Expect(ledger.AddInstruction(ctx, portfolio.Instruction{PortfolioID: port.ID, InstrumentID: 0, ExecutionFee: 0.002})).To(BeNil())
			Expect(ledger.AddInstruction(ctx, portfolio.Instruction{PortfolioID: port.ID, InstrumentID: 5, ExecutionFee: 0.003})).To(BeNil())

			o := portfolio.NewOrder(port.ID, 5, 100, ts(1, 10), portfolio.MarketOrder, 0)
			ins, err := ledger.Instruction(ctx, o)
			Expect(err).To(BeNil())
			Expect(ins.ExecutionFee).To(Equal(0.003))

			o.ConstituentID = 6
			ins, err = ledger.Instruction(ctx, o)
			Expect(err).To(BeNil())
			Expect(ins.ExecutionFee).To(Equal(0.002))

			o.PortfolioID = 999
			ins, err = ledger.Instruction(ctx, o)
			Expect(err).To(BeNil())
			Expect(ins.ExecutionFee).To(Equal(0.001))
		})

		It("reports ErrNoInstruction when no level matches", func() {
			o := portfolio.NewOrder(port.ID, 5, 100, ts(1, 10), portfolio.MarketOrder, 0)
			_, err := ledger.Instruction(ctx, o)
			Expect(errors.Is(err, portfolio.ErrNoInstruction)).To(BeTrue())
		})

		It("overwrites an instruction at the same key", func() {
			Expect(ledger.AddInstruction(ctx, portfolio.Instruction{PortfolioID: port.ID, InstrumentID: 5, ExecutionFee: 0.003})).To(BeNil())
			Expect(ledger.AddInstruction(ctx, portfolio.Instruction{PortfolioID: port.ID, InstrumentID: 5, ExecutionFee: 0.004})).To(BeNil())

			rows, err := db.GetTable(ctx, "Instructions", nil, nil)
			Expect(err).To(BeNil())
			Expect(rows).To(HaveLen(1))
			Expect(store.AsFloat(rows[0]["ExecutionFee"])).To(Equal(0.004))
		})
	})
})

var _ = Describe("Corporate actions", func() {
	var (
		ctx    context.Context
		db     *store.Memory
		repo   *instrument.Repository
		ledger *portfolio.Ledger
		sec    *instrument.Security
	)

	exDate := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	action := func(id string, amount float64) portfolio.CorporateAction {
		return portfolio.CorporateAction{
			ID:         id,
			SecurityID: sec.ID,
			ExDate:     exDate,
			Amount:     amount,
			Frequency:  "quarterly",
			Type:       "dividend",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = instrument.NewRepository(db, nil, nil)
		ledger = portfolio.NewLedger(db, repo, nil)

		base, err := repo.CreateInstrument(ctx, "AAPL", "", instrument.TypeEquity, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
		sec, err = repo.CreateSecurity(ctx, base, "", "", 0, 1)
		Expect(err).To(BeNil())
	})

	It("indexes actions by ex-date", func() {
		Expect(ledger.AddAction(ctx, sec, action("div-1", 0.24))).To(BeNil())

		actions, err := ledger.Actions(ctx, sec, exDate)
		Expect(err).To(BeNil())
		Expect(actions).To(HaveLen(1))
		Expect(actions[0].Amount).To(Equal(0.24))

		// a different time of day on the same ex-date still matches
		actions, err = ledger.Actions(ctx, sec, exDate.Add(13*time.Hour))
		Expect(err).To(BeNil())
		Expect(actions).To(HaveLen(1))
	})

	It("returns an empty slice for a date with no actions", func() {
		actions, err := ledger.Actions(ctx, sec, exDate.AddDate(0, 1, 0))
		Expect(err).To(BeNil())
		Expect(actions).NotTo(BeNil())
		Expect(actions).To(BeEmpty())
	})

	It("treats a value-equal replay as a no-op", func() {
		Expect(ledger.AddAction(ctx, sec, action("div-1", 0.24))).To(BeNil())
		Expect(ledger.AddAction(ctx, sec, action("div-1", 0.24))).To(BeNil())

		actions, err := ledger.Actions(ctx, sec, exDate)
		Expect(err).To(BeNil())
		Expect(actions).To(HaveLen(1))

		rows, err := db.GetTable(ctx, "CorporateAction", nil, nil)
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(1))
	})

	It("keeps distinct actions on the same ex-date", func() {
		Expect(ledger.AddAction(ctx, sec, action("div-1", 0.24))).To(BeNil())
		Expect(ledger.AddAction(ctx, sec, action("split-1", 4))).To(BeNil())

		actions, err := ledger.Actions(ctx, sec, exDate)
		Expect(err).To(BeNil())
		Expect(actions).To(HaveLen(2))
	})

	It("survives a cache clear", func() {
		Expect(ledger.AddAction(ctx, sec, action("div-1", 0.24))).To(BeNil())
		ledger.Clear()

		actions, err := ledger.Actions(ctx, sec, exDate)
		Expect(err).To(BeNil())
		Expect(actions).To(HaveLen(1))
		Expect(actions[0].ID).To(Equal("div-1"))
	})
})
