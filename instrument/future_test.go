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

package instrument_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/store"
)

var _ = Describe("Future chains", func() {
	var (
		ctx        context.Context
		db         *store.Memory
		repo       *instrument.Repository
		underlying instrument.Entity
	)

	expiry := func(month int) time.Time {
		return time.Date(2024, time.Month(month), 15, 0, 0, 0, 0, time.UTC)
	}

	makeFuture := func(month int) *instrument.Future {
		base, err := repo.CreateInstrument(ctx, fmt.Sprintf("ESH%d", month), "", instrument.TypeFuture, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
		sec, err := repo.CreateSecurity(ctx, base, "", "", 0, 50)
		Expect(err).To(BeNil())
		fut, err := repo.CreateFuture(ctx, sec, instrument.FutureTerms{
			LastTradeDate: expiry(month),
			ContractMonth: month,
			ContractYear:  2024,
			ContractSize:  50,
			UnderlyingID:  underlying.Root().ID,
		})
		Expect(err).To(BeNil())
		return fut
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = instrument.NewRepository(db, nil, nil)

		var err error
		underlying, err = repo.CreateInstrument(ctx, "ES", "E-mini", instrument.TypeIndex, 1, instrument.TotalReturn, false)
		Expect(err).To(BeNil())
	})

	It("wires the chain in last-trade order with consistent links", func() {
		// created out of order on purpose
		makeFuture(6)
		makeFuture(3)
		makeFuture(9)

		chain, err := repo.Futures(ctx, underlying.Root().ID)
		Expect(err).To(BeNil())
		Expect(chain).To(HaveLen(3))

		Expect(chain[0].ContractMonth).To(Equal(3))
		Expect(chain[1].ContractMonth).To(Equal(6))
		Expect(chain[2].ContractMonth).To(Equal(9))

		Expect(chain[0].Previous).To(BeNil())
		Expect(chain[0].Next).To(BeIdenticalTo(chain[1]))
		Expect(chain[1].Previous).To(BeIdenticalTo(chain[0]))
		Expect(chain[1].Next).To(BeIdenticalTo(chain[2]))
		Expect(chain[2].Previous).To(BeIdenticalTo(chain[1]))
		Expect(chain[2].Next).To(BeNil())
	})

	It("selects the front contract whose expiry has not passed", func() {
		makeFuture(3)
		makeFuture(6)
		makeFuture(9)

		front, err := repo.ActiveFuture(ctx, underlying.Root().ID, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
		Expect(err).To(BeNil())
		Expect(front.ContractMonth).To(Equal(6))

		front, err = repo.ActiveFuture(ctx, underlying.Root().ID, expiry(9))
		Expect(err).To(BeNil())
		Expect(front.ContractMonth).To(Equal(9))

		_, err = repo.ActiveFuture(ctx, underlying.Root().ID, expiry(9).Add(24*time.Hour))
		Expect(errors.Is(err, instrument.ErrNotFound)).To(BeTrue())
	})

	Describe("CleanFuturesFromMemory", func() {
		It("evicts expired futures and relinks the survivors' tail", func() {
			makeFuture(3)
			makeFuture(6)
			makeFuture(9)
			chain, err := repo.Futures(ctx, underlying.Root().ID)
			Expect(err).To(BeNil())

			repo.CleanFuturesFromMemory(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))

			// the March contract left the cache but not the store; the next
			// lookup hydrates a fresh instance
			reloaded, err := repo.Find(ctx, chain[0].ID)
			Expect(err).To(BeNil())
			Expect(reloaded).NotTo(BeIdenticalTo(instrument.Entity(chain[0])))
			rows, err := db.GetTable(ctx, "Future", nil, store.Where(store.Eq("ID", chain[0].ID)))
			Expect(err).To(BeNil())
			Expect(rows).To(HaveLen(1))

			// its successor no longer points back at it
			Expect(chain[1].Previous).To(BeNil())
			Expect(chain[1].Next).To(BeIdenticalTo(chain[2]))
		})

		It("faults when the chain tail itself is expired", func() {
			makeFuture(3)
			_, err := repo.Futures(ctx, underlying.Root().ID)
			Expect(err).To(BeNil())

			Expect(func() {
				repo.CleanFuturesFromMemory(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC))
			}).To(Panic())
		})
	})
})
