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

package refdata_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfabric/qf-kernel/refdata"
	"github.com/quantfabric/qf-kernel/store"
)

func bd(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("CalendarRepository", func() {
	var (
		ctx  context.Context
		db   *store.Memory
		repo *refdata.CalendarRepository
		cal  *refdata.Calendar
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewMemory()
		repo = refdata.NewCalendarRepository(db)

		var err error
		// Mon Jan 1 is skipped as a holiday; 2..5 and 8..9 are business days
		cal, err = repo.Create(ctx, "WE", "weekdays",
			[]time.Time{bd(2), bd(3), bd(4), bd(5), bd(8), bd(9)})
		Expect(err).To(BeNil())
	})

	It("assigns consecutive ordinals to business days", func() {
		Expect(cal.Count()).To(Equal(6))

		idx, err := cal.Index(bd(4))
		Expect(err).To(BeNil())
		Expect(idx).To(Equal(2))

		d, err := cal.DayAt(idx)
		Expect(err).To(BeNil())
		Expect(d.Date).To(Equal(bd(4)))
	})

	It("rejects dates that are not business days", func() {
		_, err := cal.Index(bd(6))
		Expect(errors.Is(err, refdata.ErrNoBusinessDay)).To(BeTrue())

		_, err = cal.DayAt(17)
		Expect(errors.Is(err, refdata.ErrNoBusinessDay)).To(BeTrue())
	})

	It("rolls to the previous business day over a weekend", func() {
		d, err := cal.PreviousBusinessDay(bd(7))
		Expect(err).To(BeNil())
		Expect(d.Date).To(Equal(bd(5)))
	})

	It("finds the next business day strictly after a date", func() {
		d, err := cal.NextBusinessDay(bd(5))
		Expect(err).To(BeNil())
		Expect(d.Date).To(Equal(bd(8)))

		_, err = cal.NextBusinessDay(bd(9))
		Expect(errors.Is(err, refdata.ErrNoBusinessDay)).To(BeTrue())
	})

	It("reloads the same day list after a cache clear", func() {
		repo.Clear()

		reloaded, err := repo.FindByName(ctx, "WE")
		Expect(err).To(BeNil())
		Expect(reloaded.Count()).To(Equal(6))

		idx, err := reloaded.Index(bd(8))
		Expect(err).To(BeNil())
		Expect(idx).To(Equal(4))
	})

	It("appends days through AddDay and reindexes", func() {
		Expect(repo.AddDay(ctx, cal, bd(10))).To(BeNil())
		Expect(cal.Count()).To(Equal(7))

		idx, err := cal.Index(bd(10))
		Expect(err).To(BeNil())
		Expect(idx).To(Equal(6))
	})

	It("rejects a duplicate calendar name", func() {
		_, err := repo.Create(ctx, "WE", "", nil)
		Expect(errors.Is(err, refdata.ErrAlreadyExists)).To(BeTrue())
	})
})
