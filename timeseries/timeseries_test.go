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

package timeseries_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quantfabric/qf-kernel/timeseries"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("Series", func() {
	var series *timeseries.Series

	BeforeEach(func() {
		series = timeseries.New()
	})

	Context("when empty", func() {
		It("has a count of 0", func() {
			Expect(series.Count()).To(Equal(0))
		})

		It("returns ErrEmpty from Last", func() {
			_, _, err := series.Last()
			Expect(errors.Is(err, timeseries.ErrEmpty)).To(BeTrue())
		})

		It("returns ErrEmpty for any lookup", func() {
			_, err := series.Value(day(2), timeseries.RollPrevious)
			Expect(errors.Is(err, timeseries.ErrEmpty)).To(BeTrue())
		})
	})

	Context("with points set out of order", func() {
		BeforeEach(func() {
			series.Set(day(5), 105)
			series.Set(day(2), 102)
			series.Set(day(9), 109)
		})

		It("keeps dates sorted ascending", func() {
			Expect(series.Dates()).To(Equal([]time.Time{day(2), day(5), day(9)}))
			Expect(series.Values()).To(Equal([]float64{102, 105, 109}))
		})

		It("overwrites the value when the date already exists", func() {
			series.Set(day(5), 205)
			Expect(series.Count()).To(Equal(3))
			v, err := series.Value(day(5), timeseries.RollExact)
			Expect(err).To(BeNil())
			Expect(v).To(Equal(205.0))
		})

		It("reports containment", func() {
			Expect(series.ContainsDate(day(5))).To(BeTrue())
			Expect(series.ContainsDate(day(6))).To(BeFalse())
		})

		It("answers Last with the newest point", func() {
			d, v, err := series.Last()
			Expect(err).To(BeNil())
			Expect(d).To(Equal(day(9)))
			Expect(v).To(Equal(109.0))
		})

		DescribeTable("resolving values under a roll policy",
			func(d int, roll timeseries.RollType, expected float64, expectedErr error) {
				v, err := series.Value(day(d), roll)
				if expectedErr == nil {
					Expect(err).To(BeNil())
					Expect(v).To(Equal(expected))
				} else {
					Expect(errors.Is(err, expectedErr)).To(BeTrue())
				}
			},
			Entry("exact hit", 5, timeseries.RollExact, 105.0, nil),
			Entry("exact miss", 6, timeseries.RollExact, 0.0, timeseries.ErrNoPoint),
			Entry("previous rolls to the latest prior point", 6, timeseries.RollPrevious, 105.0, nil),
			Entry("previous on an exact date returns that date", 9, timeseries.RollPrevious, 109.0, nil),
			Entry("previous before the first point fails", 1, timeseries.RollPrevious, 0.0, timeseries.ErrNoPoint),
			Entry("previous after the last point rolls to it", 20, timeseries.RollPrevious, 109.0, nil),
			Entry("invalid roll type", 5, timeseries.RollType(99), 0.0, timeseries.ErrInvalidRoll),
		)

		It("indexes points with At", func() {
			d, v, err := series.At(1)
			Expect(err).To(BeNil())
			Expect(d).To(Equal(day(5)))
			Expect(v).To(Equal(105.0))

			_, _, err = series.At(3)
			Expect(errors.Is(err, timeseries.ErrIndexOutOfBounds)).To(BeTrue())
		})
	})

	Context("built from pre-sorted points", func() {
		It("round-trips dates and values", func() {
			dates := []time.Time{day(1), day(2), day(3)}
			values := []float64{1, 2, 3}
			s := timeseries.NewFromPoints(dates, values)
			Expect(s.Count()).To(Equal(3))
			Expect(s.LastDate()).To(Equal(day(3)))
		})
	})
})
