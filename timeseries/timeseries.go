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

package timeseries

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNoPoint          = errors.New("no point at requested date")
	ErrEmpty            = errors.New("series is empty")
	ErrInvalidRoll      = errors.New("invalid roll type")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
)

// RollType is the policy used to resolve a value when no point exists at
// the exact requested date.
type RollType int

const (
	RollExact RollType = iota
	RollPrevious
)

// Series is an ordered-by-timestamp sequence of (date, value) points. All
// mutating and reading operations are safe for concurrent use.
type Series struct {
	mu     sync.RWMutex
	dates  []time.Time
	values []float64
}

func New() *Series {
	return &Series{
		dates:  make([]time.Time, 0, 252),
		values: make([]float64, 0, 252),
	}
}

// NewFromPoints builds a series from parallel date/value slices that are
// already sorted ascending by date.
func NewFromPoints(dates []time.Time, values []float64) *Series {
	return &Series{
		dates:  dates,
		values: values,
	}
}

func (s *Series) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dates)
}

// searchDate returns the index of the first date >= t. Caller holds the lock.
func (s *Series) searchDate(t time.Time) int {
	return sort.Search(len(s.dates), func(i int) bool {
		return !s.dates[i].Before(t)
	})
}

func (s *Series) ContainsDate(t time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.searchDate(t)
	return idx < len(s.dates) && s.dates[idx].Equal(t)
}

// Value resolves the series at date t under the given roll policy.
// RollExact requires a point at exactly t; RollPrevious returns the latest
// point at or before t.
func (s *Series) Value(t time.Time, roll RollType) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.dates) == 0 {
		return 0, ErrEmpty
	}

	idx := s.searchDate(t)
	switch roll {
	case RollExact:
		if idx < len(s.dates) && s.dates[idx].Equal(t) {
			return s.values[idx], nil
		}
		return 0, ErrNoPoint
	case RollPrevious:
		if idx < len(s.dates) && s.dates[idx].Equal(t) {
			return s.values[idx], nil
		}
		if idx == 0 {
			return 0, ErrNoPoint
		}
		return s.values[idx-1], nil
	}
	return 0, ErrInvalidRoll
}

// At returns the i-th point of the series.
func (s *Series) At(i int) (time.Time, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.dates) {
		return time.Time{}, 0, ErrIndexOutOfBounds
	}
	return s.dates[i], s.values[i], nil
}

// Last returns the final point of the series.
func (s *Series) Last() (time.Time, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.dates) == 0 {
		return time.Time{}, 0, ErrEmpty
	}
	return s.dates[len(s.dates)-1], s.values[len(s.dates)-1], nil
}

// LastDate returns the date of the final point or the zero time when empty.
func (s *Series) LastDate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.dates) == 0 {
		return time.Time{}
	}
	return s.dates[len(s.dates)-1]
}

// Set inserts a point in date-sorted position, overwriting the value in
// place when a point already exists at t.
func (s *Series) Set(t time.Time, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.searchDate(t)
	if idx < len(s.dates) && s.dates[idx].Equal(t) {
		s.values[idx] = v
		return
	}

	s.dates = append(s.dates, time.Time{})
	s.values = append(s.values, 0)
	copy(s.dates[idx+1:], s.dates[idx:])
	copy(s.values[idx+1:], s.values[idx:])
	s.dates[idx] = t
	s.values[idx] = v
}

// Dates returns a copy of the series dates in ascending order.
func (s *Series) Dates() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]time.Time, len(s.dates))
	copy(out, s.dates)
	return out
}

// Values returns a copy of the series values ordered by date.
func (s *Series) Values() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}
