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

package refdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/common"
	"github.com/quantfabric/qf-kernel/store"
)

const (
	calendarTable     = "Calendar"
	calendarDateTable = "CalendarDate"
)

// BusinessDay is one trading day of a calendar.
type BusinessDay struct {
	Date  time.Time
	Month int
	Year  int
	// Index is the day's ordinal within its calendar.
	Index int
}

// Calendar owns an ordered list of business days and answers date->index
// and index->date lookups. The day list is immutable after load; AddDay
// rebuilds the index under the repository lock.
type Calendar struct {
	ID          int
	Name        string
	Description string

	mu     sync.RWMutex
	days   []BusinessDay
	byDate map[time.Time]int
}

func (c *Calendar) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.days)
}

// DayAt returns the business day at ordinal idx.
func (c *Calendar) DayAt(idx int) (BusinessDay, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.days) {
		return BusinessDay{}, ErrNoBusinessDay
	}
	return c.days[idx], nil
}

// Index returns the ordinal of the business day exactly at date.
func (c *Calendar) Index(date time.Time) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx, ok := c.byDate[date.Truncate(24*time.Hour)]; ok {
		return idx, nil
	}
	return 0, ErrNoBusinessDay
}

// PreviousBusinessDay returns the latest business day at or before date.
func (c *Calendar) PreviousBusinessDay(date time.Time) (BusinessDay, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := sort.Search(len(c.days), func(i int) bool {
		return c.days[i].Date.After(date)
	})
	if idx == 0 {
		return BusinessDay{}, ErrNoBusinessDay
	}
	return c.days[idx-1], nil
}

// NextBusinessDay returns the earliest business day strictly after date.
func (c *Calendar) NextBusinessDay(date time.Time) (BusinessDay, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := sort.Search(len(c.days), func(i int) bool {
		return c.days[i].Date.After(date)
	})
	if idx >= len(c.days) {
		return BusinessDay{}, ErrNoBusinessDay
	}
	return c.days[idx], nil
}

// Close resolves the close-of-business timestamp for the business day
// covering date.
func (c *Calendar) Close(date time.Time) time.Time {
	return common.CloseOfBusiness(date)
}

func (c *Calendar) setDays(days []BusinessDay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	c.byDate = make(map[time.Time]int, len(days))
	for idx := range days {
		days[idx].Index = idx
		c.byDate[days[idx].Date.Truncate(24*time.Hour)] = idx
	}
	c.days = days
}

// CalendarRepository resolves calendars by id or name, loading the full
// business-day list on first access.
type CalendarRepository struct {
	db     store.Adapter
	byID   *haxmap.Map[int, *Calendar]
	byName *haxmap.Map[string, *Calendar]
	mu     sync.Mutex
}

func NewCalendarRepository(db store.Adapter) *CalendarRepository {
	return &CalendarRepository{
		db:     db,
		byID:   haxmap.New[int, *Calendar](),
		byName: haxmap.New[string, *Calendar](),
	}
}

// Clear evicts all cached calendars; used by tests.
func (r *CalendarRepository) Clear() {
	r.byID = haxmap.New[int, *Calendar]()
	r.byName = haxmap.New[string, *Calendar]()
}

func (r *CalendarRepository) Find(ctx context.Context, id int) (*Calendar, error) {
	if cal, ok := r.byID.Get(id); ok {
		return cal, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cal, ok := r.byID.Get(id); ok {
		return cal, nil
	}

	rows, err := r.db.GetTable(ctx, calendarTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		log.Error().Stack().Err(err).Int("CalendarID", id).Msg("could not load calendar")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.load(ctx, rows[0])
}

func (r *CalendarRepository) FindByName(ctx context.Context, name string) (*Calendar, error) {
	if cal, ok := r.byName.Get(name); ok {
		return cal, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cal, ok := r.byName.Get(name); ok {
		return cal, nil
	}

	rows, err := r.db.GetTable(ctx, calendarTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		log.Error().Stack().Err(err).Str("Name", name).Msg("could not load calendar")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return r.load(ctx, rows[0])
}

// Create inserts a calendar with the given business days.
func (r *CalendarRepository) Create(ctx context.Context, name, description string, days []time.Time) (*Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.GetTable(ctx, calendarTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return nil, ErrAlreadyExists
	}

	id, err := nextID(ctx, r.db, calendarTable, "ID")
	if err != nil {
		return nil, err
	}

	row := store.Row{"ID": id, "Name": name, "Description": description}
	if err := r.db.UpdateTable(ctx, calendarTable, []string{"ID"}, []store.Row{row}); err != nil {
		return nil, err
	}

	dateRows := make([]store.Row, 0, len(days))
	for _, d := range days {
		dateRows = append(dateRows, store.Row{"ID": id, "Timestamp": d})
	}
	if len(dateRows) > 0 {
		if err := r.db.UpdateTable(ctx, calendarDateTable, []string{"ID", "Timestamp"}, dateRows); err != nil {
			return nil, err
		}
	}

	return r.load(ctx, row)
}

// AddDay appends a business day to the calendar and the store.
func (r *CalendarRepository) AddDay(ctx context.Context, cal *Calendar, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := store.Row{"ID": cal.ID, "Timestamp": date}
	if err := r.db.UpdateTable(ctx, calendarDateTable, []string{"ID", "Timestamp"}, []store.Row{row}); err != nil {
		return err
	}

	cal.mu.RLock()
	days := make([]BusinessDay, len(cal.days))
	copy(days, cal.days)
	cal.mu.RUnlock()

	days = append(days, BusinessDay{Date: date, Month: int(date.Month()), Year: date.Year()})
	cal.setDays(days)
	return nil
}

func (r *CalendarRepository) load(ctx context.Context, row store.Row) (*Calendar, error) {
	cal := &Calendar{
		ID:          store.AsInt(row["ID"]),
		Name:        store.AsString(row["Name"]),
		Description: store.AsString(row["Description"]),
	}

	dateRows, err := r.db.GetTable(ctx, calendarDateTable, nil,
		store.Where(store.Eq("ID", cal.ID)).OrderedBy("Timestamp", false))
	if err != nil {
		log.Error().Stack().Err(err).Int("CalendarID", cal.ID).Msg("could not load calendar dates")
		return nil, err
	}

	days := make([]BusinessDay, 0, len(dateRows))
	for _, dr := range dateRows {
		d := store.AsTime(dr["Timestamp"])
		days = append(days, BusinessDay{Date: d, Month: int(d.Month()), Year: d.Year()})
	}
	cal.setDays(days)

	r.byID.Set(cal.ID, cal)
	r.byName.Set(cal.Name, cal)
	return cal, nil
}
