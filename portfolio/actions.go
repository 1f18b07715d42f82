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

package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/store"
)

// actionIndex caches every corporate action of a security keyed by
// ex-date. It carries its own lock, distinct from the ledger flush lock,
// so action polling never contends with position flushes.
type actionIndex struct {
	db store.Adapter

	mu       sync.Mutex
	bySecure map[int]map[time.Time][]CorporateAction
}

func newActionIndex(db store.Adapter) *actionIndex {
	return &actionIndex{
		db:       db,
		bySecure: make(map[int]map[time.Time][]CorporateAction),
	}
}

func (a *actionIndex) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bySecure = make(map[int]map[time.Time][]CorporateAction)
}

// Actions returns the security's corporate actions with the given ex-date.
// The full action history of the security is loaded on first access; a
// date with no actions yields an empty slice.
func (l *Ledger) Actions(ctx context.Context, sec *instrument.Security, exDate time.Time) ([]CorporateAction, error) {
	a := l.actions
	a.mu.Lock()
	defer a.mu.Unlock()

	byDate, err := a.loadLocked(ctx, sec.ID)
	if err != nil {
		return nil, err
	}
	actions := byDate[dayKey(exDate)]
	if actions == nil {
		return []CorporateAction{}, nil
	}
	return actions, nil
}

// AddAction records a declared corporate action. Replaying an action that
// is already indexed, compared by value, is a no-op.
func (l *Ledger) AddAction(ctx context.Context, sec *instrument.Security, action CorporateAction) error {
	a := l.actions
	a.mu.Lock()
	defer a.mu.Unlock()

	byDate, err := a.loadLocked(ctx, sec.ID)
	if err != nil {
		return err
	}

	day := dayKey(action.ExDate)
	for _, existing := range byDate[day] {
		if existing == action {
			return nil
		}
	}

	row := store.Row{
		"ID":           action.ID,
		"SecurityID":   action.SecurityID,
		"DeclaredDate": action.DeclaredDate,
		"ExDate":       action.ExDate,
		"RecordDate":   action.RecordDate,
		"PayableDate":  action.PayableDate,
		"Amount":       action.Amount,
		"Frequency":    action.Frequency,
		"Type":         action.Type,
	}
	if err := a.db.UpdateTable(ctx, actionTable, []string{"ID"}, []store.Row{row}); err != nil {
		return err
	}

	byDate[day] = append(byDate[day], action)
	return nil
}

// loadLocked hydrates the security's full action history on first access.
// Caller holds a.mu.
func (a *actionIndex) loadLocked(ctx context.Context, securityID int) (map[time.Time][]CorporateAction, error) {
	if byDate, ok := a.bySecure[securityID]; ok {
		return byDate, nil
	}

	rows, err := a.db.GetTable(ctx, actionTable, nil,
		store.Where(store.Eq("SecurityID", securityID)).OrderedBy("ExDate", false))
	if err != nil {
		return nil, err
	}

	byDate := make(map[time.Time][]CorporateAction, len(rows))
	for _, row := range rows {
		action := CorporateAction{
			ID:           store.AsString(row["ID"]),
			SecurityID:   store.AsInt(row["SecurityID"]),
			DeclaredDate: store.AsTime(row["DeclaredDate"]),
			ExDate:       store.AsTime(row["ExDate"]),
			RecordDate:   store.AsTime(row["RecordDate"]),
			PayableDate:  store.AsTime(row["PayableDate"]),
			Amount:       store.AsFloat(row["Amount"]),
			Frequency:    store.AsString(row["Frequency"]),
			Type:         store.AsString(row["Type"]),
		}
		day := dayKey(action.ExDate)
		byDate[day] = append(byDate[day], action)
	}
	a.bySecure[securityID] = byDate
	return byDate, nil
}

func dayKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
