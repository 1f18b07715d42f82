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
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/instrument"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
)

const (
	positionTable    = "Position"
	ordersTable      = "Orders"
	reservesTable    = "PortfolioReserves"
	instructionTable = "Instructions"
	actionTable      = "CorporateAction"
	processedTable   = "ProcessedCorporateAction"
)

// maxBatchStatements bounds one ExecBatch command during a flush.
const maxBatchStatements = 100000

// queryCacheSize bounds the windowed read cache.
const queryCacheSize = 512

const (
	commandDelete = 0
	commandInsert = 1
)

// positionMessage is one queued position mutation tagged with its store
// command.
type positionMessage struct {
	position Position
	command  int
}

type processedMarker struct {
	portfolioID int
	actionID    string
}

// Ledger is the append-oriented position/order history for all portfolios.
// Mutations land in pending buffers distinct from the read path and are
// reconciled against the store by SaveNewPositions. The pending buffers
// are shared across portfolios, so one mutex scopes every flush.
type Ledger struct {
	db   store.Adapter
	repo *instrument.Repository
	pub  realtime.Publisher

	mu            sync.Mutex
	pendingOrders map[string]Order
	positionQueue []positionMessage

	processed      map[int]map[string]bool
	pendingMarkers []processedMarker

	actions *actionIndex

	reserves     map[int][]Reserve
	instructions map[int][]Instruction

	queryCache *lru.Cache
}

func NewLedger(db store.Adapter, repo *instrument.Repository, pub realtime.Publisher) *Ledger {
	if pub == nil {
		pub = realtime.Nop{}
	}
	cache, _ := lru.New(queryCacheSize)
	return &Ledger{
		db:            db,
		repo:          repo,
		pub:           pub,
		pendingOrders: make(map[string]Order),
		processed:     make(map[int]map[string]bool),
		actions:       newActionIndex(db),
		reserves:      make(map[int][]Reserve),
		instructions:  make(map[int][]Instruction),
		queryCache:    cache,
	}
}

// Clear drops every pending buffer and cache; used by tests.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendingOrders = make(map[string]Order)
	l.positionQueue = nil
	l.processed = make(map[int]map[string]bool)
	l.pendingMarkers = nil
	l.reserves = make(map[int][]Reserve)
	l.instructions = make(map[int][]Instruction)
	l.queryCache.Purge()
	l.actions.clear()
}

func orderKey(id string, portfolioID int, aggregated bool) string {
	return fmt.Sprintf("%s_%d_%t", id, portfolioID, aggregated)
}

// AddOrder queues an order for the next flush. Zero-unit orders are
// dropped. Repeated updates to the same (id, portfolio, aggregated) before
// a flush collapse to the last write.
func (l *Ledger) AddOrder(ctx context.Context, p *instrument.Portfolio, o Order) {
	if o.Unit == 0 {
		return
	}

	l.mu.Lock()
	l.pendingOrders[orderKey(o.ID, o.PortfolioID, o.Aggregated)] = o
	l.mu.Unlock()

	if p.Cloud {
		msg := realtime.Message{Type: realtime.AddNewOrder, Content: o}
		if err := l.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Str("OrderID", o.ID).Msg("could not publish order")
		}
	}
}

// UpdateOrder re-queues an order with new field values; last writer wins.
func (l *Ledger) UpdateOrder(ctx context.Context, p *instrument.Portfolio, o Order) {
	l.AddOrder(ctx, p, o)
}

// AddPosition queues a position snapshot for insert.
func (l *Ledger) AddPosition(ctx context.Context, p *instrument.Portfolio, pos Position) {
	l.mu.Lock()
	l.positionQueue = append(l.positionQueue, positionMessage{position: pos, command: commandInsert})
	l.mu.Unlock()

	if p.Cloud {
		msg := realtime.Message{Type: realtime.AddNewPosition, Content: pos}
		if err := l.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("PortfolioID", pos.PortfolioID).Msg("could not publish position")
		}
	}
}

// UpdatePositionMemory queues a position mutation. A new snapshot is
// appended unless it is an aggregated view of a child portfolio (or of a
// strategy owning a portfolio), which would double-count on rollup. An
// update to an existing snapshot is queued as a delete of the matching
// identity followed by a reinsert, replacing the row wholesale.
func (l *Ledger) UpdatePositionMemory(ctx context.Context, p *instrument.Portfolio, pos Position, timestamp time.Time, isNew bool) {
	if p.Simulated {
		return
	}

	if isNew {
		if pos.Aggregated && l.constituentAggregatesToParent(ctx, pos.ConstituentID) {
			return
		}
		l.mu.Lock()
		l.positionQueue = append(l.positionQueue, positionMessage{position: pos, command: commandInsert})
		l.mu.Unlock()
	} else {
		old := pos
		old.Timestamp = timestamp
		l.mu.Lock()
		l.positionQueue = append(l.positionQueue,
			positionMessage{position: old, command: commandDelete},
			positionMessage{position: pos, command: commandInsert})
		l.mu.Unlock()
	}

	if p.Cloud {
		msg := realtime.Message{Type: realtime.UpdatePosition, Content: pos}
		if err := l.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("PortfolioID", pos.PortfolioID).Msg("could not publish position update")
		}
	}
}

func (l *Ledger) constituentAggregatesToParent(ctx context.Context, constituentID int) bool {
	e, err := l.repo.Find(ctx, constituentID)
	if err != nil {
		return false
	}
	switch v := e.(type) {
	case *instrument.Portfolio:
		return true
	case *instrument.Strategy:
		return v.PortfolioID > 0
	}
	return false
}

// MarkActionProcessed records that the portfolio has applied the corporate
// action; the marker is persisted by the next flush.
func (l *Ledger) MarkActionProcessed(portfolioID int, actionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.processed[portfolioID]; ok && set[actionID] {
		return
	}
	l.pendingMarkers = append(l.pendingMarkers, processedMarker{portfolioID: portfolioID, actionID: actionID})
}

// ActionProcessed reports whether the portfolio has already applied the
// action, loading the processed set from the store on first access.
func (l *Ledger) ActionProcessed(ctx context.Context, portfolioID int, actionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.processed[portfolioID]
	if !ok {
		var err error
		set, err = l.loadProcessedLocked(ctx, portfolioID)
		if err != nil {
			return false, err
		}
	}
	if set[actionID] {
		return true, nil
	}
	for _, m := range l.pendingMarkers {
		if m.portfolioID == portfolioID && m.actionID == actionID {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) loadProcessedLocked(ctx context.Context, portfolioID int) (map[string]bool, error) {
	rows, err := l.db.GetTable(ctx, processedTable, nil,
		store.Where(store.Eq("PortfolioID", portfolioID)))
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[store.AsString(row["CorporateActionID"])] = true
	}
	l.processed[portfolioID] = set
	return set, nil
}

// SaveNewPositions reconciles every pending buffer against the store.
// Each pending order becomes a delete-then-insert pair by natural key so a
// retried flush is idempotent; each queued position message becomes an
// insert or delete by its command tag, in queue order. Statements run in
// chunks to bound single-command size. Processed corporate-action markers
// are appended to their table and the per-portfolio sets reloaded. The
// buffers are cleared only after every write succeeds.
func (l *Ledger) SaveNewPositions(ctx context.Context, p *instrument.Portfolio) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	stmts := make([]store.Stmt, 0, len(l.pendingOrders)*2+len(l.positionQueue))

	for _, o := range l.pendingOrders {
		stmts = append(stmts,
			store.Stmt{Op: store.OpDelete, Table: ordersTable, Key: []store.Cond{
				store.Eq("ID", o.ID),
				store.Eq("PortfolioID", o.PortfolioID),
				store.Eq("Aggregated", o.Aggregated),
			}},
			store.Stmt{Op: store.OpInsert, Table: ordersTable, Values: orderRow(o)},
		)
	}

	for _, msg := range l.positionQueue {
		pos := msg.position
		switch msg.command {
		case commandInsert:
			stmts = append(stmts, store.Stmt{Op: store.OpInsert, Table: positionTable, Values: positionRow(pos)})
		case commandDelete:
			stmts = append(stmts, store.Stmt{Op: store.OpDelete, Table: positionTable, Key: []store.Cond{
				store.Eq("PortfolioID", pos.PortfolioID),
				store.Eq("ConstituentID", pos.ConstituentID),
				store.Eq("Timestamp", pos.Timestamp),
				store.Eq("Aggregated", pos.Aggregated),
			}})
		}
	}

	for start := 0; start < len(stmts); start += maxBatchStatements {
		end := start + maxBatchStatements
		if end > len(stmts) {
			end = len(stmts)
		}
		if err := l.db.ExecBatch(ctx, stmts[start:end]); err != nil {
			log.Error().Stack().Err(err).Int("Statements", end-start).Msg("position flush failed")
			return err
		}
	}

	touched := make(map[int]bool, len(l.pendingMarkers))
	for _, m := range l.pendingMarkers {
		row := store.Row{"PortfolioID": m.portfolioID, "CorporateActionID": m.actionID}
		if err := l.db.UpdateTable(ctx, processedTable, []string{"PortfolioID", "CorporateActionID"}, []store.Row{row}); err != nil {
			return err
		}
		touched[m.portfolioID] = true
	}
	for portfolioID := range touched {
		if _, err := l.loadProcessedLocked(ctx, portfolioID); err != nil {
			return err
		}
	}

	l.pendingOrders = make(map[string]Order)
	l.positionQueue = nil
	l.pendingMarkers = nil
	l.queryCache.Purge()

	if p != nil && p.Cloud {
		msg := realtime.Message{Type: realtime.SavePortfolio, Content: p.ID}
		if err := l.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int("PortfolioID", p.ID).Msg("could not publish portfolio save")
		}
	}
	return nil
}

func orderRow(o Order) store.Row {
	return store.Row{
		"ID":             o.ID,
		"PortfolioID":    o.PortfolioID,
		"ConstituentID":  o.ConstituentID,
		"Unit":           o.Unit,
		"OrderDate":      o.OrderDate,
		"ExecutionDate":  o.ExecutionDate,
		"TypeID":         int(o.Type),
		"Limit":          o.Limit,
		"StatusID":       int(o.Status),
		"ExecutionLevel": o.ExecutionLevel,
		"Aggregated":     o.Aggregated,
		"Client":         o.Client,
		"Destination":    o.Destination,
		"Account":        o.Account,
	}
}

func positionRow(p Position) store.Row {
	return store.Row{
		"PortfolioID":            p.PortfolioID,
		"ConstituentID":          p.ConstituentID,
		"Unit":                   p.Unit,
		"Timestamp":              p.Timestamp,
		"Strike":                 p.Strike,
		"StrikeTimestamp":        p.StrikeTimestamp,
		"InitialStrike":          p.InitialStrike,
		"InitialStrikeTimestamp": p.InitialStrikeTimestamp,
		"Aggregated":             p.Aggregated,
	}
}

func positionFromRow(row store.Row) Position {
	return Position{
		PortfolioID:            store.AsInt(row["PortfolioID"]),
		ConstituentID:          store.AsInt(row["ConstituentID"]),
		Unit:                   store.AsFloat(row["Unit"]),
		Timestamp:              store.AsTime(row["Timestamp"]),
		Strike:                 store.AsFloat(row["Strike"]),
		StrikeTimestamp:        store.AsTime(row["StrikeTimestamp"]),
		InitialStrike:          store.AsFloat(row["InitialStrike"]),
		InitialStrikeTimestamp: store.AsTime(row["InitialStrikeTimestamp"]),
		Aggregated:             store.AsBool(row["Aggregated"]),
	}
}

func orderFromRow(row store.Row) Order {
	return Order{
		ID:             store.AsString(row["ID"]),
		PortfolioID:    store.AsInt(row["PortfolioID"]),
		ConstituentID:  store.AsInt(row["ConstituentID"]),
		Unit:           store.AsFloat(row["Unit"]),
		OrderDate:      store.AsTime(row["OrderDate"]),
		ExecutionDate:  store.AsTime(row["ExecutionDate"]),
		Type:           OrderType(store.AsInt(row["TypeID"])),
		Limit:          store.AsFloat(row["Limit"]),
		Status:         OrderStatus(store.AsInt(row["StatusID"])),
		ExecutionLevel: store.AsFloat(row["ExecutionLevel"]),
		Aggregated:     store.AsBool(row["Aggregated"]),
		Client:         store.AsString(row["Client"]),
		Destination:    store.AsString(row["Destination"]),
		Account:        store.AsString(row["Account"]),
	}
}
