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
	"strings"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/rs/zerolog/log"

	"github.com/quantfabric/qf-kernel/access"
	"github.com/quantfabric/qf-kernel/realtime"
	"github.com/quantfabric/qf-kernel/store"
)

const (
	instrumentTable   = "Instrument"
	systemDataTable   = "SystemData"
	thirdPartyTable   = "ThirdPartyData"
	categoriesTable   = "Categories"
	securityTable     = "Security"
	futureTable       = "Future"
	portfolioTable    = "Portfolio"
	strategyTable     = "Strategy"
	interestRateTable = "InterestRate"
	depositTable      = "Deposit"
	swapTable         = "InterestRateSwap"
	timeSeriesTable   = "TimeSeries"
	isinTable         = "Isin"
	sedolTable        = "Sedol"
)

// SimulationPrefix marks simulated instruments. Names carrying it resolve
// from memory only and never reach the backing store.
const SimulationPrefix = "$"

// Simulated ids count down from here; the store never sees them.
const simIDSeed = -183

// Repository is the instrument identity cache. Every id and name resolves
// to at most one live Entity per process; the concrete variant is resolved
// once, when the row is first loaded. Keyed reads after first resolution
// are lock free; the mutex serializes every check-then-act region (first
// load, create, clean).
type Repository struct {
	db     store.Adapter
	oracle access.Oracle
	pub    realtime.Publisher

	byID       *haxmap.Map[int, Entity]
	byName     *haxmap.Map[string, Entity]
	nameMisses *haxmap.Map[string, bool]

	isins  *dictionary
	sedols *dictionary

	series *SeriesStore

	mu       sync.Mutex
	lastSave time.Time
}

func NewRepository(db store.Adapter, oracle access.Oracle, pub realtime.Publisher) *Repository {
	if oracle == nil {
		oracle = access.AllowAll{}
	}
	if pub == nil {
		pub = realtime.Nop{}
	}
	r := &Repository{
		db:         db,
		oracle:     oracle,
		pub:        pub,
		byID:       haxmap.New[int, Entity](),
		byName:     haxmap.New[string, Entity](),
		nameMisses: haxmap.New[string, bool](),
		isins:      newDictionary(db, isinTable, "Isin"),
		sedols:     newDictionary(db, sedolTable, "Sedol"),
	}
	r.series = newSeriesStore(db, pub)
	return r
}

// Series exposes the repository's time-series store.
func (r *Repository) Series() *SeriesStore {
	return r.series
}

// Clear evicts every cached entity and series; used by tests.
func (r *Repository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = haxmap.New[int, Entity]()
	r.byName = haxmap.New[string, Entity]()
	r.nameMisses = haxmap.New[string, bool]()
	r.isins.clear()
	r.sedols.clear()
	r.series.clear()
}

// Find resolves an entity by id, loading and caching it on first access.
func (r *Repository) Find(ctx context.Context, id int) (Entity, error) {
	if e, ok := r.byID.Get(id); ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID.Get(id); ok {
		return e, nil
	}
	return r.load(ctx, id)
}

// FindByName resolves an entity by its unique name. Misses against the
// store are memoized until the next create. Simulated names resolve from
// memory only.
func (r *Repository) FindByName(ctx context.Context, name string) (Entity, error) {
	if e, ok := r.byName.Get(name); ok {
		return e, nil
	}
	if strings.HasPrefix(name, SimulationPrefix) {
		return nil, ErrNotFound
	}
	if _, ok := r.nameMisses.Get(name); ok {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byName.Get(name); ok {
		return e, nil
	}

	rows, err := r.db.GetTable(ctx, instrumentTable, nil, store.Where(store.Eq("Name", name)))
	if err != nil {
		log.Error().Stack().Err(err).Str("Name", name).Msg("could not load instrument by name")
		return nil, err
	}
	if len(rows) == 0 {
		r.nameMisses.Set(name, true)
		return nil, ErrNotFound
	}

	id := store.AsInt(rows[0]["ID"])
	if e, ok := r.byID.Get(id); ok {
		r.byName.Set(name, e)
		return e, nil
	}
	return r.load(ctx, id)
}

// FindForUser resolves by id and consults the access oracle. Denied reads
// behave as not found.
func (r *Repository) FindForUser(ctx context.Context, user *access.User, id int) (Entity, error) {
	e, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.oracle.Permission(user, id) == access.Denied {
		return nil, ErrNotFound
	}
	return e, nil
}

// FindByNameForUser resolves by name for a user. A denied portfolio is
// still returned when the user may access its strategy; a denied strategy
// is still returned when the user may access the strategy of its parent
// portfolio. An entity that is already cached is returned even when every
// check denies.
func (r *Repository) FindByNameForUser(ctx context.Context, user *access.User, name string) (Entity, error) {
	if e, ok := r.byName.Get(name); ok {
		if r.oracle.Permission(user, e.Root().ID) != access.Denied {
			return e, nil
		}
		switch v := e.(type) {
		case *Portfolio:
			if v.StrategyID > 0 && r.oracle.Permission(user, v.StrategyID) != access.Denied {
				return e, nil
			}
		case *Strategy:
			if r.parentStrategyPermitted(ctx, user, v) {
				return e, nil
			}
		}
		return e, nil
	}

	e, err := r.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if r.oracle.Permission(user, e.Root().ID) == access.Denied {
		return nil, ErrNotFound
	}
	return e, nil
}

// parentStrategyPermitted walks strategy -> portfolio -> parent portfolio
// -> strategy and checks the user's access on the end of the chain.
func (r *Repository) parentStrategyPermitted(ctx context.Context, user *access.User, s *Strategy) bool {
	if s.PortfolioID <= 0 {
		return false
	}
	e, err := r.Find(ctx, s.PortfolioID)
	if err != nil {
		return false
	}
	p, ok := e.(*Portfolio)
	if !ok || p.ParentPortfolioID <= 0 {
		return false
	}
	pe, err := r.Find(ctx, p.ParentPortfolioID)
	if err != nil {
		return false
	}
	parent, ok := pe.(*Portfolio)
	if !ok || parent.StrategyID <= 0 {
		return false
	}
	return r.oracle.Permission(user, parent.StrategyID) != access.Denied
}

// load hydrates id from the store and caches the resolved variant. Caller
// holds r.mu.
func (r *Repository) load(ctx context.Context, id int) (Entity, error) {
	rows, err := r.db.GetTable(ctx, instrumentTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		log.Error().Stack().Err(err).Int("InstrumentID", id).Msg("could not load instrument")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	base, err := r.baseFromRow(ctx, rows[0])
	if err != nil {
		return nil, err
	}
	e, err := r.resolveVariant(ctx, base)
	if err != nil {
		return nil, err
	}
	r.cacheLocked(e)
	return e, nil
}

func (r *Repository) baseFromRow(ctx context.Context, row store.Row) (*Instrument, error) {
	id := store.AsInt(row["ID"])
	base := &Instrument{
		ID:          id,
		Name:        store.AsString(row["Name"]),
		Description: store.AsString(row["Description"]),
		Type:        Type(store.AsInt(row["InstrumentTypeID"])),
		CurrencyID:  store.AsInt(row["CurrencyID"]),
		FundingType: FundingType(store.AsInt(row["FundingTypeID"])),
		CalendarID:  store.AsInt(row["CustomCalendarID"]),
		ScaleFactor: 1,
	}

	sys, err := r.db.GetTable(ctx, systemDataTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		return nil, err
	}
	if len(sys) > 0 {
		base.CreateTime = store.AsTime(sys[0]["CreateTime"])
		base.UpdateTime = store.AsTime(sys[0]["UpdateTime"])
		base.Deleted = store.AsBool(sys[0]["Deleted"])
		base.ExecutionCost = store.AsFloat(sys[0]["ExecutionCost"])
		base.ScaleFactor = store.AsFloat(sys[0]["ScaleFactor"])
	}

	cats, err := r.db.GetTable(ctx, categoriesTable, nil, store.Where(store.Eq("ID", id)))
	if err != nil {
		return nil, err
	}
	if len(cats) > 0 {
		base.AssetClass = store.AsString(cats[0]["AssetClass"])
		base.Region = store.AsString(cats[0]["GeographicalRegion"])
	}
	return base, nil
}

// resolveVariant turns the base row into its concrete variant. An
// instrument whose subtype row is missing stays a base Instrument.
func (r *Repository) resolveVariant(ctx context.Context, base *Instrument) (Entity, error) {
	switch base.Type {
	case TypePortfolio:
		rows, err := r.db.GetTable(ctx, portfolioTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return base, nil
		}
		return &Portfolio{
			Instrument:        *base,
			ParentPortfolioID: store.AsInt(rows[0]["ParentPortfolioID"]),
			StrategyID:        store.AsInt(rows[0]["StrategyID"]),
			ResidualID:        store.AsInt(rows[0]["ResidualID"]),
			Custodian:         store.AsString(rows[0]["Custodian"]),
			Account:           store.AsString(rows[0]["Account"]),
			Cloud:             store.AsBool(rows[0]["Cloud"]),
		}, nil

	case TypeStrategy:
		rows, err := r.db.GetTable(ctx, strategyTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return base, nil
		}
		return &Strategy{
			Instrument:  *base,
			PortfolioID: store.AsInt(rows[0]["PortfolioID"]),
			Class:       store.AsString(rows[0]["Class"]),
			Cloud:       store.AsBool(rows[0]["Cloud"]),
		}, nil

	case TypeDeposit:
		rate, err := r.db.GetTable(ctx, interestRateTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		rows, err := r.db.GetTable(ctx, depositTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		if len(rate) == 0 || len(rows) == 0 {
			return base, nil
		}
		return &Deposit{
			Instrument:   *base,
			Maturity:     store.AsInt(rate[0]["Maturity"]),
			MaturityType: store.AsInt(rate[0]["MaturityTypeID"]),
			DayCount:     store.AsInt(rows[0]["DayCountID"]),
		}, nil

	case TypeSwap:
		rate, err := r.db.GetTable(ctx, interestRateTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		rows, err := r.db.GetTable(ctx, swapTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		if len(rate) == 0 || len(rows) == 0 {
			return base, nil
		}
		return &Swap{
			Instrument:     *base,
			Maturity:       store.AsInt(rate[0]["Maturity"]),
			MaturityType:   store.AsInt(rate[0]["MaturityTypeID"]),
			FloatDayCount:  store.AsInt(rows[0]["FloatDayCountID"]),
			FloatFrequency: store.AsInt(rows[0]["FloatFrequencyID"]),
			FixedDayCount:  store.AsInt(rows[0]["FixedDayCountID"]),
			FixedFrequency: store.AsInt(rows[0]["FixedFrequencyID"]),
		}, nil

	case TypeFuture:
		sec, ok, err := r.loadSecurity(ctx, base)
		if err != nil {
			return nil, err
		}
		if !ok {
			return base, nil
		}
		rows, err := r.db.GetTable(ctx, futureTable, nil, store.Where(store.Eq("ID", base.ID)))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return sec, nil
		}
		return &Future{
			Security:          *sec,
			GenericMonths:     store.AsString(rows[0]["GenericMonths"]),
			FirstDeliveryDate: store.AsTime(rows[0]["FirstDeliveryDate"]),
			LastDeliveryDate:  store.AsTime(rows[0]["LastDeliveryDate"]),
			FirstNoticeDate:   store.AsTime(rows[0]["FirstNoticeDate"]),
			LastTradeDate:     store.AsTime(rows[0]["LastTradeDate"]),
			TickSize:          store.AsFloat(rows[0]["TickSize"]),
			ContractSize:      store.AsFloat(rows[0]["ContractSize"]),
			ContractMonth:     store.AsInt(rows[0]["ContractMonth"]),
			ContractYear:      store.AsInt(rows[0]["ContractYear"]),
			UnderlyingID:      store.AsInt(rows[0]["UnderlyingInstrumentID"]),
		}, nil

	default:
		sec, ok, err := r.loadSecurity(ctx, base)
		if err != nil {
			return nil, err
		}
		if !ok {
			return base, nil
		}
		return sec, nil
	}
}

func (r *Repository) loadSecurity(ctx context.Context, base *Instrument) (*Security, bool, error) {
	rows, err := r.db.GetTable(ctx, securityTable, nil, store.Where(store.Eq("ID", base.ID)))
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	isin, err := r.isins.lookup(ctx, store.AsInt(rows[0]["IsinID"]))
	if err != nil && err != ErrNotFound {
		return nil, false, err
	}
	sedol, err := r.sedols.lookup(ctx, store.AsInt(rows[0]["SedolID"]))
	if err != nil && err != ErrNotFound {
		return nil, false, err
	}

	return &Security{
		Instrument: *base,
		Isin:       isin,
		Sedol:      sedol,
		ExchangeID: store.AsInt(rows[0]["ExchangeID"]),
		PointSize:  store.AsFloat(rows[0]["PointSize"]),
	}, true, nil
}

// cacheLocked installs the variant in both identity maps. Caller holds
// r.mu.
func (r *Repository) cacheLocked(e Entity) {
	root := e.Root()
	r.byID.Set(root.ID, e)
	r.byName.Set(root.Name, e)
	r.nameMisses.Del(root.Name)
}

// allocSimID returns the first unused simulated id, counting down from the
// seed. Caller holds r.mu.
func (r *Repository) allocSimID() int {
	id := simIDSeed
	for {
		id--
		if _, ok := r.byID.Get(id); !ok {
			return id
		}
	}
}

// nextInstrumentID allocates the next positive id from the store's current
// maximum. Caller holds r.mu.
func (r *Repository) nextInstrumentID(ctx context.Context) (int, error) {
	rows, err := r.db.GetTable(ctx, instrumentTable, []string{"ID"},
		(&store.Predicate{}).OrderedBy("ID", true).WithLimit(1))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return store.AsInt(rows[0]["ID"]) + 1, nil
}
