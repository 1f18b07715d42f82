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

// Package instrument is the identity-cache core of the kernel. Every
// tradable entity resolves to exactly one live object per process; the
// Repository guarantees this and mediates all lazy hydration from the
// backing store.
package instrument

import "time"

// Type classifies the base instrument row. The concrete variant an id
// resolves to is determined by this value once, at load time.
type Type int

const (
	TypeEquity Type = iota + 1
	TypeETF
	TypeFuture
	TypeOption
	TypeWarrant
	TypeFund
	TypeIndex
	TypeDeposit
	TypeSwap
	TypePortfolio
	TypeStrategy
)

func (t Type) String() string {
	switch t {
	case TypeEquity:
		return "Equity"
	case TypeETF:
		return "ETF"
	case TypeFuture:
		return "Future"
	case TypeOption:
		return "Option"
	case TypeWarrant:
		return "Warrant"
	case TypeFund:
		return "Fund"
	case TypeIndex:
		return "Index"
	case TypeDeposit:
		return "Deposit"
	case TypeSwap:
		return "InterestRateSwap"
	case TypePortfolio:
		return "Portfolio"
	case TypeStrategy:
		return "Strategy"
	}
	return "Unknown"
}

type FundingType int

const (
	TotalReturn FundingType = iota + 1
	ExcessReturn
)

// Entity is the closed set of instrument variants: *Instrument,
// *Security, *Future, *Portfolio, *Strategy, *Deposit, *Swap. The
// Repository stores the variant directly; callers type-switch when they
// need subtype fields.
type Entity interface {
	Root() *Instrument
}

// Instrument is the base identity shared by every variant. Simulated
// instruments carry a negative id and never touch the backing store.
type Instrument struct {
	ID            int
	Name          string
	Description   string
	Type          Type
	CurrencyID    int
	FundingType   FundingType
	CalendarID    int
	AssetClass    string
	Region        string
	ExecutionCost float64
	ScaleFactor   float64
	CreateTime    time.Time
	UpdateTime    time.Time
	Deleted       bool
	Simulated     bool
}

func (i *Instrument) Root() *Instrument { return i }

// Security extends Instrument with listing identity. Isin and Sedol are
// dictionary-interned strings shared by many securities.
type Security struct {
	Instrument

	Isin       string
	Sedol      string
	ExchangeID int
	PointSize  float64
}

// Future extends Security with contract boundaries and a doubly-linked
// chain ordered by last-trade date for roll purposes.
type Future struct {
	Security

	GenericMonths     string
	FirstDeliveryDate time.Time
	LastDeliveryDate  time.Time
	FirstNoticeDate   time.Time
	LastTradeDate     time.Time
	TickSize          float64
	ContractSize      float64
	ContractMonth     int
	ContractYear      int
	UnderlyingID      int

	// Previous and Next are wired by Futures; when set, the chain is
	// mutually consistent and ordered by ascending last-trade date.
	Previous *Future
	Next     *Future
}

// Portfolio extends Instrument with the accounting scope that owns
// positions and orders. Reserves and the ledgers themselves live in the
// portfolio package.
type Portfolio struct {
	Instrument

	ParentPortfolioID int
	StrategyID        int
	ResidualID        int
	Custodian         string
	Account           string
	Cloud             bool
}

// Strategy extends Instrument with a reference to its owning portfolio
// (zero when the strategy is portfolio-less).
type Strategy struct {
	Instrument

	PortfolioID int
	Class       string
	Cloud       bool
}

// Deposit is a cash interest-rate product.
type Deposit struct {
	Instrument

	Maturity     int
	MaturityType int
	DayCount     int
}

// Swap is a fixed-for-floating interest-rate swap.
type Swap struct {
	Instrument

	Maturity       int
	MaturityType   int
	FloatDayCount  int
	FloatFrequency int
	FixedDayCount  int
	FixedFrequency int
}
