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

// Package portfolio holds the position/order ledger and the per-portfolio
// configuration caches: reserves, execution instructions and corporate
// actions.
package portfolio

import (
	"time"

	"github.com/google/uuid"
)

// Position is one holding snapshot. Identity is (portfolio, constituent,
// timestamp, aggregated); history is a sequence of snapshots per
// constituent, monotonic in timestamp.
type Position struct {
	PortfolioID            int
	ConstituentID          int
	Unit                   float64
	Timestamp              time.Time
	Strike                 float64
	StrikeTimestamp        time.Time
	InitialStrike          float64
	InitialStrikeTimestamp time.Time
	Aggregated             bool
}

type OrderType int

const (
	MarketOrder OrderType = iota + 1
	LimitOrder
)

type OrderStatus int

const (
	OrderNew OrderStatus = iota
	OrderSubmitted
	OrderExecuted
	OrderNotExecuted
	OrderBooked
)

// Order is unique per (ID, PortfolioID, Aggregated). Orders with unit 0
// are treated as no-ops and never persisted.
type Order struct {
	ID             string
	PortfolioID    int
	ConstituentID  int
	Unit           float64
	OrderDate      time.Time
	ExecutionDate  time.Time
	Type           OrderType
	Limit          float64
	Status         OrderStatus
	ExecutionLevel float64
	Aggregated     bool
	Client         string
	Destination    string
	Account        string
}

// NewOrder builds a submitted order with a fresh id.
func NewOrder(portfolioID, constituentID int, unit float64, orderDate time.Time, typ OrderType, limit float64) Order {
	return Order{
		ID:            uuid.NewString(),
		PortfolioID:   portfolioID,
		ConstituentID: constituentID,
		Unit:          unit,
		OrderDate:     orderDate,
		Type:          typ,
		Limit:         limit,
		Status:        OrderSubmitted,
	}
}

// Reserve maps a portfolio currency to the instruments funding long and
// short exposure in that currency.
type Reserve struct {
	PortfolioID       int
	CurrencyID        int
	LongInstrumentID  int
	ShortInstrumentID int
}

// Instruction is execution-fee configuration resolved per (portfolio,
// instrument) with fallback to portfolio-wide and global defaults; the
// wildcard id on either axis is 0.
type Instruction struct {
	PortfolioID     int
	InstrumentID    int
	ExecutionFee    float64
	MinExecutionFee float64
	MaxExecutionFee float64
	MinSize         float64
}

// CorporateAction is a declared action keyed by ex-date per security.
type CorporateAction struct {
	ID           string
	SecurityID   int
	DeclaredDate time.Time
	ExDate       time.Time
	RecordDate   time.Time
	PayableDate  time.Time
	Amount       float64
	Frequency    string
	Type         string
}
