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

// Package realtime mirrors kernel mutations to other cluster members. The
// transport is best effort; receivers must tolerate duplicate delivery,
// which the kernel's upsert and dedup rules absorb.
package realtime

import (
	"context"
	"time"
)

type MessageType int

const (
	MarketData MessageType = iota + 1
	StrategyData
	AddNewOrder
	UpdatePosition
	AddNewPosition
	Property
	Function
	CreateAccount
	SavePortfolio
)

type Message struct {
	Type    MessageType `json:"type"`
	Content any         `json:"content"`
}

// MarketDataMessage carries one time-series point mutation.
type MarketDataMessage struct {
	InstrumentID int       `json:"instrumentID"`
	Kind         int       `json:"kind"`
	ProviderID   int       `json:"providerID"`
	Timestamp    time.Time `json:"timestamp"`
	Value        float64   `json:"value"`
}

// StrategyDataMessage carries one memory-series point mutation.
type StrategyDataMessage struct {
	StrategyID  int       `json:"strategyID"`
	MemoryType  int       `json:"memoryType"`
	MemoryClass int       `json:"memoryClass"`
	Timestamp   time.Time `json:"timestamp"`
	Value       float64   `json:"value"`
}

// PropertyMessage mirrors a write-through property set.
type PropertyMessage struct {
	EntityID int    `json:"entityID"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Nop discards every message; the default when clustering is disabled.
type Nop struct{}

func (Nop) Publish(_ context.Context, _ Message) error {
	return nil
}

// Recorder retains published messages in order; used by tests.
type Recorder struct {
	Messages []Message
}

func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.Messages = append(r.Messages, msg)
	return nil
}
