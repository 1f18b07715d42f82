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

	"github.com/quantfabric/qf-kernel/store"
)

// Instruction resolves the execution instruction for an order, falling
// back through three precedence levels: exact (portfolio, instrument),
// portfolio default (portfolio, 0), then global default (0, 0).
func (l *Ledger) Instruction(ctx context.Context, o Order) (Instruction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	levels := [][2]int{
		{o.PortfolioID, o.ConstituentID},
		{o.PortfolioID, 0},
		{0, 0},
	}
	for _, level := range levels {
		instructions, err := l.instructionsLocked(ctx, level[0])
		if err != nil {
			return Instruction{}, err
		}
		for _, ins := range instructions {
			if ins.InstrumentID == level[1] {
				return ins, nil
			}
		}
	}
	return Instruction{}, ErrNoInstruction
}

// AddInstruction sets the execution instruction for the instruction's
// (portfolio, instrument) key, read-modify-write like reserves.
func (l *Ledger) AddInstruction(ctx context.Context, ins Instruction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	instructions, err := l.instructionsLocked(ctx, ins.PortfolioID)
	if err != nil {
		return err
	}

	found := false
	for i := range instructions {
		if instructions[i].InstrumentID == ins.InstrumentID {
			instructions[i] = ins
			found = true
			break
		}
	}
	if !found {
		instructions = append(instructions, ins)
	}
	l.instructions[ins.PortfolioID] = instructions

	rows := make([]store.Row, 0, len(instructions))
	for _, i := range instructions {
		rows = append(rows, store.Row{
			"PortfolioID":     i.PortfolioID,
			"InstrumentID":    i.InstrumentID,
			"ExecutionFee":    i.ExecutionFee,
			"MinExecutionFee": i.MinExecutionFee,
			"MaxExecutionFee": i.MaxExecutionFee,
			"MinSize":         i.MinSize,
		})
	}
	return l.db.UpdateTable(ctx, instructionTable, []string{"PortfolioID", "InstrumentID"}, rows)
}

func (l *Ledger) instructionsLocked(ctx context.Context, portfolioID int) ([]Instruction, error) {
	if instructions, ok := l.instructions[portfolioID]; ok {
		return instructions, nil
	}

	rows, err := l.db.GetTable(ctx, instructionTable, nil,
		store.Where(store.Eq("PortfolioID", portfolioID)))
	if err != nil {
		return nil, err
	}

	instructions := make([]Instruction, 0, len(rows))
	for _, row := range rows {
		instructions = append(instructions, Instruction{
			PortfolioID:     store.AsInt(row["PortfolioID"]),
			InstrumentID:    store.AsInt(row["InstrumentID"]),
			ExecutionFee:    store.AsFloat(row["ExecutionFee"]),
			MinExecutionFee: store.AsFloat(row["MinExecutionFee"]),
			MaxExecutionFee: store.AsFloat(row["MaxExecutionFee"]),
			MinSize:         store.AsFloat(row["MinSize"]),
		})
	}
	l.instructions[portfolioID] = instructions
	return instructions, nil
}
