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

package store_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock"

	"github.com/quantfabric/qf-kernel/store"
)

var _ = Describe("SQL adapter", func() {
	var (
		ctx  context.Context
		mock pgxmock.PgxConnIface
		db   *store.SQL
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		mock, err = pgxmock.NewConn()
		Expect(err).To(BeNil())
		db = store.NewSQL(mock, store.LimitSuffix)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(BeNil())
	})

	Describe("GetTable", func() {
		It("maps result columns into rows", func() {
			mock.ExpectQuery(`SELECT ID, Name FROM Instrument WHERE TypeID = \$1`).
				WithArgs(3).
				WillReturnRows(pgxmock.NewRows([]string{"ID", "Name"}).
					AddRow(1, "SPX").
					AddRow(2, "NDX"))

			rows, err := db.GetTable(ctx, "Instrument", []string{"ID", "Name"},
				store.Where(store.Eq("TypeID", 3)))
			Expect(err).To(BeNil())
			Expect(rows).To(HaveLen(2))
			Expect(store.AsString(rows[0]["Name"])).To(Equal("SPX"))
			Expect(store.AsInt(rows[1]["ID"])).To(Equal(2))
		})
	})

	Describe("UpdateTable", func() {
		It("upserts via ON CONFLICT in the suffix dialect", func() {
			mock.ExpectExec(`INSERT INTO Currency \(CalendarID, ID, Name\) VALUES \(\$1,\$2,\$3\) ON CONFLICT \(ID\) DO UPDATE SET CalendarID=EXCLUDED\.CalendarID, Name=EXCLUDED\.Name`).
				WithArgs(4, 1, "USD").
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			err := db.UpdateTable(ctx, "Currency", []string{"ID"},
				[]store.Row{{"ID": 1, "Name": "USD", "CalendarID": 4}})
			Expect(err).To(BeNil())
		})

		It("rejects rows missing a key column", func() {
			err := db.UpdateTable(ctx, "Currency", []string{"ID"},
				[]store.Row{{"Name": "USD"}})
			Expect(err).To(Equal(store.ErrMissingKey))
		})
	})

	Describe("DeleteTable", func() {
		It("renders the predicate terms", func() {
			mock.ExpectExec(`DELETE FROM Position WHERE PortfolioID = \$1 AND Timestamp >= \$2`).
				WillReturnResult(pgxmock.NewResult("DELETE", 3))

			err := db.DeleteTable(ctx, "Position",
				store.Where(store.Eq("PortfolioID", 9), store.Gte("Timestamp", 0)))
			Expect(err).To(BeNil())
		})
	})

	Describe("ExecBatch", func() {
		It("joins the statement stream into one command", func() {
			mock.ExpectExec(`DELETE FROM Orders WHERE ID = 'a';INSERT INTO Orders \(ID\) VALUES \('a'\);`).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			err := db.ExecBatch(ctx, []store.Stmt{
				{Op: store.OpDelete, Table: "Orders", Key: []store.Cond{store.Eq("ID", "a")}},
				{Op: store.OpInsert, Table: "Orders", Values: store.Row{"ID": "a"}},
			})
			Expect(err).To(BeNil())
		})

		It("renders boolean columns as boolean literals", func() {
			mock.ExpectExec(`DELETE FROM Orders WHERE ID = 'a' AND Aggregated = FALSE;INSERT INTO Orders \(Aggregated, ID\) VALUES \(TRUE,'a'\);`).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			err := db.ExecBatch(ctx, []store.Stmt{
				{Op: store.OpDelete, Table: "Orders", Key: []store.Cond{store.Eq("ID", "a"), store.Eq("Aggregated", false)}},
				{Op: store.OpInsert, Table: "Orders", Values: store.Row{"ID": "a", "Aggregated": true}},
			})
			Expect(err).To(BeNil())
		})

		It("skips the round trip for an empty batch", func() {
			Expect(db.ExecBatch(ctx, nil)).To(BeNil())
		})
	})
})
