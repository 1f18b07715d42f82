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
	"fmt"

	"github.com/quantfabric/qf-kernel/store"
)

// nextID allocates the next positive id for a table by reading the current
// maximum. Callers hold their repository mutex so concurrent creates of the
// same entity type serialize.
func nextID(ctx context.Context, db store.Adapter, table, idColumn string) (int, error) {
	rows, err := db.GetTable(ctx, table, []string{idColumn},
		(&store.Predicate{}).OrderedBy(idColumn, true).WithLimit(1))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return store.AsInt(rows[0][idColumn]) + 1, nil
}

func pairKey(a, b int) string {
	return fmt.Sprintf("%d_%d", a, b)
}



