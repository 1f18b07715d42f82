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

package common

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	tzOnce sync.Once
	tzLoc  *time.Location
)

// GetTimezone returns the market timezone all kernel timestamps are
// normalized to.
func GetTimezone() *time.Location {
	tzOnce.Do(func() {
		tzStr := viper.GetString("kernel.timezone")
		if tzStr == "" {
			tzStr = "America/New_York"
		}
		var err error
		tzLoc, err = time.LoadLocation(tzStr)
		if err != nil {
			log.Error().Err(err).Str("Timezone", tzStr).Msg("could not load timezone; defaulting to UTC")
			tzLoc = time.UTC
		}
	})
	return tzLoc
}

// CloseOfBusiness returns the close-of-business timestamp for the calendar
// day containing t. Rows stamped at or after this instant are end-of-day
// observations.
func CloseOfBusiness(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 990000000, t.Location())
}

// MaxSQLTime is the largest timestamp written to the backing store; later
// values are clamped on flush.
var MaxSQLTime = time.Date(9999, 12, 31, 23, 59, 59, 997000000, time.UTC)

// ClampTime bounds t to MaxSQLTime.
func ClampTime(t time.Time) time.Time {
	if t.After(MaxSQLTime) {
		return MaxSQLTime
	}
	return t
}
