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

import "errors"

var (
	// ErrNotFound indicates no backing row matches the requested id or name.
	ErrNotFound = errors.New("instrument not found")

	// ErrAlreadyExists indicates a natural-key collision during create.
	// Non-retryable; re-resolve through Find.
	ErrAlreadyExists = errors.New("instrument already exists")

	// ErrWrongKind indicates an operation's type precondition failed, e.g.
	// creating a future on a non-future instrument. Checked before any
	// store mutation.
	ErrWrongKind = errors.New("instrument has wrong kind for operation")

	// ErrUnknownProperty indicates SetProperty was given a column the base
	// row does not carry.
	ErrUnknownProperty = errors.New("unknown instrument property")
)
