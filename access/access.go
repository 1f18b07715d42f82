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

// Package access is the permission boundary. The kernel consults an Oracle
// before handing out entities; the oracle implementation lives outside the
// kernel.
package access

type AccessType int

const (
	Denied AccessType = iota
	View
	Read
	Write
)

type User struct {
	ID    string
	Email string
}

// Oracle reports the user's access level for the entity with the given id.
type Oracle interface {
	Permission(user *User, entityID int) AccessType
}

// AllowAll grants write access to everyone; the default when no permission
// engine is attached.
type AllowAll struct{}

func (AllowAll) Permission(_ *User, _ int) AccessType {
	return Write
}

// DenyList refuses a fixed set of entity ids and grants read on the rest.
type DenyList struct {
	Denied map[int]bool
}

func (d *DenyList) Permission(_ *User, entityID int) AccessType {
	if d.Denied[entityID] {
		return Denied
	}
	return Read
}
