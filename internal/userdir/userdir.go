// Copyright (c) 2026 labctld contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package userdir is the IPA/LDAP user directory contract (spec §6
// "User directory (IPA)"), used by the AddUsers task and by cleanup's
// VPN group resync — out of core scope beyond this interface.
package userdir

import "context"

// Directory is the external user-directory contract the workflow
// depends on for VPN group membership.
type Directory interface {
	GroupAddUser(ctx context.Context, group, username string) error
	GroupRemoveUser(ctx context.Context, group, username string) error
	FindUser(ctx context.Context, username string) (bool, error)
}

// Fake is an in-memory Directory for tests.
type Fake struct {
	Groups map[string]map[string]bool
}

// NewFake builds an empty Fake directory.
func NewFake() *Fake {
	return &Fake{Groups: make(map[string]map[string]bool)}
}

func (f *Fake) GroupAddUser(ctx context.Context, group, username string) error {
	if f.Groups[group] == nil {
		f.Groups[group] = make(map[string]bool)
	}
	f.Groups[group][username] = true

	return nil
}

func (f *Fake) GroupRemoveUser(ctx context.Context, group, username string) error {
	delete(f.Groups[group], username)
	return nil
}

func (f *Fake) FindUser(ctx context.Context, username string) (bool, error) {
	for _, members := range f.Groups {
		if members[username] {
			return true, nil
		}
	}

	return false, nil
}
