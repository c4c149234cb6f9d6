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

package ipmi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePassword_ContainsAllClasses(t *testing.T) {
	for length := 4; length <= 40; length++ {
		pw := GeneratePassword(length)
		require.Len(t, pw, length)

		require.True(t, strings.ContainsAny(pw, "#!@~"), "length %d missing special char: %q", length, pw)
		require.True(t, strings.ContainsAny(pw, "0123456789"), "length %d missing digit: %q", length, pw)
		require.True(t, strings.ContainsAny(pw, "abcdefghijklmnopqrstuvwxyz"), "length %d missing lowercase: %q", length, pw)
		require.True(t, strings.ContainsAny(pw, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"), "length %d missing uppercase: %q", length, pw)
	}
}

func TestGeneratePassword_Deterministic_Length(t *testing.T) {
	require.Len(t, GeneratePassword(1), 1)
	require.Len(t, GeneratePassword(0), 0)
}
