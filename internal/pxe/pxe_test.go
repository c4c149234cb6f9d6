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

package pxe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateHostname(t *testing.T) {
	require.NoError(t, ValidateHostname("node1.lab.example.test"))
	require.Error(t, ValidateHostname("not a hostname!"))
}

func TestMacToGrubName(t *testing.T) {
	require.Equal(t, "01-aa-bb-cc-dd-ee-ff", macToGrubName("AA:BB:CC:DD:EE:FF"))
}

func TestQuoteKernelArgs(t *testing.T) {
	got := QuoteKernelArgs([]string{"ip=dhcp", "ks=http://x/y z"})
	require.Contains(t, got, "ip=dhcp")
	require.Contains(t, got, "ks=")
}

func TestLocalCache_Put(t *testing.T) {
	dir := t.TempDir()

	c, err := NewLocalCache(dir)
	require.NoError(t, err)

	require.NoError(t, c.Put("instances/i1/meta-data", "instance-id: i1\n"))

	got, err := os.ReadFile(filepath.Join(dir, "instances/i1/meta-data"))
	require.NoError(t, err)
	require.Equal(t, "instance-id: i1\n", string(got))
}
