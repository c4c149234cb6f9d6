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

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/model"
)

func testContext() HostContext {
	return HostContext{
		Host:     model.Host{ID: "h1"},
		Instance: model.Instance{ID: "i1", Template: model.HostTemplate{Hostname: "node1", ImageID: "ubuntu-24.04"}},
		IPMIUsername: "collab1",
		IPMIPassword: "x",
		PreImageURL:  "http://rt.test/mailbox/abc",
		PostImageURL: "http://rt.test/mailbox/def",
		Assignment:   model.NetworkAssignment{"n1": "100"},
	}
}

func TestCloudInit(t *testing.T) {
	meta, vendor, netconf, err := CloudInit(testContext())
	require.NoError(t, err)
	require.Contains(t, meta, "node1")
	require.Contains(t, vendor, "http://rt.test/mailbox/abc")
	require.True(t, strings.Contains(netconf, "n1") && strings.Contains(netconf, "100"))
}

func TestKickstart(t *testing.T) {
	ks, err := Kickstart(testContext())
	require.NoError(t, err)
	require.Contains(t, ks, "ubuntu-24.04")
	require.Contains(t, ks, "http://rt.test/mailbox/def")
}

func TestGRUBArgs(t *testing.T) {
	args, err := GRUBArgs(testContext())
	require.NoError(t, err)
	require.Contains(t, args, "ks=http://rt.test/mailbox/def")
}
