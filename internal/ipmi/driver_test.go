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
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/model"
)

func newTestDriver(stdout, stderr string, err error) *Driver {
	d := NewDriver(1000, 1000, zerolog.Nop())
	d.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return []byte(stdout), []byte(stderr), err
	}
	return d
}

var testHost = model.Host{IPMIFQDN: "bmc.example.test", IPMIUser: "admin", IPMIPass: "hunter2"}

func TestStatus_ParsesStates(t *testing.T) {
	cases := []struct {
		stdout string
		want   PowerState
	}{
		{"Chassis Power is on\n", PowerOn},
		{"Chassis Power is off\n", PowerOff},
		{"garbage\n", PowerUnknown},
	}

	for _, c := range cases {
		d := newTestDriver(c.stdout, "", nil)
		got, err := d.Status(context.Background(), testHost)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestSetPower_UnreachableBMC(t *testing.T) {
	d := newTestDriver("", "Unable to establish IPMI v2 / RMCP+ session\n", nil)
	err := d.SetPower(context.Background(), testHost, PowerOn)
	require.Error(t, err)
}

func TestCreateAndDeleteIPMIAccount(t *testing.T) {
	d := newTestDriver("", "", nil)

	require.NoError(t, d.CreateIPMIAccount(context.Background(), testHost, "3", "collab1", "Sw0rdfish!"))
	require.NoError(t, d.DeleteIPMIAccount(context.Background(), testHost, "3"))
}
