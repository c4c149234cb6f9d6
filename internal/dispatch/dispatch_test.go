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

package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/workflow"
)

func TestToRunnable_MapsEachActionKind(t *testing.T) {
	d := &Dispatcher{deps: &workflow.Deps{}}

	cases := []struct {
		name   string
		action Action
		want   any
	}{
		{"deploy", DeployBooking("a1"), workflow.DeployBooking{}},
		{"cleanup", CleanupBooking("a1"), workflow.CleanupAggregate{}},
		{"addusers", AddUsers("a1"), workflow.AddUsers{}},
		{"reimage", Reimage("a1", "i1", "img1"), workflow.Reimage{}},
		{"notify", NotifyTask("a1", notify.SituationBookingEnded), workflow.Notify{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r, err := d.toRunnable(c.action)
			require.NoError(t, err)
			require.IsType(t, c.want, r)
		})
	}
}

func TestSend_DoesNotBlockOnUnstartedHandler(t *testing.T) {
	d := &Dispatcher{actions: make(chan Action, 1), deps: &workflow.Deps{}}
	d.Send(DeployBooking("a1"))
	require.Len(t, d.actions, 1)
}
