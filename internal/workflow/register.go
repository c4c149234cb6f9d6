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

package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"

	"laas.dev/core/labctld/internal/task"
)

// RegisterAll wires every workflow task type into reg, with deps
// injected into each attempt's Runnable at deserialize time. Unlike
// task.Register[T] (used by task types with no external collaborators),
// these entries are built by hand because a persisted task's JSON
// params never carry its *Deps — the registry's closures are the one
// place that knows how to re-attach it on every attempt (spec §9:
// "model as explicit services created at startup... captured by the
// registry's Deserialize closures").
func RegisterAll(reg *task.Registry, deps *Deps) {
	register[DeployBooking](reg, "", func(v *DeployBooking) { v.deps = deps })
	register[DeployHost](reg, "", func(v *DeployHost) { v.deps = deps })
	register[applyNetwork](reg, nil, func(v *applyNetwork) { v.deps = deps })
	register[renderAndPush](reg, nil, func(v *renderAndPush) { v.deps = deps })
	register[powerCycle](reg, nil, func(v *powerCycle) { v.deps = deps })
	register[waitMailbox](reg, nil, func(v *waitMailbox) { v.deps = deps })
	register[issueCollaboratorAccount](reg, nil, func(v *issueCollaboratorAccount) { v.deps = deps })
	register[verifyReachability](reg, nil, func(v *verifyReachability) { v.deps = deps })
	register[CleanupAggregate](reg, "", func(v *CleanupAggregate) { v.deps = deps })
	register[CleanupHost](reg, "", func(v *CleanupHost) { v.deps = deps })
	register[VPNResync](reg, "", func(v *VPNResync) { v.deps = deps })
	register[Notify](reg, nil, func(v *Notify) { v.deps = deps })
	register[AddUsers](reg, "", func(v *AddUsers) { v.deps = deps })
	register[Reimage](reg, "", func(v *Reimage) { v.deps = deps })
	register[NoopTask](reg, "", func(v *NoopTask) {})
}

// register builds one task.Entry for T: JSON-unmarshal the persisted
// params into a *T, run inject to attach external collaborators, then
// hand the scheduler a value-typed Runnable.
func register[T task.Runnable](reg *task.Registry, outputSample any, inject func(*T)) {
	var zero T
	id := zero.Identifier()

	entry := task.Entry{
		Identifier: id,
		OutputType: reflect.TypeOf(outputSample),
		Deserialize: func(params json.RawMessage) (task.Runnable, error) {
			v := new(T)
			if len(params) > 0 {
				if err := json.Unmarshal(params, v); err != nil {
					return nil, fmt.Errorf("deserialize task %s: %w", id, err)
				}
			}
			inject(v)
			return *v, nil
		},
		Serialize: func(r task.Runnable) (json.RawMessage, error) {
			return json.Marshal(r)
		},
	}

	reg.MustRegister(entry)
}
