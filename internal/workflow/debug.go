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

import "laas.dev/core/labctld/internal/task"

// NoopTask returns Result unchanged; it exists for scheduler/dispatcher
// tests that need a Runnable with no external dependencies.
type NoopTask struct {
	Result string `json:"result"`
}

func (t NoopTask) Identifier() task.Identifier { return task.Named("NoopTask").Versioned(1) }

func (t NoopTask) Run(ctx task.Context) (any, *task.Error) {
	return t.Result, nil
}
