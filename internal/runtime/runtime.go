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

// Package runtime is the public surface of the task engine: enroll,
// spawn, set-target, and join-by-handle, per spec §4.6. It is a thin
// façade over internal/scheduler so that callers (the workflow package,
// cmd/labctld) never reach into scheduling internals directly.
package runtime

import (
	"context"

	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/scheduler"
	"laas.dev/core/labctld/internal/task"
)

// Runtime is a single process-wide instance owning the whole task set
// (spec §1 Non-goals: "not a distributed scheduler"). Tests construct
// isolated instances via New.
type Runtime struct {
	sched *scheduler.Scheduler
}

// New constructs a Runtime backed by store for persistence and registry
// for task type resolution.
func New(store scheduler.Store, registry *task.Registry, opts scheduler.Options, log zerolog.Logger) *Runtime {
	return &Runtime{sched: scheduler.New(store, registry, opts, log)}
}

// Start recovers in-flight tasks from storage and begins running the
// worker pool.
func (r *Runtime) Start(ctx context.Context) error {
	return r.sched.Start(ctx)
}

// Stop drains the worker pool.
func (r *Runtime) Stop() {
	r.sched.Stop()
}

// Enroll stages task t without running it.
func (r *Runtime) Enroll(ctx context.Context, t task.Runnable) (string, error) {
	return r.sched.Enroll(ctx, t)
}

// SetTarget marks id as a root the scheduler drives to completion.
func (r *Runtime) SetTarget(ctx context.Context, id string) error {
	return r.sched.SetTarget(ctx, id)
}

// EnrollAndRun is a convenience combining Enroll and SetTarget, mirroring
// how the Dispatcher turns an Action directly into a running root task
// (original_source's entry/mod.rs: "let task_id = self.rt.enroll(task);
// self.rt.set_target(task_id);").
func (r *Runtime) EnrollAndRun(ctx context.Context, t task.Runnable) (string, error) {
	id, err := r.Enroll(ctx, t)
	if err != nil {
		return "", err
	}

	if err := r.SetTarget(ctx, id); err != nil {
		return "", err
	}

	return id, nil
}

// Handle returns the typed join handle for an enrolled task id.
func (r *Runtime) Handle(id string) (task.Handle, error) {
	return r.sched.Handle(id)
}

// WithTask is a read-only inspection hook for diagnostics.
func (r *Runtime) WithTask(id string, f func(scheduler.Record)) error {
	return r.sched.WithTask(id, f)
}

// QueueDepth reports how many enrolled tasks are runnable but not yet
// picked up by a worker, for the metrics gauge (spec §3 "Metrics").
func (r *Runtime) QueueDepth() int {
	return r.sched.QueueDepth()
}
