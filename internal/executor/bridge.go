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

// Package executor is the bridge that lets task bodies, which are
// authored as if synchronous, perform asynchronous work without
// starving siblings or the scheduler's timeout watchdog, per spec §4.3.
package executor

import (
	"context"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"laas.dev/core/labctld/internal/task"
)

// Outcome is what running a task body produces: either a value, or a
// task.Error capturing a genuine failure or a recovered panic.
type Outcome struct {
	Value any
	Err   *task.Error
}

// Bridge isolates each task body attempt on its own goroutine (so a
// blocking call inside one body never starves another) and bounds the
// number of concurrent calls a body can push onto the bridge's shared
// asynchronous pool via Call.
type Bridge struct {
	asyncSem chan struct{}
}

// NewBridge returns a Bridge whose shared asynchronous pool admits at
// most asyncParallelism concurrent Call invocations.
func NewBridge(asyncParallelism int) *Bridge {
	if asyncParallelism <= 0 {
		asyncParallelism = 1
	}
	return &Bridge{asyncSem: make(chan struct{}, asyncParallelism)}
}

// Run executes fn on a dedicated goroutine and returns a channel
// delivering exactly one Outcome. A panic inside fn is caught here and
// converted to a KindPanic task.Error; it never propagates to the
// scheduler. Run itself returns immediately, so the caller (the
// scheduler) can race the returned channel against its own deadline
// timer without the watchdog ever blocking on the body.
func (b *Bridge) Run(fn func() (any, *task.Error)) <-chan Outcome {
	out := make(chan Outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stacked := pkgerrors.WithStack(fmt.Errorf("recovered panic: %v", r))
				out <- Outcome{Err: task.Panicked(fmt.Sprintf("%+v", stacked))}
			}
		}()

		v, terr := fn()
		out <- Outcome{Value: v, Err: terr}
	}()

	return out
}

// Call lets a task body make a synchronous-looking call into
// asynchronous work (an I/O bound helper, a driver call) without
// spawning unbounded goroutines of its own: the call is serviced by the
// bridge's bounded pool, and the caller blocks only its own worker on a
// buffered channel of size one.
func (b *Bridge) Call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	select {
	case b.asyncSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-b.asyncSem }()

	type result struct {
		v   any
		err error
	}

	done := make(chan result, 1)

	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
