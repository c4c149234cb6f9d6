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

// Package dispatch is the single entry point the API layer uses to
// turn a user-facing request into a root task (spec §4.10/§4.11): the
// HTTP handlers never construct a workflow.Runnable or touch the
// runtime directly, they send an Action on a channel and a single
// background goroutine does the enroll-and-run.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/notify"
	"laas.dev/core/labctld/internal/runtime"
	"laas.dev/core/labctld/internal/task"
	"laas.dev/core/labctld/internal/workflow"
)

// Action is one request for the dispatcher to turn into a root task.
// Which of the Action's fields beyond AggregateID are meaningful depends
// on the constructor that built it: Reimage sets the instance and image
// ids, NotifyTask sets the situation, and the others set none.
type Action struct {
	kind        actionKind
	aggregateID string
	instanceID  string
	imageID     string
	situation   notify.Situation
}

type actionKind int

const (
	actionDeployBooking actionKind = iota
	actionCleanupBooking
	actionAddUsers
	actionReimage
	actionNotify
)

func DeployBooking(aggregateID string) Action {
	return Action{kind: actionDeployBooking, aggregateID: aggregateID}
}

func CleanupBooking(aggregateID string) Action {
	return Action{kind: actionCleanupBooking, aggregateID: aggregateID}
}

func AddUsers(aggregateID string) Action {
	return Action{kind: actionAddUsers, aggregateID: aggregateID}
}

func Reimage(aggregateID, instanceID, imageID string) Action {
	return Action{kind: actionReimage, aggregateID: aggregateID, instanceID: instanceID, imageID: imageID}
}

func NotifyTask(aggregateID string, situation notify.Situation) Action {
	return Action{kind: actionNotify, aggregateID: aggregateID, situation: situation}
}

// Dispatcher owns the one goroutine that turns Actions into enrolled,
// targeted root tasks. It exists so callers outside this package never
// need to know which workflow.Runnable a given Action maps to (spec's
// original design note: "this mod does mean more clear separation and
// looser coupling").
type Dispatcher struct {
	rt      *runtime.Runtime
	deps    *workflow.Deps
	actions chan Action
	log     zerolog.Logger
}

// New starts the dispatcher's background handler goroutine, which exits
// once ctx is done. Send does not watch ctx: Actions sent after that stay
// queued unhandled, and Send blocks once the 64-slot buffer is full.
// In-flight enrolls still
// complete since EnrollAndRun only stages and targets the task, it
// doesn't wait for it to finish.
func New(ctx context.Context, rt *runtime.Runtime, deps *workflow.Deps, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		rt:      rt,
		deps:    deps,
		actions: make(chan Action, 64),
		log:     log,
	}

	go d.handle(ctx)

	return d
}

// Send enqueues action for the background handler. It never blocks on
// the task actually running, only on the channel itself having room.
func (d *Dispatcher) Send(action Action) {
	d.actions <- action
}

func (d *Dispatcher) handle(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-d.actions:
			d.dispatch(ctx, action)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, action Action) {
	runnable, err := d.toRunnable(action)
	if err != nil {
		d.log.Error().Err(err).Msg("dispatch: could not build task")
		return
	}

	if _, err := d.rt.EnrollAndRun(ctx, runnable); err != nil {
		d.log.Error().Err(err).Str("aggregate", action.aggregateID).Msg("dispatch: enroll failed")
	}
}

func (d *Dispatcher) toRunnable(action Action) (task.Runnable, error) {
	switch action.kind {
	case actionDeployBooking:
		return workflow.NewDeployBooking(action.aggregateID, d.deps), nil
	case actionCleanupBooking:
		return workflow.NewCleanupAggregate(action.aggregateID, d.deps), nil
	case actionAddUsers:
		return workflow.NewAddUsers(action.aggregateID, d.deps), nil
	case actionReimage:
		return workflow.NewReimage(action.aggregateID, action.instanceID, action.imageID, d.deps), nil
	case actionNotify:
		return workflow.NewNotify(action.aggregateID, action.situation, d.deps), nil
	default:
		return nil, fmt.Errorf("dispatch: unknown action kind %d", action.kind)
	}
}
