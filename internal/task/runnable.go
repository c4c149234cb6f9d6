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

package task

import (
	"context"
	"reflect"
	"time"
)

// Context is the per-attempt handle passed into a task body. It is
// defined here, not in the runtime package, to break the
// task -> context -> runtime -> task cycle described in spec §9: the
// runtime package implements Context and depends on task, but task
// bodies (and the task package itself) never import runtime.
//
// A Context is not safe to use from any goroutine other than the one
// running the attempt it was issued for.
type Context interface {
	// TaskID is this attempt's own task id.
	TaskID() string

	// Spawn enrolls child as a child of the current task and returns
	// immediately; the child becomes runnable right away, not on Join.
	Spawn(child Runnable) (Handle, error)

	// Deadline reports the wall-clock deadline for the current attempt.
	Deadline() time.Time

	// Context returns the attempt's context.Context, cancelled at
	// Deadline or on scheduler shutdown. Task bodies thread this into
	// any blocking collaborator call (store, allocator, drivers).
	Context() context.Context
}

// Runnable is a task body. Implementations are looked up in the registry
// by Identifier and are expected to have value semantics safe to
// recreate from serialized Params on every attempt (the scheduler never
// reuses state across attempts, per spec §4.4).
type Runnable interface {
	// Run executes the task body to completion or failure. The returned
	// value, if any, must be of the Go type the task type declares as
	// its output (checked against the oneshot cell's type at Set time).
	Run(ctx Context) (any, *Error)

	Identifier() Identifier
}

// Retryable is implemented by task types that want retries beyond the
// zero-retry default.
type Retryable interface {
	RetryCount() int
}

// Timeoutable is implemented by task types that want a non-default
// per-attempt timeout.
type Timeoutable interface {
	Timeout() time.Duration
}

// Summarizable is implemented by task types that want a custom
// diagnostic summary string.
type Summarizable interface {
	Summarize(id string) string
}

const DefaultTimeout = 600 * time.Second

// RetryCountOf returns r's declared retry count, or the zero-retry
// default.
func RetryCountOf(r Runnable) int {
	if rt, ok := r.(Retryable); ok {
		return rt.RetryCount()
	}
	return 0
}

// TimeoutOf returns r's declared per-attempt timeout, or DefaultTimeout.
func TimeoutOf(r Runnable) time.Duration {
	if t, ok := r.(Timeoutable); ok {
		return t.Timeout()
	}
	return DefaultTimeout
}

// SummaryOf returns a diagnostic summary for r as task id.
func SummaryOf(r Runnable, id string) string {
	if s, ok := r.(Summarizable); ok {
		return s.Summarize(id)
	}
	return reflect.TypeOf(r).String() + " task " + id
}

// Handle is a join handle returned by Spawn/Enroll. It carries the
// expected output type identity (as a reflect.Type) and wraps a
// type-erased oneshot Cell maintained by the scheduler.
type Handle struct {
	ID     string
	OutTyp reflect.Type
	cell   *Cell
}

// NewHandle constructs a Handle bound to a scheduler-owned cell.
func NewHandle(id string, typ reflect.Type, cell *Cell) Handle {
	return Handle{ID: id, OutTyp: typ, cell: cell}
}

// Join blocks until the task finishes and returns its outcome, type
// erased. JoinAs should be used by callers that know the concrete
// output type.
func (h Handle) Join() (any, *Error) {
	return h.cell.Wait()
}

// JoinAs blocks for h's outcome and downcasts it to T, matching the
// "typed view... checks type identity, mismatch is fatal" contract of
// spec §4.2.
func JoinAs[T any](h Handle) (T, *Error) {
	return NewView[T](h.cell).Wait()
}
