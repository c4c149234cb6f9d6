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
	"fmt"
	"reflect"
	"sync"
)

type cellState int

const (
	cellPending cellState = iota
	cellReady
	cellPoisoned
)

// ErrAlreadySet is returned by Cell.Set when the cell has already been
// written. It is a programming error, not a retryable task failure.
var ErrAlreadySet = fmt.Errorf("oneshot cell already set")

// Cell is a single-producer/multi-consumer typed result slot. Exactly one
// write is allowed; any number of goroutines may block in Wait until the
// write (or a poison) happens. It is intentionally type-erased at rest
// (the scheduler stores one Cell per task record regardless of the task's
// Output type) with typed access layered on top via View.
type Cell struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state cellState
	typ   reflect.Type
	value any
	err   *Error
}

// NewCell creates a cell that will only ever accept values assignable to
// typ (nil typ accepts anything, used for tasks with no output).
func NewCell(typ reflect.Type) *Cell {
	c := &Cell{typ: typ}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Set writes the cell's value exactly once. A second call is a logic
// error (ErrAlreadySet), matching the "set is callable at most once"
// contract.
func (c *Cell) Set(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != cellPending {
		return ErrAlreadySet
	}

	if c.typ != nil && v != nil {
		vt := reflect.TypeOf(v)
		if !vt.AssignableTo(c.typ) {
			panic(fmt.Sprintf("oneshot: value of type %s is not assignable to declared type %s", vt, c.typ))
		}
	}

	c.value = v
	c.state = cellReady
	c.cond.Broadcast()

	return nil
}

// Poison marks the cell as failed; every current and future Wait call
// observes err instead of blocking forever.
func (c *Cell) Poison(err *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != cellPending {
		return
	}

	c.err = err
	c.state = cellPoisoned
	c.cond.Broadcast()
}

// Wait blocks until Set or Poison is called, then returns the stored
// value or the poison error. Multiple waiters may call Wait concurrently
// and all observe the same outcome.
func (c *Cell) Wait() (any, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.state == cellPending {
		c.cond.Wait()
	}

	if c.state == cellPoisoned {
		return nil, c.err
	}

	return c.value, nil
}

// Type reports the cell's declared output type, or nil if it accepts
// any type (used for tasks with no output).
func (c *Cell) Type() reflect.Type {
	return c.typ
}

// TryWait reports the cell's value without blocking; ok is false while
// the cell is still pending.
func (c *Cell) TryWait() (value any, terr *Error, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == cellPending {
		return nil, nil, false
	}

	if c.state == cellPoisoned {
		return nil, c.err, true
	}

	return c.value, nil, true
}

// View is a typed projection of a Cell. Converting an untyped Cell to a
// View checks that the cell's declared type identity matches T; mismatch
// is a fatal programming error (never a retryable task failure), per the
// oneshot contract in spec §4.2.
type View[T any] struct {
	cell *Cell
}

// NewView builds a typed view over cell, panicking if cell's declared
// type does not match T exactly.
func NewView[T any](cell *Cell) View[T] {
	want := reflect.TypeOf((*T)(nil)).Elem()
	if cell.typ != nil && cell.typ != want {
		panic(fmt.Sprintf("oneshot: type mismatch claiming %s for a cell declared as %s", want, cell.typ))
	}
	return View[T]{cell: cell}
}

// Wait blocks for the cell's outcome and downcasts it to T.
func (v View[T]) Wait() (T, *Error) {
	var zero T

	raw, err := v.cell.Wait()
	if err != nil {
		return zero, err
	}

	if raw == nil {
		return zero, nil
	}

	typed, ok := raw.(T)
	if !ok {
		panic(fmt.Sprintf("oneshot: stored value of type %T does not match claimed output type %T", raw, zero))
	}

	return typed, nil
}
