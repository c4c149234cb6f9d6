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

// Package scheduler holds the task graph, decides which task becomes
// runnable, and enforces timeouts, retries, and parent/child edges, per
// spec §4.4.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"laas.dev/core/labctld/internal/task"
)

// Status is a task record's position in
// Enrolled -> Runnable -> Running -> (Finished | WaitingOnChildren -> Running -> ...).
type Status int

const (
	StatusEnrolled Status = iota
	StatusRunnable
	StatusRunning
	StatusWaitingOnChildren
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusEnrolled:
		return "enrolled"
	case StatusRunnable:
		return "runnable"
	case StatusRunning:
		return "running"
	case StatusWaitingOnChildren:
		return "waiting-on-children"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Record is the persistent state of one task invocation (spec §3,
// "Task record"). EnrollSeq provides the deterministic FIFO tie-break
// among equally-runnable tasks required by spec §4.4.
type Record struct {
	ID         string
	Identifier task.Identifier
	Params     json.RawMessage
	ParentID   string
	ChildIDs   []string
	Attempt    int
	Deadline   time.Time
	Status     Status
	IsTarget   bool
	EnrolledAt time.Time
	EnrollSeq  uint64

	ResultOK    bool
	ResultValue json.RawMessage
	ResultErr   *task.Error
}

// Finished reports whether this record's result slot has been written.
func (r *Record) Finished() bool {
	return r.Status == StatusFinished
}

// Store is the persistence contract the scheduler depends on. It is
// defined here, narrowly, rather than importing internal/store, so the
// scheduler can be tested against an in-memory fake without pulling in
// a real database driver.
type Store interface {
	InsertRecord(ctx context.Context, r *Record) error
	UpdateRecord(ctx context.Context, r *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	// ListRecoverable returns every record whose Status is Enrolled,
	// Runnable, or Running, in EnrollSeq order, for crash recovery.
	ListRecoverable(ctx context.Context) ([]*Record, error)
}
