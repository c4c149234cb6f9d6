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

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"laas.dev/core/labctld/internal/executor"
	"laas.dev/core/labctld/internal/task"
)

// entry is the scheduler's in-memory bookkeeping for one task record. It
// is never persisted directly; Record is the persisted projection.
type entry struct {
	mu      sync.Mutex
	record  Record
	cell    *task.Cell
	spawned task.Runnable
}

// Options configures a Scheduler.
type Options struct {
	// Workers bounds how many task body attempts may run concurrently.
	Workers int
	// AsyncParallelism bounds the executor bridge's shared async pool.
	AsyncParallelism int
	// RetryDelay is the fixed inter-attempt delay applied on retry.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.AsyncParallelism <= 0 {
		o.AsyncParallelism = o.Workers * 4
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Scheduler holds the task graph, decides which task becomes runnable,
// and enforces timeouts, retries, and parent/child edges (spec §4.4). A
// Scheduler is a single process-wide instance in production; tests
// construct isolated ones.
type Scheduler struct {
	store    Store
	registry *task.Registry
	bridge   *executor.Bridge
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	ready   []string // FIFO queue of runnable task ids, by EnrollSeq
	readyCh chan struct{}
	seq     uint64

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Scheduler. registry resolves persisted task records
// back to Runnable values; cmd/labctld passes one built with
// task.NewRegistry and filled by workflow.RegisterAll.
func New(store Store, registry *task.Registry, opts Options, log zerolog.Logger) *Scheduler {
	opts = opts.withDefaults()

	return &Scheduler{
		store:    store,
		registry: registry,
		bridge:   executor.NewBridge(opts.AsyncParallelism),
		opts:     opts,
		log:      log,
		entries:  make(map[string]*entry),
		readyCh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start recovers any task with status Enrolled, Runnable, or Running
// from the store back to Runnable (spec §4.4: "every task... returns to
// Runnable and is re-tried from a fresh attempt") and starts the worker
// pool. Tasks already Finished are left untouched.
func (s *Scheduler) Start(ctx context.Context) error {
	records, err := s.store.ListRecoverable(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list recoverable records: %w", err)
	}

	for _, r := range records {
		r.Status = StatusRunnable
		r.Attempt = 0

		if err := s.store.UpdateRecord(ctx, r); err != nil {
			return fmt.Errorf("scheduler: recover record %s: %w", r.ID, err)
		}

		e := &entry{record: *r, cell: task.NewCell(s.outputType(r.Identifier))}
		if rn, rerr := s.materialize(r); rerr == nil {
			e.spawned = rn
		} else {
			// Lookup failure is fatal for this record: poison and
			// finalize it rather than silently dropping it.
			s.log.Error().Err(rerr).Str("task_id", r.ID).Msg("failed to materialize recovered task; poisoning")
			s.finalizeLocked(ctx, e, nil, task.Reason("%s", rerr.Error()))
			continue
		}

		s.mu.Lock()
		s.entries[r.ID] = e
		s.mu.Unlock()

		s.pushReady(r.ID, r.EnrollSeq)
	}

	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}

	return nil
}

// Stop signals all workers to exit after their current attempt and
// waits for them to do so.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) outputType(id task.Identifier) reflect.Type {
	if e, ok := s.registry.Lookup(id); ok {
		return e.OutputType
	}
	return nil
}

func (s *Scheduler) materialize(r *Record) (task.Runnable, error) {
	e, ok := s.registry.Lookup(r.Identifier)
	if !ok {
		return nil, fmt.Errorf("no registry entry for %s", r.Identifier)
	}
	return e.Deserialize(r.Params)
}

// Enroll stages r but does not run it: it is persisted with status
// Enrolled and becomes runnable only via SetTarget (roots) or as an
// implicit child of a running task's Spawn call.
func (s *Scheduler) Enroll(ctx context.Context, r task.Runnable) (string, error) {
	return s.enroll(ctx, r, "")
}

func (s *Scheduler) enroll(ctx context.Context, r task.Runnable, parentID string) (string, error) {
	id := uuid.NewString()

	entryEntry, ok := s.registry.Lookup(r.Identifier())
	if !ok {
		return "", fmt.Errorf("scheduler: task type %s is not registered", r.Identifier())
	}

	params, err := entryEntry.Serialize(r)
	if err != nil {
		return "", fmt.Errorf("scheduler: serialize params for %s: %w", r.Identifier(), err)
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	rec := Record{
		ID:         id,
		Identifier: r.Identifier(),
		Params:     params,
		ParentID:   parentID,
		Status:     StatusEnrolled,
		EnrolledAt: time.Now(),
		EnrollSeq:  seq,
		Deadline:   time.Now().Add(task.TimeoutOf(r)),
	}

	if err := s.store.InsertRecord(ctx, &rec); err != nil {
		return "", fmt.Errorf("scheduler: persist enrolled task %s: %w", id, err)
	}

	e := &entry{record: rec, spawned: r, cell: task.NewCell(entryEntry.OutputType)}

	s.mu.Lock()
	s.entries[id] = e
	if parentID != "" {
		if parent, ok := s.entries[parentID]; ok {
			parent.mu.Lock()
			parent.record.ChildIDs = append(parent.record.ChildIDs, id)
			parent.mu.Unlock()
		}
	}
	s.mu.Unlock()

	return id, nil
}

// SetTarget marks id as a root the scheduler should drive to completion
// and makes it runnable.
func (s *Scheduler) SetTarget(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %s", id)
	}

	e.mu.Lock()
	e.record.IsTarget = true
	e.record.Status = StatusRunnable
	rec := e.record
	e.mu.Unlock()

	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		return fmt.Errorf("scheduler: persist target %s: %w", id, err)
	}

	s.pushReady(id, rec.EnrollSeq)

	return nil
}

// Spawn enrolls child as a child of parentID and makes it runnable
// immediately, implementing task.Context.Spawn's contract.
func (s *Scheduler) Spawn(ctx context.Context, parentID string, child task.Runnable) (task.Handle, error) {
	id, err := s.enroll(ctx, child, parentID)
	if err != nil {
		return task.Handle{}, err
	}

	s.mu.Lock()
	e := s.entries[id]
	e.mu.Lock()
	e.record.Status = StatusRunnable
	rec := e.record
	e.mu.Unlock()
	s.mu.Unlock()

	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		return task.Handle{}, fmt.Errorf("scheduler: persist spawned child %s: %w", id, err)
	}

	s.pushReady(id, rec.EnrollSeq)

	return task.NewHandle(id, e.cell.Type(), e.cell), nil
}

// WithTask is a read-only diagnostic hook.
func (s *Scheduler) WithTask(id string, f func(Record)) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %s", id)
	}

	e.mu.Lock()
	rec := e.record
	e.mu.Unlock()

	f(rec)

	return nil
}

// Handle returns the join handle for an already-enrolled task id.
func (s *Scheduler) Handle(id string) (task.Handle, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return task.Handle{}, fmt.Errorf("scheduler: unknown task %s", id)
	}

	return task.NewHandle(id, e.cell.Type(), e.cell), nil
}

// QueueDepth reports how many enrolled tasks are runnable but not yet
// picked up by a worker, for the metrics gauge (spec §3 "Metrics").
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

func (s *Scheduler) pushReady(id string, seq uint64) {
	s.mu.Lock()
	i := len(s.ready)
	for i > 0 {
		prev := s.entries[s.ready[i-1]]
		prev.mu.Lock()
		prevSeq := prev.record.EnrollSeq
		prev.mu.Unlock()
		if prevSeq <= seq {
			break
		}
		i--
	}
	s.ready = append(s.ready, "")
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = id
	s.mu.Unlock()

	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) popReady() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) == 0 {
		return "", false
	}

	id := s.ready[0]
	s.ready = s.ready[1:]

	return id, true
}

func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		id, ok := s.popReady()
		if !ok {
			select {
			case <-s.readyCh:
				continue
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		s.runAttempt(ctx, id)
	}
}

func (s *Scheduler) runAttempt(ctx context.Context, id string) {
	s.mu.Lock()
	e := s.entries[id]
	s.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	e.record.Attempt++
	timeout := task.TimeoutOf(e.spawned)
	e.record.Deadline = time.Now().Add(timeout)
	e.record.Status = StatusRunning
	rec := e.record
	e.mu.Unlock()

	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		s.log.Error().Err(err).Str("task_id", id).Msg("failed to persist running state")
	}

	sctx := &taskContext{sched: s, ctx: ctx, taskID: id, deadline: rec.Deadline}

	out := s.bridge.Run(func() (any, *task.Error) {
		return e.spawned.Run(sctx)
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-out:
		s.finishAttempt(ctx, e, o.Value, o.Err)
	case <-timer.C:
		// The watchdog never waits on the body: we abandon the
		// in-flight goroutine (it may still be running) and finalize
		// this attempt as a timeout immediately.
		s.finishAttempt(ctx, e, nil, task.Timeout())
	case <-s.stop:
		return
	}
}

func (s *Scheduler) finishAttempt(ctx context.Context, e *entry, value any, terr *task.Error) {
	if terr == nil {
		s.finalize(ctx, e, value, nil)
		return
	}

	e.mu.Lock()
	attempt := e.record.Attempt
	retries := task.RetryCountOf(e.spawned)
	e.mu.Unlock()

	if attempt < retries+1 {
		e.mu.Lock()
		e.record.Status = StatusRunnable
		rec := e.record
		e.mu.Unlock()

		if err := s.store.UpdateRecord(ctx, &rec); err != nil {
			s.log.Error().Err(err).Str("task_id", rec.ID).Msg("failed to persist retry state")
		}

		time.AfterFunc(s.opts.RetryDelay, func() {
			s.pushReady(rec.ID, rec.EnrollSeq)
		})

		return
	}

	s.finalize(ctx, e, nil, terr)
}

func (s *Scheduler) finalize(ctx context.Context, e *entry, value any, terr *task.Error) {
	s.finalizeLocked(ctx, e, value, terr)
}

func (s *Scheduler) finalizeLocked(ctx context.Context, e *entry, value any, terr *task.Error) {
	e.mu.Lock()
	e.record.Status = StatusFinished
	e.record.ResultOK = terr == nil
	if terr != nil {
		e.record.ResultErr = terr
	} else if value != nil {
		if raw, err := json.Marshal(value); err == nil {
			e.record.ResultValue = raw
		}
	}
	rec := e.record
	e.mu.Unlock()

	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		s.log.Error().Err(err).Str("task_id", rec.ID).Msg("failed to persist finished state")
	}

	if terr != nil {
		e.cell.Poison(terr)
	} else if err := e.cell.Set(value); err != nil {
		s.log.Error().Err(err).Str("task_id", rec.ID).Msg("oneshot cell already set")
	}
}

// taskContext implements task.Context for one attempt.
type taskContext struct {
	sched    *Scheduler
	ctx      context.Context
	taskID   string
	deadline time.Time
}

func (c *taskContext) TaskID() string { return c.taskID }

func (c *taskContext) Deadline() time.Time { return c.deadline }

func (c *taskContext) Context() context.Context { return c.ctx }

func (c *taskContext) Spawn(child task.Runnable) (task.Handle, error) {
	return c.sched.Spawn(c.ctx, c.taskID, child)
}
