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
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"laas.dev/core/labctld/internal/task"
)

// okTask always succeeds immediately with its Value.
type okTask struct {
	Value string `json:"value"`
}

func (t okTask) Run(ctx task.Context) (any, *task.Error) { return t.Value, nil }
func (t okTask) Identifier() task.Identifier             { return task.Named("sched-test-ok") }

// sleepyTask sleeps longer than its own timeout, to exercise the
// watchdog (spec §8 property 5).
type sleepyTask struct {
	Sleep time.Duration `json:"sleep"`
}

func (t sleepyTask) Run(ctx task.Context) (any, *task.Error) {
	time.Sleep(t.Sleep)
	return "done", nil
}
func (t sleepyTask) Identifier() task.Identifier { return task.Named("sched-test-sleepy") }
func (t sleepyTask) Timeout() time.Duration      { return 50 * time.Millisecond }

// flakyTask fails until a shared counter reaches a threshold, to
// exercise retries (spec §8 property 6).
var flakyCounters = map[string]*int64{}

type flakyTask struct {
	Key          string `json:"key"`
	FailuresLeft int    `json:"failures_left"`
}

func (t flakyTask) Run(ctx task.Context) (any, *task.Error) {
	n := atomic.AddInt64(flakyCounters[t.Key], 1)
	if int(n) <= t.FailuresLeft {
		return nil, task.Reason("not yet")
	}
	return "recovered", nil
}
func (t flakyTask) Identifier() task.Identifier { return task.Named("sched-test-flaky") }
func (t flakyTask) RetryCount() int             { return 3 }

// failingChildTask always fails with a fixed reason.
type failingChildTask struct{}

func (t failingChildTask) Run(ctx task.Context) (any, *task.Error) {
	return nil, task.Reason("x")
}
func (t failingChildTask) Identifier() task.Identifier { return task.Named("sched-test-failing-child") }

// parentTask spawns a failingChildTask and surfaces its failure.
type parentTask struct{}

func (t parentTask) Run(ctx task.Context) (any, *task.Error) {
	h, err := ctx.Spawn(failingChildTask{})
	if err != nil {
		return nil, task.Reason("spawn: %s", err)
	}

	_, cerr := h.Join()
	if cerr == nil {
		return "child unexpectedly succeeded", nil
	}

	return nil, task.ChildFailed(h.ID, cerr)
}
func (t parentTask) Identifier() task.Identifier { return task.Named("sched-test-parent") }

func newTestRegistry() *task.Registry {
	r := task.NewRegistry()
	reg := func(id task.Identifier, sample task.Runnable) {
		r.MustRegister(task.Entry{
			Identifier: id,
			Deserialize: func(p []byte) (task.Runnable, error) {
				return sample, nil
			},
			Serialize: func(task.Runnable) ([]byte, error) { return []byte("{}"), nil },
		})
	}

	reg(okTask{}.Identifier(), okTask{})
	reg(sleepyTask{}.Identifier(), sleepyTask{})
	reg(flakyTask{}.Identifier(), flakyTask{})
	reg(failingChildTask{}.Identifier(), failingChildTask{})
	reg(parentTask{}.Identifier(), parentTask{})

	return r
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	store := newMemStore()
	registry := newTestRegistry()
	s := New(store, registry, Options{Workers: 4, RetryDelay: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func TestTaskResultIdempotence(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	id, err := s.Enroll(ctx, okTask{Value: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.SetTarget(ctx, id))

	h, err := s.Handle(id)
	require.NoError(t, err)

	v1, e1 := h.Join()
	v2, e2 := h.Join()

	require.Nil(t, e1)
	require.Nil(t, e2)
	require.Equal(t, v1, v2)
	require.Equal(t, "hi", v1)
}

func TestTimeoutEnforcement(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	start := time.Now()

	id, err := s.Enroll(ctx, sleepyTask{Sleep: time.Second})
	require.NoError(t, err)
	require.NoError(t, s.SetTarget(ctx, id))

	h, err := s.Handle(id)
	require.NoError(t, err)

	_, terr := h.Join()
	elapsed := time.Since(start)

	require.NotNil(t, terr)
	require.Equal(t, task.KindTimeout, terr.Kind)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestRetryCorrectness(t *testing.T) {
	flakyCounters["succeeds-on-4th"] = new(int64)
	flakyCounters["always-fails"] = new(int64)

	s := newTestScheduler(t)
	ctx := context.Background()

	id, err := s.Enroll(ctx, flakyTask{Key: "succeeds-on-4th", FailuresLeft: 3})
	require.NoError(t, err)
	require.NoError(t, s.SetTarget(ctx, id))

	h, err := s.Handle(id)
	require.NoError(t, err)

	v, terr := h.Join()
	require.Nil(t, terr)
	require.Equal(t, "recovered", v)

	id2, err := s.Enroll(ctx, flakyTask{Key: "always-fails", FailuresLeft: 100})
	require.NoError(t, err)
	require.NoError(t, s.SetTarget(ctx, id2))

	h2, err := s.Handle(id2)
	require.NoError(t, err)

	_, terr2 := h2.Join()
	require.NotNil(t, terr2)
	require.Equal(t, task.KindReason, terr2.Kind)
}

// countingTask records how many times it actually ran, to verify a
// recovered task is re-tried exactly once rather than re-run on every
// subsequent poll (spec §8 property 10, "crash recovery").
var countingRuns = map[string]*int64{}

type countingTask struct {
	Key string `json:"key"`
}

func (t countingTask) Run(ctx task.Context) (any, *task.Error) {
	atomic.AddInt64(countingRuns[t.Key], 1)
	return "ran", nil
}
func (t countingTask) Identifier() task.Identifier { return task.Named("sched-test-counting") }

func newRecoveryRegistry() *task.Registry {
	r := task.NewRegistry()
	r.MustRegister(task.Entry{
		Identifier: countingTask{}.Identifier(),
		Deserialize: func(p []byte) (task.Runnable, error) {
			var t countingTask
			if err := json.Unmarshal(p, &t); err != nil {
				return nil, err
			}
			return t, nil
		},
		Serialize: func(r task.Runnable) ([]byte, error) { return json.Marshal(r) },
	})
	return r
}

// TestCrashRecoveryRunsOnceMore seeds the store with a record stuck in
// StatusRunning, as if the process died mid-attempt, and verifies that
// starting a fresh Scheduler against that store recovers it back to
// Runnable and lets it complete exactly one more time (spec §8
// property 10).
func TestCrashRecoveryRunsOnceMore(t *testing.T) {
	countingRuns["recovered-once"] = new(int64)

	store := newMemStore()
	registry := newRecoveryRegistry()

	params, err := json.Marshal(countingTask{Key: "recovered-once"})
	require.NoError(t, err)

	const id = "stuck-task"
	require.NoError(t, store.InsertRecord(context.Background(), &Record{
		ID:         id,
		Identifier: countingTask{}.Identifier(),
		Params:     params,
		Status:     StatusRunning,
		IsTarget:   true,
		EnrolledAt: time.Now(),
		EnrollSeq:  1,
	}))

	s := New(store, registry, Options{Workers: 4, RetryDelay: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	h, err := s.Handle(id)
	require.NoError(t, err)

	v, terr := h.Join()
	require.Nil(t, terr)
	require.Equal(t, "ran", v)

	require.Equal(t, int64(1), atomic.LoadInt64(countingRuns["recovered-once"]))
}

func TestParentChildPropagation(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	id, err := s.Enroll(ctx, parentTask{})
	require.NoError(t, err)
	require.NoError(t, s.SetTarget(ctx, id))

	h, err := s.Handle(id)
	require.NoError(t, err)

	_, terr := h.Join()
	require.NotNil(t, terr)
	require.Equal(t, task.KindChildFailed, terr.Kind)
	require.Equal(t, task.KindReason, terr.Inner.Kind)
	require.Equal(t, "x", terr.Inner.Message)
}
