// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched_test

import (
	"testing"

	"github.com/grailbio/era"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/predictor"
	"github.com/grailbio/era/sched"
	"github.com/grailbio/testutil/expect"
)

func newState() *sched.State {
	return sched.NewState(func(*era.Worker, string) *predictor.WienerProcess {
		return predictor.New(predictor.DefaultParams, nil)
	})
}

func expectCounts(t *testing.T, s *sched.State, w *era.Worker, ready, running, runningOn int) {
	t.Helper()
	r, g, l := s.Counts(w)
	if r != ready || g != running || l != runningOn {
		t.Errorf("got counts %d %d %d, want %d %d %d", r, g, l, ready, running, runningOn)
	}
}

func TestStateLifecycle(t *testing.T) {
	s := newState()
	w := era.NewWorker(0)
	a, b := era.NewTask("align"), era.NewTask("sort")
	s.Reschedule([]*era.Task{a, b}, []*era.Worker{w})
	expect.EQ(t, s.Types(w), []string{"align", "sort"})
	expect.EQ(t, s.NumOutstanding(), 2)

	s.TaskReady(a)
	s.TaskReady(b)
	expect.EQ(t, s.ReadyTypes(), []string{"align", "sort"})
	expectCounts(t, s, w, 2, 0, 0)

	if got := s.PopReady("align"); got != a {
		t.Fatalf("got %v, want %v", got, a)
	}
	s.Dispatch(a, w)
	expectCounts(t, s, w, 1, 1, 1)
	expect.True(t, s.Running("align").Has(a))
	expect.True(t, s.RunningOn(w, "align").Has(a))

	a.Start, a.Finish = 1, 4
	expect.NoError(t, s.TaskSucceeded(a, w))
	expectCounts(t, s, w, 1, 0, 0)
	expect.EQ(t, s.NumOutstanding(), 1)
	expect.EQ(t, s.Model(w, "align").Len(), 1)
	expect.True(t, s.TasksRemaining())

	s.Dispatch(s.PopReady("sort"), w)
	expectCounts(t, s, w, 0, 1, 1)
	s.TaskFailed(b, w)
	expectCounts(t, s, w, 0, 0, 0)
	// Failures leave the task outstanding and teach the model nothing.
	expect.EQ(t, s.NumOutstanding(), 1)
	expect.EQ(t, s.Model(w, "sort").Len(), 0)
	expect.True(t, s.TasksRemaining())

	b.Start, b.Finish = 5, 6
	s.Dispatch(b, w)
	expect.NoError(t, s.TaskSucceeded(b, w))
	expect.False(t, s.TasksRemaining())
}

func TestStateFIFO(t *testing.T) {
	s := newState()
	tasks := []*era.Task{era.NewTask("x"), era.NewTask("x"), era.NewTask("x")}
	for _, task := range tasks {
		s.TaskReady(task)
	}
	for i, want := range tasks {
		expect.EQ(t, s.NumReady("x"), len(tasks)-i)
		if got := s.PopReady("x"); got != want {
			t.Errorf("%d: got %v, want %v", i, got, want)
		}
	}
	expect.False(t, s.HasReady())
	if s.PopReady("x") != nil {
		t.Error("expected empty queue")
	}
}

func TestStateCopiesShareOutstanding(t *testing.T) {
	s := newState()
	w0, w1 := era.NewWorker(0), era.NewWorker(1)
	task := era.NewTask("x")
	s.Reschedule([]*era.Task{task}, []*era.Worker{w0, w1})
	s.Dispatch(task, w0)
	c := task.Clone()
	s.Dispatch(c, w1)
	expect.EQ(t, s.Running("x").Len(), 2)
	// Each worker runs a copy of the only logical task.
	expect.True(t, s.CaughtUp(w0))
	expect.True(t, s.CaughtUp(w1))

	c.Start, c.Finish = 0, 1
	expect.NoError(t, s.TaskSucceeded(c, w1))
	expect.False(t, s.TasksRemaining())
	// The original keeps running.
	expect.True(t, s.Running("x").Has(task))
	expect.True(t, s.CaughtUp(w0))
	expect.False(t, s.CaughtUp(w1))

	task.Start, task.Finish = 0, 2
	expect.NoError(t, s.TaskSucceeded(task, w0))
	expectCounts(t, s, w0, 0, 0, 0)
	expect.True(t, s.CaughtUp(w1))
}

func TestStateRescheduleKeepsModels(t *testing.T) {
	s := newState()
	w := era.NewWorker(0)
	first := era.NewTask("x")
	s.Reschedule([]*era.Task{first}, []*era.Worker{w})
	m := s.Model(w, "x")
	first.Start, first.Finish = 0, 3
	expect.NoError(t, s.TaskSucceeded(first, w))

	second, third := era.NewTask("x"), era.NewTask("y")
	w1 := era.NewWorker(1)
	s.Reschedule([]*era.Task{second, third}, []*era.Worker{w, w1})
	if s.Model(w, "x") != m {
		t.Error("model replaced")
	}
	expect.EQ(t, m.Len(), 1)
	expect.EQ(t, s.NumOutstanding(), 2)
	expect.EQ(t, s.Types(w), []string{"x", "y"})
	expect.EQ(t, s.Types(w1), []string{"x", "y"})
	expect.EQ(t, len(s.Workers()), 2)
}

func TestStateRejectedObservation(t *testing.T) {
	s := newState()
	w := era.NewWorker(0)
	a, b := era.NewTask("x"), era.NewTask("x")
	s.Reschedule([]*era.Task{a, b}, []*era.Worker{w})
	a.Start, a.Finish = 0, 5
	b.Start, b.Finish = 3, 5
	s.Dispatch(a, w)
	s.Dispatch(b, w)
	expect.NoError(t, s.TaskSucceeded(a, w))
	err := s.TaskSucceeded(b, w)
	if !errors.Is(errors.Precondition, err) {
		t.Errorf("got %v, want precondition", err)
	}
	// The bookkeeping is updated regardless.
	expect.False(t, s.TasksRemaining())
	expectCounts(t, s, w, 0, 0, 0)
	expect.EQ(t, s.Model(w, "x").Len(), 1)
}
