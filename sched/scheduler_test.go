// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/grailbio/era"
	"github.com/grailbio/era/diag"
	"github.com/grailbio/era/predictor"
	"github.com/grailbio/era/sched"
	"github.com/grailbio/testutil/expect"
)

type testClock struct{ now float64 }

func (c *testClock) Now() float64 { return c.now }

// scripted returns its values in order, then repeats the last one.
type scripted struct {
	values []float64
	n      int
}

func (s *scripted) Float64() float64 {
	v := s.values[len(s.values)-1]
	if s.n < len(s.values) {
		v = s.values[s.n]
	}
	s.n++
	return v
}

func newTestScheduler(rho float64, draws ...float64) (*sched.Scheduler, *testClock) {
	if len(draws) == 0 {
		draws = []float64{0.5}
	}
	clock := new(testClock)
	s := sched.New()
	s.Clock = clock
	s.Rand = &scripted{values: draws}
	s.Rho = rho
	return s, clock
}

// run reports a successful execution of the task on the worker,
// ending at the provided time.
func run(s *sched.Scheduler, task *era.Task, w *era.Worker, start, finish float64) {
	task.Start, task.Finish = start, finish
	s.TaskSucceeded(task, w)
}

func TestNormalDispatch(t *testing.T) {
	s, _ := newTestScheduler(0)
	w := era.NewWorker(0)
	x := era.NewTask("X")
	s.Reschedule([]*era.Task{x}, []*era.Worker{w})
	s.TaskReady(x)

	task := s.NextTask(w)
	if task != x {
		t.Fatalf("got %v, want %v", task, x)
	}
	expect.False(t, task.Speculative)
	state := s.State()
	expect.EQ(t, state.NumReady("X"), 0)
	expect.EQ(t, len(state.ReadyTypes()), 0)
	expect.True(t, state.Running("X").Has(x))
	expect.True(t, state.RunningOn(w, "X").Has(x))
	// The worker runs everything there is to run.
	if task := s.NextTask(w); task != nil {
		t.Errorf("got %v, want nil", task)
	}
}

func TestSpeculativeDispatch(t *testing.T) {
	s, _ := newTestScheduler(1)
	a, b := era.NewWorker(0), era.NewWorker(1)
	x := era.NewTask("X")
	s.Reschedule([]*era.Task{x}, []*era.Worker{a, b})
	s.TaskReady(x)

	if got := s.NextTask(a); got != x {
		t.Fatalf("got %v, want %v", got, x)
	}
	c := s.NextTask(b)
	if c == nil {
		t.Fatal("expected a speculative copy")
	}
	if c == x {
		t.Fatal("original dispatched twice")
	}
	expect.True(t, c.Speculative)
	expect.EQ(t, c.ID, x.ID)
	expect.NEQ(t, c.ExecID, x.ExecID)
	expect.EQ(t, c.Name, "X")

	state := s.State()
	expect.True(t, state.Running("X").Has(x))
	expect.True(t, state.Running("X").Has(c))
	expect.True(t, state.RunningOn(b, "X").Has(c))
	expect.False(t, state.RunningOn(a, "X").Has(c))

	// Both workers now run a copy of x: neither has anything left to
	// replicate.
	for _, w := range []*era.Worker{a, b} {
		if got := s.NextTask(w); got != nil {
			t.Errorf("%v: got %v, want nil", w, got)
		}
	}

	// The first copy to succeed completes the task; the others keep
	// running.
	run(s, c, b, 0, 10)
	expect.False(t, s.TasksRemaining())
	expect.True(t, s.State().Running("X").Has(x))
}

func TestSpeculativeFallsBackToReadyWork(t *testing.T) {
	// The draw selects speculative mode, but nothing is running.
	s, _ := newTestScheduler(0.1, 0.05)
	w := era.NewWorker(0)
	x := era.NewTask("X")
	s.Reschedule([]*era.Task{x}, []*era.Worker{w})
	s.TaskReady(x)
	got := s.NextTask(w)
	if got != x {
		t.Fatalf("got %v, want %v", got, x)
	}
	expect.False(t, got.Speculative)
	expect.EQ(t, s.State().NumReady("X"), 0)
}

func TestSpeculativeSkipsLogicalTasksRunningHere(t *testing.T) {
	s, _ := newTestScheduler(1)
	a, b, d := era.NewWorker(0), era.NewWorker(1), era.NewWorker(2)
	x, y := era.NewTask("X"), era.NewTask("X")
	s.Reschedule([]*era.Task{x, y}, []*era.Worker{a, b, d})
	s.TaskReady(x)
	s.TaskReady(y)

	if got := s.NextTask(a); got != x {
		t.Fatalf("got %v, want %v", got, x)
	}
	c := s.NextTask(b)
	if c == nil || c.ID != x.ID || !c.Speculative {
		t.Fatalf("got %v, want a copy of %v", c, x)
	}
	// b runs a copy of x, so it takes the ready task.
	if got := s.NextTask(b); got != y {
		t.Fatalf("got %v, want %v", got, y)
	}

	// a runs x: it may replicate y once, but never x or its copy.
	var copies int
	for i := 0; i < 5; i++ {
		got := s.NextTask(a)
		if got == nil {
			continue
		}
		if got.ID == x.ID {
			t.Errorf("%d: got %v, a copy of a task running on %v", i, got, a)
		}
		if got.ID == y.ID {
			copies++
		}
	}
	if got, want := copies, 1; got != want {
		t.Errorf("got %v copies of %v, want %v", got, y, want)
	}
	expect.True(t, s.State().CaughtUp(a))

	// A worker running nothing may still replicate x.
	if got := s.NextTask(d); got == nil || !got.Speculative {
		t.Errorf("got %v, want a speculative copy", got)
	}
}

func TestSpeculativeNeverReplicatesOwnTasks(t *testing.T) {
	s, _ := newTestScheduler(1)
	w := era.NewWorker(0)
	x, y := era.NewTask("X"), era.NewTask("Y")
	s.Reschedule([]*era.Task{x, y}, []*era.Worker{w})
	s.TaskReady(x)
	s.TaskReady(y)
	expect.EQ(t, s.NextTask(w), x)
	expect.EQ(t, s.NextTask(w), y)
	if got := s.NextTask(w); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSkewScenario(t *testing.T) {
	s, clock := newTestScheduler(0)
	a, b := era.NewWorker(0), era.NewWorker(1)
	s.Reschedule(nil, []*era.Worker{a, b})
	for i := 1; i <= 10; i++ {
		run(s, era.NewTask("X"), a, float64(i*100-100), float64(i*100))
		run(s, era.NewTask("X"), b, float64(i*50-50), float64(i*50))
	}
	clock.now = 2000
	sa, sb := s.Skew(a, "X"), s.Skew(b, "X")
	expect.GE(t, sa, sb)
	expect.EQ(t, sa, 0.5)
	expect.EQ(t, sb, 0.0)

	// A lone candidate type is dispatched whatever its skew, and the
	// faster worker replicates work running on the slower one.
	x := era.NewTask("X")
	s.TaskReady(x)
	expect.EQ(t, s.NextTask(a), x)
	s.Rho = 1
	c := s.NextTask(b)
	if c == nil || c.ID != x.ID {
		t.Errorf("got %v, want a copy of %v", c, x)
	}
}

func TestSkewColdStart(t *testing.T) {
	s, _ := newTestScheduler(0)
	a := era.NewWorker(0)
	s.Reschedule([]*era.Task{era.NewTask("X")}, []*era.Worker{a})
	expect.EQ(t, s.Skew(a, "X"), 0.0)
	// Unknown workers are modeled on first sight.
	expect.EQ(t, s.Skew(era.NewWorker(7), "Z"), 0.0)
}

func TestLexicalTieBreak(t *testing.T) {
	s, _ := newTestScheduler(0)
	w := era.NewWorker(0)
	tasks := []*era.Task{era.NewTask("sort"), era.NewTask("align"), era.NewTask("merge")}
	s.Reschedule(tasks, []*era.Worker{w})
	for _, task := range tasks {
		s.TaskReady(task)
	}
	var got []string
	for task := s.NextTask(w); task != nil; task = s.NextTask(w) {
		if task.Speculative {
			t.Fatalf("unexpected speculative task %v", task)
		}
		got = append(got, task.Name)
	}
	expect.EQ(t, got, []string{"align", "merge", "sort"})
}

func TestModeDraw(t *testing.T) {
	// The draw 0.05 is below rho: the worker replicates rather than
	// taking the ready task.
	s, _ := newTestScheduler(0.1, 0.9, 0.05)
	a, b := era.NewWorker(0), era.NewWorker(1)
	x, y := era.NewTask("X"), era.NewTask("X")
	s.Reschedule([]*era.Task{x, y}, []*era.Worker{a, b})
	s.TaskReady(x)
	s.TaskReady(y)
	expect.EQ(t, s.NextTask(a), x)
	c := s.NextTask(b)
	if c == nil || !c.Speculative || c.ID != x.ID {
		t.Fatalf("got %v, want a copy of %v", c, x)
	}
	expect.EQ(t, s.State().NumReady("X"), 1)
}

func TestTaskFailed(t *testing.T) {
	s, _ := newTestScheduler(0)
	w := era.NewWorker(0)
	x := era.NewTask("X")
	s.Reschedule([]*era.Task{x}, []*era.Worker{w})
	s.TaskReady(x)
	expect.EQ(t, s.NextTask(w), x)
	s.TaskFailed(x, w)
	expect.True(t, s.TasksRemaining())
	expect.EQ(t, s.State().Running("X").Len(), 0)
	s.TaskReady(x)
	expect.EQ(t, s.NextTask(w), x)
	run(s, x, w, 1, 2)
	expect.False(t, s.TasksRemaining())

	stats := s.Stats.GetStats()
	expect.EQ(t, stats.Types["X"], sched.TypeStats{Ready: 2, Dispatched: 2, Succeeded: 1, Failed: 1})
	expect.EQ(t, stats.Outstanding, int64(0))
}

func TestRejectedRuntime(t *testing.T) {
	s, _ := newTestScheduler(0)
	s.NegativeRuntime = predictor.Reject
	w := era.NewWorker(0)
	x := era.NewTask("X")
	s.Reschedule([]*era.Task{x}, []*era.Worker{w})
	s.TaskReady(x)
	expect.EQ(t, s.NextTask(w), x)
	run(s, x, w, 5, 4)
	expect.False(t, s.TasksRemaining())
	expect.EQ(t, s.State().Model(w, "X").Len(), 0)
	expect.EQ(t, s.Stats.GetStats().Types["X"].Rejected, int64(1))
}

// TestNextTaskNil checks over random executions that NextTask returns
// nil exactly when nothing is ready and the worker runs a copy of
// everything that is running.
func TestNextTaskNil(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s, clock := newTestScheduler(0.3)
	s.Rand = r
	workers := []*era.Worker{era.NewWorker(0), era.NewWorker(1), era.NewWorker(2)}
	types := []string{"a", "b", "c"}
	var tasks []*era.Task
	for i := 0; i < 30; i++ {
		tasks = append(tasks, era.NewTask(types[r.Intn(len(types))]))
	}
	s.Reschedule(tasks, workers)
	pending := append([]*era.Task(nil), tasks...)
	type execution struct {
		task *era.Task
		w    *era.Worker
	}
	var running []execution
	for step := 0; step < 500 && s.TasksRemaining(); step++ {
		clock.now += 1 + r.Float64()
		switch op := r.Intn(4); {
		case op == 0 && len(pending) > 0:
			s.TaskReady(pending[0])
			pending = pending[1:]
		case op == 1 && len(running) > 0:
			i := r.Intn(len(running))
			e := running[i]
			running = append(running[:i], running[i+1:]...)
			if r.Intn(5) == 0 {
				s.TaskFailed(e.task, e.w)
				if !e.task.Speculative {
					pending = append(pending, e.task)
				}
			} else {
				e.task.Finish = clock.now
				s.TaskSucceeded(e.task, e.w)
			}
		default:
			w := workers[r.Intn(len(workers))]
			state := s.State()
			wantNil := !state.HasReady() && state.CaughtUp(w)
			task := s.NextTask(w)
			if got := task == nil; got != wantNil {
				t.Fatalf("step %d: got nil %v, want nil %v", step, got, wantNil)
			}
			if task != nil {
				task.Start = clock.now
				running = append(running, execution{task, w})
			}
		}
	}
}

func TestTerminate(t *testing.T) {
	s, clock := newTestScheduler(0)
	sink := new(diag.MemSink)
	s.Exporter = diag.NewExporter(sink)
	s.RunID = 4
	a, b := era.NewWorker(0), era.NewWorker(1)
	s.Reschedule([]*era.Task{era.NewTask("X")}, []*era.Worker{a, b})
	for i := 1; i <= 4; i++ {
		run(s, era.NewTask("X"), a, float64(i*60-30), float64(i*60))
	}
	clock.now = 300
	s.Skew(a, "X")
	s.Terminate(context.Background())
	expect.EQ(t, sink.Names(), []string{"run4_vm0_X.csv", "run4_vm1_X.csv"})
	p, _ := sink.Get("run4_vm0_X.csv")
	expect.HasPrefix(t, string(p), "time;estimate;measurement\n1;;0.5\n2;;0.5\n3;;0.5\n4;;0.5\n5;0.5;\n")
	expect.False(t, s.TasksRemaining())

	// A new run starts afresh.
	expect.EQ(t, s.State().Model(a, "X").Len(), 0)
}

func TestTerminateWithoutEstimates(t *testing.T) {
	s, _ := newTestScheduler(0)
	sink := new(diag.MemSink)
	s.Exporter = diag.NewExporter(sink)
	s.PrintEstimates = false
	s.Reschedule([]*era.Task{era.NewTask("X")}, []*era.Worker{era.NewWorker(0)})
	s.Terminate(context.Background())
	expect.EQ(t, len(sink.Names()), 0)
}
