// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sim implements a discrete-event execution engine that
// drives an ERA scheduler through a simulated workload.
//
// Workers have a number of task slots; each free slot asks the
// scheduler for work. Executions take the task type's runtime,
// perturbed by jitter, divided by the worker's speed and occasionally
// multiplied by a straggler slowdown. Executions may fail, in which
// case the task is made ready again unless another copy of it is
// still running. Copies of a task keep running after one of them
// succeeds; their completions are still reported to the scheduler.
package sim

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/era"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/sched"
)

// Result summarizes a simulation.
type Result struct {
	// Makespan is the time at which the last task completed.
	Makespan float64
	// StageEnds are the times at which each stage completed.
	StageEnds []float64
	// Tasks is the number of logical tasks.
	Tasks int
	// Dispatched and Replicated count the executions started from
	// ready tasks and as speculative copies.
	Dispatched, Replicated int
	// Succeeded and Failed count finished executions.
	Succeeded, Failed int
	// Redundant counts successful executions of tasks that had
	// already completed.
	Redundant int
	// Abandoned counts executions still running at the end.
	Abandoned int
}

func (r Result) String() string {
	return fmt.Sprintf("makespan %.1f tasks %d dispatched %d replicated %d succeeded %d (redundant %d) failed %d abandoned %d",
		r.Makespan, r.Tasks, r.Dispatched, r.Replicated, r.Succeeded, r.Redundant, r.Failed, r.Abandoned)
}

type worker struct {
	*era.Worker
	speed float64
	free  int
}

type event struct {
	time   float64
	seq    int
	task   *era.Task
	worker *worker
	failed bool
}

// eventQueue is a min-heap of events ordered by time, then by
// submission order.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].time != q[j].time {
		return q[i].time < q[j].time
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x interface{}) { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

type simulation struct {
	sched    *sched.Scheduler
	workload Workload
	rand     *rand.Rand
	types    map[string]TaskType

	now     float64
	seq     int
	events  eventQueue
	workers []*worker
	// copies counts the running copies of each logical task.
	copies map[digest.Digest]int
	done   map[digest.Digest]bool
	result Result
}

// Run simulates the workload under the provided scheduler. Run sets
// the scheduler's Clock to the simulation's virtual clock and its
// Rand to r, which also drives the simulation; a given seed thus
// reproduces a run. The scheduler is terminated when the simulation
// completes.
func Run(ctx context.Context, s *sched.Scheduler, w Workload, r *rand.Rand) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	sim := &simulation{
		sched:    s,
		workload: w,
		rand:     r,
		copies:   make(map[digest.Digest]int),
		done:     make(map[digest.Digest]bool),
	}
	s.Clock = era.ClockFunc(func() float64 { return sim.now })
	s.Rand = r
	var id int
	for _, spec := range w.Workers {
		for i := 0; i < spec.Count; i++ {
			sim.workers = append(sim.workers, &worker{era.NewWorker(id), spec.Speed, spec.Slots})
			id++
		}
	}
	eraWorkers := make([]*era.Worker, len(sim.workers))
	for i, wk := range sim.workers {
		eraWorkers[i] = wk.Worker
	}
	var prev []*era.Task
	for i, stage := range w.Stages {
		tasks := sim.stageTasks(i, stage, prev)
		s.Log.Debugf("stage %d: %d tasks", i, len(tasks))
		s.Reschedule(tasks, eraWorkers)
		for _, task := range tasks {
			s.TaskReady(task)
		}
		if err := sim.runStage(ctx); err != nil {
			s.Terminate(ctx)
			return sim.result, err
		}
		sim.result.StageEnds = append(sim.result.StageEnds, sim.now)
		prev = tasks
	}
	sim.result.Makespan = sim.now
	sim.result.Abandoned = sim.events.Len()
	s.Terminate(ctx)
	return sim.result, nil
}

// stageTasks creates the tasks of a stage. Each task consumes an
// output of the previous stage.
func (sim *simulation) stageTasks(index int, stage Stage, prev []*era.Task) []*era.Task {
	var tasks []*era.Task
	if sim.types == nil {
		sim.types = make(map[string]TaskType)
	}
	for _, t := range stage.Types {
		sim.types[t.Name] = t
		for i := 0; i < t.Count; i++ {
			task := era.NewTaskRand(t.Name, sim.rand)
			task.Outputs = []era.DataDependency{{File: fmt.Sprintf("stage%d/%s/%d", index, t.Name, i)}}
			if len(prev) > 0 {
				in := prev[len(tasks)%len(prev)]
				task.Inputs = append(task.Inputs, in.Outputs...)
			}
			tasks = append(tasks, task)
		}
	}
	sim.result.Tasks += len(tasks)
	return tasks
}

// runStage processes events until the scheduler has no outstanding
// tasks.
func (sim *simulation) runStage(ctx context.Context) error {
	for sim.sched.TasksRemaining() {
		sim.fill()
		if sim.events.Len() == 0 {
			return errors.E("sim.run", errors.Precondition, errors.Errorf("stalled at time %v with outstanding tasks", sim.now))
		}
		if err := ctx.Err(); err != nil {
			return errors.E("sim.run", err)
		}
		sim.process(heap.Pop(&sim.events).(*event))
	}
	return nil
}

// fill asks the scheduler for a task for every free slot.
func (sim *simulation) fill() {
	for _, w := range sim.workers {
		for w.free > 0 {
			task := sim.sched.NextTask(w.Worker)
			if task == nil {
				break
			}
			sim.start(task, w)
		}
	}
}

func (sim *simulation) start(task *era.Task, w *worker) {
	w.free--
	task.Start = sim.now
	if task.Speculative {
		sim.result.Replicated++
	} else {
		sim.result.Dispatched++
	}
	sim.copies[task.ID]++
	t := sim.types[task.Name]
	d := t.Runtime * math.Max(0.1, 1+t.Jitter*sim.rand.NormFloat64()) / w.speed
	if sim.rand.Float64() < sim.workload.StragglerProbability {
		d *= sim.workload.StragglerSlowdown
	}
	failed := sim.rand.Float64() < sim.workload.FailureProbability
	if failed {
		d *= sim.rand.Float64()
	}
	sim.seq++
	heap.Push(&sim.events, &event{time: sim.now + d, seq: sim.seq, task: task, worker: w, failed: failed})
}

func (sim *simulation) process(e *event) {
	sim.now = e.time
	e.worker.free++
	sim.copies[e.task.ID]--
	e.task.Finish = sim.now
	if e.failed {
		sim.result.Failed++
		sim.sched.TaskFailed(e.task, e.worker.Worker)
		if !sim.done[e.task.ID] && sim.copies[e.task.ID] == 0 {
			retry := e.task.Clone()
			sim.sched.TaskReady(retry)
		}
		return
	}
	sim.result.Succeeded++
	if sim.done[e.task.ID] {
		sim.result.Redundant++
	}
	sim.done[e.task.ID] = true
	sim.sched.TaskSucceeded(e.task, e.worker.Worker)
}
