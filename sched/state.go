// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"sort"

	"github.com/golang-collections/collections/queue"
	"github.com/grailbio/base/digest"
	"github.com/grailbio/era"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/predictor"
)

// State is the bookkeeping of a scheduling run: ready queues and
// running sets per task type (globally and per worker), the set of
// outstanding logical tasks, and the runtime model of every (worker,
// task type) pair.
//
// Model and per-worker entries are created the first time a worker
// or task type is seen and are kept for the lifetime of the State;
// ready queues and running sets are pruned as soon as they become
// empty. A worker's running set for a type is always a subset of the
// global running set for that type.
//
// State is not safe for concurrent use.
type State struct {
	ready     map[string]*queue.Queue
	running   map[string]TaskSet
	runningOn map[*era.Worker]map[string]TaskSet
	models    map[*era.Worker]map[string]*predictor.WienerProcess
	// outstanding holds the logical IDs of the tasks that have not
	// yet completed successfully.
	outstanding map[digest.Digest]bool

	newModel func(w *era.Worker, typ string) *predictor.WienerProcess
}

// NewState returns a new, empty state. NewModel is called to create
// the runtime model of each (worker, task type) pair.
func NewState(newModel func(w *era.Worker, typ string) *predictor.WienerProcess) *State {
	return &State{
		ready:       make(map[string]*queue.Queue),
		running:     make(map[string]TaskSet),
		runningOn:   make(map[*era.Worker]map[string]TaskSet),
		models:      make(map[*era.Worker]map[string]*predictor.WienerProcess),
		outstanding: make(map[digest.Digest]bool),
		newModel:    newModel,
	}
}

// Reschedule registers the workers and the task types of the
// provided tasks, and replaces the outstanding set with the provided
// tasks. Models of previously seen (worker, type) pairs are kept, so
// that statistics learned in earlier phases of a run survive
// re-planning.
func (s *State) Reschedule(tasks []*era.Task, workers []*era.Worker) {
	types := make(map[string]bool)
	for _, task := range tasks {
		types[task.Name] = true
	}
	for _, w := range workers {
		s.addWorker(w)
		for typ := range types {
			s.Model(w, typ)
		}
	}
	s.outstanding = make(map[digest.Digest]bool, len(tasks))
	for _, task := range tasks {
		s.outstanding[task.ID] = true
	}
}

func (s *State) addWorker(w *era.Worker) {
	if _, ok := s.runningOn[w]; !ok {
		s.runningOn[w] = make(map[string]TaskSet)
	}
	if _, ok := s.models[w]; !ok {
		s.models[w] = make(map[string]*predictor.WienerProcess)
	}
}

// Model returns the runtime model of the provided task type on the
// provided worker, creating it if necessary.
func (s *State) Model(w *era.Worker, typ string) *predictor.WienerProcess {
	s.addWorker(w)
	m, ok := s.models[w][typ]
	if !ok {
		m = s.newModel(w, typ)
		s.models[w][typ] = m
	}
	return m
}

// TaskReady appends the task to the ready queue of its type.
func (s *State) TaskReady(task *era.Task) {
	q, ok := s.ready[task.Name]
	if !ok {
		q = queue.New()
		s.ready[task.Name] = q
	}
	q.Enqueue(task)
}

// TaskSucceeded incorporates the task's runtime into the model of
// its type on the provided worker, marks its logical task complete,
// and removes it from the running sets. An error is returned if the
// model rejected the observation; the bookkeeping is updated
// regardless.
func (s *State) TaskSucceeded(task *era.Task, w *era.Worker) error {
	err := s.Model(w, task.Name).Observe(task.Finish, task.Runtime())
	delete(s.outstanding, task.ID)
	s.finish(task, w)
	if err != nil {
		return errors.E("tasksucceeded", task.Name, w.String(), err)
	}
	return nil
}

// TaskFailed removes the task from the running sets. No runtime is
// recorded and the task remains outstanding; the caller is expected
// to make it ready again.
func (s *State) TaskFailed(task *era.Task, w *era.Worker) {
	s.finish(task, w)
}

func (s *State) finish(task *era.Task, w *era.Worker) {
	if set, ok := s.running[task.Name]; ok {
		set.RemoveAll(task)
		if set.Len() == 0 {
			delete(s.running, task.Name)
		}
	}
	if set, ok := s.runningOn[w][task.Name]; ok {
		set.RemoveAll(task)
		if set.Len() == 0 {
			delete(s.runningOn[w], task.Name)
		}
	}
}

// dispatch records the task as running on the provided worker.
func (s *State) dispatch(task *era.Task, w *era.Worker) {
	s.addWorker(w)
	set, ok := s.running[task.Name]
	if !ok {
		set = make(TaskSet)
		s.running[task.Name] = set
	}
	set.Add(task)
	set, ok = s.runningOn[w][task.Name]
	if !ok {
		set = make(TaskSet)
		s.runningOn[w][task.Name] = set
	}
	set.Add(task)
}

// popReady removes and returns the head of the ready queue of the
// provided type, pruning the queue if it becomes empty.
func (s *State) popReady(typ string) *era.Task {
	q, ok := s.ready[typ]
	if !ok {
		return nil
	}
	task := q.Dequeue().(*era.Task)
	if q.Len() == 0 {
		delete(s.ready, typ)
	}
	return task
}

// HasReady tells whether any task is ready.
func (s *State) HasReady() bool {
	return len(s.ready) > 0
}

// NumReady returns the number of ready tasks of the provided type.
func (s *State) NumReady(typ string) int {
	q, ok := s.ready[typ]
	if !ok {
		return 0
	}
	return q.Len()
}

// ReadyTypes returns the types with ready tasks, in lexical order.
func (s *State) ReadyTypes() []string {
	types := make([]string, 0, len(s.ready))
	for typ := range s.ready {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// RunningTypes returns the types with running tasks, in lexical
// order.
func (s *State) RunningTypes() []string {
	types := make([]string, 0, len(s.running))
	for typ := range s.running {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Running returns the tasks of the provided type running anywhere.
// The returned set must not be modified.
func (s *State) Running(typ string) TaskSet {
	return s.running[typ]
}

// RunningOn returns the tasks of the provided type running on the
// provided worker. The returned set must not be modified.
func (s *State) RunningOn(w *era.Worker, typ string) TaskSet {
	return s.runningOn[w][typ]
}

// CaughtUp tells whether the worker runs a copy of every logical task
// running anywhere, that is, whether there is nothing left for it to
// replicate.
func (s *State) CaughtUp(w *era.Worker) bool {
	for typ, set := range s.running {
		if set.MinusIDs(s.runningOn[w][typ].IDs()).Len() > 0 {
			return false
		}
	}
	return true
}

// TasksRemaining tells whether some outstanding task has not yet
// completed successfully.
func (s *State) TasksRemaining() bool {
	return len(s.outstanding) > 0
}

// NumOutstanding returns the number of outstanding logical tasks.
func (s *State) NumOutstanding() int {
	return len(s.outstanding)
}

// Workers returns every known worker, ordered by ID.
func (s *State) Workers() []*era.Worker {
	workers := make([]*era.Worker, 0, len(s.models))
	for w := range s.models {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		return workers[i].ID < workers[j].ID
	})
	return workers
}

// Types returns the task types modeled on the provided worker, in
// lexical order.
func (s *State) Types(w *era.Worker) []string {
	types := make([]string, 0, len(s.models[w]))
	for typ := range s.models[w] {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// lookupModel returns the model of the pair, if one exists.
func (s *State) lookupModel(w *era.Worker, typ string) (*predictor.WienerProcess, bool) {
	m, ok := s.models[w][typ]
	return m, ok
}
