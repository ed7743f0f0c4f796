// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import "github.com/grailbio/era"

// State returns the scheduler's current state.
func (s *Scheduler) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getState()
}

// Skew returns the skew score of the type on the worker at the
// current time.
func (s *Scheduler) Skew(w *era.Worker, typ string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skew(s.getState(), w, typ, s.Clock.Now())
}

// Dispatch records the task as running on the worker.
func (s *State) Dispatch(task *era.Task, w *era.Worker) {
	s.dispatch(task, w)
}

// PopReady pops the head of the ready queue of the type.
func (s *State) PopReady(typ string) *era.Task {
	return s.popReady(typ)
}

// Counts returns the number of entries of the state's indices, for
// checking that empty entries are pruned.
func (s *State) Counts(w *era.Worker) (ready, running, runningOn int) {
	return len(s.ready), len(s.running), len(s.runningOn[w])
}
