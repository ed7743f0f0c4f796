// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package era

import (
	"fmt"
	"math/rand"

	"github.com/grailbio/base/digest"
)

// A Clock supplies the current time of the execution engine. Times
// are in the same units as task start and finish times and must be
// monotonic.
type Clock interface {
	Now() float64
}

// ClockFunc adapts an ordinary function to a Clock.
type ClockFunc func() float64

// Now implements Clock.
func (f ClockFunc) Now() float64 { return f() }

// A Source produces uniformly distributed values in [0, 1).
// *math/rand.Rand implements Source.
type Source interface {
	Float64() float64
}

// Worker is a virtual machine (or any other execution slot provider)
// that requests work from the scheduler. Workers are compared by
// identity: the scheduler uses *Worker as a map key and never
// mutates it.
type Worker struct {
	// ID is the worker's numeric identifier; it names diagnostic
	// artifacts.
	ID int
	// Name is an optional human-readable name.
	Name string
}

// NewWorker returns a worker with the provided id.
func NewWorker(id int) *Worker {
	return &Worker{ID: id, Name: fmt.Sprintf("vm%d", id)}
}

func (w *Worker) String() string {
	if w == nil {
		return "<nil>"
	}
	if w.Name != "" {
		return w.Name
	}
	return fmt.Sprintf("vm%d", w.ID)
}

// DataDependency is an edge between a task and a file it consumes
// or produces. It carries no scheduling semantics.
type DataDependency struct {
	// File is the name of the file.
	File string
}

func (d DataDependency) String() string {
	return d.File
}

// Digest returns the digest of the dependency's file name.
func (d DataDependency) Digest() digest.Digest {
	return Digester.FromString(d.File)
}

// Task is a single unit of work. Tasks are grouped by Name (the task
// type): all statistics kept by the scheduler are indexed by type,
// never by instance.
//
// A task has two identities: ID names the logical unit of work and is
// shared by every copy of the task, whereas ExecID names one
// particular execution attempt and is unique per copy.
type Task struct {
	// ID is the logical identity of the task.
	ID digest.Digest
	// ExecID is the identity of this copy of the task.
	ExecID digest.Digest
	// Name is the task type.
	Name string

	// Start and Finish are set by the execution engine when the task
	// starts and finishes executing.
	Start, Finish float64

	// Speculative is true for copies created by speculative
	// replication.
	Speculative bool

	// Inputs and Outputs are the task's data dependencies.
	Inputs, Outputs []DataDependency

	clones int
}

// NewTask returns a new task of the provided type with fresh
// logical and execution identities.
func NewTask(name string) *Task {
	return &Task{
		ID:     Digester.Rand(nil),
		ExecID: Digester.Rand(nil),
		Name:   name,
	}
}

// NewTaskRand is like NewTask, but draws the task's identities from
// the provided source.
func NewTaskRand(name string, r *rand.Rand) *Task {
	return &Task{
		ID:     Digester.Rand(r),
		ExecID: Digester.Rand(r),
		Name:   name,
	}
}

// Clone returns a new copy of the task representing another
// execution attempt of the same logical work. The copy shares the
// task's ID and dependencies but has its own ExecID, and carries no
// timing or speculative state. The copy's ExecID is derived from the
// task's ExecID and the number of copies made so far, so that tasks
// with reproducible identities have reproducible copies.
func (t *Task) Clone() *Task {
	t.clones++
	c := &Task{
		ID:     t.ID,
		ExecID: Digester.FromString(fmt.Sprintf("%s/%d", t.ExecID, t.clones)),
		Name:   t.Name,
	}
	c.Inputs = append([]DataDependency(nil), t.Inputs...)
	c.Outputs = append([]DataDependency(nil), t.Outputs...)
	return c
}

// Runtime returns the task's observed runtime.
func (t *Task) Runtime() float64 {
	return t.Finish - t.Start
}

func (t *Task) String() string {
	s := fmt.Sprintf("%s %s/%s", t.Name, t.ID.Short(), t.ExecID.Short())
	if t.Speculative {
		s += " (speculative)"
	}
	return s
}
