// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"sort"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/era"
)

// TaskSet is a set of task instances. Membership is by execution
// identity (pointer), so that the copies of a task are distinct
// members.
type TaskSet map[*era.Task]bool

// NewTaskSet returns a set of tasks.
func NewTaskSet(tasks ...*era.Task) TaskSet {
	set := make(TaskSet)
	for _, task := range tasks {
		set[task] = true
	}
	return set
}

// Add adds tasks to the taskSet.
func (s TaskSet) Add(tasks ...*era.Task) {
	for _, task := range tasks {
		s[task] = true
	}
}

// RemoveAll removes tasks from the taskSet.
func (s TaskSet) RemoveAll(tasks ...*era.Task) {
	for _, task := range tasks {
		delete(s, task)
	}
}

// Has tells whether the task is a member of the set.
func (s TaskSet) Has(task *era.Task) bool {
	return s[task]
}

// Len returns the number of tasks in the taskSet.
func (s TaskSet) Len() int {
	return len(s)
}

// Equal tells whether s and t contain the same tasks.
func (s TaskSet) Equal(t TaskSet) bool {
	if len(s) != len(t) {
		return false
	}
	for task := range s {
		if !t[task] {
			return false
		}
	}
	return true
}

// IDs returns the logical identities of the tasks in the set.
func (s TaskSet) IDs() map[digest.Digest]bool {
	ids := make(map[digest.Digest]bool, len(s))
	for task := range s {
		ids[task.ID] = true
	}
	return ids
}

// MinusIDs returns the tasks in s whose logical identity is not in
// ids. A copy of a task is thus excluded along with its original.
func (s TaskSet) MinusIDs(ids map[digest.Digest]bool) TaskSet {
	d := make(TaskSet)
	for task := range s {
		if !ids[task.ID] {
			d[task] = true
		}
	}
	return d
}

// Slice returns the tasks in the taskSet, ordered by start time and
// then by execution identity.
func (s TaskSet) Slice() []*era.Task {
	var tasks = make([]*era.Task, 0, len(s))
	for task := range s {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Start != tasks[j].Start {
			return tasks[i].Start < tasks[j].Start
		}
		return tasks[i].ExecID.Less(tasks[j].ExecID)
	})
	return tasks
}

// First returns the earliest started task in the set, or nil if the
// set is empty. Ties are broken by execution identity, so that the
// choice does not depend on map iteration order.
func (s TaskSet) First() *era.Task {
	var first *era.Task
	for task := range s {
		switch {
		case first == nil:
			first = task
		case task.Start < first.Start:
			first = task
		case task.Start == first.Start && task.ExecID.Less(first.ExecID):
			first = task
		}
	}
	return first
}
