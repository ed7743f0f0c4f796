// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched_test

import (
	"testing"

	"github.com/grailbio/era"
	"github.com/grailbio/era/sched"
)

func TestTaskSet(t *testing.T) {
	a, b, c := era.NewTask("x"), era.NewTask("x"), era.NewTask("y")
	a.Start, b.Start, c.Start = 3, 1, 1
	set := sched.NewTaskSet(a, b)
	if !set.Has(a) || set.Has(c) {
		t.Errorf("bad membership: %v", set)
	}
	set.Add(c)
	if got, want := set.Len(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	first := b
	if c.ExecID.Less(b.ExecID) {
		first = c
	}
	if got, want := set.First(), first; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := set.Slice()[2], a; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	d := set.MinusIDs(sched.NewTaskSet(b, c).IDs())
	if !d.Equal(sched.NewTaskSet(a)) {
		t.Errorf("got %v, want {a}", d)
	}
	set.RemoveAll(a, b, c)
	if set.Len() != 0 || set.First() != nil {
		t.Errorf("set not empty: %v", set)
	}
	// Clones are distinct members.
	clone := a.Clone()
	if sched.NewTaskSet(a).Has(clone) {
		t.Error("clone is a member of its original's set")
	}
}

func TestTaskSetMinusIDs(t *testing.T) {
	x, y := era.NewTask("x"), era.NewTask("x")
	cx := x.Clone()
	set := sched.NewTaskSet(x, y)
	ids := sched.NewTaskSet(cx).IDs()
	if got, want := len(ids), 1; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !ids[x.ID] {
		t.Errorf("copy does not carry the logical identity %v", x.ID)
	}
	// A copy excludes its original.
	if got, want := set.MinusIDs(ids), sched.NewTaskSet(y); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := set.MinusIDs(nil); !got.Equal(set) {
		t.Errorf("got %v, want %v", got, set)
	}
}
