// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package era_test

import (
	"math/rand"
	"testing"

	"github.com/grailbio/era"
)

func TestClone(t *testing.T) {
	task := era.NewTask("align")
	task.Inputs = []era.DataDependency{{File: "reads.fastq"}}
	task.Start, task.Finish = 10, 25
	task.Speculative = true

	c := task.Clone()
	if c == task {
		t.Fatal("clone returned the same instance")
	}
	if got, want := c.ID, task.ID; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if c.ExecID == task.ExecID {
		t.Error("clone shares the execution identity of the original")
	}
	if c.Speculative || c.Start != 0 || c.Finish != 0 {
		t.Errorf("clone carries execution state: %+v", c)
	}
	if got, want := c.Name, "align"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	c.Inputs[0].File = "other"
	if got, want := task.Inputs[0].File, "reads.fastq"; got != want {
		t.Errorf("clone aliases inputs: got %v, want %v", got, want)
	}
	if got, want := task.Runtime(), 15.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDataDependency(t *testing.T) {
	a, b := era.DataDependency{File: "x.bam"}, era.DataDependency{File: "x.bam"}
	if a.Digest() != b.Digest() {
		t.Error("equal names hash differently")
	}
	if a.Digest() == (era.DataDependency{File: "y.bam"}).Digest() {
		t.Error("distinct names hash equally")
	}
	if got, want := a.String(), "x.bam"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestWorkerString(t *testing.T) {
	if got, want := era.NewWorker(3).String(), "vm3"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := (&era.Worker{ID: 1, Name: "big"}).String(), "big"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCloneIdentities(t *testing.T) {
	task := era.NewTaskRand("x", rand.New(rand.NewSource(1)))
	same := era.NewTaskRand("x", rand.New(rand.NewSource(1)))
	if task.ID != same.ID || task.ExecID != same.ExecID {
		t.Fatal("identities are not reproducible")
	}
	c1, c2 := task.Clone(), task.Clone()
	if c1.ExecID == c2.ExecID || c1.ExecID == task.ExecID {
		t.Error("copies share execution identities")
	}
	if got, want := same.Clone().ExecID, c1.ExecID; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if c1.Clone().ExecID == c2.ExecID {
		t.Error("copy of a copy collides with a sibling")
	}
}
