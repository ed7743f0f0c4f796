// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sim

import (
	"io/ioutil"

	"github.com/grailbio/era/errors"
	yaml "gopkg.in/yaml.v2"
)

// TaskType describes the instances of one task type in a stage.
type TaskType struct {
	// Name is the task type.
	Name string `yaml:"name"`
	// Count is the number of instances.
	Count int `yaml:"count"`
	// Runtime is the mean runtime of an instance on a worker of
	// speed 1.
	Runtime float64 `yaml:"runtime"`
	// Jitter is the relative standard deviation of runtimes.
	Jitter float64 `yaml:"jitter"`
}

// Stage is a set of tasks that are all ready at the start of the
// stage. A stage starts once every task of the previous stage has
// completed.
type Stage struct {
	Types []TaskType `yaml:"types"`
}

// WorkerSpec describes a group of identical workers.
type WorkerSpec struct {
	// Count is the number of workers in the group.
	Count int `yaml:"count"`
	// Speed divides runtimes on the group's workers.
	Speed float64 `yaml:"speed"`
	// Slots is the number of tasks a worker runs concurrently.
	Slots int `yaml:"slots"`
}

// Workload is a simulated workflow together with the workers that
// execute it.
type Workload struct {
	Stages  []Stage      `yaml:"stages"`
	Workers []WorkerSpec `yaml:"workers"`

	// StragglerProbability is the probability that an execution is
	// slowed down by StragglerSlowdown.
	StragglerProbability float64 `yaml:"stragglerprobability"`
	StragglerSlowdown    float64 `yaml:"stragglerslowdown"`
	// FailureProbability is the probability that an execution
	// fails. Failed tasks are made ready again.
	FailureProbability float64 `yaml:"failureprobability"`
}

// DefaultWorkload is a two-stage workflow on a small heterogeneous
// pool of workers with occasional stragglers and failures.
var DefaultWorkload = Workload{
	Stages: []Stage{
		{Types: []TaskType{
			{Name: "align", Count: 40, Runtime: 600, Jitter: 0.1},
			{Name: "qc", Count: 40, Runtime: 120, Jitter: 0.2},
		}},
		{Types: []TaskType{
			{Name: "merge", Count: 8, Runtime: 900, Jitter: 0.1},
		}},
	},
	Workers: []WorkerSpec{
		{Count: 4, Speed: 1, Slots: 2},
		{Count: 2, Speed: 0.5, Slots: 2},
	},
	StragglerProbability: 0.05,
	StragglerSlowdown:    5,
	FailureProbability:   0.02,
}

// Validate checks that the workload can be simulated.
func (w Workload) Validate() error {
	if len(w.Stages) == 0 {
		return errors.E("sim.workload", errors.Invalid, errors.New("no stages"))
	}
	for i, stage := range w.Stages {
		if len(stage.Types) == 0 {
			return errors.E("sim.workload", errors.Invalid, errors.Errorf("stage %d: no task types", i))
		}
		for _, t := range stage.Types {
			switch {
			case t.Name == "":
				return errors.E("sim.workload", errors.Invalid, errors.Errorf("stage %d: unnamed task type", i))
			case t.Count <= 0:
				return errors.E("sim.workload", t.Name, errors.Invalid, errors.Errorf("count %d is not positive", t.Count))
			case t.Runtime <= 0:
				return errors.E("sim.workload", t.Name, errors.Invalid, errors.Errorf("runtime %v is not positive", t.Runtime))
			case t.Jitter < 0:
				return errors.E("sim.workload", t.Name, errors.Invalid, errors.Errorf("jitter %v is negative", t.Jitter))
			}
		}
	}
	if len(w.Workers) == 0 {
		return errors.E("sim.workload", errors.Invalid, errors.New("no workers"))
	}
	for i, spec := range w.Workers {
		if spec.Count <= 0 || spec.Speed <= 0 || spec.Slots <= 0 {
			return errors.E("sim.workload", errors.Invalid, errors.Errorf("worker group %d: count, speed and slots must be positive", i))
		}
	}
	switch {
	case w.StragglerProbability < 0 || w.StragglerProbability > 1:
		return errors.E("sim.workload", errors.Invalid, errors.Errorf("straggler probability %v is not in [0, 1]", w.StragglerProbability))
	case w.StragglerProbability > 0 && w.StragglerSlowdown < 1:
		return errors.E("sim.workload", errors.Invalid, errors.Errorf("straggler slowdown %v is less than 1", w.StragglerSlowdown))
	case w.FailureProbability < 0 || w.FailureProbability >= 1:
		return errors.E("sim.workload", errors.Invalid, errors.Errorf("failure probability %v is not in [0, 1)", w.FailureProbability))
	}
	return nil
}

// ParseWorkload parses and validates a YAML-formatted workload.
func ParseWorkload(b []byte) (Workload, error) {
	var w Workload
	if err := yaml.UnmarshalStrict(b, &w); err != nil {
		return Workload{}, errors.E("sim.parseworkload", errors.Invalid, err)
	}
	return w, w.Validate()
}

// ReadWorkload reads a workload from the provided file.
func ReadWorkload(filename string) (Workload, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return Workload{}, errors.E("sim.readworkload", filename, err)
	}
	return ParseWorkload(b)
}
