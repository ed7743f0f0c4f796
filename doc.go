// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package era implements the core entities of the ERA (Estimate,
// Replicate, Allocate) workflow scheduler.
//
// ERA targets bag-of-tasks and scientific workflows in which many
// structurally identical task instances, grouped by task type, run
// across a heterogeneous and possibly unreliable pool of workers.
// For every (task type, worker) pair the scheduler maintains an
// online runtime model (package predictor); when a worker asks for
// work, the scheduler (package sched) either dispatches a ready task
// or speculatively replicates a running one, preferring task types
// on which the requesting worker is comparatively fast.
//
// The execution engine that actually runs tasks is external: it
// drives the scheduler through its lifecycle hooks, supplies the
// current time through a Clock, and sets task start and finish
// times. Package sim provides a discrete-event engine of this kind.
package era
