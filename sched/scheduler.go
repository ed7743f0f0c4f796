// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sched implements the ERA (Estimate, Replicate, Allocate)
// task scheduler.
//
// The scheduler is driven by an execution engine through a small set
// of lifecycle hooks: tasks are made ready with TaskReady, workers ask
// for work with NextTask, and executions are reported with
// TaskSucceeded or TaskFailed. Every successful execution feeds the
// runtime model of its task type on the worker that ran it (see
// package predictor).
//
// When a worker asks for work, the scheduler either dispatches a ready
// task (normal mode) or replicates a task that is already running
// elsewhere (speculative mode). Speculative mode is entered when
// nothing is ready, and otherwise with probability Rho. In either
// mode, the candidate task types are ranked by skew: the requesting
// worker's forecast for the type, less the smallest forecast of any
// worker, relative to the largest. The type with the smallest skew,
// that is, the type on which the worker is comparatively fastest, is
// chosen.
//
// Speculative copies share the logical identity of the original; the
// original keeps running. A logical task is complete as soon as any
// of its copies succeeds.
package sched

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/grailbio/era"
	"github.com/grailbio/era/diag"
	"github.com/grailbio/era/log"
	"github.com/grailbio/era/metrics"
	"github.com/grailbio/era/predictor"
)

// DefaultRho is the default probability of entering speculative mode
// while tasks are ready.
const DefaultRho = 0.1

// Dispatch modes, as labeled in metrics.
const (
	modeNormal      = "normal"
	modeSpeculative = "speculative"
)

// A Scheduler decides which task each requesting worker should run
// next. The exported fields must be set before the first call to
// Reschedule and not modified thereafter. Scheduler is safe for
// concurrent use; its methods are serialized.
type Scheduler struct {
	// Log logs scheduler actions. Anomalies in observed runtimes
	// are logged at Warn level, individual decisions at Debug level.
	Log *log.Logger
	// Clock supplies the current time of the execution engine.
	Clock era.Clock
	// Rand is the source of the mode selection draws.
	Rand era.Source

	// Alpha is the forecast quantile of the runtime models.
	Alpha float64
	// Rho is the probability of speculative mode while tasks are
	// ready.
	Rho float64
	// Logarithmize models the logarithm of runtimes.
	Logarithmize bool
	// PrintEstimates records forecasts and writes the models'
	// histories to Exporter on Terminate.
	PrintEstimates bool
	// NegativeRuntime is the policy for negative observed runtimes.
	NegativeRuntime predictor.NegativePolicy

	// RunID identifies the run in diagnostic artifacts.
	RunID int
	// Exporter writes diagnostic artifacts. If nil, none are
	// written.
	Exporter *diag.Exporter
	// Metrics receives scheduler metrics. If nil, metrics are
	// discarded.
	Metrics metrics.Client
	// Stats is the scheduler stats.
	Stats *Stats

	mu    sync.Mutex
	state *State
}

// New returns a new Scheduler instance with default parameters. The
// caller must set Clock and Rand before use.
func New() *Scheduler {
	return &Scheduler{
		Alpha:          predictor.DefaultAlpha,
		Rho:            DefaultRho,
		PrintEstimates: true,
		Stats:          newStats(),
	}
}

// ExportStats exports scheduler stats as expvars.
func (s *Scheduler) ExportStats() {
	s.Stats.Publish()
}

func (s *Scheduler) params() predictor.Params {
	return predictor.Params{
		Alpha:        s.Alpha,
		Logarithmize: s.Logarithmize,
		Record:       s.PrintEstimates,
		Negative:     s.NegativeRuntime,
	}
}

// getState returns the state of the current run, creating it if
// needed. It must be called with the lock held.
func (s *Scheduler) getState() *State {
	if s.state == nil {
		if s.Clock == nil || s.Rand == nil {
			panic("sched: scheduler requires a Clock and a Rand")
		}
		if s.Stats == nil {
			s.Stats = newStats()
		}
		params := s.params()
		s.state = NewState(func(w *era.Worker, typ string) *predictor.WienerProcess {
			return predictor.New(params, s.Log.Tee(nil, fmt.Sprintf("%s@%s: ", typ, w)))
		})
	}
	return s.state
}

// Reschedule (re)plans the run with the provided tasks and workers.
// The provided tasks become the set of outstanding work; runtime
// models learned in earlier calls are kept. Reschedule does not make
// tasks ready: the caller does so with TaskReady as their
// dependencies are satisfied.
func (s *Scheduler) Reschedule(tasks []*era.Task, workers []*era.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getState()
	state.Reschedule(tasks, workers)
	s.Log.Debugf("rescheduled %d tasks on %d workers", len(tasks), len(workers))
	s.Stats.outstanding(state.NumOutstanding())
	metrics.GetTasksOutstandingGauge(s.Metrics).Set(float64(state.NumOutstanding()))
}

// TaskReady makes the task available for dispatch. Tasks of the same
// type are dispatched in the order in which they were made ready.
func (s *Scheduler) TaskReady(task *era.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getState().TaskReady(task)
	s.Stats.ready(task.Name)
	metrics.GetTasksReadyCountCounter(s.Metrics, task.Name).Inc()
}

// NextTask returns the task that the provided worker should run next,
// or nil if there is nothing for it to do at this time. NextTask
// returns nil only if no task is ready and the worker already runs a
// copy of every task that is running anywhere. The returned task is
// considered running on the worker until it is reported through
// TaskSucceeded or TaskFailed.
func (s *Scheduler) NextTask(w *era.Worker) *era.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getState()
	state.addWorker(w)
	if !state.HasReady() && state.CaughtUp(w) {
		s.starve(w)
		return nil
	}
	var (
		now         = s.Clock.Now()
		r           = s.Rand.Float64()
		speculative = !state.HasReady() || r < s.Rho
		task        *era.Task
		score       float64
	)
	if speculative {
		task, score = s.replicate(state, w, now)
		// Nothing to replicate: fall back to ready work, if any.
		if task == nil && state.HasReady() {
			speculative = false
		}
	}
	if !speculative {
		task, score = s.allocate(state, w, now)
	}
	if task == nil {
		s.starve(w)
		return nil
	}
	state.dispatch(task, w)

	mode := modeNormal
	if speculative {
		mode = modeSpeculative
	}
	s.Log.Debugf("%s: %s dispatch of %v (skew %.4g)", w, mode, task, score)
	s.Stats.dispatched(task.Name, speculative)
	metrics.GetTasksDispatchedCountCounter(s.Metrics, mode).Inc()
	metrics.GetSkewScoreHistogram(s.Metrics, mode).Observe(score)
	return task
}

func (s *Scheduler) starve(w *era.Worker) {
	s.Log.Debugf("%s: no task", w)
	s.Stats.starved()
	metrics.GetTasksStarvedCountCounter(s.Metrics).Inc()
}

// allocate pops the head of the ready queue of the type with the
// smallest skew for the worker.
func (s *Scheduler) allocate(state *State, w *era.Worker, now float64) (*era.Task, float64) {
	typ, score, ok := s.choose(state, w, now, state.ReadyTypes())
	if !ok {
		return nil, 0
	}
	return state.popReady(typ), score
}

// replicate returns a speculative copy of a task running elsewhere,
// of the type with the smallest skew for the worker. Tasks of which
// the worker already runs a copy are not candidates. Among the
// remaining tasks of the chosen type, the earliest started is copied.
func (s *Scheduler) replicate(state *State, w *era.Worker, now float64) (*era.Task, float64) {
	pools := make(map[string]TaskSet)
	var types []string
	for _, typ := range state.RunningTypes() {
		pool := state.Running(typ).MinusIDs(state.RunningOn(w, typ).IDs())
		if pool.Len() == 0 {
			continue
		}
		pools[typ] = pool
		types = append(types, typ)
	}
	typ, score, ok := s.choose(state, w, now, types)
	if !ok {
		return nil, 0
	}
	c := pools[typ].First().Clone()
	c.Speculative = true
	return c, score
}

// choose returns the candidate type with the smallest skew score for
// the worker. The first of equal scores wins; candidates are given in
// lexical order.
func (s *Scheduler) choose(state *State, w *era.Worker, now float64, types []string) (typ string, score float64, ok bool) {
	score = math.Inf(1)
	for _, t := range types {
		sc := s.skew(state, w, t, now)
		if sc < score {
			typ, score, ok = t, sc, true
		}
	}
	return
}

// skew computes the score (e_w - e_min) / e_max of the type on the
// worker, where e_w is the worker's forecast and e_min and e_max are
// the extreme forecasts of all workers modeling the type. The score
// is 0 when every forecast is 0.
func (s *Scheduler) skew(state *State, w *era.Worker, typ string, now float64) float64 {
	state.Model(w, typ)
	var (
		ew         float64
		emin, emax = math.Inf(1), math.Inf(-1)
	)
	for _, v := range state.Workers() {
		m, ok := state.lookupModel(v, typ)
		if !ok {
			continue
		}
		e := m.Estimate(now)
		if v == w {
			ew = e
		}
		emin = math.Min(emin, e)
		emax = math.Max(emax, e)
	}
	if emax == 0 {
		return 0
	}
	return (ew - emin) / emax
}

// TaskSucceeded reports a successful execution of the task on the
// provided worker. The task's Start and Finish times must be set. Its
// runtime is incorporated into the worker's model of the task type,
// and its logical task is complete. Observations rejected by the
// model are logged.
func (s *Scheduler) TaskSucceeded(task *era.Task, w *era.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getState()
	err := state.TaskSucceeded(task, w)
	if err != nil {
		s.Log.Errorf("%v: runtime not recorded: %v", task, err)
		metrics.GetObservationsRejectedCountCounter(s.Metrics, task.Name).Inc()
	} else {
		metrics.GetTaskRuntimeHistogram(s.Metrics, task.Name).Observe(task.Runtime())
	}
	s.Log.Debugf("%s: %v succeeded in %.4g", w, task, task.Runtime())
	s.Stats.succeeded(task.Name, err != nil, state.NumOutstanding())
	metrics.GetTasksSucceededCountCounter(s.Metrics, task.Name).Inc()
	metrics.GetTasksOutstandingGauge(s.Metrics).Set(float64(state.NumOutstanding()))
}

// TaskFailed reports a failed execution of the task on the provided
// worker. Nothing is learned from failures, and the logical task
// remains outstanding: the caller should make it ready again.
func (s *Scheduler) TaskFailed(task *era.Task, w *era.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getState().TaskFailed(task, w)
	s.Log.Debugf("%s: %v failed", w, task)
	s.Stats.failed(task.Name)
	metrics.GetTasksFailedCountCounter(s.Metrics, task.Name).Inc()
}

// TasksRemaining tells whether some outstanding task has not yet
// completed.
func (s *Scheduler) TasksRemaining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && s.state.TasksRemaining()
}

// Series returns the history of every runtime model of the current
// run, ordered by worker and type.
func (s *Scheduler) Series() []diag.Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series()
}

func (s *Scheduler) series() []diag.Series {
	if s.state == nil {
		return nil
	}
	var series []diag.Series
	for _, w := range s.state.Workers() {
		for _, typ := range s.state.Types(w) {
			m, _ := s.state.lookupModel(w, typ)
			series = append(series, diag.SeriesOf(w.ID, typ, m))
		}
	}
	return series
}

// Terminate ends the run. If PrintEstimates is set and an Exporter
// is configured, the history of every runtime model is exported;
// failures are logged. The scheduler may be reused for a new run
// afterwards, starting with fresh models.
func (s *Scheduler) Terminate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PrintEstimates && s.Exporter != nil {
		series := s.series()
		if err := s.Exporter.Export(ctx, s.RunID, series); err != nil {
			s.Log.Errorf("run %d: diagnostics incomplete: %v", s.RunID, err)
		} else {
			s.Log.Debugf("run %d: exported %d diagnostic artifacts", s.RunID, len(series))
		}
	}
	s.state = nil
}
