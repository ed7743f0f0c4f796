// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package sched

import (
	"expvar"
	"fmt"
	"sync"
)

// ExpVarScheduler is the prefix of the scheduler stats exported name.
const expVarScheduler = "era-scheduler"

// OverallStats is the overall scheduler stats.
type OverallStats struct {
	// Outstanding is the number of logical tasks not yet completed.
	Outstanding int64
	// Dispatched is the number of tasks handed out from ready queues.
	Dispatched int64
	// Replicated is the number of speculative copies handed out.
	Replicated int64
	// Starved is the number of requests that yielded no task.
	Starved int64
}

// TypeStats are the counts kept per task type.
type TypeStats struct {
	// Ready is the number of tasks made ready.
	Ready int64
	// Dispatched is the number of tasks handed out from the ready
	// queue.
	Dispatched int64
	// Replicated is the number of speculative copies handed out.
	Replicated int64
	// Succeeded is the number of successful task executions,
	// including replicas.
	Succeeded int64
	// Failed is the number of failed task executions.
	Failed int64
	// Rejected is the number of runtimes rejected by the models.
	Rejected int64
}

// StatsData is a immutable snapshot of Stats, usually obtained by calling Stats.GetStats().
type StatsData struct {
	// OverallStats has the overall scheduler stats.
	OverallStats
	// Types has the stats of every task type seen.
	Types map[string]TypeStats
}

// Stats has all the scheduler stats. It is thread safe and can be
// used to update stats.
type Stats struct {
	// Mutex protects all the data members.
	sync.Mutex `json:"-"`
	// OverallStats has the overall scheduler stats.
	OverallStats
	// Types has the stats of every task type seen.
	Types map[string]*TypeStats
}

func newStats() *Stats {
	return &Stats{Types: make(map[string]*TypeStats)}
}

var (
	schedulerStatExportedNames []string
	mu                         sync.Mutex
	exportNameCounter          int
)

// GetSchedulerStatExportedNames returns the expvar names under which
// scheduler stats were published.
func GetSchedulerStatExportedNames() []string {
	mu.Lock()
	names := make([]string, len(schedulerStatExportedNames))
	copy(names, schedulerStatExportedNames)
	mu.Unlock()
	return names
}

// Publish publishes the stats as a go expvar.
func (s *Stats) Publish() {
	mu.Lock()
	val := exportNameCounter
	exportNameCounter++
	name := expVarScheduler + fmt.Sprintf("-%d", val)
	schedulerStatExportedNames = append(schedulerStatExportedNames, name)
	mu.Unlock()
	expvar.Publish(name, expvar.Func(func() interface{} { return s.GetStats() }))
}

// typ returns the stats of the provided type, creating them if
// needed. It must be called with the lock held.
func (s *Stats) typ(name string) *TypeStats {
	t, ok := s.Types[name]
	if !ok {
		t = new(TypeStats)
		s.Types[name] = t
	}
	return t
}

func (s *Stats) ready(typ string) {
	s.Lock()
	s.typ(typ).Ready++
	s.Unlock()
}

func (s *Stats) dispatched(typ string, speculative bool) {
	s.Lock()
	if speculative {
		s.Replicated++
		s.typ(typ).Replicated++
	} else {
		s.Dispatched++
		s.typ(typ).Dispatched++
	}
	s.Unlock()
}

func (s *Stats) starved() {
	s.Lock()
	s.Starved++
	s.Unlock()
}

func (s *Stats) succeeded(typ string, rejected bool, outstanding int) {
	s.Lock()
	t := s.typ(typ)
	t.Succeeded++
	if rejected {
		t.Rejected++
	}
	s.Outstanding = int64(outstanding)
	s.Unlock()
}

func (s *Stats) failed(typ string) {
	s.Lock()
	s.typ(typ).Failed++
	s.Unlock()
}

func (s *Stats) outstanding(n int) {
	s.Lock()
	s.Outstanding = int64(n)
	s.Unlock()
}

// GetStats returns a snapshot of the scheduler stats.
func (s *Stats) GetStats() StatsData {
	s.Lock()
	defer s.Unlock()
	data := StatsData{
		OverallStats: s.OverallStats,
		Types:        make(map[string]TypeStats, len(s.Types)),
	}
	for name, t := range s.Types {
		data.Types[name] = *t
	}
	return data
}
