// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package prometrics

import (
	"testing"

	"github.com/grailbio/era/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestClient(t *testing.T) {
	c, err := NewClient(prometheus.NewRegistry(), DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	metrics.GetTasksDispatchedCountCounter(c, "speculative").Inc()
	metrics.GetTasksDispatchedCountCounter(c, "speculative").Inc()
	metrics.GetTasksDispatchedCountCounter(c, "normal").Inc()
	metrics.GetTasksOutstandingGauge(c).Set(7)

	if got, want := testutil.ToFloat64(c.counters["tasks_dispatched_count"].WithLabelValues("speculative")), 2.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(c.gauges["tasks_outstanding"].WithLabelValues()), 7.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := NewClient(c.reg, DefaultNamespace); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestUndeclared(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for incomplete labels")
		}
	}()
	c, err := NewClient(prometheus.NewRegistry(), DefaultNamespace)
	if err != nil {
		t.Fatal(err)
	}
	metrics.GetTaskRuntimeHistogram(c, "align").Observe(1)
	metrics.GetSkewScoreHistogram(nil, "normal").Observe(0)
	// Nil clients discard metrics without validating them.
	metrics.GetTasksStarvedCountCounter(nil).Inc()
	c.GetCounter("tasks_ready_count", nil).Inc()
}
