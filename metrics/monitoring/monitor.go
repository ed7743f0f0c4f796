// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package monitoring periodically reports the metrics gathered by a
// Prometheus registry to a logger, so that long simulations can be
// followed without a metrics server.
package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type MetricsMonitor interface {
	// Go starts monitoring of metrics using the given context.
	// Typically Go would never return until context cancellation and hence should be run in a goroutine.
	Go(ctx context.Context)
}

// monitor periodically (every p duration) fetches metrics using fetcherFn and pushes them to consumerFn.
type monitor struct {
	p   time.Duration
	log *log.Logger

	fetcherFn  func(ctx context.Context) (time.Time, []*dto.MetricFamily, error)
	consumerFn func(t time.Time, mfs []*dto.MetricFamily)
}

// Go starts monitoring of metrics and returns only upon ctx cancellation.
func (m *monitor) Go(ctx context.Context) {
	if m.fetcherFn == nil {
		panic("monitor.fetcherFn must be set")
	}
	if m.consumerFn == nil {
		panic("monitor.consumerFn must be set")
	}
	iter := time.NewTicker(m.p)
	defer iter.Stop()
	for {
		if t, mfs, err := m.fetcherFn(ctx); err == nil {
			m.consumerFn(t, mfs)
		} else {
			m.log.Debugf("metrics monitor: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-iter.C:
		}
	}
}

// NewMetricsLogger periodically (every p duration) gathers metrics from g and
// logs them to the given logger. If restrict is provided, only the metrics specified will be logged.
func NewMetricsLogger(g prometheus.Gatherer, p time.Duration, restrict map[string]bool, log *log.Logger) MetricsMonitor {
	f := gatherer{g}
	return &monitor{p: p, log: log, fetcherFn: f.fetch,
		consumerFn: func(t time.Time, mfs []*dto.MetricFamily) {
			logFamilies(mfs, restrict, log)
		},
	}
}

// Dump gathers metrics from g once and logs them.
func Dump(g prometheus.Gatherer, restrict map[string]bool, log *log.Logger) error {
	_, mfs, err := gatherer{g}.fetch(context.Background())
	if err != nil {
		return err
	}
	logFamilies(mfs, restrict, log)
	return nil
}

func logFamilies(mfs []*dto.MetricFamily, restrict map[string]bool, log *log.Logger) {
	for _, mf := range mfs {
		if n := mf.GetName(); len(restrict) > 0 && !restrict[n] {
			continue
		}
		if s := toString(mf); s != "" {
			log.Printf("%s: %s  (%s)", mf.GetName(), s, mf.GetHelp())
		}
	}
}

type gatherer struct {
	prometheus.Gatherer
}

func (g gatherer) fetch(ctx context.Context) (time.Time, []*dto.MetricFamily, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return start, nil, err
	}
	mfs, err := g.Gather()
	if err != nil {
		return start, mfs, errors.E("monitoring.gather", err)
	}
	return start, mfs, nil
}

func toString(mf *dto.MetricFamily) string {
	var b bytes.Buffer
	sep := ""
	for _, m := range mf.GetMetric() {
		var prefix string
		if l := labelString(m); l != "" {
			prefix = fmt.Sprintf("(%s)=", l)
		}
		switch mf.GetType() {
		case dto.MetricType_HISTOGRAM:
			h := m.GetHistogram()
			n := h.GetSampleCount()
			if n == 0 {
				continue
			}
			_, _ = fmt.Fprintf(&b, "%s%sn=%d,mean=%.4f", sep, prefix, n, h.GetSampleSum()/float64(n))
		default:
			v, ok := singleValue(mf.GetType(), m)
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(&b, "%s%s%.4f", sep, prefix, v)
		}
		sep = ", "
	}
	return b.String()
}

func labelString(m *dto.Metric) string {
	var b bytes.Buffer
	sep := ""
	for _, lp := range m.GetLabel() {
		_, _ = fmt.Fprint(&b, sep)
		_, _ = fmt.Fprintf(&b, "%s=%s", lp.GetName(), lp.GetValue())
		sep = ","
	}
	return b.String()
}

// singleValue returns the value of the given metric (if supported).
// singleValue will return false for unsupported metric types.
func singleValue(typ dto.MetricType, m *dto.Metric) (v float64, ok bool) {
	switch typ {
	case dto.MetricType_GAUGE:
		v, ok = m.GetGauge().GetValue(), true
	case dto.MetricType_COUNTER:
		v, ok = m.GetCounter().GetValue(), true
	}
	return
}
