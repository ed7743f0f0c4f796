// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics declares the scheduler's metrics and the Client
// interface through which they are emitted. A nil Client discards
// all metrics.
package metrics

//go:generate go run ../cmd/genmetrics metrics.yaml ../metrics

import "fmt"

// Gauge wraps prometheus.Gauge. Gauges can be set to arbitrary values.
type Gauge interface {
	// Set updates the value of the gauge
	Set(float64)
	// Inc increments the Gauge by 1. Use Add to increment it by arbitrary
	// values.
	Inc()
	// Dec decrements the Gauge by 1. Use Sub to decrement it by arbitrary
	// values.
	Dec()
	// Add adds the given value to the Gauge. (The value can be negative,
	// resulting in a decrease of the Gauge.)
	Add(float64)
	// Sub subtracts the given value from the Gauge. (The value can be
	// negative, resulting in an increase of the Gauge.)
	Sub(float64)
}

// Counter wraps prometheus.Counter. Counters can only increase in value.
type Counter interface {
	// Inc adds one to the counter
	Inc()
	// Add adds the given value to the counter. It panics if the value is <
	// 0.
	Add(float64)
}

// Histogram wraps prometheus.Histogram. Histograms record observations of events and discretize
// them into preconfigured buckets.
type Histogram interface {
	// Observe adds a sample observation to the histogram
	Observe(float64)
}

type labelSet []string

type gaugeOpts struct {
	Labels labelSet
	Help   string
}

type counterOpts struct {
	Labels labelSet
	Help   string
}

type histogramOpts struct {
	Labels  labelSet
	Help    string
	Buckets []float64
}

// Client is a sink for metrics.
type Client interface {
	GetGauge(name string, labels map[string]string) Gauge
	GetCounter(name string, labels map[string]string) Counter
	GetHistogram(name string, labels map[string]string) Histogram
}

// mustCompleteLabels confirms that all of the labels in the given labelSet are satisfied by labels.
func mustCompleteLabels(labelSet labelSet, labels map[string]string) bool {
	if len(labels) != len(labelSet) {
		return false
	}
	for _, label := range labelSet {
		if _, ok := labels[label]; !ok {
			return false
		}
	}
	return true
}

func getGauge(c Client, name string, labels map[string]string) Gauge {
	if c == nil {
		return nopGauge{}
	}
	opts, ok := Gauges[name]
	if !ok {
		panic(fmt.Sprintf("attempted to get undeclared gauge %s", name))
	}
	if !mustCompleteLabels(opts.Labels, labels) {
		panic(fmt.Sprintf("attempted to set gauge %s with invalid labels, expected %v but got %v",
			name, opts.Labels, labels))
	}
	return c.GetGauge(name, labels)
}

func getCounter(c Client, name string, labels map[string]string) Counter {
	if c == nil {
		return nopCounter{}
	}
	opts, ok := Counters[name]
	if !ok {
		panic(fmt.Sprintf("attempted to get undeclared counter %s", name))
	}
	if !mustCompleteLabels(opts.Labels, labels) {
		panic(fmt.Sprintf("attempted to set counter %s with invalid labels, expected %v but got %v",
			name, opts.Labels, labels))
	}
	return c.GetCounter(name, labels)
}

func getHistogram(c Client, name string, labels map[string]string) Histogram {
	if c == nil {
		return nopHistogram{}
	}
	opts, ok := Histograms[name]
	if !ok {
		panic(fmt.Sprintf("attempted to get undeclared histogram %s", name))
	}
	if !mustCompleteLabels(opts.Labels, labels) {
		panic(fmt.Sprintf("attempted to set histogram %s with invalid labels, expected %v but got %v",
			name, opts.Labels, labels))
	}
	return c.GetHistogram(name, labels)
}
