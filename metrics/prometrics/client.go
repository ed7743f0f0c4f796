// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package prometrics implements a metrics.Client backed by a
// Prometheus registry.
package prometrics

import (
	"net/http"

	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is prepended to all metric names.
const DefaultNamespace = "era"

// Client is a metrics.Client that records into a Prometheus
// registry.
type Client struct {
	// Namespace is given as a prefix to all prometheus metrics.
	Namespace string

	reg        *prometheus.Registry
	gauges     map[string]*prometheus.GaugeVec
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewClient returns a client that registers every declared metric
// with the provided registry.
func NewClient(reg *prometheus.Registry, namespace string) (*Client, error) {
	c := &Client{
		Namespace:  namespace,
		reg:        reg,
		gauges:     make(map[string]*prometheus.GaugeVec),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	if err := c.initCollectors(); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler returns an HTTP handler that serves the client's registry.
func (c *Client) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// initCollectors initializes the backing stores of the declared
// counters, gauges and histograms in the registry. It should only be
// called once.
func (c *Client) initCollectors() error {
	for name, opts := range metrics.Gauges {
		gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.Namespace,
			Name:      name,
			Help:      opts.Help,
		}, opts.Labels)
		c.gauges[name] = gv
		if err := c.reg.Register(gv); err != nil {
			return errors.E("prometrics.register", name, err)
		}
	}
	for name, opts := range metrics.Counters {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.Namespace,
			Name:      name,
			Help:      opts.Help,
		}, opts.Labels)
		c.counters[name] = cv
		if err := c.reg.Register(cv); err != nil {
			return errors.E("prometrics.register", name, err)
		}
	}
	for name, opts := range metrics.Histograms {
		hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.Namespace,
			Name:      name,
			Buckets:   opts.Buckets,
			Help:      opts.Help,
		}, opts.Labels)
		c.histograms[name] = hv
		if err := c.reg.Register(hv); err != nil {
			return errors.E("prometrics.register", name, err)
		}
	}
	return nil
}

// GetGauge implements metrics.Client.
func (c *Client) GetGauge(name string, labels map[string]string) metrics.Gauge {
	return c.gauges[name].With(labels)
}

// GetCounter implements metrics.Client.
func (c *Client) GetCounter(name string, labels map[string]string) metrics.Counter {
	return c.counters[name].With(labels)
}

// GetHistogram implements metrics.Client.
func (c *Client) GetHistogram(name string, labels map[string]string) metrics.Histogram {
	return c.histograms[name].With(labels)
}
