// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package diag exports the measurement and forecast history of runtime
// models as delimited text artifacts, one per (run, worker, task type).
//
// Each artifact starts with the header
//
//	time;estimate;measurement
//
// followed by one row per measurement (time;;value) and then one row
// per forecast (time;value;). Times and values are divided by the
// exporter's time scale. Artifacts are named by Name and handed to a
// Sink, which decides where they are persisted.
package diag

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
	"github.com/grailbio/era/metrics"
	"github.com/grailbio/era/predictor"
)

// Header is the first line of every artifact.
const Header = "time;estimate;measurement"

const (
	// DefaultPrecision is the default number of fractional digits.
	DefaultPrecision = 4
	// DefaultTimeScale converts seconds to minutes.
	DefaultTimeScale = 60
	// DefaultConcurrency is the default number of concurrent puts.
	DefaultConcurrency = 8
)

// A Sink persists named artifacts.
type Sink interface {
	// Put stores the contents of body under the provided name,
	// replacing any previous artifact of the same name.
	Put(ctx context.Context, name string, body io.Reader) error
}

// Series is the history of a single runtime model.
type Series struct {
	// Worker is the ID of the worker the model belongs to.
	Worker int
	// Type is the task type the model belongs to.
	Type string
	// Logarithmized tells whether the samples are in log space.
	Logarithmized bool
	// Measurements and Estimates are the model's observations and
	// recorded forecasts.
	Measurements, Estimates []predictor.Sample
}

// SeriesOf returns the history of the provided model.
func SeriesOf(worker int, typ string, m *predictor.WienerProcess) Series {
	return Series{
		Worker:        worker,
		Type:          typ,
		Logarithmized: m.Logarithmized(),
		Measurements:  m.Measurements(),
		Estimates:     m.Estimates(),
	}
}

// Name returns the artifact name of the series of the provided run,
// worker and task type.
func Name(run, worker int, typ string) string {
	return fmt.Sprintf("run%d_vm%d_%s.csv", run, worker, typ)
}

// Exporter renders series and writes them to a Sink.
type Exporter struct {
	// Sink receives the rendered artifacts.
	Sink Sink
	// Log reports failed artifacts.
	Log *log.Logger
	// Precision is the maximum number of fractional digits written.
	Precision int
	// TimeScale divides every time and value.
	TimeScale float64
	// Concurrency bounds the number of concurrent puts.
	Concurrency int
	// Metrics counts failed artifacts.
	Metrics metrics.Client
}

// NewExporter returns an exporter with default parameters writing to
// the provided sink.
func NewExporter(sink Sink) *Exporter {
	return &Exporter{
		Sink:        sink,
		Precision:   DefaultPrecision,
		TimeScale:   DefaultTimeScale,
		Concurrency: DefaultConcurrency,
	}
}

// Write renders the series to w.
func (e *Exporter) Write(w io.Writer, s Series) error {
	b := bufio.NewWriter(w)
	if _, err := io.WriteString(b, Header+"\n"); err != nil {
		return err
	}
	for _, m := range s.Measurements {
		fmt.Fprintf(b, "%s;;%s\n", e.format(m.Time), e.format(e.value(s, m)))
	}
	for _, est := range s.Estimates {
		fmt.Fprintf(b, "%s;%s;\n", e.format(est.Time), e.format(e.value(s, est)))
	}
	return b.Flush()
}

func (e *Exporter) value(s Series, sample predictor.Sample) float64 {
	if s.Logarithmized {
		return math.Exp(sample.Value)
	}
	return sample.Value
}

// format renders v divided by the time scale with at most Precision
// fractional digits and no trailing zeros.
func (e *Exporter) format(v float64) string {
	scale := e.TimeScale
	if scale == 0 {
		scale = 1
	}
	s := strconv.FormatFloat(v/scale, 'f', e.Precision, 64)
	if strings.IndexByte(s, '.') >= 0 {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

// Export writes one artifact per series of the provided run. Failed
// artifacts are logged and do not prevent the others from being
// written. Export returns the first failure, if any, or the context's
// error if it was canceled.
func (e *Exporter) Export(ctx context.Context, run int, series []Series) error {
	if e.Sink == nil {
		return errors.E("diag.export", errors.Invalid, errors.New("no sink"))
	}
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	errs := make([]error, len(series))
	_ = traverse.Limit(concurrency).Each(len(series), func(i int) error {
		s := series[i]
		name := Name(run, s.Worker, s.Type)
		if err := ctx.Err(); err != nil {
			errs[i] = errors.E("diag.export", name, err)
			return nil
		}
		var b bytes.Buffer
		if err := e.Write(&b, s); err != nil {
			errs[i] = errors.E("diag.export", name, err)
		} else if err := e.Sink.Put(ctx, name, &b); err != nil {
			errs[i] = errors.E("diag.export", name, err)
		}
		if errs[i] != nil {
			e.Log.Errorf("export %s: %v", name, errs[i])
			metrics.GetDiagnosticsFailedCountCounter(e.Metrics).Inc()
		}
		return nil
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
