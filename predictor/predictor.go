// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package predictor implements online runtime prediction for the
// ERA scheduler.
//
// A WienerProcess models the runtime of one task type on one worker
// as Brownian motion with drift in time: every observed runtime is a
// sample of the process, and the increments between successive
// samples, normalized by the square root of the elapsed time, are
// taken to be identically distributed. A forecast for time t is then
// a Normal distribution centered on the last observed value whose
// variance grows linearly with the time elapsed since that
// observation; the model answers with a low quantile (alpha) of that
// distribution, that is, a pessimistic-but-likely lower bound on how
// fast the task type could run on the worker.
//
// Models are fed incrementally and are cheap to query. They keep the
// full history of measurements (and, optionally, of forecasts) in
// memory so that it can be exported for diagnostics; they perform no
// I/O themselves.
package predictor

import (
	"fmt"
	"math"
	"strings"

	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultAlpha is the default forecast quantile.
const DefaultAlpha = 0.01

// Sample is a timestamped value: either an observed runtime or a
// forecast. When a model is logarithmized, the value is stored in
// log space.
type Sample struct {
	Time  float64
	Value float64
}

func (s Sample) String() string {
	return fmt.Sprintf("%g,%g", s.Time, s.Value)
}

// NegativePolicy determines how a model treats observed runtimes that
// are negative, which indicates clock skew or a bookkeeping error in
// the execution engine.
type NegativePolicy int

const (
	// Pass incorporates negative runtimes unmodified, logging a
	// warning.
	Pass NegativePolicy = iota
	// Clamp incorporates negative runtimes as zero, logging a
	// warning.
	Clamp
	// Reject drops negative runtimes and returns an error.
	Reject
)

func (p NegativePolicy) String() string {
	switch p {
	case Pass:
		return "pass"
	case Clamp:
		return "clamp"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseNegativePolicy parses a policy name as rendered by
// NegativePolicy.String. The empty string is Pass.
func ParseNegativePolicy(s string) (NegativePolicy, error) {
	switch strings.ToLower(s) {
	case "", "pass":
		return Pass, nil
	case "clamp":
		return Clamp, nil
	case "reject":
		return Reject, nil
	}
	return Pass, errors.E("parsenegativepolicy", s, errors.Invalid)
}

// Params configures a WienerProcess.
type Params struct {
	// Alpha is the quantile of the forecast distribution returned
	// by Estimate. It must be in (0, 1).
	Alpha float64
	// Logarithmize models the logarithm of runtimes rather than
	// runtimes, so that variation is multiplicative.
	Logarithmize bool
	// Record keeps every forecast made by Estimate for later export.
	Record bool
	// Negative is the policy for negative runtimes.
	Negative NegativePolicy
}

// DefaultParams are the parameters used when none are configured.
var DefaultParams = Params{Alpha: DefaultAlpha, Record: true}

// WienerProcess is the runtime model of a single task type on a
// single worker. WienerProcess is not safe for concurrent use.
type WienerProcess struct {
	params Params
	log    *log.Logger

	measurements []Sample
	// differences[i] is the normalized increment between
	// measurements[i] and measurements[i+1].
	differences []float64
	sum         float64
	estimates   []Sample
}

// New returns a new model with the provided parameters. Anomalies
// are reported to the provided logger, which may be nil.
func New(params Params, log *log.Logger) *WienerProcess {
	if params.Alpha <= 0 || params.Alpha >= 1 {
		panic(fmt.Sprintf("alpha %v is outside of range (0, 1)", params.Alpha))
	}
	return &WienerProcess{params: params, log: log}
}

// Observe incorporates a runtime observed at the provided time.
// Observations must be made in increasing time order: an observation
// that does not advance time past the previous one is rejected with
// a precondition error, since its increment is undefined.
func (w *WienerProcess) Observe(time, runtime float64) error {
	if runtime < 0 {
		switch w.params.Negative {
		case Pass:
			w.log.Warnf("negative runtime %v observed at %v", runtime, time)
		case Clamp:
			w.log.Warnf("negative runtime %v observed at %v; clamped to 0", runtime, time)
			runtime = 0
		default:
			return errors.E("observe", errors.Invalid, errors.Errorf("negative runtime %v at %v", runtime, time))
		}
	}
	value := runtime
	if w.params.Logarithmize {
		if runtime <= 0 {
			return errors.E("observe", errors.Invalid, errors.Errorf("runtime %v at %v has no logarithm", runtime, time))
		}
		value = math.Log(runtime)
	}
	if n := len(w.measurements); n > 0 {
		last := w.measurements[n-1]
		elapsed := time - last.Time
		if elapsed <= 0 {
			return errors.E("observe", errors.Precondition,
				errors.Errorf("observation at %v does not follow previous observation at %v", time, last.Time))
		}
		d := (value - last.Value) / math.Sqrt(elapsed)
		w.differences = append(w.differences, d)
		w.sum += d
	}
	w.measurements = append(w.measurements, Sample{Time: time, Value: value})
	return nil
}

// Estimate returns the forecast runtime for a task started at the
// provided time. Estimate returns 0 until the model has seen at least
// two increments (three observations).
func (w *WienerProcess) Estimate(time float64) float64 {
	if len(w.differences) < 2 {
		return 0
	}
	last := w.measurements[len(w.measurements)-1]
	variance := w.Variance() * (time - last.Time)
	estimate := last.Value
	if variance > 0 {
		nd := distuv.Normal{Mu: last.Value, Sigma: math.Sqrt(variance)}
		estimate = nd.Quantile(w.params.Alpha)
	}
	if w.params.Record {
		w.estimates = append(w.estimates, Sample{Time: time, Value: estimate})
	}
	if w.params.Logarithmize {
		return math.Exp(estimate)
	}
	return math.Max(estimate, 0)
}

// Mean returns the mean of the normalized increments, or 0 if there
// are none.
func (w *WienerProcess) Mean() float64 {
	if len(w.differences) == 0 {
		return 0
	}
	return w.sum / float64(len(w.differences))
}

// Variance returns the unbiased sample variance of the normalized
// increments, or 0 if there are fewer than two.
func (w *WienerProcess) Variance() float64 {
	if len(w.differences) < 2 {
		return 0
	}
	return stat.Variance(w.differences, nil)
}

// Len returns the number of observations incorporated into the
// model.
func (w *WienerProcess) Len() int {
	return len(w.measurements)
}

// Sum returns the running sum of the normalized increments.
func (w *WienerProcess) Sum() float64 {
	return w.sum
}

// Logarithmized tells whether the model's samples are stored in log
// space.
func (w *WienerProcess) Logarithmized() bool {
	return w.params.Logarithmize
}

// Measurements returns a copy of the observed samples, in
// observation order.
func (w *WienerProcess) Measurements() []Sample {
	return append([]Sample(nil), w.measurements...)
}

// Differences returns a copy of the normalized increments.
func (w *WienerProcess) Differences() []float64 {
	return append([]float64(nil), w.differences...)
}

// Estimates returns a copy of the recorded forecasts, in the order
// they were made. Forecasts are stored before the log transform is
// undone and before clamping.
func (w *WienerProcess) Estimates() []Sample {
	return append([]Sample(nil), w.estimates...)
}
