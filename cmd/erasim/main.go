// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command erasim runs simulated workflow executions under the ERA
// scheduler and reports their outcome.
//
// Usage:
//
//	erasim [-config file] [-workload file] [-runs n] [-seed n] [-metrics addr] [-logmetrics interval] [config overrides]
//
// Runs are executed concurrently; run i uses seed+i. Diagnostic
// artifacts of every run are written to the configured diagnostics
// sink, for example:
//
//	erasim -runs 10 -rho 0.2 -diagnostics s3,mybucket/experiments
package main

import (
	"context"
	_ "expvar"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/grailbio/era/config"
	_ "github.com/grailbio/era/config/all"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
	"github.com/grailbio/era/metrics"
	"github.com/grailbio/era/metrics/monitoring"
	"github.com/grailbio/era/metrics/prometrics"
	"github.com/grailbio/era/sched"
	"github.com/grailbio/era/sim"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		flags        = flag.NewFlagSet("erasim", flag.ExitOnError)
		configFile   = flags.String("config", "", "YAML configuration file")
		workloadFile = flags.String("workload", "", "YAML workload file (default: built-in workload)")
		runs         = flags.Int("runs", 1, "number of runs")
		seed         = flags.Int64("seed", 1, "random seed of the first run")
		metricsAddr  = flags.String("metrics", "", "address on which to serve /metrics and /debug/vars")
		logMetrics   = flags.Duration("logmetrics", 0, "if nonzero, log metrics at this interval and at the end of the runs")
		printConfig  = flags.Bool("printconfig", false, "print the configuration and exit")
		flagConfig   config.Flag
	)
	flagConfig.Init(flags)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: erasim [flags]\n\nflags:\n")
		flags.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nconfiguration providers:\n")
		for key, usages := range config.Help() {
			for _, u := range usages {
				fmt.Fprintf(os.Stderr, "  %s: %s,%s\t%s\n", key, u.Kind, u.Arg, u.Usage)
			}
		}
	}
	_ = flags.Parse(os.Args[1:])
	if flags.NArg() != 0 || *runs <= 0 {
		flags.Usage()
		os.Exit(2)
	}

	var cfg config.Config = make(config.Base)
	if *configFile != "" {
		base, err := config.ParseFile(*configFile)
		if err != nil {
			log.Fatal(err)
		}
		cfg = base
	}
	cfg, err := config.WithDefaults(cfg, config.Keys{config.AWS: "awsenv"})
	if err != nil {
		log.Fatal(err)
	}
	flagConfig.Config = cfg
	cfg, err = config.Make(&flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	cfg = config.Once(cfg)
	if *printConfig {
		p, err := config.Marshal(cfg)
		if err != nil {
			log.Fatal(err)
		}
		os.Stdout.Write(p)
		return
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}

	workload := sim.DefaultWorkload
	if *workloadFile != "" {
		if workload, err = sim.ReadWorkload(*workloadFile); err != nil {
			log.Fatal(err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var (
		client metrics.Client
		reg    = prometheus.NewRegistry()
	)
	if *metricsAddr != "" || *logMetrics > 0 {
		c, err := prometrics.NewClient(reg, prometrics.DefaultNamespace)
		if err != nil {
			log.Fatal(err)
		}
		client = c
		if *metricsAddr != "" {
			http.Handle("/metrics", c.Handler())
			go func() {
				logger.Printf("serving metrics on %s", *metricsAddr)
				logger.Error(http.ListenAndServe(*metricsAddr, nil))
			}()
		}
	}
	if *logMetrics > 0 {
		mctx, mcancel := context.WithCancel(ctx)
		defer mcancel()
		go monitoring.NewMetricsLogger(reg, *logMetrics, nil, logger.Tee(nil, "metrics: ")).Go(mctx)
	}

	// Config methods must not be called concurrently: build every
	// scheduler up front.
	schedulers := make([]*sched.Scheduler, *runs)
	for i := range schedulers {
		s, err := config.Scheduler(cfg)
		if err != nil {
			log.Fatal(err)
		}
		s.RunID = i
		s.Log = logger.Tee(nil, fmt.Sprintf("run %d: ", i))
		s.Metrics = client
		if s.Exporter != nil {
			s.Exporter.Metrics = client
		}
		s.ExportStats()
		schedulers[i] = s
	}

	results := make([]sim.Result, *runs)
	g, gctx := errgroup.WithContext(ctx)
	for i := range schedulers {
		i := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(*seed + int64(i)))
			var err error
			results[i], err = sim.Run(gctx, schedulers[i], workload, r)
			if err != nil {
				return errors.E("erasim.run", fmt.Sprint(i), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error(err)
		os.Exit(exitCode(err))
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "run\tseed\tmakespan\ttasks\tdispatched\treplicated\tsucceeded\tredundant\tfailed\tabandoned\t")
	var total float64
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			i, *seed+int64(i), r.Makespan, r.Tasks, r.Dispatched, r.Replicated, r.Succeeded, r.Redundant, r.Failed, r.Abandoned)
		total += r.Makespan
	}
	tw.Flush()
	fmt.Printf("mean makespan %.1f\n", total/float64(len(results)))

	if *logMetrics > 0 {
		if err := monitoring.Dump(reg, nil, logger.Tee(nil, "metrics: ")); err != nil {
			logger.Error(err)
		}
	}

	if *metricsAddr != "" {
		logger.Printf("runs complete; interrupt to exit")
		<-ctx.Done()
	}
}

// exitCode returns the exit status for a failed run: 130 for an
// interrupted run, 2 for an invalid workload or configuration, and 1
// otherwise.
func exitCode(err error) int {
	switch errors.Recover(err).Kind {
	case errors.Canceled:
		return 130
	case errors.Invalid:
		return 2
	default:
		return 1
	}
}
