// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package config defines an interface for configuring ERA scheduling
// runs. This interface can be composed in multiple ways, allowing for
// layered configuration (for example, command line flags over a YAML
// file over defaults).
//
// A configuration is a set of keys (corresponding to toplevel keys
// in a YAML document). Most keys are plain scheduler parameters:
//
//	alpha: 0.01
//	rho: 0.1
//	logarithmize: false
//	printestimates: true
//	negativeruntime: clamp
//	precision: 4
//	timescale: 60
//	exportconcurrency: 8
//	loglevel: info
//	awsregion: us-west-2
//
// A subset of keys, defined by the package's AllKeys, correspond to
// objects that are configured by the Config interface. These keys are
// provisioned by globally registered providers; the keys must be
// string formatted, and contain the (registered) name of the
// provider, followed by an optional comma and string argument. For
// example:
//
//	diagnostics: s3,bucket/experiments
//
// configures the diagnostics key (corresponding to Config.Sink) using
// the s3 provider; the argument "bucket/experiments" is used to
// configure it. Providers may themselves rely on other provisioned
// keys; the s3 provider, for example, uses Config.AWS.
package config

import (
	"fmt"
	"io/ioutil"
	golog "log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/era/diag"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
	"github.com/grailbio/era/predictor"
	"github.com/grailbio/era/sched"
	yaml "gopkg.in/yaml.v2"
)

// The following are the set of keys provisioned by Config.
const (
	AWS         = "aws"
	Diagnostics = "diagnostics"
)

// AllKeys defines the order in which configuration keys are
// provisioned. Thus, providers for keys later in the list may use
// configuration provided by providers for keys earlier in the list.
var AllKeys = []string{
	AWS,
	Diagnostics,
}

// The following are the plain parameter keys.
const (
	Alpha             = "alpha"
	Rho               = "rho"
	Logarithmize      = "logarithmize"
	PrintEstimates    = "printestimates"
	NegativeRuntime   = "negativeruntime"
	Precision         = "precision"
	TimeScale         = "timescale"
	ExportConcurrency = "exportconcurrency"
	LogLevel          = "loglevel"
	AWSRegion         = "awsregion"
)

// ParamKeys lists the plain parameter keys.
var ParamKeys = []string{
	Alpha,
	Rho,
	Logarithmize,
	PrintEstimates,
	NegativeRuntime,
	Precision,
	TimeScale,
	ExportConcurrency,
	LogLevel,
	AWSRegion,
}

// Keys is a map of string keys to configuration values.
type Keys map[string]interface{}

// A Config provides a number of methods to mint new objects that are
// used in scheduling runs. It is safe to call each method multiple
// times, but they should not be called concurrently.
type Config interface {
	// AWS returns this configuration's AWS session.
	AWS() (*session.Session, error)

	// AWSRegion returns the region to be used for all AWS operations.
	AWSRegion() (string, error)

	// Logger returns the configured logger.
	Logger() (*log.Logger, error)

	// Sink returns the sink for diagnostic artifacts. A nil sink
	// turns diagnostics off.
	Sink() (diag.Sink, error)

	// Value returns the value of the given key.
	Value(key string) interface{}

	// Marshal marshals the current configuration into keys.
	Marshal(keys Keys) error

	// Keys returns all the keys as defined by this config.
	Keys() Keys
}

// Base defines a base configuration with reasonable defaults
// where they apply.
type Base Keys

// AWS returns an error indicating no AWS session was configured.
func (b Base) AWS() (*session.Session, error) {
	return nil, errors.E("config.aws", errors.NotExist, errors.New("AWS session not configured"))
}

// AWSRegion the region in the key "awsregion", or else
// the default region us-west-2.
func (b Base) AWSRegion() (string, error) {
	v, ok := b[AWSRegion]
	if ok {
		s, ok := v.(string)
		if !ok {
			return "", errors.E("config.awsregion", errors.Invalid, errors.Errorf("invalid AWS region value: %v", v))
		}
		return s, nil
	}
	return "us-west-2", nil
}

// Logger returns a logger that outputs to standard error at the
// level in the key "loglevel", or else at info level.
func (b Base) Logger() (*log.Logger, error) {
	level := log.InfoLevel
	if v, ok := b[LogLevel]; ok {
		var err error
		if level, err = log.ParseLevel(fmt.Sprint(v)); err != nil {
			return nil, errors.E("config.logger", errors.Invalid, err)
		}
	}
	return log.New(golog.New(os.Stderr, "", golog.LstdFlags), level), nil
}

// Sink returns a sink that writes to the current directory.
func (b Base) Sink() (diag.Sink, error) {
	return diag.FileSink{Dir: "."}, nil
}

// Keys returns the configured keys.
func (b Base) Keys() Keys {
	return Keys(b)
}

// Value returns the value for the provided key.
func (b Base) Value(key string) interface{} {
	return b[key]
}

// Marshal populates the provided key dictionary with the keys
// present in this configuration.
func (b Base) Marshal(keys Keys) error {
	for k, v := range b {
		keys[k] = v
	}
	return nil
}

// Params are the scheduling parameters of a configuration.
type Params struct {
	Alpha, Rho        float64
	Logarithmize      bool
	PrintEstimates    bool
	NegativeRuntime   predictor.NegativePolicy
	Precision         int
	TimeScale         float64
	ExportConcurrency int
}

// DefaultParams are the parameters of an empty configuration.
var DefaultParams = Params{
	Alpha:             predictor.DefaultAlpha,
	Rho:               sched.DefaultRho,
	PrintEstimates:    true,
	Precision:         diag.DefaultPrecision,
	TimeScale:         diag.DefaultTimeScale,
	ExportConcurrency: diag.DefaultConcurrency,
}

// GetParams reads and validates the scheduling parameters of the
// provided configuration. Values may be given either as YAML scalars
// or as strings (as supplied by flags).
func GetParams(cfg Config) (Params, error) {
	p := DefaultParams
	var err error
	if p.Alpha, err = floatValue(cfg, Alpha, p.Alpha); err != nil {
		return p, err
	}
	if p.Rho, err = floatValue(cfg, Rho, p.Rho); err != nil {
		return p, err
	}
	if p.Logarithmize, err = boolValue(cfg, Logarithmize, p.Logarithmize); err != nil {
		return p, err
	}
	if p.PrintEstimates, err = boolValue(cfg, PrintEstimates, p.PrintEstimates); err != nil {
		return p, err
	}
	if v := cfg.Value(NegativeRuntime); v != nil {
		if p.NegativeRuntime, err = predictor.ParseNegativePolicy(fmt.Sprint(v)); err != nil {
			return p, errors.E("config", NegativeRuntime, err)
		}
	}
	if p.Precision, err = intValue(cfg, Precision, p.Precision); err != nil {
		return p, err
	}
	if p.TimeScale, err = floatValue(cfg, TimeScale, p.TimeScale); err != nil {
		return p, err
	}
	if p.ExportConcurrency, err = intValue(cfg, ExportConcurrency, p.ExportConcurrency); err != nil {
		return p, err
	}
	return p, p.validate()
}

func (p Params) validate() error {
	switch {
	case p.Alpha <= 0 || p.Alpha >= 1:
		return errors.E("config", Alpha, errors.Invalid, errors.Errorf("%v is not in (0, 1)", p.Alpha))
	case p.Rho < 0 || p.Rho > 1:
		return errors.E("config", Rho, errors.Invalid, errors.Errorf("%v is not in [0, 1]", p.Rho))
	case p.Precision < 0:
		return errors.E("config", Precision, errors.Invalid, errors.Errorf("%v is negative", p.Precision))
	case p.TimeScale <= 0:
		return errors.E("config", TimeScale, errors.Invalid, errors.Errorf("%v is not positive", p.TimeScale))
	case p.ExportConcurrency <= 0:
		return errors.E("config", ExportConcurrency, errors.Invalid, errors.Errorf("%v is not positive", p.ExportConcurrency))
	}
	return nil
}

func floatValue(cfg Config, key string, def float64) (float64, error) {
	switch v := cfg.Value(key).(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def, errors.E("config", key, errors.Invalid, err)
		}
		return f, nil
	default:
		return def, errors.E("config", key, errors.Invalid, errors.Errorf("expected number, got %T", v))
	}
}

func intValue(cfg Config, key string, def int) (int, error) {
	switch v := cfg.Value(key).(type) {
	case nil:
		return def, nil
	case int:
		return v, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return def, errors.E("config", key, errors.Invalid, err)
		}
		return i, nil
	default:
		return def, errors.E("config", key, errors.Invalid, errors.Errorf("expected integer, got %T", v))
	}
}

func boolValue(cfg Config, key string, def bool) (bool, error) {
	switch v := cfg.Value(key).(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def, errors.E("config", key, errors.Invalid, err)
		}
		return b, nil
	default:
		return def, errors.E("config", key, errors.Invalid, errors.Errorf("expected boolean, got %T", v))
	}
}

// Exporter returns the diagnostic exporter of the provided
// configuration, or nil if diagnostics are off.
func Exporter(cfg Config) (*diag.Exporter, error) {
	params, err := GetParams(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := cfg.Sink()
	if err != nil || sink == nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return &diag.Exporter{
		Sink:        sink,
		Log:         logger,
		Precision:   params.Precision,
		TimeScale:   params.TimeScale,
		Concurrency: params.ExportConcurrency,
	}, nil
}

// Scheduler returns a new scheduler configured by cfg. The caller
// must supply its Clock, Rand and RunID.
func Scheduler(cfg Config) (*sched.Scheduler, error) {
	params, err := GetParams(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	s := sched.New()
	s.Log = logger
	s.Alpha = params.Alpha
	s.Rho = params.Rho
	s.Logarithmize = params.Logarithmize
	s.PrintEstimates = params.PrintEstimates
	s.NegativeRuntime = params.NegativeRuntime
	if params.PrintEstimates {
		if s.Exporter, err = Exporter(cfg); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Unmarshal unmarshals the (YAML-configured) configuration in b into
// keys.
func Unmarshal(b []byte, keys Keys) error {
	return yaml.Unmarshal(b, keys)
}

// Marshal marshals the given keys into YAML-formatted bytes.
func Marshal(cfg Config) ([]byte, error) {
	keys := make(Keys)
	if err := cfg.Marshal(keys); err != nil {
		return nil, err
	}
	return yaml.Marshal(keys)
}

// Make evaluates a config's keys: for each key in AllKeys (and in
// the order defined by AllKeys), Make parses its provider, and
// provisions the key accordingly. Make returns errors if a provider
// cannot be found or if the provider fails to configure the given
// key.
func Make(cfg Config) (Config, error) {
	for _, key := range AllKeys {
		v := cfg.Value(key)
		if v == nil {
			continue
		}
		vstr, ok := v.(string)
		if !ok {
			return nil, errors.E("config.make", key, errors.Invalid, errors.Errorf("expected string, got %T", v))
		}
		name, arg := peel(vstr, ",")
		provider, ok := Lookup(key, name)
		if !ok {
			return nil, errors.E("config.make", key, errors.NotExist, errors.Errorf("provider %s not defined", name))
		}
		var err error
		cfg, err = provider.Configure(cfg, arg)
		if err != nil {
			return nil, errors.E("config.make", key, name, err)
		}
	}
	return cfg, nil
}

// Parse parses and provisions a configuration from the
// YAML-formatted bytes b.
func Parse(b []byte) (Config, error) {
	base := make(Base)
	if err := Unmarshal(b, Keys(base)); err != nil {
		return nil, errors.E("config.parse", errors.Invalid, err)
	}
	return Make(base)
}

// ParseFile reads the configuration from the provided filename into
// a Base configuration. The result is not provisioned: callers may
// layer it (for example with Flag) before calling Make.
func ParseFile(filename string) (Base, error) {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.E("config.parsefile", filename, err)
	}
	base := make(Base)
	if err := Unmarshal(b, Keys(base)); err != nil {
		return nil, errors.E("config.parsefile", filename, errors.Invalid, err)
	}
	return base, nil
}

// A Provider provisions a single key in a configuration. Providers
// must be registered via the package's Register function.
type Provider struct {
	Configure        func(cfg Config, arg string) (Config, error)
	Kind, Arg, Usage string
}

var (
	providers = make(map[string]map[string]Provider)
	mu        sync.Mutex
)

// Register the configuration provider kind for the given key. The
// arg and usage string should describe the provider's argument.
func Register(key, kind, arg, usage string, configure func(Config, string) (Config, error)) {
	mu.Lock()
	defer mu.Unlock()
	kindmap := providers[key]
	if kindmap == nil {
		kindmap = make(map[string]Provider)
		providers[key] = kindmap
	}
	if _, ok := kindmap[kind]; ok {
		panic(fmt.Sprintf("provider %s already registered for key %s", kind, key))
	}
	kindmap[kind] = Provider{
		Configure: configure,
		Kind:      kind,
		Arg:       arg,
		Usage:     usage,
	}
}

// Lookup returns the Provider of kind for key.
func Lookup(key, kind string) (Provider, bool) {
	mu.Lock()
	defer mu.Unlock()
	p, ok := providers[key][kind]
	return p, ok
}

// Usage contains usage information for a provider.
type Usage struct {
	Kind, Arg, Usage string
}

// Help returns Usages, organized by key.
func Help() map[string][]Usage {
	mu.Lock()
	defer mu.Unlock()
	help := make(map[string][]Usage)
	for key, keyProviders := range providers {
		var usages []Usage
		for name, provider := range keyProviders {
			usages = append(usages, Usage{
				Kind:  name,
				Arg:   provider.Arg,
				Usage: provider.Usage,
			})
		}
		help[key] = usages
	}
	return help
}

func peel(s, sep string) (head, tail string) {
	switch parts := strings.SplitN(s, sep, 2); len(parts) {
	case 1:
		return parts[0], ""
	case 2:
		return parts[0], parts[1]
	default:
		panic("bug")
	}
}
