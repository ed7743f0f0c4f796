// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"flag"
	"fmt"
	golog "log"
	"os"

	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
)

// Flag exposes a FlagSet that overrides a set of config keys.
type Flag struct {
	Config

	vals map[string]*string
}

// Initialize this Flag config with the provided flag set.
// A flag is registered for each key in AllKeys and ParamKeys.
func (f *Flag) Init(flags *flag.FlagSet) {
	f.vals = make(map[string]*string)
	for _, key := range append(append([]string{}, AllKeys...), ParamKeys...) {
		f.vals[key] = flags.String(key, "", fmt.Sprintf("override %s from config", key))
	}
}

// Value returns the flag override value for key key, or else the
// value from the layered configuration.
func (f *Flag) Value(key string) interface{} {
	if s := f.flag(key); s != "" {
		return s
	}
	return f.Config.Value(key)
}

// Marshal marshals the layered configuration with the flag
// overrides applied.
func (f *Flag) Marshal(keys Keys) error {
	if err := f.Config.Marshal(keys); err != nil {
		return err
	}
	for key := range f.vals {
		if s := f.flag(key); s != "" {
			keys[key] = s
		}
	}
	return nil
}

// Logger returns a logger at the level given by the loglevel flag,
// or else the layered configuration's logger.
func (f *Flag) Logger() (*log.Logger, error) {
	s := f.flag(LogLevel)
	if s == "" {
		return f.Config.Logger()
	}
	level, err := log.ParseLevel(s)
	if err != nil {
		return nil, errors.E("config.logger", errors.Invalid, err)
	}
	return log.New(golog.New(os.Stderr, "", golog.LstdFlags), level), nil
}

// AWSRegion returns the region given by the awsregion flag, or else
// the layered configuration's region.
func (f *Flag) AWSRegion() (string, error) {
	if s := f.flag(AWSRegion); s != "" {
		return s, nil
	}
	return f.Config.AWSRegion()
}

func (f *Flag) flag(key string) string {
	if s := f.vals[key]; s != nil {
		return *s
	}
	return ""
}
