// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"sort"

	"github.com/grailbio/era/errors"
)

// Defaults layers default values beneath a configuration: a key
// that the underlying configuration leaves unset takes its value
// from Defaults. Erasim uses it to pick the AWS credential provider
// when neither the config file nor the flags name one.
type Defaults struct {
	Config
	values Keys
}

// WithDefaults returns cfg with the provided default values. Every
// default must name a provider key (see AllKeys) or a parameter key
// (see ParamKeys).
func WithDefaults(cfg Config, values Keys) (*Defaults, error) {
	known := make(map[string]bool)
	for _, key := range AllKeys {
		known[key] = true
	}
	for _, key := range ParamKeys {
		known[key] = true
	}
	var unknown []string
	for key := range values {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.E("config.defaults", unknown[0], errors.Invalid, errors.Errorf("unknown keys %v", unknown))
	}
	return &Defaults{Config: cfg, values: values}, nil
}

// Marshal adds the defaults for keys not added by the underlying
// configuration's Marshal.
func (d *Defaults) Marshal(keys Keys) error {
	if err := d.Config.Marshal(keys); err != nil {
		return err
	}
	for key, val := range d.values {
		if _, ok := keys[key]; !ok {
			keys[key] = val
		}
	}
	return nil
}

// Keys returns the underlying configuration's keys together with
// the defaults it does not override.
func (d *Defaults) Keys() Keys {
	keys := make(Keys)
	for key, val := range d.values {
		keys[key] = val
	}
	for key, val := range d.Config.Keys() {
		keys[key] = val
	}
	return keys
}

// Value returns the underlying configuration's value for key, or
// else its default.
func (d *Defaults) Value(key string) interface{} {
	if val := d.Config.Value(key); val != nil {
		return val
	}
	return d.values[key]
}
