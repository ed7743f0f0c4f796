// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import "github.com/grailbio/era/diag"

func init() {
	Register(Diagnostics, "off", "", "turn diagnostic artifacts off",
		func(cfg Config, arg string) (Config, error) {
			return &sinkOff{cfg}, nil
		},
	)
}

type sinkOff struct {
	Config
}

func (c *sinkOff) Sink() (diag.Sink, error) {
	// A nil sink is just an off sink.
	return nil, nil
}
