// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import "github.com/grailbio/era/diag"

func init() {
	Register(Diagnostics, "local", "dir", "write diagnostic artifacts to a local directory (default .)",
		func(cfg Config, arg string) (Config, error) {
			if arg == "" {
				arg = "."
			}
			return &localSink{cfg, arg}, nil
		},
	)
}

type localSink struct {
	Config
	dir string
}

func (c *localSink) Sink() (diag.Sink, error) {
	return diag.FileSink{Dir: c.dir}, nil
}
