// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"testing"

	"github.com/grailbio/era/errors"
)

func TestExitCode(t *testing.T) {
	for _, c := range []struct {
		err  error
		want int
	}{
		{errors.E("erasim.run", "0", errors.E("sim.run", context.Canceled)), 130},
		{errors.E("erasim.run", "1", errors.E("sim.workload", errors.Invalid, errors.New("no stages"))), 2},
		{errors.E("erasim.run", "2", errors.E("sim.run", errors.Precondition, errors.New("stalled"))), 1},
		{errors.New("plain"), 1},
	} {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("%v: got %v, want %v", c.err, got, c.want)
		}
	}
}
