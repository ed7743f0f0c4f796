// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors

import (
	"context"
	goerrors "errors"
	"os"
	"testing"
)

func TestE(t *testing.T) {
	e := E("put", context.DeadlineExceeded)
	if got, want := e, E("put", Timeout); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Collapse errors
	e = E("export", Timeout, E("put", Timeout))
	if got, want := e, E("export", Timeout, E("put")); !Match(want, got) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKindInference(t *testing.T) {
	for _, c := range []struct {
		err  error
		kind Kind
	}{
		{context.Canceled, Canceled},
		{context.DeadlineExceeded, Timeout},
		{os.ErrNotExist, NotExist},
		{E("observe", Precondition), Precondition},
		{New("plain"), Other},
	} {
		if got, want := Recover(E("op", c.err)).Kind, c.kind; got != want {
			t.Errorf("%v: got %v, want %v", c.err, got, want)
		}
	}
}

func TestIs(t *testing.T) {
	err := E("observe", "align", E("elapsed", Precondition, New("zero elapsed time")))
	if !Is(Precondition, err) {
		t.Errorf("expected %v to be a precondition error", err)
	}
	if Is(Invalid, err) {
		t.Errorf("did not expect %v to be invalid", err)
	}
	if Is(Invalid, nil) {
		t.Error("nil is not an error of any kind")
	}
}

func TestErrorString(t *testing.T) {
	err := E("s3diag.put", "bucket", "key", Unavailable, New("slow down"))
	if got, want := err.Error(), "s3diag.put bucket key: unavailable: slow down"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !Transient(err) {
		t.Errorf("expected %v to be transient", err)
	}
}

func TestUnwrap(t *testing.T) {
	err := E("diag.put", os.ErrPermission)
	if !goerrors.Is(err, os.ErrPermission) {
		t.Errorf("expected %v to unwrap to %v", err, os.ErrPermission)
	}
}
