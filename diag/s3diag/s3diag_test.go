// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package s3diag

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/grailbio/era/diag"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/predictor"
	"github.com/grailbio/testutil/s3test"
)

const bucket = "test-bucket"

func TestParseURL(t *testing.T) {
	for _, c := range []struct {
		url, bucket, prefix string
		ok                  bool
	}{
		{"s3://b", "b", "", true},
		{"s3://b/", "b", "", true},
		{"s3://b/runs/exp1/", "b", "runs/exp1", true},
		{"s3:///x", "", "", false},
		{"/tmp/x", "", "", false},
	} {
		b, p, err := ParseURL(c.url)
		if got, want := err == nil, c.ok; got != want {
			t.Errorf("%s: got %v, want ok %v", c.url, err, want)
			continue
		}
		if !c.ok {
			if !errors.Is(errors.Invalid, err) {
				t.Errorf("%s: got %v, want invalid", c.url, err)
			}
			continue
		}
		if b != c.bucket || p != c.prefix {
			t.Errorf("%s: got %q %q, want %q %q", c.url, b, p, c.bucket, c.prefix)
		}
	}
}

func TestExport(t *testing.T) {
	client := s3test.NewClient(t, bucket)
	sink := NewWithClient(client, bucket, "exp")
	e := diag.NewExporter(sink)
	series := []diag.Series{
		{Worker: 1, Type: "align", Measurements: []predictor.Sample{{Time: 60, Value: 120}}},
		{Worker: 2, Type: "align", Estimates: []predictor.Sample{{Time: 120, Value: 30}}},
	}
	if err := e.Export(context.Background(), 5, series); err != nil {
		t.Fatal(err)
	}
	for key, want := range map[string]string{
		"exp/run5_vm1_align.csv": "time;estimate;measurement\n1;;2\n",
		"exp/run5_vm2_align.csv": "time;estimate;measurement\n2;0.5;\n",
	} {
		if got := string(client.GetFileContentBytes(key)); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestKey(t *testing.T) {
	if got, want := (&Sink{}).Key("a.csv"), "a.csv"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := (&Sink{Prefix: "x/y"}).Key("a.csv"), "x/y/a.csv"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestKind(t *testing.T) {
	for code, want := range map[string]errors.Kind{
		"NoSuchBucket": errors.NotExist,
		"AccessDenied": errors.NotAllowed,
		"SlowDown":     errors.Temporary,
		"ExpiredToken": errors.Unavailable,
		"Bogus":        errors.Other,
	} {
		if got := kind(awserr.New(code, "message", nil)); got != want {
			t.Errorf("%s: got %v, want %v", code, got, want)
		}
	}
	if got, want := kind(errors.New("plain")), errors.Other; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	err := errors.E("s3diag.put", bucket, "key", kind(awserr.New("SlowDown", "slow down", nil)), errors.New("slow down"))
	if !strings.Contains(err.Error(), "s3diag.put") || !errors.Transient(err) {
		t.Errorf("unexpected error %v", err)
	}
}
