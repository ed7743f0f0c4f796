// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package s3config defines a configuration provider named "s3"
// which can be used to store diagnostic artifacts in S3.
package s3config

import (
	"context"
	"strings"

	"github.com/grailbio/era/config"
	"github.com/grailbio/era/diag"
	"github.com/grailbio/era/diag/s3diag"
	"github.com/grailbio/era/errors"
)

func init() {
	config.Register(config.Diagnostics, "s3", "bucket[/prefix]", "write diagnostic artifacts to an S3 bucket",
		func(cfg config.Config, arg string) (config.Config, error) {
			arg = strings.TrimPrefix(arg, "s3://")
			if arg == "" || strings.HasPrefix(arg, "/") {
				return nil, errors.E("s3config", errors.Invalid, errors.New("bucket name not provided"))
			}
			return &sink{Config: cfg, URL: "s3://" + arg}, nil
		},
	)
}

type sink struct {
	config.Config
	URL string
}

// Sink returns a new S3 sink as configured by this S3 diagnostics
// configuration.
func (s *sink) Sink() (diag.Sink, error) {
	sess, err := s.AWS()
	if err != nil {
		return nil, err
	}
	region, err := s.AWSRegion()
	if err != nil {
		return nil, err
	}
	sk, err := s3diag.New(context.Background(), sess, s.URL, region)
	if err != nil {
		return nil, err
	}
	sk.Log, _ = s.Logger()
	return sk, nil
}
