// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package config

import (
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/era/diag"
)

// OnceConfig memoizes the first call of the following methods to the
// underlying config: AWS and Sink.
type OnceConfig struct {
	Config

	awsOnce once.Task
	aws     *session.Session

	sinkOnce once.Task
	sink     diag.Sink
}

// Once constructs a new OnceConfig using the provided
// underlying configuration.
func Once(cfg Config) *OnceConfig {
	return &OnceConfig{Config: cfg}
}

// AWS returns the result of the first call to the underlying
// configuration's AWS.
func (o *OnceConfig) AWS() (*session.Session, error) {
	err := o.awsOnce.Do(func() (err error) {
		o.aws, err = o.Config.AWS()
		return
	})
	return o.aws, err
}

// Sink returns the result of the first call to the underlying
// configuration's Sink.
func (o *OnceConfig) Sink() (diag.Sink, error) {
	err := o.sinkOnce.Do(func() (err error) {
		o.sink, err = o.Config.Sink()
		return
	})
	return o.sink, err
}
