// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package awsenvconfig configures AWS configuration to be derived from
// the user's environment in accordance with the AWS SDK.
package awsenvconfig

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/era/config"
	"github.com/grailbio/era/errors"
)

func init() {
	config.Register(config.AWS, "awsenv", "", "configure AWS credentials from the user's environment",
		func(cfg config.Config, arg string) (config.Config, error) {
			return &credentialsSession{Config: cfg}, nil
		},
	)
}

// A credentialsSession derives the AWS session from the user's
// environment, using the SDK's defaults, in the configured region.
type credentialsSession struct {
	config.Config
	sessionOnce sync.Once
	session     *session.Session
	err         error
}

func (c *credentialsSession) AWS() (*session.Session, error) {
	c.sessionOnce.Do(func() {
		// Credentials are looked up in the environment variables, then
		// in shared credential locations (e.g. ~/.aws/credentials).
		credProvider := &credentials.ChainProvider{
			VerboseErrors: true,
			Providers: []credentials.Provider{
				&credentials.EnvProvider{},
				&credentials.SharedCredentialsProvider{},
			},
		}
		// We do a retrieval here to catch NoCredentialProviders errors
		// early on.
		if _, err := credProvider.Retrieve(); err != nil {
			c.err = errors.E("awsenv", errors.NotAllowed, errors.Errorf("cannot retrieve AWS credentials: %v", err))
			return
		}
		region, err := c.AWSRegion()
		if err != nil {
			c.err = err
			return
		}
		c.session, c.err = session.NewSession(&aws.Config{
			Credentials: credentials.NewCredentials(credProvider),
			Region:      aws.String(region),
		})
	})
	return c.session, c.err
}
