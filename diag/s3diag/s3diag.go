// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package s3diag implements a diag.Sink that stores artifacts in an
// S3 bucket under a key prefix.
package s3diag

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/era/errors"
	"github.com/grailbio/era/log"
)

const (
	// DefaultRegion is used when the bucket region cannot be determined.
	DefaultRegion     = "us-west-2"
	defaultMaxRetries = 5
)

// Sink stores artifacts in S3. It implements diag.Sink.
type Sink struct {
	// Bucket is the destination bucket.
	Bucket string
	// Prefix is prepended (as a path component) to artifact names.
	Prefix string
	// Log reports retried uploads.
	Log *log.Logger

	client s3iface.S3API
	policy retry.Policy
}

// ParseURL splits a URL of the form s3://bucket/prefix.
func ParseURL(url string) (bucket, prefix string, err error) {
	scheme, suffix, err := file.ParsePath(url)
	if err != nil {
		return "", "", errors.E("s3diag.parseurl", url, errors.Invalid, err)
	}
	if scheme != "s3" {
		return "", "", errors.E("s3diag.parseurl", url, errors.Invalid, errors.New("not an s3 URL"))
	}
	parts := strings.SplitN(suffix, "/", 2)
	if parts[0] == "" {
		return "", "", errors.E("s3diag.parseurl", url, errors.Invalid, errors.New("missing bucket"))
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

// New returns a sink for the provided s3://bucket/prefix URL. The
// bucket's region is looked up using the session, falling back to
// the provided default region.
func New(ctx context.Context, sess *session.Session, url, region string) (*Sink, error) {
	bucket, prefix, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if region == "" {
		region = DefaultRegion
	}
	if r, err := s3manager.GetBucketRegion(ctx, sess, bucket, region); err != nil {
		if err == ctx.Err() {
			return nil, err
		}
		if kind(err) == errors.NotExist {
			return nil, errors.E("s3diag.bucket", bucket, errors.NotExist, err)
		}
		log.Printf("s3diag: unable to determine region for bucket %s: %v", bucket, err)
	} else {
		region = r
	}
	client := s3.New(sess, &aws.Config{
		MaxRetries: aws.Int(10),
		Region:     aws.String(region),
	})
	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient returns a sink that uses the provided client for SDK
// calls. NewWithClient is primarily intended for testing.
func NewWithClient(client s3iface.S3API, bucket, prefix string) *Sink {
	return &Sink{
		Bucket: bucket,
		Prefix: prefix,
		client: client,
		policy: retry.MaxRetries(retry.Jitter(retry.Backoff(500*time.Millisecond, 30*time.Second, 1.5), 0.5), defaultMaxRetries),
	}
}

// Key returns the object key of the named artifact.
func (s *Sink) Key(name string) string {
	if s.Prefix == "" {
		return name
	}
	return path.Join(s.Prefix, name)
}

// Put implements diag.Sink. Transient failures are retried.
func (s *Sink) Put(ctx context.Context, name string, body io.Reader) error {
	p, err := ioutil.ReadAll(body)
	if err != nil {
		return errors.E("s3diag.put", s.Bucket, name, err)
	}
	key := s.Key(name)
	up := s3manager.NewUploaderWithClient(s.client)
	for retries := 0; ; retries++ {
		_, err = up.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(p),
		})
		if err == nil {
			return nil
		}
		err = errors.E("s3diag.put", s.Bucket, key, kind(err), err)
		if !errors.Transient(err) {
			return err
		}
		s.Log.Debugf("retrying put of %s: %v", key, err)
		if werr := retry.Wait(ctx, s.policy, retries); werr != nil {
			return err
		}
	}
}

// kind classifies an S3 error.
func kind(err error) errors.Kind {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return errors.Other
	}
	switch aerr.Code() {
	case "NoSuchBucket", "NoSuchKey", "NoSuchVersion", "NotFound":
		return errors.NotExist
	case "AccessDenied":
		return errors.NotAllowed
	case "InvalidRequest", "InvalidArgument", "EntityTooSmall", "EntityTooLarge", "KeyTooLong", "MethodNotAllowed":
		return errors.Invalid
	case "ExpiredToken", "AccountProblem", "ServiceUnavailable", "TokenRefreshRequired", "OperationAborted":
		return errors.Unavailable
	case "PreconditionFailed":
		return errors.Precondition
	case "SlowDown", "RequestTimeout", "InternalError":
		return errors.Temporary
	case request.CanceledErrorCode:
		return errors.Canceled
	}
	return errors.Other
}
