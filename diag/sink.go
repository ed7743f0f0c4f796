// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package diag

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"sort"
	"sync"

	"github.com/grailbio/base/file"
	"github.com/grailbio/era/errors"
)

// FileSink writes artifacts to a directory using the file package,
// so Dir may name a local directory or any path scheme registered
// with it.
type FileSink struct {
	Dir string
}

// Put implements Sink.
func (s FileSink) Put(ctx context.Context, name string, body io.Reader) (err error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if scheme, _, _ := file.ParsePath(dir); scheme == "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errors.E("diag.put", dir, err)
		}
	}
	path := file.Join(dir, name)
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E("diag.put", path, err)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = errors.E("diag.put", path, cerr)
		}
	}()
	if _, err := io.Copy(f.Writer(ctx), body); err != nil {
		return errors.E("diag.put", path, err)
	}
	return nil
}

// MemSink keeps artifacts in memory. It is safe for concurrent use.
type MemSink struct {
	mu        sync.Mutex
	artifacts map[string][]byte
}

// Put implements Sink.
func (s *MemSink) Put(ctx context.Context, name string, body io.Reader) error {
	p, err := ioutil.ReadAll(body)
	if err != nil {
		return errors.E("diag.put", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts == nil {
		s.artifacts = make(map[string][]byte)
	}
	s.artifacts[name] = p
	return nil
}

// Get returns the artifact stored under the provided name.
func (s *MemSink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.artifacts[name]
	return p, ok
}

// Names returns the names of the stored artifacts, sorted.
func (s *MemSink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
