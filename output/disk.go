// Copyright 2019 Michael J. Fromberger. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/atomicfile"
)

// DiskBackend writes outputs to real files rooted at a directory, exactly as
// a compiler invocation run without caching would.
type DiskBackend struct {
	root string
}

// NewDiskBackend constructs a backend rooted at dir.
func NewDiskBackend(dir string) *DiskBackend { return &DiskBackend{root: dir} }

var _ Backend = (*DiskBackend)(nil)

// Create implements part of [Backend]. path may be relative to the backend's
// root or absolute; either way it is the path the invocation itself was told
// to write.
func (b *DiskBackend) Create(_ context.Context, path string, kind Kind) (OutputFile, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(b.root, path)
	}
	return &diskFile{path: path, full: full, kind: kind}, nil
}

type diskFile struct {
	path, full string
	kind       Kind
}

func (f *diskFile) Path() string { return f.path }
func (f *diskFile) Kind() Kind   { return f.kind }

// Keep writes data to the output's file path atomically: a reader of the
// path never observes a partial write.
func (f *diskFile) Keep(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.full), 0o755); err != nil {
		return fmt.Errorf("output: create directory for %q: %w", f.path, err)
	}
	if err := atomicfile.WriteData(f.full, data, 0o644); err != nil {
		return fmt.Errorf("output: write %q: %w", f.path, err)
	}
	return nil
}

// Discard removes the output's file, if it exists. A compile job that
// declared an output but produced nothing for it (e.g. diagnostics on a
// clean compile) discards rather than writing an empty file.
func (f *diskFile) Discard(_ context.Context) error {
	if err := os.Remove(f.full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("output: discard %q: %w", f.path, err)
	}
	return nil
}
