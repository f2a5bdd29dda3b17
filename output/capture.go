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
	"sync"
)

// Captured is one output file's kept content.
type Captured struct {
	Kind Kind
	Data []byte
}

// CapturingBackend holds every kept output in memory, for a caller to insert
// into a [github.com/opencas/cachecc/cas.Store] once a compile job finishes.
// The zero value is ready for use.
type CapturingBackend struct {
	mu       sync.Mutex
	captured map[string]Captured
}

// NewCapturingBackend constructs an empty CapturingBackend.
func NewCapturingBackend() *CapturingBackend { return &CapturingBackend{} }

var _ Backend = (*CapturingBackend)(nil)

// Create implements part of [Backend].
func (b *CapturingBackend) Create(_ context.Context, path string, kind Kind) (OutputFile, error) {
	return &capturingFile{backend: b, path: path, kind: kind}, nil
}

// Snapshot returns a copy of every output kept so far, keyed by path.
func (b *CapturingBackend) Snapshot() map[string]Captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Captured, len(b.captured))
	for k, v := range b.captured {
		out[k] = v
	}
	return out
}

// Get returns the content kept for path, if any.
func (b *CapturingBackend) Get(path string) (Captured, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.captured[path]
	return c, ok
}

type capturingFile struct {
	backend *CapturingBackend
	path    string
	kind    Kind
}

func (f *capturingFile) Path() string { return f.path }
func (f *capturingFile) Kind() Kind   { return f.kind }

func (f *capturingFile) Keep(_ context.Context, data []byte) error {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	if f.backend.captured == nil {
		f.backend.captured = make(map[string]Captured)
	}
	cp := append([]byte(nil), data...)
	f.backend.captured[f.path] = Captured{Kind: f.kind, Data: cp}
	return nil
}

func (f *capturingFile) Discard(_ context.Context) error {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	delete(f.backend.captured, f.path)
	return nil
}

func (f *capturingFile) String() string { return fmt.Sprintf("capture(%s %s)", f.kind, f.path) }
