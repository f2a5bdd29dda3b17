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
	"errors"
	"fmt"
)

// Mirror combines two backends so that every Keep or Discard is applied to
// both: the common case is mirroring a [CapturingBackend] (to insert into a
// [github.com/opencas/cachecc/cas.Store] on a cache miss) against a
// [DiskBackend] (to leave the physical file a calling compiler expects).
func Mirror(a, b Backend) Backend { return &mirrorBackend{a: a, b: b} }

type mirrorBackend struct{ a, b Backend }

func (m *mirrorBackend) Create(ctx context.Context, path string, kind Kind) (OutputFile, error) {
	fa, err := m.a.Create(ctx, path, kind)
	if err != nil {
		return nil, fmt.Errorf("output: mirror: create %q: %w", path, err)
	}
	fb, err := m.b.Create(ctx, path, kind)
	if err != nil {
		return nil, fmt.Errorf("output: mirror: create %q: %w", path, err)
	}
	return &mirrorFile{a: fa, b: fb}, nil
}

type mirrorFile struct{ a, b OutputFile }

func (f *mirrorFile) Path() string { return f.a.Path() }
func (f *mirrorFile) Kind() Kind   { return f.a.Kind() }

// Keep writes data to both halves of the mirror. Both writes are attempted
// regardless of whether the first fails, and their errors are joined.
func (f *mirrorFile) Keep(ctx context.Context, data []byte) error {
	aerr := f.a.Keep(ctx, data)
	berr := f.b.Keep(ctx, data)
	return errors.Join(aerr, berr)
}

// Discard discards both halves of the mirror, joining any errors.
func (f *mirrorFile) Discard(ctx context.Context) error {
	aerr := f.a.Discard(ctx)
	berr := f.b.Discard(ctx)
	return errors.Join(aerr, berr)
}
