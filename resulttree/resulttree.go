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

// Package resulttree builds and reads the content-addressed record of a
// single compile job's result: every output it produced, named and typed,
// plus the text it wrote to standard error.
//
// A result is stored as one [cas.Object] whose data is the raw stderr bytes
// and whose refs are an interleaved list — name object, content object, name
// object, content object, and so on — one pair per output. Keeping names as
// their own small objects rather than packing them into the parent's data
// means the whole tree, metadata included, is addressed the same way as
// everything else in the store.
package resulttree

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/output"
)

// Entry is one named output within a result.
type Entry struct {
	Name string
	Kind output.Kind
	Ref  cas.ObjectRef
}

// Result is the materialized form of a compile job's outputs.
type Result struct {
	Entries []Entry
	Stderr  []byte
}

// Find returns the entry named name, if present.
func (r Result) Find(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Build stores entries and stderr as a single result object and returns its
// reference. Entries are recorded sorted by name, so two builds of the same
// entry set in different orders produce the same digest.
func Build(ctx context.Context, store cas.Store, entries []Entry, stderr []byte) (cas.ObjectRef, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	refs := make([]cas.ObjectRef, 0, 2*len(sorted))
	for _, e := range sorted {
		nameRef, err := store.Store(ctx, nil, encodeNameKind(e.Name, e.Kind))
		if err != nil {
			return cas.ObjectRef{}, fmt.Errorf("resulttree: build: store name %q: %w", e.Name, err)
		}
		refs = append(refs, nameRef, e.Ref)
	}
	ref, err := store.Store(ctx, refs, stderr)
	if err != nil {
		return cas.ObjectRef{}, fmt.Errorf("resulttree: build: %w", err)
	}
	return ref, nil
}

// Read loads the result object named by ref.
func Read(ctx context.Context, store cas.Store, ref cas.ObjectRef) (Result, error) {
	h, err := store.Load(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("resulttree: read: %w", err)
	}
	if len(h.Refs)%2 != 0 {
		return Result{}, fmt.Errorf("resulttree: read: odd ref count %d, result is malformed", len(h.Refs))
	}

	entries := make([]Entry, 0, len(h.Refs)/2)
	for i := 0; i < len(h.Refs); i += 2 {
		nameObj, err := store.Load(ctx, h.Refs[i])
		if err != nil {
			return Result{}, fmt.Errorf("resulttree: read: load name at index %d: %w", i/2, err)
		}
		name, kind, err := decodeNameKind(nameObj.Data)
		if err != nil {
			return Result{}, fmt.Errorf("resulttree: read: index %d: %w", i/2, err)
		}
		entries = append(entries, Entry{Name: name, Kind: kind, Ref: h.Refs[i+1]})
	}
	return Result{Entries: entries, Stderr: h.Data}, nil
}

// encodeNameKind packs a name and kind into the small object data format:
// "<kind>\x00<name>".
func encodeNameKind(name string, kind output.Kind) []byte {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteByte(0)
	b.WriteString(name)
	return []byte(b.String())
}

func decodeNameKind(data []byte) (name string, kind output.Kind, err error) {
	i := strings.IndexByte(string(data), 0)
	if i < 0 {
		return "", "", fmt.Errorf("resulttree: malformed name object (no separator)")
	}
	return string(data[i+1:]), output.Kind(data[:i]), nil
}
