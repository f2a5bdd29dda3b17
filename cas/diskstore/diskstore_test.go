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

package diskstore_test

import (
	"context"
	"testing"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/cas/diskstore"
)

func open(t *testing.T) *diskstore.Store {
	t.Helper()
	s, err := diskstore.Open(t.TempDir(), diskstore.Config{InitialTrieSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestStoreAndLoad(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	ref, err := s.Store(ctx, nil, []byte("hello, disk"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	h, err := s.Load(ctx, ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(h.Data) != "hello, disk" {
		t.Errorf("Load data = %q, want %q", h.Data, "hello, disk")
	}
}

func TestStoreDedupes(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	r1, err := s.Store(ctx, nil, []byte("same"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	r2, err := s.Store(ctx, nil, []byte("same"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if r1 != r2 {
		t.Errorf("Store did not dedupe: %+v != %+v", r1, r2)
	}
}

func TestStoreWithRefs(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	leaf, err := s.Store(ctx, nil, []byte("leaf"))
	if err != nil {
		t.Fatalf("Store(leaf): %v", err)
	}
	parent, err := s.Store(ctx, []cas.ObjectRef{leaf}, []byte("parent"))
	if err != nil {
		t.Fatalf("Store(parent): %v", err)
	}

	h, err := s.Load(ctx, parent)
	if err != nil {
		t.Fatalf("Load(parent): %v", err)
	}
	if len(h.Refs) != 1 || h.Refs[0] != leaf {
		t.Errorf("Load(parent).Refs = %+v, want [%+v]", h.Refs, leaf)
	}
}

func TestGetReferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	ref, err := s.Store(ctx, nil, []byte("data"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	id := s.GetID(ref)
	if id.IsZero() {
		t.Fatal("GetID returned a zero CASID")
	}
	got, ok, err := s.GetReference(ctx, id)
	if err != nil {
		t.Fatalf("GetReference: %v", err)
	}
	if !ok || got != ref {
		t.Errorf("GetReference = (%+v, %v), want (%+v, true)", got, ok, ref)
	}
}

func TestReopenPersistsObjects(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := diskstore.Open(dir, diskstore.Config{InitialTrieSize: 4096})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ref, err := s1.Store(ctx, nil, []byte("persisted"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	id := s1.GetID(ref)
	if err := s1.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := diskstore.Open(dir, diskstore.Config{InitialTrieSize: 4096})
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer s2.Close(ctx)

	got, ok, err := s2.GetReference(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetReference after reopen = (_, %v, %v), want (_, true, nil)", ok, err)
	}
	h, err := s2.Load(ctx, got)
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if string(h.Data) != "persisted" {
		t.Errorf("Load after reopen data = %q, want %q", h.Data, "persisted")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	if _, err := s.Store(ctx, nil, []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Validate(ctx); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestZlibCodec(t *testing.T) {
	ctx := context.Background()
	s, err := diskstore.Open(t.TempDir(), diskstore.Config{
		InitialTrieSize: 4096,
		Codec:           diskstore.ZlibCodec{Level: diskstore.ZlibSmallest},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close(ctx)

	want := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	ref, err := s.Store(ctx, nil, want)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	h, err := s.Load(ctx, ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(h.Data) != string(want) {
		t.Errorf("Load data = %q, want %q", h.Data, want)
	}
}
