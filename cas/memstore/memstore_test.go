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

package memstore_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/cas/memstore"
)

func TestStoreAndLoad(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	ref, err := s.Store(ctx, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	h, err := s.Load(ctx, ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(h.Data) != "hello" {
		t.Errorf("Load data = %q, want %q", h.Data, "hello")
	}
}

func TestStoreDedupes(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

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
	s := memstore.New()

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
	if diff := cmp.Diff([]cas.ObjectRef{leaf}, h.Refs); diff != "" {
		t.Errorf("Load(parent).Refs mismatch (-want +got):\n%s", diff)
	}
}

func TestGetReferenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

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

func TestGetReferenceMiss(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	_, ok, err := s.GetReference(ctx, cas.CASID{Scheme: cas.SchemeBLAKE3, Digest: make([]byte, cas.DigestSize)})
	if err != nil {
		t.Fatalf("GetReference: %v", err)
	}
	if ok {
		t.Error("GetReference unexpectedly found a digest that was never stored")
	}
}

func TestLoadRejectsForeignRef(t *testing.T) {
	ctx := context.Background()
	s1, s2 := memstore.New(), memstore.New()

	ref, err := s1.Store(ctx, nil, []byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := s2.Load(ctx, ref); !cas.IsNotFound(err) && err == nil {
		t.Error("Load with a foreign ref unexpectedly succeeded")
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	leaf, err := s.Store(ctx, nil, []byte("leaf"))
	if err != nil {
		t.Fatalf("Store(leaf): %v", err)
	}
	if _, err := s.Store(ctx, []cas.ObjectRef{leaf}, []byte("parent")); err != nil {
		t.Fatalf("Store(parent): %v", err)
	}
	if err := s.Validate(ctx); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
