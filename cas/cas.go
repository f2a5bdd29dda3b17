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

// Package cas defines the content-addressed object model shared by the
// in-memory and on-disk storage backends.
//
// An [Object] is an immutable pair of opaque data and an ordered list of
// references to other objects, addressed by the cryptographic digest of a
// canonical encoding of that pair (see [Digest]). A [Store] dedupes objects
// by digest: storing identical (refs, data) twice returns the same
// [ObjectRef], and a ref is only ever handed out once its object is durably
// addressable in the store that produced it.
//
// Basic usage:
//
//	ref, err := s.Store(ctx, nil, []byte("hello"))
//	obj, err := s.Load(ctx, ref)
//	fmt.Println(string(obj.Data))
package cas

import (
	"context"
	"errors"
)

// A Store is a deduplicating, content-addressed object store. Implementations
// must be safe for concurrent use by multiple goroutines.
//
// Every [ObjectRef] returned by a Store is scoped to that Store instance; see
// [ObjectRef] for the cross-store-use contract.
type Store interface {
	// Store canonically encodes (refs, data), computes its digest, and
	// inserts the resulting object into the store if it is not already
	// present. Store is idempotent: storing identical (refs, data) twice
	// returns equal refs and does not duplicate the underlying object.
	//
	// Every element of refs must have been produced by this same Store.
	Store(ctx context.Context, refs []ObjectRef, data []byte) (ObjectRef, error)

	// Load materializes the object named by ref. It may perform I/O.
	Load(ctx context.Context, ref ObjectRef) (ObjectHandle, error)

	// GetReference looks up the object with the given id without loading its
	// content. It reports false if id is not known to the store.
	GetReference(ctx context.Context, id CASID) (ObjectRef, bool, error)

	// GetID returns the portable identity of ref.
	GetID(ref ObjectRef) CASID

	// Validate performs an integrity check of the store's structure. A nil
	// result does not guarantee every object is free of bit rot, only that
	// the store's own indexes are internally consistent.
	Validate(ctx context.Context) error

	// Close releases any resources (file handles, mappings) held by the
	// store. A Store that holds no such resources may implement this as a
	// no-op.
	Close(ctx context.Context) error
}

// CreateProxy stores (refs, data) in s and loads the result, combining
// [Store.Store] and [Store.Load] for the common case of wanting both the
// reference and the materialized view in hand at once.
func CreateProxy(ctx context.Context, s Store, refs []ObjectRef, data []byte) (ObjectHandle, error) {
	ref, err := s.Store(ctx, refs, data)
	if err != nil {
		return ObjectHandle{}, err
	}
	return s.Load(ctx, ref)
}

// An ObjectHandle is a loaded, materialized view of an [Object]: its data
// plus the refs of the objects it points to.
type ObjectHandle struct {
	Ref  ObjectRef
	Data []byte
	Refs []ObjectRef
}

// NumRefs reports the number of outgoing references held by h.
func (h ObjectHandle) NumRefs() int { return len(h.Refs) }

// Ref returns the i'th outgoing reference of h.
func (h ObjectHandle) Ref(i int) ObjectRef { return h.Refs[i] }

// ForEachRef calls visit for each outgoing reference of h, in order, stopping
// early if visit returns false.
func (h ObjectHandle) ForEachRef(visit func(i int, ref ObjectRef) bool) {
	for i, ref := range h.Refs {
		if !visit(i, ref) {
			return
		}
	}
}

var (
	// ErrNotFound indicates that a requested object or key is not present in
	// a store. Callers may treat this as a cache miss.
	ErrNotFound = errors.New("object not found")

	// ErrWrongStore indicates that an ObjectRef was presented to a Store
	// instance other than the one that produced it.
	ErrWrongStore = errors.New("reference belongs to a different store")

	// ErrConfigMismatch indicates that a Store and a paired cache (or two
	// halves of a composite store) were constructed from incompatible
	// configurations, e.g. different hash schemes.
	ErrConfigMismatch = errors.New("incompatible store configuration")
)

// IsNotFound reports whether err is or wraps [ErrNotFound].
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
