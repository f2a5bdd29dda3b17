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

package cas

import "sync/atomic"

// An ObjectRef is an opaque, compact handle that names an [Object] within one
// [Store] instance. Obtaining a ref is proof that its object is addressable
// in the store that produced it, though the object's content may not yet have
// been loaded into memory.
//
// Cross-store use of an ObjectRef is undefined; implementations that embed
// [NewInstance] detect it and report [ErrWrongStore] rather than silently
// misinterpreting the index.
type ObjectRef struct {
	instance uint64 // the store instance that produced this ref
	index    uint64 // backend-specific slot index
}

// IsZero reports whether ref is the zero ObjectRef (never returned by a
// Store, useful as a "no reference" sentinel).
func (ref ObjectRef) IsZero() bool { return ref == ObjectRef{} }

// Index returns the backend-specific slot index of ref. Backends use this to
// look up their local object record; it carries no meaning across stores.
func (ref ObjectRef) Index() uint64 { return ref.index }

var nextInstance atomic.Uint64

// NewInstance allocates a fresh, process-unique store instance identifier.
// Backend constructors call this once per Store value and use the result with
// [Ref] and [CheckInstance].
func NewInstance() uint64 {
	// Start at 1 so the zero ObjectRef never collides with a real instance.
	return nextInstance.Add(1)
}

// Ref constructs an ObjectRef scoped to the given store instance.
func Ref(instance, index uint64) ObjectRef { return ObjectRef{instance: instance, index: index} }

// CheckInstance reports whether ref was produced by the store instance
// identified by instance, returning [ErrWrongStore] if not.
func CheckInstance(ref ObjectRef, instance uint64) error {
	if ref.instance != instance {
		return ErrWrongStore
	}
	return nil
}
