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

// Package actioncache maps an action key — typically the hash of a
// canonicalized compiler invocation — to the [cas.CASID] of its result,
// guarding against two distinct hazards: a key written with two different
// values (poisoning), and a value whose object has gone missing from the
// paired store (a dangling entry).
package actioncache

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencas/cachecc/cas"
)

// KeySize is the width in bytes of an action key.
const KeySize = 32

// A Key identifies one cached action.
type Key [KeySize]byte

// ErrNotFound indicates that a key has no cached value.
var ErrNotFound = errors.New("action cache: key not found")

// Backend is the minimal map-like primitive a Cache is built on: insert a
// key's value if absent, otherwise report the value already there.
// Implementations need not detect poisoning themselves; [Cache] compares the
// returned value against what the caller attempted to insert and reports
// [*PoisonedError] itself.
type Backend interface {
	// Find reports the value stored for key, if any.
	Find(ctx context.Context, key Key) (cas.CASID, bool, error)

	// InsertOrGet inserts value for key if key is unset, or returns the
	// value already stored for key otherwise. The caller that wins the race
	// to insert a fresh key is the only one to observe its own value handed
	// back; every other caller, racing or not, observes the winner's.
	InsertOrGet(ctx context.Context, key Key, value cas.CASID) (cas.CASID, error)
}

// Cache is an action cache: a Backend paired with the [cas.Store] whose
// objects its values name, so that Get can detect a value that no longer
// resolves.
type Cache struct {
	store   cas.Store
	backend Backend
}

// New constructs a Cache over backend, validating values against store.
func New(store cas.Store, backend Backend) *Cache {
	return &Cache{store: store, backend: backend}
}

// Get returns the value cached for key. It reports [ErrNotFound] if key is
// unset, or a [*DanglingError] if key's value no longer resolves in the
// paired store.
func (c *Cache) Get(ctx context.Context, key Key) (cas.CASID, error) {
	val, ok, err := c.backend.Find(ctx, key)
	if err != nil {
		return cas.CASID{}, fmt.Errorf("action cache: get: %w", err)
	}
	if !ok {
		return cas.CASID{}, ErrNotFound
	}
	if _, ok, err := c.store.GetReference(ctx, val); err != nil {
		return cas.CASID{}, fmt.Errorf("action cache: get: %w", err)
	} else if !ok {
		return cas.CASID{}, &DanglingError{Key: key, Value: val}
	}
	return val, nil
}

// Put records value for key. If key already has a value and it differs from
// value, Put reports a [*PoisonedError] and leaves the existing value
// in place: the cache never silently overwrites a conflicting entry.
func (c *Cache) Put(ctx context.Context, key Key, value cas.CASID) error {
	got, err := c.backend.InsertOrGet(ctx, key, value)
	if err != nil {
		return fmt.Errorf("action cache: put: %w", err)
	}
	if !got.Equal(value) {
		return &PoisonedError{Key: key, Existing: got, Attempted: value}
	}
	return nil
}

// PoisonedError reports that Key already holds a value different from the
// one a caller attempted to store.
type PoisonedError struct {
	Key       Key
	Existing  cas.CASID
	Attempted cas.CASID
}

func (e *PoisonedError) Error() string {
	return fmt.Sprintf("action cache: key %x already has value %s, attempted %s", e.Key, e.Existing, e.Attempted)
}

// DanglingError reports that Key's cached value names an object the paired
// store can no longer resolve.
type DanglingError struct {
	Key   Key
	Value cas.CASID
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("action cache: key %x value %s is dangling", e.Key, e.Value)
}

// IsPoisoned reports whether err is or wraps a [*PoisonedError].
func IsPoisoned(err error) bool {
	var pe *PoisonedError
	return errors.As(err, &pe)
}

// IsDangling reports whether err is or wraps a [*DanglingError].
func IsDangling(err error) bool {
	var de *DanglingError
	return errors.As(err, &de)
}
