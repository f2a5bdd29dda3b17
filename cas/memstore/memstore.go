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

// Package memstore implements the [cas.Store] interface using an in-memory
// hashed trie. The contents of a Store are not persisted; it exists to give
// callers that do not need durability (unit tests, short-lived builds) the
// same interface as [github.com/opencas/cachecc/cas/diskstore].
package memstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/trie"
)

// Store is an in-memory [cas.Store]. The zero value is not usable; construct
// one with [New]. All methods are safe for concurrent use by multiple
// goroutines.
type Store struct {
	instance uint64
	index    trie.Memory // digest -> record slice index (8-byte LE payload)

	mu      sync.Mutex
	records []*record // records[0] is an unused sentinel, so index 0 means "no record"
}

type record struct {
	digest [cas.DigestSize]byte
	refs   []cas.ObjectRef
	data   []byte
}

// New constructs a new, empty Store.
func New() *Store {
	return &Store{instance: cas.NewInstance(), records: []*record{nil}}
}

var _ cas.Store = (*Store)(nil)

func (s *Store) refDigest(ref cas.ObjectRef) ([]byte, error) {
	if err := cas.CheckInstance(ref, s.instance); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := ref.Index()
	if idx == 0 || idx >= uint64(len(s.records)) {
		return nil, fmt.Errorf("memstore: %w", cas.ErrNotFound)
	}
	return s.records[idx].digest[:], nil
}

// Store implements part of [cas.Store].
func (s *Store) Store(_ context.Context, refs []cas.ObjectRef, data []byte) (cas.ObjectRef, error) {
	refDigests := make([][]byte, len(refs))
	for i, ref := range refs {
		d, err := s.refDigest(ref)
		if err != nil {
			return cas.ObjectRef{}, fmt.Errorf("memstore: store: ref %d: %w", i, err)
		}
		refDigests[i] = d
	}
	digest := cas.Digest(refDigests, data)
	key := trie.Key(digest)

	payload := s.index.InsertLazy(key, func() []byte {
		rec := &record{
			digest: digest,
			refs:   append([]cas.ObjectRef(nil), refs...),
			data:   append([]byte(nil), data...),
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records = append(s.records, rec)
		idx := uint64(len(s.records) - 1)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], idx)
		return buf[:]
	})
	idx := binary.LittleEndian.Uint64(payload)
	return cas.Ref(s.instance, idx), nil
}

// Load implements part of [cas.Store].
func (s *Store) Load(_ context.Context, ref cas.ObjectRef) (cas.ObjectHandle, error) {
	if err := cas.CheckInstance(ref, s.instance); err != nil {
		return cas.ObjectHandle{}, fmt.Errorf("memstore: load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := ref.Index()
	if idx == 0 || idx >= uint64(len(s.records)) {
		return cas.ObjectHandle{}, fmt.Errorf("memstore: load: %w", cas.ErrNotFound)
	}
	rec := s.records[idx]
	return cas.ObjectHandle{
		Ref:  ref,
		Data: append([]byte(nil), rec.data...),
		Refs: append([]cas.ObjectRef(nil), rec.refs...),
	}, nil
}

// GetReference implements part of [cas.Store].
func (s *Store) GetReference(_ context.Context, id cas.CASID) (cas.ObjectRef, bool, error) {
	if id.Scheme != "" && id.Scheme != cas.SchemeBLAKE3 {
		return cas.ObjectRef{}, false, fmt.Errorf("memstore: get reference: %w", cas.ErrConfigMismatch)
	}
	key, err := trie.KeyFromBytes(id.Digest)
	if err != nil {
		return cas.ObjectRef{}, false, fmt.Errorf("memstore: get reference: %w", err)
	}
	payload, ok := s.index.Find(key)
	if !ok {
		return cas.ObjectRef{}, false, nil
	}
	return cas.Ref(s.instance, binary.LittleEndian.Uint64(payload)), true, nil
}

// GetID implements part of [cas.Store]. It returns the zero [cas.CASID] if
// ref was not produced by this Store.
func (s *Store) GetID(ref cas.ObjectRef) cas.CASID {
	if cas.CheckInstance(ref, s.instance) != nil {
		return cas.CASID{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := ref.Index()
	if idx == 0 || idx >= uint64(len(s.records)) {
		return cas.CASID{}
	}
	rec := s.records[idx]
	return cas.CASID{Scheme: cas.SchemeBLAKE3, Digest: rec.digest[:]}
}

// Validate implements part of [cas.Store]. It recomputes the digest of every
// stored object from its recorded refs and data and confirms it matches the
// digest the object is indexed under.
func (s *Store) Validate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, rec := range s.records {
		if rec == nil {
			continue
		}
		refDigests := make([][]byte, len(rec.refs))
		for i, ref := range rec.refs {
			if cas.CheckInstance(ref, s.instance) != nil {
				return fmt.Errorf("memstore: validate: record %d: ref %d belongs to a different store", idx, i)
			}
			ri := ref.Index()
			if ri == 0 || ri >= uint64(len(s.records)) {
				return fmt.Errorf("memstore: validate: record %d: ref %d out of range", idx, i)
			}
			refDigests[i] = s.records[ri].digest[:]
		}
		got := cas.Digest(refDigests, rec.data)
		if got != rec.digest {
			return fmt.Errorf("memstore: validate: record %d: stored digest %x does not match recomputed digest %x", idx, rec.digest, got)
		}
	}
	return nil
}

// Close implements part of [cas.Store]. This implementation is a no-op.
func (*Store) Close(context.Context) error { return nil }
