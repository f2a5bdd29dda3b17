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

package actioncache

import (
	"context"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/trie"
)

// MemoryBackend is an in-memory [Backend] built on [trie.Memory]. The zero
// value is ready for use.
type MemoryBackend struct {
	t trie.Memory
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

var _ Backend = (*MemoryBackend)(nil)

// Find implements part of [Backend].
func (b *MemoryBackend) Find(_ context.Context, key Key) (cas.CASID, bool, error) {
	payload, ok := b.t.Find(trie.Key(key))
	if !ok {
		return cas.CASID{}, false, nil
	}
	id, err := decodeValue(payload)
	if err != nil {
		return cas.CASID{}, false, err
	}
	return id, true, nil
}

// InsertOrGet implements part of [Backend].
func (b *MemoryBackend) InsertOrGet(_ context.Context, key Key, value cas.CASID) (cas.CASID, error) {
	encoded, err := encodeValue(value)
	if err != nil {
		return cas.CASID{}, err
	}
	payload := b.t.InsertLazy(trie.Key(key), func() []byte { return encoded })
	return decodeValue(payload)
}
