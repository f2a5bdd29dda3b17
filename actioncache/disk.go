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
	"fmt"
	"path/filepath"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/trie"
)

const diskFileName = "v1.actions"

// DiskBackend is an on-disk [Backend] backed by a [trie.Disk] file, named
// "v1.actions" inside the given directory.
type DiskBackend struct {
	t *trie.Disk
}

// DiskConfig configures a [DiskBackend]'s file.
type DiskConfig struct {
	InitialSize int64
	MaxSize     int64
}

// OpenDiskBackend opens or creates a backend rooted at dir.
func OpenDiskBackend(dir string, cfg DiskConfig) (*DiskBackend, error) {
	t, err := trie.OpenDisk(filepath.Join(dir, diskFileName), trie.DiskConfig{
		PayloadSize: valueSize,
		InitialSize: cfg.InitialSize,
		MaxSize:     cfg.MaxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("action cache: open disk backend: %w", err)
	}
	return &DiskBackend{t: t}, nil
}

// Close releases the backend's file.
func (b *DiskBackend) Close() error { return b.t.Close() }

var _ Backend = (*DiskBackend)(nil)

// Find implements part of [Backend].
func (b *DiskBackend) Find(_ context.Context, key Key) (cas.CASID, bool, error) {
	payload, ok, err := b.t.Find(trie.Key(key))
	if err != nil {
		return cas.CASID{}, false, err
	}
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
func (b *DiskBackend) InsertOrGet(_ context.Context, key Key, value cas.CASID) (cas.CASID, error) {
	encoded, err := encodeValue(value)
	if err != nil {
		return cas.CASID{}, err
	}
	payload, err := b.t.InsertLazy(trie.Key(key), func() []byte { return encoded })
	if err != nil {
		return cas.CASID{}, err
	}
	return decodeValue(payload)
}
