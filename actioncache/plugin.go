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
	"errors"
	"fmt"
	"plugin"

	"github.com/opencas/cachecc/cas"
)

// ResultCode is the three-way outcome a plugin backend reports for every
// call, mirroring the SUCCESS/NOTFOUND/ERROR triad a C-ABI cache backend
// would return from a function table.
type ResultCode int32

const (
	ResultSuccess  ResultCode = 0
	ResultNotFound ResultCode = 1
	ResultError    ResultCode = 2
)

// PluginLookupFunc is the signature a plugin must export as
// "ActionCacheLookup" to satisfy [LoadPlugin].
type PluginLookupFunc func(key Key) (value []byte, code ResultCode, errMsg string)

// PluginInsertFunc is the signature a plugin must export as
// "ActionCacheInsert" to satisfy [LoadPlugin]. It returns the value now on
// record for key: the caller's own value on a fresh insert, or whatever was
// already there otherwise — the same insert-or-get contract as [Backend].
type PluginInsertFunc func(key Key, value []byte) (existing []byte, code ResultCode, errMsg string)

// PluginBackend adapts a dynamically loaded backend plugin to [Backend].
type PluginBackend struct {
	lookup PluginLookupFunc
	insert PluginInsertFunc
}

// LoadPlugin opens the Go plugin at path (a ".so" built with
// "go build -buildmode=plugin") and resolves its two required exported
// symbols, ActionCacheLookup and ActionCacheInsert.
func LoadPlugin(path string) (*PluginBackend, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("action cache: load plugin %q: %w", path, err)
	}
	lookupSym, err := p.Lookup("ActionCacheLookup")
	if err != nil {
		return nil, fmt.Errorf("action cache: plugin %q missing ActionCacheLookup: %w", path, err)
	}
	insertSym, err := p.Lookup("ActionCacheInsert")
	if err != nil {
		return nil, fmt.Errorf("action cache: plugin %q missing ActionCacheInsert: %w", path, err)
	}
	lookup, ok := lookupSym.(PluginLookupFunc)
	if !ok {
		return nil, fmt.Errorf("action cache: plugin %q: ActionCacheLookup has the wrong signature", path)
	}
	insert, ok := insertSym.(PluginInsertFunc)
	if !ok {
		return nil, fmt.Errorf("action cache: plugin %q: ActionCacheInsert has the wrong signature", path)
	}
	return &PluginBackend{lookup: lookup, insert: insert}, nil
}

var _ Backend = (*PluginBackend)(nil)

// Find implements part of [Backend].
func (b *PluginBackend) Find(_ context.Context, key Key) (cas.CASID, bool, error) {
	value, code, msg := b.lookup(key)
	switch code {
	case ResultNotFound:
		return cas.CASID{}, false, nil
	case ResultSuccess:
		id, err := decodeValue(value)
		if err != nil {
			return cas.CASID{}, false, err
		}
		return id, true, nil
	default:
		return cas.CASID{}, false, fmt.Errorf("action cache: plugin lookup: %s", msg)
	}
}

// InsertOrGet implements part of [Backend].
func (b *PluginBackend) InsertOrGet(_ context.Context, key Key, value cas.CASID) (cas.CASID, error) {
	encoded, err := encodeValue(value)
	if err != nil {
		return cas.CASID{}, err
	}
	existing, code, msg := b.insert(key, encoded)
	if code == ResultError {
		return cas.CASID{}, fmt.Errorf("action cache: plugin insert: %s", msg)
	}
	return decodeValue(existing)
}

// LookupResult is the outcome delivered on the channel returned by
// [FindAsync].
type LookupResult struct {
	Value cas.CASID
	Found bool
	Err   error
}

// FindAsync starts key's lookup against b in a background goroutine and
// returns a channel that receives exactly one [LookupResult] once it
// completes, so a caller may fan out several lookups and wait on whichever
// finishes first.
func FindAsync(ctx context.Context, b Backend, key Key) <-chan LookupResult {
	ch := make(chan LookupResult, 1)
	go func() {
		defer close(ch)
		value, found, err := b.Find(ctx, key)
		ch <- LookupResult{Value: value, Found: found, Err: err}
	}()
	return ch
}

var errPluginClosed = errors.New("action cache: plugin backend does not support Close")

// Close reports errPluginClosed: plugin backends loaded with [LoadPlugin]
// cannot be unloaded once opened, a limitation of the Go plugin runtime
// itself.
func (b *PluginBackend) Close() error { return errPluginClosed }
