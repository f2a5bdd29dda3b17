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

// Package diskstore implements the [cas.Store] interface on top of a
// memory-mapped hashed trie (see [github.com/opencas/cachecc/trie]) paired
// with an append-only, snappy-compressed blob log. The trie maps a digest to
// the byte offset of its record in the log; the record itself carries enough
// of its own structure (length prefix, self digest, ref digests) that a
// [cas.ObjectRef] — which is just that offset — is sufficient to load or
// validate an object without consulting the trie again.
//
// A Store directory holds two files: "v1.objects", the digest index, and
// "objects.log", the blob log. Both grow only by appending; nothing is ever
// rewritten or reclaimed in place.
package diskstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencas/cachecc/cas"
	"github.com/opencas/cachecc/trie"
)

const (
	trieFileName = "v1.objects"
	logFileName  = "objects.log"
	logMagic     = "v1.log\x00"
	logHeaderLen = 8
)

// Store is an on-disk, content-addressed [cas.Store].
type Store struct {
	instance uint64
	dir      string

	index *trie.Disk
	codec Codec

	mu     sync.Mutex
	log    *os.File
	logEnd int64
}

var _ cas.Store = (*Store)(nil)

// Config configures a [Store].
type Config struct {
	// InitialTrieSize and MaxTrieSize are passed through to the underlying
	// [trie.DiskConfig]. Zero values use trie's defaults.
	InitialTrieSize int64
	MaxTrieSize     int64

	// Codec compresses record data in the blob log. Defaults to
	// [SnappyCodec], which favors encode speed over ratio; pass a
	// [ZlibCodec] for a smaller log at the cost of slower writes.
	Codec Codec
}

// Open opens or creates a Store rooted at dir, which is created if it does
// not already exist.
func Open(dir string, cfg Config) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("diskstore: create %q: %w", dir, err)
	}

	index, err := trie.OpenDisk(filepath.Join(dir, trieFileName), trie.DiskConfig{
		PayloadSize: 8, // the blob log offset of the record
		InitialSize: cfg.InitialTrieSize,
		MaxSize:     cfg.MaxTrieSize,
	})
	if err != nil {
		return nil, fmt.Errorf("diskstore: open index: %w", err)
	}

	logPath := filepath.Join(dir, logFileName)
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("diskstore: open log: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		index.Close()
		return nil, fmt.Errorf("diskstore: stat log: %w", err)
	}
	end := fi.Size()
	if end == 0 {
		if _, err := f.WriteAt([]byte(logMagic), 0); err != nil {
			f.Close()
			index.Close()
			return nil, fmt.Errorf("diskstore: write log header: %w", err)
		}
		end = logHeaderLen
	}

	codec := cfg.Codec
	if codec == nil {
		codec = SnappyCodec{}
	}

	return &Store{
		instance: cas.NewInstance(),
		dir:      dir,
		index:    index,
		codec:    codec,
		log:      f,
		logEnd:   end,
	}, nil
}

// Close releases the index and blob log files.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.index.Close()
	if cerr := s.log.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Store) readRecordAt(offset int64) (record, error) {
	var head [8]byte
	if _, err := s.log.ReadAt(head[:], offset); err != nil {
		return record{}, fmt.Errorf("diskstore: read record header at %d: %w", offset, err)
	}
	n, err := recordLen(head[:])
	if err != nil {
		return record{}, err
	}
	buf := make([]byte, n)
	if _, err := s.log.ReadAt(buf, offset); err != nil {
		return record{}, fmt.Errorf("diskstore: read record at %d: %w", offset, err)
	}
	return decodeRecord(s.codec, buf)
}

// appendRecord appends r to the blob log and returns its starting offset.
// Callers must hold mu.
func (s *Store) appendRecord(r record) (int64, error) {
	buf := encodeRecord(s.codec, r)
	offset := s.logEnd
	if _, err := s.log.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("diskstore: append record: %w", err)
	}
	s.logEnd += int64(len(buf))
	return offset, nil
}

func (s *Store) refDigestAt(ref cas.ObjectRef) ([]byte, error) {
	if err := cas.CheckInstance(ref, s.instance); err != nil {
		return nil, err
	}
	rec, err := s.readRecordAt(int64(ref.Index()))
	if err != nil {
		return nil, err
	}
	return rec.digest[:], nil
}

// Store implements part of [cas.Store].
//
// If the blob log append for a new digest fails partway (e.g. due to a full
// disk), the digest's trie entry is still published with log offset zero
// (which names the log header, not a record) and the error is returned to
// this call, but the poisoned entry
// remains for the life of the process: a later Store of the same (refs,
// data) silently returns the bad reference rather than retrying the write.
// Recovering from that state requires closing and reopening the Store.
func (s *Store) Store(_ context.Context, refs []cas.ObjectRef, data []byte) (cas.ObjectRef, error) {
	refDigests := make([][]byte, len(refs))
	for i, ref := range refs {
		d, err := s.refDigestAt(ref)
		if err != nil {
			return cas.ObjectRef{}, fmt.Errorf("diskstore: store: ref %d: %w", i, err)
		}
		refDigests[i] = d
	}
	digest := cas.Digest(refDigests, data)
	key := trie.Key(digest)

	var appendErr error
	payload, err := s.index.InsertLazy(key, func() []byte {
		s.mu.Lock()
		defer s.mu.Unlock()
		offset, err := s.appendRecord(record{digest: digest, refDigests: refDigests, data: data})
		if err != nil {
			appendErr = err
			return make([]byte, 8)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(offset))
		return buf[:]
	})
	if err != nil {
		return cas.ObjectRef{}, fmt.Errorf("diskstore: store: %w", err)
	}
	if appendErr != nil {
		return cas.ObjectRef{}, appendErr
	}
	offset := binary.LittleEndian.Uint64(payload)
	return cas.Ref(s.instance, offset), nil
}

// Load implements part of [cas.Store].
func (s *Store) Load(_ context.Context, ref cas.ObjectRef) (cas.ObjectHandle, error) {
	if err := cas.CheckInstance(ref, s.instance); err != nil {
		return cas.ObjectHandle{}, fmt.Errorf("diskstore: load: %w", err)
	}
	rec, err := s.readRecordAt(int64(ref.Index()))
	if err != nil {
		return cas.ObjectHandle{}, fmt.Errorf("diskstore: load: %w", err)
	}
	refs := make([]cas.ObjectRef, len(rec.refDigests))
	for i, rd := range rec.refDigests {
		key, err := trie.KeyFromBytes(rd)
		if err != nil {
			return cas.ObjectHandle{}, fmt.Errorf("diskstore: load: ref %d: %w", i, err)
		}
		loc, ok, err := s.index.Find(key)
		if err != nil {
			return cas.ObjectHandle{}, fmt.Errorf("diskstore: load: ref %d: %w", i, err)
		}
		if !ok {
			return cas.ObjectHandle{}, fmt.Errorf("diskstore: load: ref %d: %w", i, cas.ErrNotFound)
		}
		refs[i] = cas.Ref(s.instance, binary.LittleEndian.Uint64(loc))
	}
	return cas.ObjectHandle{Ref: ref, Data: rec.data, Refs: refs}, nil
}

// GetReference implements part of [cas.Store].
func (s *Store) GetReference(_ context.Context, id cas.CASID) (cas.ObjectRef, bool, error) {
	if id.Scheme != "" && id.Scheme != cas.SchemeBLAKE3 {
		return cas.ObjectRef{}, false, fmt.Errorf("diskstore: get reference: %w", cas.ErrConfigMismatch)
	}
	key, err := trie.KeyFromBytes(id.Digest)
	if err != nil {
		return cas.ObjectRef{}, false, fmt.Errorf("diskstore: get reference: %w", err)
	}
	loc, ok, err := s.index.Find(key)
	if err != nil || !ok {
		return cas.ObjectRef{}, false, err
	}
	return cas.Ref(s.instance, binary.LittleEndian.Uint64(loc)), true, nil
}

// GetID implements part of [cas.Store]. It returns the zero [cas.CASID] if
// ref was not produced by this Store or cannot be read back.
func (s *Store) GetID(ref cas.ObjectRef) cas.CASID {
	d, err := s.refDigestAt(ref)
	if err != nil {
		return cas.CASID{}
	}
	return cas.CASID{Scheme: cas.SchemeBLAKE3, Digest: d}
}

// Validate implements part of [cas.Store]. It checks the structural integrity
// of the trie index; it does not re-read every record in the blob log.
func (s *Store) Validate(context.Context) error {
	if err := s.index.Validate(); err != nil {
		return fmt.Errorf("diskstore: validate: %w", err)
	}
	return nil
}
