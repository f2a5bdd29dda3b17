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

// Package trie implements a concurrent hashed trie giving "insert or return
// existing" lookup over fixed-width keys: a constructor supplied to InsertLazy
// runs at most once per key, even when many goroutines race to insert the
// same key concurrently, and every caller — winner or loser — observes the
// same payload afterward.
//
// Two interchangeable implementations share this contract. [Memory] keeps the
// trie as live Go objects linked with atomic pointers; it disappears with the
// process. [Disk] keeps the same structure in a single memory-mapped,
// append-only file, so the trie — and every payload ever inserted into it —
// survives a process restart and may be shared read-write by multiple
// processes on the same host.
//
// Keys branch one byte at a time: each trie level consumes the next byte of
// the key as a 256-way fan-out index, so a 32-byte key resolves in at most 32
// hops regardless of how many keys the trie holds.
package trie

import "errors"

// KeySize is the width in bytes of every key accepted by a trie in this
// package. Both implementations are specialized to this width rather than
// parameterized over it, since every caller in this module keys by a BLAKE3
// digest.
const KeySize = 32

// Fanout is the number of slots in each trie node: one per possible value of
// the byte consumed at that level.
const Fanout = 256

// MaxDepth is the maximum number of levels a lookup can traverse: one per key
// byte. A well-formed trie never exceeds this, since keys are fixed-width and
// distinct keys of equal length must diverge in some byte.
const MaxDepth = KeySize

// ErrKeyTooShort is returned by [KeyFromBytes] when a caller supplies a key
// whose length is not exactly [KeySize], whether shorter or longer.
var ErrKeyTooShort = errors.New("trie: key length is not KeySize")

// ErrClosed is returned by operations on a [Disk] trie after [Disk.Close] has
// been called.
var ErrClosed = errors.New("trie: store is closed")

// ErrTableFull is returned when a [Disk] trie cannot grow its backing file
// any further to satisfy an allocation, because doing so would exceed the
// configured maximum file size.
var ErrTableFull = errors.New("trie: table is full")

// A Key is the fixed-width lookup key shared by both implementations.
type Key [KeySize]byte

// KeyFromBytes copies b into a Key, which must be exactly [KeySize] bytes.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, ErrKeyTooShort
	}
	copy(k[:], b)
	return k, nil
}
