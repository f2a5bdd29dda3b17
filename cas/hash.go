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

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// DigestSize is the width in bytes of a default-scheme digest.
const DigestSize = 32

// Digest computes the content address of an object with the given ordered
// reference digests and data, following the canonical encoding: the number
// of references, each reference digest in order, the length of data, and
// then data itself, all as little-endian fields. Two objects with equal
// (refDigests, data) always hash to the same digest, satisfying the
// content-addressing invariant from spec §8.
//
// refDigests must each be exactly DigestSize bytes; Digest panics if not,
// since a well-formed Store never constructs a ref to an object it cannot
// resolve to its own digest.
func Digest(refDigests [][]byte, data []byte) [DigestSize]byte {
	h := blake3.New(DigestSize, nil)

	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(refDigests)))
	h.Write(size[:])

	for _, ref := range refDigests {
		if len(ref) != DigestSize {
			panic("cas: reference digest has the wrong width")
		}
		h.Write(ref)
	}

	binary.LittleEndian.PutUint64(size[:], uint64(len(data)))
	h.Write(size[:])
	h.Write(data)

	var out [DigestSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DigestID is a convenience wrapper around [Digest] that returns the result
// as a [CASID] using the default hash scheme.
func DigestID(refDigests [][]byte, data []byte) CASID {
	d := Digest(refDigests, data)
	return CASID{Scheme: SchemeBLAKE3, Digest: d[:]}
}
