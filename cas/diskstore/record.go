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

package diskstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opencas/cachecc/cas"
)

// A record is the on-disk representation of one object in the append-only
// blob log. Records are self-describing: the leading length field lets a
// reader recover a record given only its starting offset, which is exactly
// what a [cas.ObjectRef] holds.
//
//	uint64   totalLen     length of everything after this field
//	[32]byte digest       this object's own content digest
//	uint32   numRefs
//	         numRefs * [32]byte ref digests, in order
//	uint64   dataLen      uncompressed length of data
//	uint32   compressedLen
//	         compressedLen bytes of codec-compressed data
type record struct {
	digest     [cas.DigestSize]byte
	refDigests [][]byte
	data       []byte
}

func encodeRecord(codec Codec, r record) []byte {
	compressed := codec.Encode(r.data)

	var body bytes.Buffer
	body.Write(r.digest[:])

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(r.refDigests)))
	body.Write(u32[:])
	for _, rd := range r.refDigests {
		body.Write(rd)
	}

	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], uint64(len(r.data)))
	body.Write(u64[:])
	binary.LittleEndian.PutUint32(u32[:], uint32(len(compressed)))
	body.Write(u32[:])
	body.Write(compressed)

	out := make([]byte, 8+body.Len())
	binary.LittleEndian.PutUint64(out, uint64(body.Len()))
	copy(out[8:], body.Bytes())
	return out
}

// decodeRecord parses a record whose encoded bytes begin at buf[0]. buf must
// be at least long enough to hold the full record; extra trailing bytes are
// ignored.
func decodeRecord(codec Codec, buf []byte) (record, error) {
	if len(buf) < 8 {
		return record{}, fmt.Errorf("diskstore: truncated record header")
	}
	totalLen := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	if uint64(len(buf)) < totalLen {
		return record{}, fmt.Errorf("diskstore: truncated record body")
	}
	buf = buf[:totalLen]

	var r record
	if len(buf) < cas.DigestSize+4 {
		return record{}, fmt.Errorf("diskstore: truncated record digest")
	}
	copy(r.digest[:], buf[:cas.DigestSize])
	buf = buf[cas.DigestSize:]

	numRefs := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(numRefs)*cas.DigestSize+12 {
		return record{}, fmt.Errorf("diskstore: truncated record refs")
	}
	r.refDigests = make([][]byte, numRefs)
	for i := range r.refDigests {
		d := make([]byte, cas.DigestSize)
		copy(d, buf[:cas.DigestSize])
		r.refDigests[i] = d
		buf = buf[cas.DigestSize:]
	}

	dataLen := binary.LittleEndian.Uint64(buf)
	buf = buf[8:]
	compressedLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(compressedLen) {
		return record{}, fmt.Errorf("diskstore: truncated record data")
	}
	data, err := codec.Decode(buf[:compressedLen], int(dataLen))
	if err != nil {
		return record{}, fmt.Errorf("diskstore: decompress record data: %w", err)
	}
	r.data = data
	return r, nil
}

func recordLen(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("diskstore: truncated record header")
	}
	return 8 + int(binary.LittleEndian.Uint64(buf)), nil
}
