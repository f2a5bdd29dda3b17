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
	"compress/flate"
	"compress/zlib"
	"io"

	"github.com/golang/snappy"
)

// A Codec compresses and decompresses the data half of a blob log record.
// A Store calls Encode only while holding its own mutex, but calls Decode
// from Load and GetID without it, so Decode must be safe for concurrent use
// by multiple goroutines.
type Codec interface {
	Encode(data []byte) []byte
	Decode(compressed []byte, sizeHint int) ([]byte, error)
}

// SnappyCodec compresses records with [snappy.Encode]. It is the default
// codec: fast, and adequate for object files and diagnostics, which rarely
// compress as well as text.
type SnappyCodec struct{}

func (SnappyCodec) Encode(data []byte) []byte { return snappy.Encode(nil, data) }

func (SnappyCodec) Decode(compressed []byte, sizeHint int) ([]byte, error) {
	return snappy.Decode(make([]byte, 0, sizeHint), compressed)
}

// ZlibLevel selects a compression level for [ZlibCodec].
type ZlibLevel int

// Compression level constants forwarded from compress/flate.
const (
	ZlibFastest  ZlibLevel = flate.BestSpeed
	ZlibSmallest ZlibLevel = flate.BestCompression
	ZlibDefault  ZlibLevel = flate.DefaultCompression
)

// ZlibCodec compresses records with compress/zlib. It trades encode speed
// for a smaller log, which suits a store whose objects are mostly
// dependency listings and other small, highly repetitive text.
type ZlibCodec struct{ Level ZlibLevel }

func (c ZlibCodec) Encode(data []byte) []byte {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, int(c.Level))
	if err != nil {
		// An invalid level falls back to the package default rather than
		// dropping data.
		w = zlib.NewWriter(&buf)
	}
	w.Write(data)
	w.Close()
	return buf.Bytes()
}

func (ZlibCodec) Decode(compressed []byte, sizeHint int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := io.Copy(out, r); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
