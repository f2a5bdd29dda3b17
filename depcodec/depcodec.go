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

// Package depcodec encodes a compile job's dependency listing — the set of
// source and header paths a compilation read — into a compact form suitable
// for content-addressed storage, and can replay it back into the
// Makefile-style depfile a build system actually expects on disk.
package depcodec

import (
	"encoding/binary"
	"fmt"
)

// List is a compile job's dependency listing: the build target the
// dependencies apply to (usually the primary output path) and the paths it
// depends on, in the order the compiler reported them.
type List struct {
	Target string
	Paths  []string
}

// Encode packs l into its canonical binary form.
func Encode(l List) []byte {
	var out []byte
	out = appendString(out, l.Target)
	out = appendUint32(out, uint32(len(l.Paths)))
	for _, p := range l.Paths {
		out = appendString(out, p)
	}
	return out
}

// Decode unpacks the binary form produced by [Encode].
func Decode(data []byte) (List, error) {
	target, data, err := readString(data)
	if err != nil {
		return List{}, fmt.Errorf("depcodec: decode target: %w", err)
	}
	n, data, err := readUint32(data)
	if err != nil {
		return List{}, fmt.Errorf("depcodec: decode path count: %w", err)
	}
	paths := make([]string, n)
	for i := range paths {
		var p string
		p, data, err = readString(data)
		if err != nil {
			return List{}, fmt.Errorf("depcodec: decode path %d: %w", i, err)
		}
		paths[i] = p
	}
	if len(data) != 0 {
		return List{}, fmt.Errorf("depcodec: %d trailing bytes after decoding", len(data))
	}
	return List{Target: target, Paths: paths}, nil
}

func appendUint32(out []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(out, buf[:]...)
}

func appendString(out []byte, s string) []byte {
	out = appendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("truncated length prefix")
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func readString(data []byte) (string, []byte, error) {
	n, data, err := readUint32(data)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(data)) < n {
		return "", nil, fmt.Errorf("truncated string of length %d", n)
	}
	return string(data[:n]), data[n:], nil
}
