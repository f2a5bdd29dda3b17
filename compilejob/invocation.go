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

// Package compilejob memoizes compiler invocations: it canonicalizes an
// invocation, derives its action key, and either replays a cached result or
// runs the invocation and stores its outputs for next time.
package compilejob

import (
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/opencas/cachecc/actioncache"
)

// Invocation describes a single compiler invocation to memoize. Fields other
// than the three output paths are exactly what the compiler was asked to do
// and participate in the action key; the output paths name where the caller
// wants the results written and do not, since the same inputs produced at a
// different destination path are still a cache hit.
type Invocation struct {
	// Compiler is the path (or logical name) of the compiler binary.
	Compiler string

	// Args holds every other command-line argument: source files, include
	// paths, defines, optimization flags, and so on.
	Args []string

	// WorkingDir is the directory the compiler is run from. It participates
	// in the action key because relative paths in Args are resolved against
	// it.
	WorkingDir string

	// OutputPath is where the primary output is written.
	OutputPath string

	// SerialDiagnosticsPath is where a machine-readable diagnostics file is
	// written, or "" if the invocation does not request one.
	SerialDiagnosticsPath string

	// DependencyFilePath is where a Makefile-style dependency listing is
	// written, or "" if the invocation does not request one.
	DependencyFilePath string
}

// wantsDiagnostics reports whether inv requests a diagnostics file.
func (inv Invocation) wantsDiagnostics() bool { return inv.SerialDiagnosticsPath != "" }

// wantsDependencies reports whether inv requests a dependency file.
func (inv Invocation) wantsDependencies() bool { return inv.DependencyFilePath != "" }

// ActionKey derives the action cache key for inv: the hash of its
// canonicalized form, which omits the three output paths so that requesting
// the same compilation to a different destination still hits the cache. It
// also omits whether diagnostics or a dependency file were requested: the
// underlying compilation is identical either way, and the serialized
// diagnostics object is produced on a miss regardless of that flag, so
// requesting one does not fork the cache.
func ActionKey(inv Invocation) actioncache.Key {
	h := blake3.New(actioncache.KeySize, nil)

	writeString(h, inv.Compiler)
	writeString(h, inv.WorkingDir)

	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(inv.Args)))
	h.Write(n[:])
	for _, a := range inv.Args {
		writeString(h, a)
	}

	var key actioncache.Key
	copy(key[:], h.Sum(nil))
	return key
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeString(w byteWriter, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	w.Write(n[:])
	w.Write([]byte(s))
}
