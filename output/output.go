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

// Package output models the files a compiler invocation produces — the
// primary output, serialized diagnostics, a dependency listing — as an
// abstract sink that a caller writes to exactly once, either keeping the
// bytes it produced or discarding them.
//
// Two backends are provided: a [CapturingBackend] that holds written bytes in
// memory for later insertion into a [github.com/opencas/cachecc/cas.Store],
// and a [DiskBackend] that writes the physical file a compiler invocation
// actually expects to find on disk. [Mirror] combines backends so a single
// write lands in both at once.
package output

import "context"

// Kind names the role an output file plays in a compile job's result, using
// the same symbolic names the result tree stores them under.
type Kind string

const (
	// KindOutput is a compile job's primary output (an object file, for
	// instance).
	KindOutput Kind = "<output>"

	// KindSerialDiagnostics is a machine-readable diagnostics file alongside
	// the primary output.
	KindSerialDiagnostics Kind = "<serial-diags>"

	// KindDependencies is a dependency listing (a Makefile-style depfile).
	KindDependencies Kind = "<dependencies>"
)

// An OutputFile is a single write-once sink for one output of a compile job.
type OutputFile interface {
	// Path is the path the invocation was told to write this output to.
	Path() string

	// Kind reports this output's role.
	Kind() Kind

	// Keep commits data as this output's final content.
	Keep(ctx context.Context, data []byte) error

	// Discard abandons this output: the invocation produced nothing for it,
	// or its content should not be retained.
	Discard(ctx context.Context) error
}

// Backend creates [OutputFile] sinks for a compile job's declared outputs.
type Backend interface {
	Create(ctx context.Context, path string, kind Kind) (OutputFile, error)
}
