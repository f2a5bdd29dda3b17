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
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// SchemeBLAKE3 is the default hash scheme: a 32-byte BLAKE3 digest.
const SchemeBLAKE3 = "blake3"

// A CASID is the externalized, portable form of an object identity: its raw
// digest bytes together with the name of the hash scheme that produced them.
// CASIDs are used at system boundaries — persisted action-cache values,
// diagnostics, the plugin ABI (§6) — where an [ObjectRef]'s store-scoped
// index would be meaningless.
type CASID struct {
	Scheme string
	Digest []byte
}

// IsZero reports whether id carries no digest.
func (id CASID) IsZero() bool { return len(id.Digest) == 0 }

// Equal reports whether id and other name the same object.
func (id CASID) Equal(other CASID) bool {
	return id.Scheme == other.Scheme && bytes.Equal(id.Digest, other.Digest)
}

// String returns the canonical textual form of id: "<scheme>:<lower-hex>".
// This is the form printed by [PrintID] and accepted by [ParseID].
func (id CASID) String() string { return PrintID(id) }

// PrintID renders id in its textual form, a scheme prefix followed by the
// lower-case hex digest, e.g. "blake3:9f86d0...".
func PrintID(id CASID) string {
	scheme := id.Scheme
	if scheme == "" {
		scheme = SchemeBLAKE3
	}
	return scheme + ":" + hex.EncodeToString(id.Digest)
}

// ParseID parses the textual form of a CASID produced by [PrintID]. Parsing
// is case-insensitive for both the scheme tag and the hex digits; PrintID
// always emits lower case.
func ParseID(text string) (CASID, error) {
	scheme, hexDigest, ok := strings.Cut(text, ":")
	if !ok {
		return CASID{}, fmt.Errorf("parse CASID %q: missing scheme prefix", text)
	}
	digest, err := hex.DecodeString(hexDigest)
	if err != nil {
		return CASID{}, fmt.Errorf("parse CASID %q: %w", text, err)
	}
	return CASID{Scheme: strings.ToLower(scheme), Digest: digest}, nil
}
