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
	"fmt"

	"github.com/opencas/cachecc/cas"
)

// valueSize is the fixed on-disk and in-memory encoding width of a cached
// value: one scheme tag byte followed by a digest. Backends that need a
// fixed payload width (the disk trie) rely on this constant.
const valueSize = 1 + cas.DigestSize

const schemeTagBLAKE3 = 1

func encodeValue(id cas.CASID) ([]byte, error) {
	if id.Scheme != "" && id.Scheme != cas.SchemeBLAKE3 {
		return nil, fmt.Errorf("action cache: unsupported scheme %q", id.Scheme)
	}
	if len(id.Digest) != cas.DigestSize {
		return nil, fmt.Errorf("action cache: digest has wrong width %d, want %d", len(id.Digest), cas.DigestSize)
	}
	buf := make([]byte, valueSize)
	buf[0] = schemeTagBLAKE3
	copy(buf[1:], id.Digest)
	return buf, nil
}

func decodeValue(buf []byte) (cas.CASID, error) {
	if len(buf) != valueSize {
		return cas.CASID{}, fmt.Errorf("action cache: stored value has wrong width %d, want %d", len(buf), valueSize)
	}
	if buf[0] != schemeTagBLAKE3 {
		return cas.CASID{}, fmt.Errorf("action cache: unrecognized scheme tag %d", buf[0])
	}
	digest := make([]byte, cas.DigestSize)
	copy(digest, buf[1:])
	return cas.CASID{Scheme: cas.SchemeBLAKE3, Digest: digest}, nil
}
