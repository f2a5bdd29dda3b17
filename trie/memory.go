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

package trie

import "sync/atomic"

// Memory is a concurrent, lock-free hashed trie held entirely in process
// memory. The zero value is ready for use.
type Memory struct {
	root atomic.Pointer[memNode]
}

type memNode struct {
	slots [Fanout]atomic.Pointer[memSlot]
}

// memSlot occupies exactly one trie slot. A slot holds either a leaf or a
// child node, never both; which one is fixed for the lifetime of the slot
// value (a leaf that collides with a new key is replaced by installing a new
// memSlot wrapping a child node, not by mutating the leaf in place).
type memSlot struct {
	leaf  *memLeaf
	child *memNode
}

type memLeaf struct {
	key     Key
	ready   chan struct{} // closed once payload is populated
	payload []byte
}

func (m *Memory) rootNode() *memNode {
	if n := m.root.Load(); n != nil {
		return n
	}
	n := new(memNode)
	if m.root.CompareAndSwap(nil, n) {
		return n
	}
	return m.root.Load()
}

// InsertLazy inserts key with the payload returned by construct if key is not
// already present, or returns the existing payload otherwise. construct runs
// at most once per key, regardless of how many goroutines call InsertLazy for
// that key concurrently: exactly one caller wins the race to install the
// leaf and runs construct; every other caller, whether it arrived before or
// after, waits for that leaf and returns its payload without invoking
// construct itself.
func (m *Memory) InsertLazy(key Key, construct func() []byte) []byte {
	cur := m.rootNode()
	for level := 0; ; level++ {
		idx := key[level]
		slot := &cur.slots[idx]

		sv := slot.Load()
		if sv == nil {
			nl := &memLeaf{key: key, ready: make(chan struct{})}
			if slot.CompareAndSwap(nil, &memSlot{leaf: nl}) {
				payload := construct()
				nl.payload = payload
				close(nl.ready)
				return payload
			}
			// Lost the race for this slot; re-read and fall through to
			// inspect whoever won it, without advancing the level.
			sv = slot.Load()
		}

		if sv.leaf != nil {
			if sv.leaf.key == key {
				<-sv.leaf.ready
				return sv.leaf.payload
			}
			// A different key already occupies this slot. Expand it into a
			// child node holding the old leaf, then retry at the next level
			// with the same key. The child is fully linked before it is
			// published, so a concurrent reader never observes a partially
			// built node.
			expanded := new(memNode)
			expanded.slots[sv.leaf.key[level+1]].Store(&memSlot{leaf: sv.leaf})
			if slot.CompareAndSwap(sv, &memSlot{child: expanded}) {
				cur = expanded
				continue
			}
			// Lost the race to expand; whatever is there now, loop again at
			// the same level to reinterpret it.
			level--
			continue
		}

		cur = sv.child
	}
}

// Find reports the payload stored under key, if any.
func (m *Memory) Find(key Key) ([]byte, bool) {
	cur := m.root.Load()
	for level := 0; cur != nil; level++ {
		sv := cur.slots[key[level]].Load()
		if sv == nil {
			return nil, false
		}
		if sv.leaf != nil {
			if sv.leaf.key == key {
				<-sv.leaf.ready
				return sv.leaf.payload, true
			}
			return nil, false
		}
		cur = sv.child
	}
	return nil, false
}

// Each calls visit for every key currently stored in m, in no particular
// order. visit must not call InsertLazy on m.
func (m *Memory) Each(visit func(key Key, payload []byte) bool) {
	root := m.root.Load()
	if root == nil {
		return
	}
	eachNode(root, visit)
}

func eachNode(n *memNode, visit func(Key, []byte) bool) bool {
	for i := range n.slots {
		sv := n.slots[i].Load()
		if sv == nil {
			continue
		}
		if sv.leaf != nil {
			<-sv.leaf.ready
			if !visit(sv.leaf.key, sv.leaf.payload) {
				return false
			}
			continue
		}
		if !eachNode(sv.child, visit) {
			return false
		}
	}
	return true
}
