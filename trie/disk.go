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

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// DiskConfig configures a [Disk] trie's file.
type DiskConfig struct {
	// PayloadSize is the fixed width in bytes of every leaf's payload. It is
	// recorded in the file header and checked on every open.
	PayloadSize uint32

	// InitialSize is the file size to create a new trie file at. Zero uses a
	// 1 MiB default.
	InitialSize int64

	// MaxSize bounds how large the backing file may grow. Zero uses a 64 GiB
	// default. An allocation that would exceed MaxSize fails with
	// [ErrTableFull] rather than growing further.
	MaxSize int64
}

func (c DiskConfig) withDefaults() DiskConfig {
	if c.InitialSize <= 0 {
		c.InitialSize = 1 << 20
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 1 << 36
	}
	return c
}

// Disk is a hashed trie backed by a single memory-mapped, append-only file.
// Multiple processes may open the same file read-write; node and leaf
// allocation is coordinated with an OS advisory lock (see [unix.Flock]) so
// that concurrent writers never race to extend the file.
//
// Unlike [Memory], Disk serializes all trie mutation behind a single mutex:
// the in-memory backend's lock-free fast path buys intra-process parallelism
// that the disk backend cannot extend across processes anyway, and disk I/O
// dominates its cost regardless of internal locking granularity.
type Disk struct {
	cfg  DiskConfig
	path string

	mu   sync.RWMutex
	file *os.File
	mm   mmap.MMap
}

// OpenDisk opens or creates a trie file at path with the given configuration.
func OpenDisk(path string, cfg DiskConfig) (*Disk, error) {
	cfg = cfg.withDefaults()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trie: open %q: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("trie: stat %q: %w", path, err)
	}

	d := &Disk{cfg: cfg, path: path, file: f}
	if fi.Size() == 0 {
		if err := f.Truncate(cfg.InitialSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("trie: truncate %q: %w", path, err)
		}
		mm, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("trie: mmap %q: %w", path, err)
		}
		d.mm = mm
		writeHeader(d.mm, cfg.PayloadSize)
	} else {
		mm, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("trie: mmap %q: %w", path, err)
		}
		if err := checkHeader(mm, cfg.PayloadSize); err != nil {
			mm.Unmap()
			f.Close()
			return nil, err
		}
		d.mm = mm
	}
	return d, nil
}

// Close unmaps and closes the underlying file.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mm == nil {
		return nil
	}
	err := d.mm.Unmap()
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.mm = nil
	return err
}

func (d *Disk) closed() bool { return d.mm == nil }

// withFileLock runs fn while holding an OS advisory exclusive lock on the
// trie file, coordinating node allocation with any other process that has
// the same file mapped.
func (d *Disk) withFileLock(fn func() error) error {
	if err := unix.Flock(int(d.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("trie: flock %q: %w", d.path, err)
	}
	defer unix.Flock(int(d.file.Fd()), unix.LOCK_UN)
	return fn()
}

// grow extends the backing file and remaps it so it can hold at least
// need bytes. Callers must hold mu for writing.
func (d *Disk) grow(need int64) error {
	return d.withFileLock(func() error {
		fi, err := d.file.Stat()
		if err != nil {
			return fmt.Errorf("trie: stat %q: %w", d.path, err)
		}
		cur := fi.Size()
		newSize := cur
		for newSize < need {
			newSize *= 2
		}
		if newSize > d.cfg.MaxSize {
			if need > d.cfg.MaxSize {
				return ErrTableFull
			}
			newSize = d.cfg.MaxSize
		}
		if err := d.mm.Unmap(); err != nil {
			return fmt.Errorf("trie: unmap %q: %w", d.path, err)
		}
		// If need <= cur, another process already grew it; only remap.
		if newSize > cur {
			if err := d.file.Truncate(newSize); err != nil {
				return fmt.Errorf("trie: truncate %q: %w", d.path, err)
			}
		}
		mm, err := mmap.Map(d.file, mmap.RDWR, 0)
		if err != nil {
			return fmt.Errorf("trie: remap %q: %w", d.path, err)
		}
		d.mm = mm
		return nil
	})
}

// allocate reserves size bytes (8-byte aligned) at the end of the trie's
// allocated region, growing the file first if necessary. Callers must hold
// mu for writing.
func (d *Disk) allocate(size int64) (int64, error) {
	need := alignUp(size)
	cur := int64(binary.LittleEndian.Uint64(d.mm[offWatermark:]))
	next := cur + need
	if next > int64(len(d.mm)) {
		if err := d.grow(next); err != nil {
			return 0, err
		}
	}
	binary.LittleEndian.PutUint64(d.mm[offWatermark:], uint64(next))
	return cur, nil
}

func (d *Disk) allocateNode() (int64, error) { return d.allocate(nodeByteSize) }

func (d *Disk) allocateLeaf(key Key, payload []byte) (int64, error) {
	off, err := d.allocate(leafByteSize(d.cfg.PayloadSize))
	if err != nil {
		return 0, err
	}
	copy(d.mm[off:], key[:])
	copy(d.mm[off+KeySize:], payload)
	return off, nil
}

func (d *Disk) rootOffsetOrCreate() (int64, error) {
	if root := int64(binary.LittleEndian.Uint64(d.mm[offRoot:])); root != 0 {
		return root, nil
	}
	off, err := d.allocateNode()
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint64(d.mm[offRoot:], uint64(off))
	return off, nil
}

func (d *Disk) slotWord(nodeOff int64, idx byte) uint64 {
	return binary.LittleEndian.Uint64(d.mm[nodeOff+int64(idx)*8:])
}

func (d *Disk) setSlotWord(nodeOff int64, idx byte, word uint64) {
	binary.LittleEndian.PutUint64(d.mm[nodeOff+int64(idx)*8:], word)
}

func (d *Disk) leafKey(off int64) Key {
	var k Key
	copy(k[:], d.mm[off:off+KeySize])
	return k
}

func (d *Disk) leafPayload(off int64) []byte {
	payload := make([]byte, d.cfg.PayloadSize)
	copy(payload, d.mm[off+KeySize:off+KeySize+int64(d.cfg.PayloadSize)])
	return payload
}

// InsertLazy inserts key with the payload returned by construct if key is not
// already present in the trie, or returns the existing payload otherwise.
// construct runs at most once per key: Disk serializes all insertions with an
// internal mutex, so (unlike [Memory]) there is no speculative construction
// to discard on a lost race.
func (d *Disk) InsertLazy(key Key, construct func() []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed() {
		return nil, ErrClosed
	}

	cur, err := d.rootOffsetOrCreate()
	if err != nil {
		return nil, err
	}

	for level := 0; ; level++ {
		idx := key[level]
		word := d.slotWord(cur, idx)
		if word == 0 {
			payload := construct()
			leafOff, err := d.allocateLeaf(key, payload)
			if err != nil {
				return nil, err
			}
			d.setSlotWord(cur, idx, encodeSlot(slotTagLeaf, leafOff))
			return payload, nil
		}

		tag, off := decodeSlot(word)
		if tag == slotTagLeaf {
			existingKey := d.leafKey(off)
			if existingKey == key {
				return d.leafPayload(off), nil
			}
			childOff, err := d.allocateNode()
			if err != nil {
				return nil, err
			}
			d.setSlotWord(childOff, existingKey[level+1], encodeSlot(slotTagLeaf, off))
			d.setSlotWord(cur, idx, encodeSlot(0, childOff))
			cur = childOff
			continue
		}
		cur = off
	}
}

// Find reports the payload stored under key, if any.
func (d *Disk) Find(key Key) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed() {
		return nil, false, ErrClosed
	}

	cur := int64(binary.LittleEndian.Uint64(d.mm[offRoot:]))
	if cur == 0 {
		return nil, false, nil
	}
	for level := 0; ; level++ {
		word := d.slotWord(cur, key[level])
		if word == 0 {
			return nil, false, nil
		}
		tag, off := decodeSlot(word)
		if tag == slotTagLeaf {
			if d.leafKey(off) == key {
				return d.leafPayload(off), true, nil
			}
			return nil, false, nil
		}
		cur = off
	}
}

// Validate walks the trie structure, checking that every slot's tag and
// offset are self-consistent and within the allocated region. It does not
// verify leaf payload contents, only the index structure that locates them.
func (d *Disk) Validate() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed() {
		return ErrClosed
	}
	watermark := int64(binary.LittleEndian.Uint64(d.mm[offWatermark:]))
	root := int64(binary.LittleEndian.Uint64(d.mm[offRoot:]))
	if root == 0 {
		return nil
	}
	return d.validateNode(root, 0, watermark)
}

func (d *Disk) validateNode(nodeOff int64, level int, watermark int64) error {
	if nodeOff < headerSize || nodeOff+nodeByteSize > watermark {
		return fmt.Errorf("trie: node offset %d out of bounds (watermark %d)", nodeOff, watermark)
	}
	for i := 0; i < Fanout; i++ {
		word := d.slotWord(nodeOff, byte(i))
		if word == 0 {
			continue
		}
		tag, off := decodeSlot(word)
		if tag == slotTagLeaf {
			end := off + leafByteSize(d.cfg.PayloadSize)
			if off < headerSize || end > watermark {
				return fmt.Errorf("trie: leaf offset %d out of bounds (watermark %d)", off, watermark)
			}
			continue
		}
		if level+1 >= MaxDepth {
			return fmt.Errorf("trie: child node at max depth %d", level)
		}
		if err := d.validateNode(off, level+1, watermark); err != nil {
			return err
		}
	}
	return nil
}
