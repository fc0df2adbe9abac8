// Copyright 2024 The bootcore Authors. All Rights Reserved.
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

package verify

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"github.com/dsoprea/go-ext4"
	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/bootimg"
	"github.com/openfw/bootcore/internal/esp"
	"github.com/openfw/bootcore/internal/gpt"
)

const (
	// maxBootPartition rejects digest requests against partitions far
	// too large to hold a boot image.
	maxBootPartition = 100 << 20

	// hashChunk bounds peak memory while digesting a partition.
	hashChunk = 1 << 20

	// espBase prefixes every reported boot-support file path.
	espBase = "/bootloader/"

	ext4SBOffset = 1024
	ext4ValidFS  = 0x0001

	squashfsMagic   = 0x73717368
	squashfsSBSize  = 96
	squashfsPadding = 4096

	verityMagic        = 0xb001b001
	verityMetadataSize = 32768
	verityBlockSize    = 4096
	verityHashSize     = 32
	verityHashesPerBlk = verityBlockSize / verityHashSize
)

// Engine computes the reporting digests. The selected algorithm is
// sticky across calls until changed.
type Engine struct {
	mu      sync.Mutex
	alg     Algorithm
	resolve func(label string) (gpt.Partition, error)
	fs      esp.FS
}

// NewEngine returns an Engine resolving partitions through resolve and
// walking the boot-support filesystem fs (nil disables the file-tree
// digest). The algorithm defaults to SHA-1.
func NewEngine(resolve func(label string) (gpt.Partition, error), fs esp.FS) *Engine {
	return &Engine{resolve: resolve, fs: fs}
}

// SetAlgorithm selects the digest by name; the empty string restores
// the default.
func (e *Engine) SetAlgorithm(name string) error {
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alg = alg
	return nil
}

// Algorithm returns the currently selected digest.
func (e *Engine) Algorithm() Algorithm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alg
}

func (e *Engine) report(emit func(string), base, name string, digest []byte) {
	emit(fmt.Sprintf("target: %s%s", base, name))
	emit(fmt.Sprintf("hash: %s", hex.EncodeToString(digest)))
}

// BootImageDigest hashes the boot image stored in the named partition:
// the header-declared payload plus its signature trailer when one is
// present. Two lines are emitted, the target and the lowercase hex
// digest.
func (e *Engine) BootImageDigest(label string, emit func(string)) error {
	p, err := e.resolve(label)
	if err != nil {
		return err
	}
	if p.Size() > maxBootPartition {
		return fmt.Errorf("%w: partition %q too large to contain a boot image", api.ErrInvalidParameter, label)
	}
	data, err := p.Dev.ReadAt(p.Offset(), p.Size())
	if err != nil {
		return fmt.Errorf("%w: reading partition %q: %v", api.ErrDeviceError, label, err)
	}
	h, err := bootimg.ParseHeader(data)
	if err != nil {
		return err
	}
	length := h.TotalSize()
	if length > int64(len(data)) {
		return fmt.Errorf("%w: boot image (%d bytes) exceeds partition", api.ErrInvalidParameter, length)
	}
	trailer := data[length:]
	if int64(len(trailer)) > TrailerMax {
		trailer = trailer[:TrailerMax]
	}
	if sig, err := ParseBootSignature(trailer); err != nil {
		glog.V(1).Infof("Boot image in %q has no signature trailer: %v", label, err)
	} else {
		length += sig.TotalSize
	}
	e.report(emit, "/", label, e.Algorithm().Sum(data[:length]))
	return nil
}

// ESPDigest hashes every file of the boot-support filesystem, one
// target/hash line pair per file. Empty files digest the empty input.
func (e *Engine) ESPDigest(emit func(string)) error {
	if e.fs == nil {
		return fmt.Errorf("%w: no boot-support filesystem", api.ErrUnsupported)
	}
	alg := e.Algorithm()
	return e.fs.Walk(func(path string) error {
		data, err := e.fs.ReadFile(path)
		if err != nil {
			return err
		}
		e.report(emit, espBase, path, alg.Sum(data))
		return nil
	})
}

// FilesystemDigest hashes the named partition's filesystem image plus
// its verity tree and metadata. The filesystem length is derived from
// the superblock (ext4 first, then squashfs) and the verity header
// directly after the payload is mandatory.
func (e *Engine) FilesystemDigest(label string, emit func(string)) error {
	p, err := e.resolve(label)
	if err != nil {
		return err
	}
	fsLen, err := ext4Length(p)
	if err != nil {
		glog.V(1).Infof("Partition %q is not ext4: %v", label, err)
		fsLen, err = squashfsLength(p)
	}
	if err != nil {
		return fmt.Errorf("%w: partition %q does not contain a supported filesystem", api.ErrUnsupported, label)
	}
	if err := checkVerityHeader(p, fsLen); err != nil {
		return err
	}
	total := fsLen + verityTreeSize(fsLen) + verityMetadataSize
	glog.V(1).Infof("Hashing %d bytes of %q", total, label)

	h := e.Algorithm().New()
	if err := hashPartition(p, total, h); err != nil {
		return err
	}
	e.report(emit, "/", p.Name, h.Sum(nil))
	return nil
}

func hashPartition(p gpt.Partition, length int64, h hash.Hash) error {
	if length > p.Size() {
		return fmt.Errorf("%w: %d bytes requested from partition %q (%d bytes)", api.ErrOutOfBounds, length, p.Name, p.Size())
	}
	for off := int64(0); off < length; off += hashChunk {
		n := int64(hashChunk)
		if remain := length - off; remain < n {
			n = remain
		}
		buf, err := p.Dev.ReadAt(p.Offset()+off, n)
		if err != nil {
			return fmt.Errorf("%w: reading partition %q at %d: %v", api.ErrDeviceError, p.Name, off, err)
		}
		h.Write(buf)
	}
	return nil
}

func ext4Length(p gpt.Partition) (int64, error) {
	buf, err := p.Dev.ReadAt(p.Offset()+ext4SBOffset, 1024)
	if err != nil {
		return 0, err
	}
	sb, err := ext4.NewSuperblockWithReader(bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	if sb.Data().SState&ext4ValidFS == 0 {
		return 0, fmt.Errorf("%w: ext4 filesystem not marked valid (state %#x)", api.ErrInvalidParameter, sb.Data().SState)
	}
	return int64(sb.BlockSize()) * int64(sb.BlockCount()), nil
}

func squashfsLength(p gpt.Partition) (int64, error) {
	buf, err := p.Dev.ReadAt(p.Offset(), squashfsSBSize)
	if err != nil {
		return 0, err
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != squashfsMagic {
		return 0, fmt.Errorf("%w: no squashfs magic", api.ErrInvalidParameter)
	}
	used := int64(binary.LittleEndian.Uint64(buf[40:48]))
	if used%squashfsPadding != 0 {
		used = (used/squashfsPadding + 1) * squashfsPadding
	}
	return used, nil
}

func checkVerityHeader(p gpt.Partition, fsLen int64) error {
	buf, err := p.Dev.ReadAt(p.Offset()+fsLen, 8)
	if err != nil {
		return fmt.Errorf("%w: reading verity header: %v", api.ErrDeviceError, err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != verityMagic {
		return fmt.Errorf("%w: verity magic not found", api.ErrInvalidParameter)
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != 0 {
		return fmt.Errorf("%w: verity protocol version %d", api.ErrUnsupported, v)
	}
	return nil
}

func ceilDiv(a, b int64) int64 { return (a + b - 1) / b }

func verityTreeBlocks(dataSize int64, level int) int64 {
	blocks := ceilDiv(dataSize, verityBlockSize)
	for l := level; l >= 0; l-- {
		blocks = ceilDiv(blocks, verityHashesPerBlk)
	}
	return blocks
}

// verityTreeSize sums the hash tree bottom-up: each level holds one
// hash per block of the level below, until a single block remains.
func verityTreeSize(dataSize int64) int64 {
	var total int64
	for level := 0; ; level++ {
		blocks := verityTreeBlocks(dataSize, level)
		total += blocks
		if blocks <= 1 {
			break
		}
	}
	return total * verityBlockSize
}
