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

package flash

import (
	"crypto/rand"
	"fmt"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/gpt"
	"github.com/openfw/bootcore/internal/storage"
)

// blankProbeSize is how much of an erased region gets an explicit
// zero-fill after a hardware erase. Filesystem-presence heuristics
// probe the leading block, and a hardware erase gives no guarantee
// about the bytes it leaves behind.
const blankProbeSize = 4096

// Erase wipes the named partition. A hardware erase is attempted
// first, followed by a zero-fill of the leading bytes; if the hardware
// erase fails the whole region is zero-filled instead. The cached
// partition table is refreshed unless the partition carries the system
// type.
func (d *Dispatcher) Erase(label string) error {
	p, err := d.Resolve(label, gpt.UnitUser)
	if err != nil {
		return err
	}
	glog.Infof("Erasing %q (%d bytes)", p.Name, p.Size())

	zeroLen := minInt64(blankProbeSize, p.Size())
	if err := p.Dev.EraseBlocks(p.StartLBA, p.EndLBA); err != nil {
		glog.Warningf("Hardware erase of %q failed (%v), zero-filling", p.Name, err)
		zeroLen = p.Size()
	}
	if err := NewWriter(p).Fill(0, zeroLen); err != nil {
		return err
	}

	if p.Type != gpt.GUIDSystem {
		if err := d.User.Refresh(); err != nil {
			return fmt.Errorf("refreshing partition table: %w", err)
		}
	}
	return nil
}

// garbageChunk is the unit of random overwrite, rounded down to the
// device block size before use.
const garbageChunk = 1 << 20

// GarbageDisk overwrites the entire root disk with random bytes and
// refreshes the cached partition table, which will be empty afterwards.
func (d *Dispatcher) GarbageDisk() error {
	size := storage.Size(d.Disk)
	chunk := garbageChunk - garbageChunk%d.Disk.BlockSize()
	if chunk <= 0 {
		chunk = d.Disk.BlockSize()
	}
	glog.Infof("Overwriting %d bytes of disk with random data", size)

	buf := make([]byte, chunk)
	for off := int64(0); off < size; off += int64(len(buf)) {
		if remain := size - off; remain < int64(len(buf)) {
			buf = buf[:remain]
		}
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generating random block: %w", err)
		}
		if err := d.Disk.WriteAt(off, buf); err != nil {
			return fmt.Errorf("%w: overwriting disk at %d: %v", api.ErrDeviceError, off, err)
		}
	}
	if err := d.User.Refresh(); err != nil {
		return fmt.Errorf("refreshing partition table: %w", err)
	}
	return nil
}
