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

package storage

import (
	"fmt"

	"github.com/openfw/bootcore/api"
)

// MemDisk is a simple in-memory block device, primarily for tests.
type MemDisk struct {
	Data      []byte
	blockSize int64

	// ErasePattern, when non-nil, is what EraseBlocks fills erased blocks
	// with; hardware erase does not guarantee zeroes, and tests exercise
	// exactly that property.
	ErasePattern *byte
	// FailErase makes EraseBlocks report ErrUnsupported.
	FailErase bool
	// OnWrite, when set, is called before every write with its offset.
	// Returning an error aborts the write.
	OnWrite func(off int64) error
}

// NewMemDisk returns a zero-filled in-memory device of blocks*blockSize bytes.
func NewMemDisk(blocks, blockSize int64) *MemDisk {
	return &MemDisk{
		Data:      make([]byte, blocks*blockSize),
		blockSize: blockSize,
	}
}

// ReadAt reads size bytes at byte offset off.
func (d *MemDisk) ReadAt(off int64, size int64) ([]byte, error) {
	if err := checkRange(d, off, size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	copy(b, d.Data[off:off+size])
	return b, nil
}

// WriteAt writes b at byte offset off.
func (d *MemDisk) WriteAt(off int64, b []byte) error {
	if err := checkRange(d, off, int64(len(b))); err != nil {
		return err
	}
	if d.OnWrite != nil {
		if err := d.OnWrite(off); err != nil {
			return err
		}
	}
	copy(d.Data[off:], b)
	return nil
}

// BlockSize returns the configured block size.
func (d *MemDisk) BlockSize() int64 { return d.blockSize }

// Blocks returns the device size in blocks.
func (d *MemDisk) Blocks() int64 { return int64(len(d.Data)) / d.blockSize }

// EraseBlocks fills blocks [start, end] with ErasePattern, emulating a
// hardware erase with unspecified resulting content.
func (d *MemDisk) EraseBlocks(start, end int64) error {
	if d.FailErase {
		return fmt.Errorf("%w: erase disabled", api.ErrUnsupported)
	}
	if start < 0 || end < start || (end+1)*d.blockSize > int64(len(d.Data)) {
		return fmt.Errorf("%w: erase range [%d, %d]", api.ErrInvalidParameter, start, end)
	}
	pattern := byte(0xff)
	if d.ErasePattern != nil {
		pattern = *d.ErasePattern
	}
	for i := start * d.blockSize; i < (end+1)*d.blockSize; i++ {
		d.Data[i] = pattern
	}
	return nil
}
