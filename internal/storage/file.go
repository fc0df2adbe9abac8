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
	"os"

	"github.com/openfw/bootcore/api"
)

// FileDisk is a Device backed by a regular file or a raw block device node.
type FileDisk struct {
	f         *os.File
	blockSize int64
	blocks    int64
}

// OpenFileDisk opens path as a block device with the given block size.
// The file size must be a whole number of blocks.
func OpenFileDisk(path string, blockSize int64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk %q: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat disk %q: %w", path, err)
	}
	if fi.Size()%blockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: disk size %d is not a multiple of block size %d", api.ErrInvalidParameter, fi.Size(), blockSize)
	}
	return &FileDisk{f: f, blockSize: blockSize, blocks: fi.Size() / blockSize}, nil
}

// Close releases the underlying file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}

// ReadAt reads size bytes at byte offset off.
func (d *FileDisk) ReadAt(off int64, size int64) ([]byte, error) {
	if err := checkRange(d, off, size); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if _, err := d.f.ReadAt(b, off); err != nil {
		return nil, fmt.Errorf("%w: read %d bytes at %d: %v", api.ErrDeviceError, size, off, err)
	}
	return b, nil
}

// WriteAt writes b at byte offset off.
func (d *FileDisk) WriteAt(off int64, b []byte) error {
	if err := checkRange(d, off, int64(len(b))); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(b, off); err != nil {
		return fmt.Errorf("%w: write %d bytes at %d: %v", api.ErrDeviceError, len(b), off, err)
	}
	return nil
}

// BlockSize returns the configured block size.
func (d *FileDisk) BlockSize() int64 { return d.blockSize }

// Blocks returns the device size in blocks.
func (d *FileDisk) Blocks() int64 { return d.blocks }

// EraseBlocks is unsupported on file-backed disks; callers fall back to
// writing zeroes themselves.
func (d *FileDisk) EraseBlocks(start, end int64) error {
	return fmt.Errorf("%w: file-backed disk has no hardware erase", api.ErrUnsupported)
}
