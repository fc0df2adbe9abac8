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

// Package storage abstracts the raw block devices the flashing engine
// writes to. Implementations are expected to be dumb byte stores; all
// partition awareness lives above this layer.
package storage

import (
	"fmt"

	"github.com/openfw/bootcore/api"
)

// Device is a random-access block device.
//
// Offsets and sizes are in bytes, but implementations may require them to
// respect the device block size for erase operations.
type Device interface {
	// ReadAt reads size bytes at the given byte offset.
	ReadAt(off int64, size int64) ([]byte, error)
	// WriteAt writes b at the given byte offset.
	WriteAt(off int64, b []byte) error
	// BlockSize returns the device block size in bytes.
	BlockSize() int64
	// Blocks returns the total number of blocks on the device.
	Blocks() int64
	// EraseBlocks erases blocks [start, end] using hardware support where
	// available. The post-erase content is unspecified. Implementations
	// without erase support return api.ErrUnsupported.
	EraseBlocks(start, end int64) error
}

// Size returns the device capacity in bytes.
func Size(d Device) int64 {
	return d.BlockSize() * d.Blocks()
}

func checkRange(d Device, off, size int64) error {
	if off < 0 || size < 0 || off+size > Size(d) {
		return fmt.Errorf("%w: range [%d, %d) exceeds device size %d", api.ErrInvalidParameter, off, off+size, Size(d))
	}
	return nil
}
