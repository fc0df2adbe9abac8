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

// Package flash routes partition images onto the disk: a bounds-checked
// sequential writer, a label dispatcher with its exception table, erase
// and secure-wipe operations, and the kernel-only boot image patch.
package flash

import (
	"encoding/binary"
	"fmt"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/gpt"
)

// fillChunk bounds the scratch buffer a Fill materializes at a time.
const fillChunk = 1 << 20

// Writer is a sequential writer over one partition. The cursor starts
// at the partition base and every operation keeps it inside the
// partition: an out-of-bounds request fails without moving the cursor,
// while a device error after the bounds check leaves the cursor
// advanced and the writer must be abandoned.
type Writer struct {
	part   gpt.Partition
	cursor int64
}

// NewWriter returns a Writer positioned at the start of p.
func NewWriter(p gpt.Partition) *Writer {
	return &Writer{part: p}
}

// Offset returns the cursor position relative to the partition base.
func (w *Writer) Offset() int64 { return w.cursor }

func (w *Writer) check(size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", api.ErrInvalidParameter, size)
	}
	if w.cursor+size > w.part.Size() {
		return fmt.Errorf("%w: write of %d bytes at offset %d exceeds partition %q (%d bytes)",
			api.ErrOutOfBounds, size, w.cursor, w.part.Name, w.part.Size())
	}
	return nil
}

// Write copies b to the device at the cursor and advances it.
func (w *Writer) Write(b []byte) error {
	if err := w.check(int64(len(b))); err != nil {
		return err
	}
	off := w.part.Offset() + w.cursor
	w.cursor += int64(len(b))
	if err := w.part.Dev.WriteAt(off, b); err != nil {
		return fmt.Errorf("%w: writing %d bytes to %q at %d: %v", api.ErrDeviceError, len(b), w.part.Name, off, err)
	}
	return nil
}

// Skip advances the cursor without touching the device.
func (w *Writer) Skip(size int64) error {
	if err := w.check(size); err != nil {
		return err
	}
	w.cursor += size
	return nil
}

// Fill writes size bytes of the repeated little-endian 32-bit pattern.
func (w *Writer) Fill(pattern uint32, size int64) error {
	if size%4 != 0 {
		return fmt.Errorf("%w: fill size %d is not 4-byte aligned", api.ErrInvalidParameter, size)
	}
	if err := w.check(size); err != nil {
		return err
	}
	buf := make([]byte, minInt64(size, fillChunk))
	for i := 0; i < len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], pattern)
	}
	for size > 0 {
		n := minInt64(size, int64(len(buf)))
		if err := w.Write(buf[:n]); err != nil {
			return err
		}
		size -= n
	}
	return nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
