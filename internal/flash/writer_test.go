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
	"bytes"
	"errors"
	"testing"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/gpt"
	"github.com/openfw/bootcore/internal/storage"
)

func testPartition(t *testing.T, blocks int64) (gpt.Partition, *storage.MemDisk) {
	t.Helper()
	dev := storage.NewMemDisk(blocks+8, 512)
	return gpt.Partition{
		Dev:       dev,
		Name:      "scratch",
		StartLBA:  4,
		EndLBA:    4 + blocks - 1,
		BlockSize: 512,
	}, dev
}

func TestWriterBounds(t *testing.T) {
	p, dev := testPartition(t, 4) // 2048 bytes

	w := NewWriter(p)
	if err := w.Write(bytes.Repeat([]byte{1}, 2000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Out-of-bounds fails and must not move the cursor.
	if err := w.Write(make([]byte, 100)); !errors.Is(err, api.ErrOutOfBounds) {
		t.Fatalf("overflowing Write = %v, want ErrOutOfBounds", err)
	}
	if got := w.Offset(); got != 2000 {
		t.Errorf("Offset() after refused write = %d, want 2000", got)
	}
	// The remaining space is still writable.
	if err := w.Write(make([]byte, 48)); err != nil {
		t.Errorf("Write of remaining space: %v", err)
	}

	// Nothing may land outside the partition.
	for off := int64(0); off < p.Offset(); off += 512 {
		b, _ := dev.ReadAt(off, 512)
		if !bytes.Equal(b, make([]byte, 512)) {
			t.Fatalf("bytes before partition modified at %d", off)
		}
	}
}

func TestWriterSkipAndFill(t *testing.T) {
	p, dev := testPartition(t, 4)

	w := NewWriter(p)
	if err := w.Write([]byte{0xde, 0xad}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Skip(510); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if err := w.Fill(0x11223344, 8); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if got := w.Offset(); got != 520 {
		t.Errorf("Offset() = %d, want 520", got)
	}

	got, err := dev.ReadAt(p.Offset(), 520)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, 520)
	want[0], want[1] = 0xde, 0xad
	copy(want[512:], []byte{0x44, 0x33, 0x22, 0x11, 0x44, 0x33, 0x22, 0x11})
	if !bytes.Equal(got, want) {
		t.Error("partition content does not match skip/fill layout")
	}

	if err := w.Fill(0, 6); !errors.Is(err, api.ErrInvalidParameter) {
		t.Errorf("unaligned Fill = %v, want ErrInvalidParameter", err)
	}
	if err := w.Skip(-1); !errors.Is(err, api.ErrInvalidParameter) {
		t.Errorf("negative Skip = %v, want ErrInvalidParameter", err)
	}
}
