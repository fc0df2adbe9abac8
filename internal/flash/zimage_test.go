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
	"encoding/binary"
	"errors"
	"testing"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/bootimg"
	"github.com/openfw/bootcore/internal/gpt"
)

// buildBootImage assembles a v0 boot image at a 512-byte page size.
func buildBootImage(kernel, ramdisk []byte) []byte {
	const page = 512
	align := func(n int) int { return (n + page - 1) / page * page }

	img := make([]byte, page+align(len(kernel))+align(len(ramdisk)))
	copy(img, bootimg.Magic)
	le := binary.LittleEndian
	le.PutUint32(img[8:], uint32(len(kernel)))
	le.PutUint32(img[16:], uint32(len(ramdisk)))
	le.PutUint32(img[36:], page)
	copy(img[page:], kernel)
	copy(img[page+align(len(kernel)):], ramdisk)
	return img
}

func TestPatchKernel(t *testing.T) {
	d, dev := newTestDispatcher(t)

	kernel := bytes.Repeat([]byte{0xaa}, 600) // 2 pages aligned
	ramdisk := bytes.Repeat([]byte{0xbb}, 300)
	if _, err := d.Flash("boot", buildBootImage(kernel, ramdisk)); err != nil {
		t.Fatalf("Flash(boot): %v", err)
	}

	// A longer kernel shifts the ramdisk to a later page boundary.
	newKernel := bytes.Repeat([]byte{0xcc}, 1100) // 3 pages aligned
	if _, err := d.Flash("zimage", newKernel); err != nil {
		t.Fatalf("Flash(zimage): %v", err)
	}

	p, err := d.Resolve("boot", gpt.UnitUser)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := dev.ReadAt(p.Offset(), 512+1536+512)
	if err != nil {
		t.Fatal(err)
	}
	h, err := bootimg.ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader after patch: %v", err)
	}
	if h.KernelSize != 1100 {
		t.Errorf("KernelSize = %d, want 1100", h.KernelSize)
	}
	if h.RamdiskSize != 300 {
		t.Errorf("RamdiskSize = %d, want untouched 300", h.RamdiskSize)
	}
	if !bytes.Equal(raw[512:512+1100], newKernel) {
		t.Error("kernel payload does not match")
	}
	if !bytes.Equal(raw[512+1536:512+1536+300], ramdisk) {
		t.Error("ramdisk payload moved or corrupted")
	}
}

func TestPatchKernelErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	if err := d.PatchKernel(nil); !errors.Is(err, api.ErrInvalidParameter) {
		t.Errorf("PatchKernel(nil) = %v, want ErrInvalidParameter", err)
	}
	// Boot partition holds no image yet.
	if err := d.PatchKernel([]byte{1}); err == nil {
		t.Error("PatchKernel succeeded on a blank partition")
	}

	p, err := d.Resolve("boot", gpt.UnitUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Flash("boot", buildBootImage(make([]byte, 512), nil)); err != nil {
		t.Fatalf("Flash(boot): %v", err)
	}
	if err := d.PatchKernel(make([]byte, p.Size())); !errors.Is(err, api.ErrOutOfBounds) {
		t.Errorf("oversized PatchKernel = %v, want ErrOutOfBounds", err)
	}
}
