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
	"fmt"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/bootimg"
	"github.com/openfw/bootcore/internal/gpt"
)

// PatchKernel replaces only the kernel inside the boot partition's
// image, leaving the ramdisk and second-stage payloads byte-identical.
// The kernel size change shifts every later page-aligned region, so the
// patched image is assembled in a fresh buffer with all offsets derived
// from the new kernel length.
func (d *Dispatcher) PatchKernel(kernel []byte) error {
	if len(kernel) == 0 {
		return fmt.Errorf("%w: empty kernel image", api.ErrInvalidParameter)
	}
	p, err := d.Resolve(d.bootLabel(), gpt.UnitUser)
	if err != nil {
		return err
	}
	hdrBytes, err := p.Dev.ReadAt(p.Offset(), bootimg.HeaderSize)
	if err != nil {
		return fmt.Errorf("%w: reading boot header: %v", api.ErrDeviceError, err)
	}
	h, err := bootimg.ParseHeader(hdrBytes)
	if err != nil {
		return err
	}

	pageSize := int64(h.PageSize)
	oldKernel := h.PageAlign(int64(h.KernelSize))
	ramdisk := h.PageAlign(int64(h.RamdiskSize))
	second := h.PageAlign(int64(h.SecondSize))
	newKernel := h.PageAlign(int64(len(kernel)))
	oldTotal := h.TotalSize()
	newTotal := pageSize + newKernel + ramdisk + second
	if newTotal > p.Size() {
		return fmt.Errorf("%w: patched image (%d bytes) exceeds partition %q (%d bytes)",
			api.ErrOutOfBounds, newTotal, p.Name, p.Size())
	}

	old, err := p.Dev.ReadAt(p.Offset(), oldTotal)
	if err != nil {
		return fmt.Errorf("%w: reading boot image: %v", api.ErrDeviceError, err)
	}

	img := make([]byte, newTotal)
	copy(img[:pageSize], old[:pageSize])
	bootimg.WriteSizes(img, uint32(len(kernel)), h.RamdiskSize, h.SecondSize)
	copy(img[pageSize:], kernel)
	copy(img[pageSize+newKernel:], old[pageSize+oldKernel:pageSize+oldKernel+int64(h.RamdiskSize)])
	copy(img[pageSize+newKernel+ramdisk:], old[pageSize+oldKernel+ramdisk:pageSize+oldKernel+ramdisk+int64(h.SecondSize)])

	glog.Infof("Patching kernel in %q: %d -> %d bytes", p.Name, h.KernelSize, len(kernel))
	return NewWriter(p).Write(img)
}
