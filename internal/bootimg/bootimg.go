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

// Package bootimg parses the Android boot image header, just far enough to
// size and reassemble images; container payloads are opaque to this code.
package bootimg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openfw/bootcore/api"
)

const (
	// Magic opens every boot image.
	Magic = "ANDROID!"
	// MagicSize is the length of the magic field.
	MagicSize = 8
	// HeaderSize is the byte size of the fixed v0 header fields.
	HeaderSize = 48
)

// Header is the fixed portion of an Android boot image (v0 layout).
type Header struct {
	KernelSize  uint32
	KernelAddr  uint32
	RamdiskSize uint32
	RamdiskAddr uint32
	SecondSize  uint32
	SecondAddr  uint32
	TagsAddr    uint32
	PageSize    uint32
}

// ParseHeader decodes and sanity-checks a boot image header.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too small for a boot image", api.ErrInvalidParameter, len(b))
	}
	if !bytes.Equal(b[:MagicSize], []byte(Magic)) {
		return nil, fmt.Errorf("%w: bad boot image magic", api.ErrInvalidParameter)
	}
	h := &Header{}
	le := binary.LittleEndian
	h.KernelSize = le.Uint32(b[8:])
	h.KernelAddr = le.Uint32(b[12:])
	h.RamdiskSize = le.Uint32(b[16:])
	h.RamdiskAddr = le.Uint32(b[20:])
	h.SecondSize = le.Uint32(b[24:])
	h.SecondAddr = le.Uint32(b[28:])
	h.TagsAddr = le.Uint32(b[32:])
	h.PageSize = le.Uint32(b[36:])
	if h.PageSize == 0 || h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("%w: implausible page size %d", api.ErrInvalidParameter, h.PageSize)
	}
	return h, nil
}

// PageAlign rounds n up to the image's page size.
func (h *Header) PageAlign(n int64) int64 {
	p := int64(h.PageSize)
	return (n + p - 1) / p * p
}

// TotalSize returns the page-aligned size of the full image: header page,
// kernel, ramdisk and second stage.
func (h *Header) TotalSize() int64 {
	size := int64(h.PageSize)
	size += h.PageAlign(int64(h.KernelSize))
	size += h.PageAlign(int64(h.RamdiskSize))
	size += h.PageAlign(int64(h.SecondSize))
	return size
}

// WriteSizes updates the size fields of a serialized header in place.
// The remaining header bytes (addresses, cmdline, id) carry over untouched.
func WriteSizes(b []byte, kernel, ramdisk, second uint32) {
	le := binary.LittleEndian
	le.PutUint32(b[8:], kernel)
	le.PutUint32(b[16:], ramdisk)
	le.PutUint32(b[24:], second)
}
