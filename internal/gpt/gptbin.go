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

package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openfw/bootcore/api"
)

// Binary partition descriptor blob accepted on the "gpt" flash label:
// a fixed header followed by exactly NPart fixed-size records.
const (
	// DescriptorMagic identifies a partition descriptor blob.
	DescriptorMagic = 0x54504721

	descHeaderSize = 16
	descRecordSize = 76
)

// Descriptor is a parsed binary partition table descriptor.
type Descriptor struct {
	StartLBA int64
	Records  []Record
}

// ParseDescriptor validates and decodes a binary descriptor blob. The total
// size must be exactly header + NPart*record; anything else is rejected.
func ParseDescriptor(b []byte) (*Descriptor, error) {
	if len(b) < descHeaderSize {
		return nil, fmt.Errorf("%w: descriptor blob of %d bytes", api.ErrInvalidParameter, len(b))
	}
	if binary.LittleEndian.Uint32(b[0:4]) != DescriptorMagic {
		return nil, fmt.Errorf("%w: bad descriptor magic", api.ErrInvalidParameter)
	}
	npart := int(binary.LittleEndian.Uint32(b[4:8]))
	if len(b) != descHeaderSize+npart*descRecordSize {
		return nil, fmt.Errorf("%w: descriptor size %d does not match %d records", api.ErrInvalidParameter, len(b), npart)
	}

	d := &Descriptor{
		StartLBA: int64(binary.LittleEndian.Uint64(b[8:16])),
	}
	for i := 0; i < npart; i++ {
		r := b[descHeaderSize+i*descRecordSize:][:descRecordSize]
		var ptype, unique GUID
		copy(ptype[:], r[44:60])
		copy(unique[:], r[60:76])
		name := r[:36]
		if j := bytes.IndexByte(name, 0); j >= 0 {
			name = name[:j]
		}
		d.Records = append(d.Records, Record{
			Name:   string(name),
			Blocks: int64(binary.LittleEndian.Uint64(r[36:44])),
			Type:   ptype,
			Unique: unique,
		})
	}
	return d, nil
}

// EncodeDescriptor builds a descriptor blob, the inverse of ParseDescriptor.
// Host-side tooling uses it to assemble "flash gpt" payloads.
func EncodeDescriptor(d *Descriptor) []byte {
	b := make([]byte, descHeaderSize+len(d.Records)*descRecordSize)
	binary.LittleEndian.PutUint32(b[0:4], DescriptorMagic)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(d.Records)))
	binary.LittleEndian.PutUint64(b[8:16], uint64(d.StartLBA))
	for i, rec := range d.Records {
		r := b[descHeaderSize+i*descRecordSize:][:descRecordSize]
		copy(r[:35], rec.Name)
		binary.LittleEndian.PutUint64(r[36:44], uint64(rec.Blocks))
		copy(r[44:60], rec.Type[:])
		copy(r[60:76], rec.Unique[:])
	}
	return b
}
