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

// Package sparse expands Android sparse images onto a partition writer.
package sparse

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
)

const (
	magic = 0xed26ff3a

	fileHeaderSize  = 28
	chunkHeaderSize = 12

	chunkRaw      = 0xcac1
	chunkFill     = 0xcac2
	chunkDontCare = 0xcac3
	chunkCRC32    = 0xcac4
)

// Writer is the subset of the partition writer the expander drives. Raw
// chunks are written, fill chunks materialized from their pattern, and
// don't-care chunks advance the cursor without touching the device.
type Writer interface {
	Write(b []byte) error
	Skip(size int64) error
	Fill(pattern uint32, size int64) error
}

// IsSparse reports whether b starts with the sparse image magic.
func IsSparse(b []byte) bool {
	return len(b) >= 4 && binary.LittleEndian.Uint32(b) == magic
}

// Expand streams the sparse image b onto w chunk by chunk.
func Expand(w Writer, b []byte) error {
	if len(b) < fileHeaderSize {
		return fmt.Errorf("%w: truncated sparse header", api.ErrInvalidParameter)
	}
	le := binary.LittleEndian
	if le.Uint32(b[0:4]) != magic {
		return fmt.Errorf("%w: not a sparse image", api.ErrInvalidParameter)
	}
	if major := le.Uint16(b[4:6]); major != 1 {
		return fmt.Errorf("%w: sparse major version %d", api.ErrUnsupported, major)
	}
	fileHdr := int(le.Uint16(b[8:10]))
	chunkHdr := int(le.Uint16(b[10:12]))
	blockSize := int64(le.Uint32(b[12:16]))
	totalChunks := le.Uint32(b[20:24])
	if fileHdr < fileHeaderSize || chunkHdr < chunkHeaderSize || blockSize == 0 || blockSize%4 != 0 {
		return fmt.Errorf("%w: implausible sparse geometry", api.ErrInvalidParameter)
	}

	off := fileHdr
	for i := uint32(0); i < totalChunks; i++ {
		if len(b) < off+chunkHdr {
			return fmt.Errorf("%w: truncated chunk header %d", api.ErrInvalidParameter, i)
		}
		h := b[off:]
		ctype := le.Uint16(h[0:2])
		blocks := int64(le.Uint32(h[4:8]))
		totalSz := int(le.Uint32(h[8:12]))
		if totalSz < chunkHdr || len(b) < off+totalSz {
			return fmt.Errorf("%w: chunk %d overruns image", api.ErrInvalidParameter, i)
		}
		data := b[off+chunkHdr : off+totalSz]
		size := blocks * blockSize

		switch ctype {
		case chunkRaw:
			if int64(len(data)) != size {
				return fmt.Errorf("%w: raw chunk %d carries %d bytes, expected %d", api.ErrInvalidParameter, i, len(data), size)
			}
			if err := w.Write(data); err != nil {
				return err
			}
		case chunkFill:
			if len(data) != 4 {
				return fmt.Errorf("%w: fill chunk %d pattern size %d", api.ErrInvalidParameter, i, len(data))
			}
			if err := w.Fill(le.Uint32(data), size); err != nil {
				return err
			}
		case chunkDontCare:
			if err := w.Skip(size); err != nil {
				return err
			}
		case chunkCRC32:
			// Verification checksum, nothing to write.
			glog.V(2).Infof("skipping sparse crc32 chunk")
		default:
			return fmt.Errorf("%w: sparse chunk type %#x", api.ErrUnsupported, ctype)
		}
		off += totalSz
	}
	return nil
}
