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
package sparse

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// imageWriter materializes expanded output into a flat buffer so tests can
// compare it against the expected partition content.
type imageWriter struct {
	buf bytes.Buffer
}

func (w *imageWriter) Write(b []byte) error {
	w.buf.Write(b)
	return nil
}

func (w *imageWriter) Skip(size int64) error {
	w.buf.Write(make([]byte, size))
	return nil
}

func (w *imageWriter) Fill(pattern uint32, size int64) error {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], pattern)
	for i := int64(0); i < size; i += 4 {
		w.buf.Write(p[:])
	}
	return nil
}

type chunk struct {
	ctype  uint16
	blocks uint32
	data   []byte
}

func buildSparse(blockSize uint32, chunks []chunk) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	hdr := make([]byte, fileHeaderSize)
	le.PutUint32(hdr[0:4], magic)
	le.PutUint16(hdr[4:6], 1)
	le.PutUint16(hdr[8:10], fileHeaderSize)
	le.PutUint16(hdr[10:12], chunkHeaderSize)
	le.PutUint32(hdr[12:16], blockSize)
	le.PutUint32(hdr[20:24], uint32(len(chunks)))
	b.Write(hdr)
	for _, c := range chunks {
		ch := make([]byte, chunkHeaderSize)
		le.PutUint16(ch[0:2], c.ctype)
		le.PutUint32(ch[4:8], c.blocks)
		le.PutUint32(ch[8:12], uint32(chunkHeaderSize+len(c.data)))
		b.Write(ch)
		b.Write(c.data)
	}
	return b.Bytes()
}

func TestIsSparse(t *testing.T) {
	img := buildSparse(8, nil)
	if !IsSparse(img) {
		t.Error("IsSparse(valid image) = false")
	}
	if IsSparse([]byte("ANDROID!")) {
		t.Error("IsSparse(boot image magic) = true")
	}
	if IsSparse(nil) {
		t.Error("IsSparse(nil) = true")
	}
}

func TestExpand(t *testing.T) {
	raw := []byte("0123456789abcdef") // two 8-byte blocks
	crc := make([]byte, 4)

	for _, test := range []struct {
		desc    string
		img     []byte
		want    []byte
		wantErr bool
	}{
		{
			desc: "raw only",
			img:  buildSparse(8, []chunk{{chunkRaw, 2, raw}}),
			want: raw,
		},
		{
			desc: "raw fill dontcare raw",
			img: buildSparse(8, []chunk{
				{chunkRaw, 1, raw[:8]},
				{chunkFill, 1, []byte{0xaa, 0xbb, 0xcc, 0xdd}},
				{chunkDontCare, 2, nil},
				{chunkRaw, 1, raw[8:]},
			}),
			want: append(append(append(
				append([]byte{}, raw[:8]...),
				0xaa, 0xbb, 0xcc, 0xdd, 0xaa, 0xbb, 0xcc, 0xdd),
				make([]byte, 16)...),
				raw[8:]...),
		},
		{
			desc: "crc chunk is skipped",
			img: buildSparse(8, []chunk{
				{chunkRaw, 1, raw[:8]},
				{chunkCRC32, 0, crc},
			}),
			want: raw[:8],
		},
		{
			desc:    "raw chunk size mismatch",
			img:     buildSparse(8, []chunk{{chunkRaw, 2, raw[:8]}}),
			wantErr: true,
		},
		{
			desc:    "fill pattern not 4 bytes",
			img:     buildSparse(8, []chunk{{chunkFill, 1, []byte{1, 2}}}),
			wantErr: true,
		},
		{
			desc:    "unknown chunk type",
			img:     buildSparse(8, []chunk{{0xbeef, 1, nil}}),
			wantErr: true,
		},
		{
			desc:    "truncated chunk",
			img:     buildSparse(8, []chunk{{chunkRaw, 2, raw}})[:30],
			wantErr: true,
		},
		{
			desc:    "not sparse at all",
			img:     make([]byte, 64),
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			w := &imageWriter{}
			err := Expand(w, test.img)
			switch {
			case err != nil && !test.wantErr:
				t.Fatalf("Expand: %v", err)
			case err == nil && test.wantErr:
				t.Fatal("Expand succeeded, want error")
			case err != nil:
				return
			}
			if diff := cmp.Diff(test.want, w.buf.Bytes()); diff != "" {
				t.Errorf("expanded image diff: %s", diff)
			}
		})
	}
}

func TestExpandBadVersion(t *testing.T) {
	img := buildSparse(8, nil)
	binary.LittleEndian.PutUint16(img[4:6], 2)
	if err := Expand(&imageWriter{}, img); err == nil {
		t.Error("Expand accepted major version 2")
	}
}
