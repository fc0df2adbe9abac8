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
package bootimg

import (
	"encoding/binary"
	"testing"
)

func rawHeader(kernel, ramdisk, second, pageSize uint32) []byte {
	b := make([]byte, HeaderSize)
	copy(b, Magic)
	le := binary.LittleEndian
	le.PutUint32(b[8:], kernel)
	le.PutUint32(b[16:], ramdisk)
	le.PutUint32(b[24:], second)
	le.PutUint32(b[36:], pageSize)
	return b
}

func TestParseHeader(t *testing.T) {
	for _, test := range []struct {
		desc    string
		raw     []byte
		want    Header
		wantErr bool
	}{
		{
			desc: "typical",
			raw:  rawHeader(5000, 3000, 0, 2048),
			want: Header{KernelSize: 5000, RamdiskSize: 3000, PageSize: 2048},
		},
		{
			desc:    "short buffer",
			raw:     []byte(Magic),
			wantErr: true,
		},
		{
			desc:    "bad magic",
			raw:     make([]byte, HeaderSize),
			wantErr: true,
		},
		{
			desc:    "zero page size",
			raw:     rawHeader(5000, 0, 0, 0),
			wantErr: true,
		},
		{
			desc:    "page size not a power of two",
			raw:     rawHeader(5000, 0, 0, 3000),
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			h, err := ParseHeader(test.raw)
			switch {
			case err != nil && !test.wantErr:
				t.Fatalf("ParseHeader: %v", err)
			case err == nil && test.wantErr:
				t.Fatal("ParseHeader succeeded, want error")
			case err != nil:
				return
			}
			if *h != test.want {
				t.Errorf("ParseHeader = %+v, want %+v", *h, test.want)
			}
		})
	}
}

func TestTotalSize(t *testing.T) {
	for _, test := range []struct {
		desc string
		h    Header
		want int64
	}{
		{
			desc: "aligned payloads",
			h:    Header{KernelSize: 4096, RamdiskSize: 2048, PageSize: 2048},
			want: 2048 + 4096 + 2048,
		},
		{
			desc: "ragged payloads round up",
			h:    Header{KernelSize: 5000, RamdiskSize: 3000, SecondSize: 1, PageSize: 2048},
			want: 2048 + 6144 + 4096 + 2048,
		},
		{
			desc: "header only",
			h:    Header{PageSize: 4096},
			want: 4096,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := test.h.TotalSize(); got != test.want {
				t.Errorf("TotalSize() = %d, want %d", got, test.want)
			}
		})
	}
}

func TestWriteSizes(t *testing.T) {
	raw := rawHeader(1, 2, 3, 2048)
	WriteSizes(raw, 100, 200, 300)
	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.KernelSize != 100 || h.RamdiskSize != 200 || h.SecondSize != 300 {
		t.Errorf("sizes = %d/%d/%d, want 100/200/300", h.KernelSize, h.RamdiskSize, h.SecondSize)
	}
	if h.PageSize != 2048 {
		t.Errorf("PageSize = %d, want untouched 2048", h.PageSize)
	}
}
