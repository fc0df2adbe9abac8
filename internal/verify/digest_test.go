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
package verify

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/esp"
	"github.com/openfw/bootcore/internal/gpt"
	"github.com/openfw/bootcore/internal/storage"
)

func testResolver(parts map[string]gpt.Partition) func(string) (gpt.Partition, error) {
	return func(label string) (gpt.Partition, error) {
		p, ok := parts[label]
		if !ok {
			return gpt.Partition{}, fmt.Errorf("partition %q: %w", label, api.ErrNotFound)
		}
		return p, nil
	}
}

func newDigestPartition(t *testing.T, blocks int64) (gpt.Partition, *storage.MemDisk) {
	t.Helper()
	dev := storage.NewMemDisk(blocks, 512)
	return gpt.Partition{
		Dev:       dev,
		Name:      "system",
		StartLBA:  0,
		EndLBA:    blocks - 1,
		BlockSize: 512,
	}, dev
}

// writeExt4Superblock plants a minimal valid ext4 superblock describing
// count blocks of 1024 bytes each.
func writeExt4Superblock(data []byte, count uint32, valid bool) {
	le := binary.LittleEndian
	sb := data[1024:]
	le.PutUint32(sb[4:8], count) // blocks count
	le.PutUint32(sb[24:28], 0)   // log block size: 1024 << 0
	le.PutUint16(sb[56:58], 0xef53)
	if valid {
		le.PutUint16(sb[58:60], 1)
	}
}

func writeVerityHeader(data []byte, off int64) {
	binary.LittleEndian.PutUint32(data[off:], 0xb001b001)
	binary.LittleEndian.PutUint32(data[off+4:], 0)
}

func TestFilesystemDigestExt4(t *testing.T) {
	p, dev := newDigestPartition(t, 256) // 131072 bytes

	const fsLen = 64 * 1024
	for i := range dev.Data {
		dev.Data[i] = byte(i * 7)
	}
	writeExt4Superblock(dev.Data, 64, true)
	writeVerityHeader(dev.Data, fsLen)

	e := NewEngine(testResolver(map[string]gpt.Partition{"system": p}), nil)
	var got []string
	if err := e.FilesystemDigest("system", func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("FilesystemDigest: %v", err)
	}

	// 64KiB of data needs a single 4KiB hash tree block, plus the fixed
	// metadata area.
	total := int64(fsLen + 4096 + 32768)
	sum := sha1.Sum(dev.Data[:total])
	want := []string{
		"target: /system",
		"hash: " + hex.EncodeToString(sum[:]),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report diff: %s", diff)
	}
}

func TestFilesystemDigestSquashfs(t *testing.T) {
	p, dev := newDigestPartition(t, 256)

	le := binary.LittleEndian
	le.PutUint32(dev.Data[0:4], 0x73717368)
	le.PutUint64(dev.Data[40:48], 5000) // bytes used, padded up to 8192
	const fsLen = 8192
	writeVerityHeader(dev.Data, fsLen)

	e := NewEngine(testResolver(map[string]gpt.Partition{"system": p}), nil)
	var got []string
	if err := e.FilesystemDigest("system", func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("FilesystemDigest: %v", err)
	}
	total := int64(fsLen + 4096 + 32768)
	sum := sha1.Sum(dev.Data[:total])
	if want := "hash: " + hex.EncodeToString(sum[:]); len(got) != 2 || got[1] != want {
		t.Errorf("report = %v, want hash line %q", got, want)
	}
}

func TestFilesystemDigestErrors(t *testing.T) {
	blank, _ := newDigestPartition(t, 256)

	invalid, invalidDev := newDigestPartition(t, 256)
	writeExt4Superblock(invalidDev.Data, 64, false)

	noVerity, noVerityDev := newDigestPartition(t, 256)
	writeExt4Superblock(noVerityDev.Data, 64, true)

	e := NewEngine(testResolver(map[string]gpt.Partition{
		"blank":     blank,
		"invalid":   invalid,
		"no-verity": noVerity,
	}), nil)

	discard := func(string) {}
	if err := e.FilesystemDigest("blank", discard); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("FilesystemDigest(blank) = %v, want ErrUnsupported", err)
	}
	if err := e.FilesystemDigest("invalid", discard); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("FilesystemDigest(invalid) = %v, want ErrUnsupported", err)
	}
	if err := e.FilesystemDigest("no-verity", discard); !errors.Is(err, api.ErrInvalidParameter) {
		t.Errorf("FilesystemDigest(no-verity) = %v, want ErrInvalidParameter", err)
	}
	if err := e.FilesystemDigest("missing", discard); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("FilesystemDigest(missing) = %v, want ErrNotFound", err)
	}
}

func TestBootImageDigest(t *testing.T) {
	oem := newSigner(t, "oem", nil)
	image := testBootImage(t)
	signed := signBootImage(t, image, oem, nil, "/boot")

	p, dev := newDigestPartition(t, 16)
	copy(dev.Data, signed)

	e := NewEngine(testResolver(map[string]gpt.Partition{"boot": p}), nil)
	var got []string
	if err := e.BootImageDigest("boot", func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("BootImageDigest: %v", err)
	}
	// The digest covers the image and its signature trailer.
	sum := sha1.Sum(signed)
	want := []string{
		"target: /boot",
		"hash: " + hex.EncodeToString(sum[:]),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report diff: %s", diff)
	}
}

func TestBootImageDigestUnsigned(t *testing.T) {
	image := testBootImage(t)
	p, dev := newDigestPartition(t, 16)
	copy(dev.Data, image)

	e := NewEngine(testResolver(map[string]gpt.Partition{"boot": p}), nil)
	var got []string
	if err := e.BootImageDigest("boot", func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("BootImageDigest: %v", err)
	}
	// No trailer parses, so only the header-declared bytes count.
	sum := sha1.Sum(image)
	if want := "hash: " + hex.EncodeToString(sum[:]); len(got) != 2 || got[1] != want {
		t.Errorf("report = %v, want hash line %q", got, want)
	}
}

func TestESPDigest(t *testing.T) {
	root := t.TempDir()
	fs, err := esp.NewDirFS(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("EFI/BOOT/bootx64.efi", []byte("loader")); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("empty.bin", nil); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(testResolver(nil), fs)
	if err := e.SetAlgorithm("sha256"); err != nil {
		t.Fatalf("SetAlgorithm: %v", err)
	}
	var got []string
	if err := e.ESPDigest(func(s string) { got = append(got, s) }); err != nil {
		t.Fatalf("ESPDigest: %v", err)
	}
	want := []string{
		"target: /bootloader/empty.bin",
		"hash: " + hex.EncodeToString(SHA256.Sum(nil)),
		"target: /bootloader/EFI/BOOT/bootx64.efi",
		"hash: " + hex.EncodeToString(SHA256.Sum([]byte("loader"))),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report diff: %s", diff)
	}

	noFS := NewEngine(testResolver(nil), nil)
	if err := noFS.ESPDigest(func(string) {}); !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("ESPDigest without filesystem = %v, want ErrUnsupported", err)
	}
}

func TestVerityTreeSize(t *testing.T) {
	for _, test := range []struct {
		desc string
		data int64
		want int64
	}{
		{desc: "one block", data: 4096, want: 4096},
		{desc: "64KiB", data: 64 * 1024, want: 4096},
		{desc: "10MiB", data: 10 << 20, want: 21 * 4096},
		{desc: "1GiB", data: 1 << 30, want: (2048 + 16 + 1) * 4096},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := verityTreeSize(test.data); got != test.want {
				t.Errorf("verityTreeSize(%d) = %d, want %d", test.data, got, test.want)
			}
		})
	}
}
