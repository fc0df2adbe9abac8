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

// Package gpt resolves partitions by label against a GUID partition table
// and installs new tables from the flashing protocol's binary descriptors.
//
// Only the primary table is maintained; this is the narrow contract the
// flashing engine needs, not a general purpose GPT library.
package gpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"unicode/utf16"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/storage"
)

// LogicalUnit selects which storage area a lookup targets.
type LogicalUnit int

const (
	// UnitUser is the primary data area.
	UnitUser LogicalUnit = iota
	// UnitFactory is the recovery/manufacturing data area.
	UnitFactory
)

const (
	headerLBA    = 1
	entriesLBA   = 2
	headerSize   = 92
	entrySize    = 128
	maxEntries   = 128
	nameRunes    = 36
	gptSignature = "EFI PART"
	gptRevision  = 0x00010000
)

// Partition is an immutable snapshot of one table entry, bound to the device
// it was resolved on. It becomes stale after any table rewrite and must be
// re-resolved.
type Partition struct {
	Dev       storage.Device
	Name      string
	Type      GUID
	Unique    GUID
	StartLBA  int64
	EndLBA    int64 // inclusive, matching the on-disk convention
	BlockSize int64
}

// Offset returns the partition's first byte on the device.
func (p Partition) Offset() int64 { return p.StartLBA * p.BlockSize }

// Size returns the partition length in bytes.
func (p Partition) Size() int64 { return (p.EndLBA + 1 - p.StartLBA) * p.BlockSize }

// End returns the first byte past the partition.
func (p Partition) End() int64 { return (p.EndLBA + 1) * p.BlockSize }

// Record describes one partition in a table about to be installed.
type Record struct {
	Name   string
	Blocks int64
	Type   GUID
	Unique GUID
}

// Table caches the partition table of a single logical unit.
type Table struct {
	dev   storage.Device
	parts []Partition
}

// Open reads the partition table from dev. A disk with no valid table yields
// an empty (but installable) table.
func Open(dev storage.Device) (*Table, error) {
	t := &Table{dev: dev}
	if err := t.Refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

// Device returns the underlying root device for whole-disk operations.
func (t *Table) Device() storage.Device { return t.dev }

// Refresh discards the cached table and re-reads it from disk.
func (t *Table) Refresh() error {
	t.parts = nil

	bs := t.dev.BlockSize()
	hdr, err := t.dev.ReadAt(headerLBA*bs, headerSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(hdr[:8], []byte(gptSignature)) {
		glog.V(1).Infof("no GPT signature on disk, treating as blank")
		return nil
	}

	count := int64(binary.LittleEndian.Uint32(hdr[80:84]))
	esize := int64(binary.LittleEndian.Uint32(hdr[84:88]))
	if count == 0 || count > maxEntries || esize != entrySize {
		return fmt.Errorf("%w: implausible GPT geometry (count %d, entry size %d)", api.ErrInvalidParameter, count, esize)
	}
	entLBA := int64(binary.LittleEndian.Uint64(hdr[72:80]))

	raw, err := t.dev.ReadAt(entLBA*bs, count*esize)
	if err != nil {
		return err
	}

	for i := int64(0); i < count; i++ {
		e := raw[i*esize : (i+1)*esize]
		var ptype, unique GUID
		copy(ptype[:], e[0:16])
		if ptype.IsZero() {
			continue
		}
		copy(unique[:], e[16:32])
		t.parts = append(t.parts, Partition{
			Dev:       t.dev,
			Name:      decodeName(e[56:56+nameRunes*2]),
			Type:      ptype,
			Unique:    unique,
			StartLBA:  int64(binary.LittleEndian.Uint64(e[32:40])),
			EndLBA:    int64(binary.LittleEndian.Uint64(e[40:48])),
			BlockSize: bs,
		})
	}
	return nil
}

// List returns snapshots of all partitions in table order.
func (t *Table) List() []Partition {
	out := make([]Partition, len(t.parts))
	copy(out, t.parts)
	return out
}

// ByLabel resolves a partition by exact name match.
func (t *Table) ByLabel(label string) (Partition, error) {
	for _, p := range t.parts {
		if p.Name == label {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("partition %q: %w", label, api.ErrNotFound)
}

// Install lays out the given records consecutively from startLBA, writes the
// primary header and entry array, and refreshes the cache.
func (t *Table) Install(startLBA int64, records []Record) error {
	if len(records) == 0 || len(records) > maxEntries {
		return fmt.Errorf("%w: %d partition records", api.ErrInvalidParameter, len(records))
	}

	bs := t.dev.BlockSize()
	entriesBlocks := (int64(len(records))*entrySize + bs - 1) / bs
	firstUsable := entriesLBA + entriesBlocks
	if startLBA < firstUsable {
		startLBA = firstUsable
	}
	lastUsable := t.dev.Blocks() - 1

	entries := make([]byte, int64(len(records))*entrySize)
	next := startLBA
	for i, r := range records {
		if r.Blocks <= 0 {
			return fmt.Errorf("%w: record %q has %d blocks", api.ErrInvalidParameter, r.Name, r.Blocks)
		}
		start := next
		end := start + r.Blocks - 1
		if end > lastUsable {
			return fmt.Errorf("%w: partition %q ends at LBA %d past disk end %d", api.ErrInvalidParameter, r.Name, end, lastUsable)
		}
		e := entries[i*entrySize : (i+1)*entrySize]
		copy(e[0:16], r.Type[:])
		copy(e[16:32], r.Unique[:])
		binary.LittleEndian.PutUint64(e[32:40], uint64(start))
		binary.LittleEndian.PutUint64(e[40:48], uint64(end))
		encodeName(e[56:56+nameRunes*2], r.Name)
		next = end + 1
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:8], gptSignature)
	binary.LittleEndian.PutUint32(hdr[8:12], gptRevision)
	binary.LittleEndian.PutUint32(hdr[12:16], headerSize)
	binary.LittleEndian.PutUint64(hdr[24:32], headerLBA)
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(t.dev.Blocks()-1))
	binary.LittleEndian.PutUint64(hdr[40:48], uint64(firstUsable))
	binary.LittleEndian.PutUint64(hdr[48:56], uint64(lastUsable))
	binary.LittleEndian.PutUint64(hdr[72:80], entriesLBA)
	binary.LittleEndian.PutUint32(hdr[80:84], uint32(len(records)))
	binary.LittleEndian.PutUint32(hdr[84:88], entrySize)
	binary.LittleEndian.PutUint32(hdr[88:92], crc32.ChecksumIEEE(entries))
	binary.LittleEndian.PutUint32(hdr[16:20], crc32.ChecksumIEEE(hdr))

	if err := t.dev.WriteAt(entriesLBA*bs, entries); err != nil {
		return err
	}
	if err := t.dev.WriteAt(headerLBA*bs, hdr); err != nil {
		return err
	}

	glog.Infof("installed GPT with %d partitions from LBA %d", len(records), startLBA)
	return t.Refresh()
}

func decodeName(b []byte) string {
	var u []uint16
	for i := 0; i+1 < len(b); i += 2 {
		c := binary.LittleEndian.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

func encodeName(b []byte, name string) {
	u := utf16.Encode([]rune(name))
	if len(u) > nameRunes-1 {
		u = u[:nameRunes-1]
	}
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[i*2:], c)
	}
}
