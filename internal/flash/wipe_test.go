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
)

func TestErase(t *testing.T) {
	d, dev := newTestDispatcher(t)
	p, err := d.Resolve("data", gpt.UnitUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Flash("data", bytes.Repeat([]byte{0x42}, int(p.Size()))); err != nil {
		t.Fatalf("Flash: %v", err)
	}

	if err := d.Erase("data"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	got, err := dev.ReadAt(p.Offset(), p.Size())
	if err != nil {
		t.Fatal(err)
	}
	// Hardware erase leaves its pattern, but the leading probe region
	// must read as zeroes.
	for i, b := range got[:4096] {
		if b != 0 {
			t.Fatalf("byte %d = %#x after erase, want 0", i, b)
		}
	}
	for i, b := range got[4096:] {
		if b != 0xff {
			t.Fatalf("byte %d = %#x after erase, want erase pattern", 4096+i, b)
		}
	}
	// No erase bleed into the next region.
	next, err := dev.ReadAt(p.End(), 512)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(next, make([]byte, 512)) {
		t.Error("erase modified bytes past the partition end")
	}

	// Erasing an already blank partition succeeds.
	if err := d.Erase("data"); err != nil {
		t.Errorf("second Erase: %v", err)
	}
}

func TestEraseFallbackZeroFill(t *testing.T) {
	d, dev := newTestDispatcher(t)
	dev.FailErase = true

	p, err := d.Resolve("data", gpt.UnitUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Flash("data", bytes.Repeat([]byte{0x42}, int(p.Size()))); err != nil {
		t.Fatalf("Flash: %v", err)
	}
	if err := d.Erase("data"); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	got, err := dev.ReadAt(p.Offset(), p.Size())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, make([]byte, p.Size())) {
		t.Error("partition not fully zeroed after erase fallback")
	}
}

func TestEraseUnknownLabel(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := d.Erase("nonexistent"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("Erase(nonexistent) = %v, want ErrNotFound", err)
	}
}

func TestGarbageDisk(t *testing.T) {
	d, dev := newTestDispatcher(t)
	if got := len(d.User.List()); got == 0 {
		t.Fatal("test table is empty before wipe")
	}

	if err := d.GarbageDisk(); err != nil {
		t.Fatalf("GarbageDisk: %v", err)
	}
	// The partition table header is gone, so the refreshed table must be
	// empty.
	if got := len(d.User.List()); got != 0 {
		t.Errorf("table lists %d partitions after disk wipe", got)
	}
	if bytes.Equal(dev.Data, make([]byte, len(dev.Data))) {
		t.Error("disk still zeroed after random overwrite")
	}
}
