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
package esp

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfw/bootcore/api"
)

func newTestFS(t *testing.T) (*DirFS, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := NewDirFS(root)
	if err != nil {
		t.Fatalf("NewDirFS: %v", err)
	}
	return fs, root
}

func TestReadWriteFile(t *testing.T) {
	fs, _ := newTestFS(t)

	want := []byte("loader payload")
	if err := fs.WriteFile("EFI/BOOT/bootx64.efi", want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := fs.ReadFile("EFI/BOOT/bootx64.efi")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadFile = %q, want %q", got, want)
	}

	if _, err := fs.ReadFile("EFI/BOOT/missing.efi"); !errors.Is(err, api.ErrNotFound) {
		t.Errorf("ReadFile(missing) = %v, want ErrNotFound", err)
	}
}

func TestBadPaths(t *testing.T) {
	fs, _ := newTestFS(t)
	for _, path := range []string{
		"",
		"/etc/passwd",
		"../outside",
		"a/../../outside",
		"a//b",
	} {
		if _, err := fs.ReadFile(path); !errors.Is(err, api.ErrInvalidParameter) {
			t.Errorf("ReadFile(%q) = %v, want ErrInvalidParameter", path, err)
		}
		if err := fs.WriteFile(path, []byte("x")); !errors.Is(err, api.ErrInvalidParameter) {
			t.Errorf("WriteFile(%q) = %v, want ErrInvalidParameter", path, err)
		}
	}
}

func TestWalkOrder(t *testing.T) {
	fs, _ := newTestFS(t)
	for _, path := range []string{
		"zz.bin",
		"aa.bin",
		"EFI/BOOT/bootx64.efi",
		"EFI/aux.bin",
		"capsules/fw.cap",
	} {
		if err := fs.WriteFile(path, []byte(path)); err != nil {
			t.Fatalf("WriteFile(%q): %v", path, err)
		}
	}

	var got []string
	if err := fs.Walk(func(path string) error {
		got = append(got, path)
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	// Files before subdirectory contents, names sorted per level.
	want := []string{
		"aa.bin",
		"zz.bin",
		"EFI/aux.bin",
		"EFI/BOOT/bootx64.efi",
		"capsules/fw.cap",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("walk order diff: %s", diff)
	}
}

func TestWalkDepthBound(t *testing.T) {
	fs, root := newTestFS(t)
	deep := root
	for i := 0; i <= MaxDepth+1; i++ {
		deep = filepath.Join(deep, "d")
	}
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deep, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := fs.Walk(func(string) error { return nil })
	if !errors.Is(err, api.ErrUnsupported) {
		t.Errorf("Walk = %v, want ErrUnsupported", err)
	}
}

func TestNewDirFSNotADir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewDirFS(f); err == nil {
		t.Error("NewDirFS(regular file) succeeded")
	}
}
