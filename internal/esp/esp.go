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

// Package esp abstracts the boot-support filesystem that holds firmware
// files outside the block-device partitions.
package esp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openfw/bootcore/api"
)

// MaxDepth bounds directory recursion so a crafted filesystem cannot
// drive the walker into unbounded descent.
const MaxDepth = 10

// FS is the boot-support filesystem the flash dispatcher and the digest
// engine operate on. Paths are slash separated and relative to the
// filesystem root.
type FS interface {
	// ReadFile returns the contents of the named file.
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces the named file, creating parent directories
	// as needed.
	WriteFile(path string, data []byte) error
	// Walk visits every regular file in a deterministic order: within
	// each directory, entries sorted by name, files before the
	// contents of subdirectories. Recursion is bounded to MaxDepth
	// levels.
	Walk(fn func(path string) error) error
}

// DirFS is an FS rooted at a host directory.
type DirFS struct {
	root string
}

// NewDirFS returns an FS serving files under root.
func NewDirFS(root string) (*DirFS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("statting %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", api.ErrInvalidParameter, root)
	}
	return &DirFS{root: root}, nil
}

func (d *DirFS) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: bad path %q", api.ErrInvalidParameter, path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == ".." {
			return "", fmt.Errorf("%w: bad path %q", api.ErrInvalidParameter, path)
		}
	}
	return filepath.Join(d.root, filepath.FromSlash(path)), nil
}

func (d *DirFS) ReadFile(path string) ([]byte, error) {
	p, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", api.ErrNotFound, path)
	}
	return b, err
}

func (d *DirFS) WriteFile(path string, data []byte) error {
	p, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating directories for %q: %w", path, err)
	}
	return os.WriteFile(p, data, 0o644)
}

func (d *DirFS) Walk(fn func(path string) error) error {
	return d.walk(".", 0, fn)
}

func (d *DirFS) walk(dir string, depth int, fn func(path string) error) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: directory nesting exceeds %d levels at %q", api.ErrUnsupported, MaxDepth, dir)
	}
	entries, err := os.ReadDir(filepath.Join(d.root, filepath.FromSlash(dir)))
	if err != nil {
		return fmt.Errorf("reading %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var dirs []string
	for _, e := range entries {
		path := e.Name()
		if dir != "." {
			path = dir + "/" + e.Name()
		}
		if e.IsDir() {
			dirs = append(dirs, path)
			continue
		}
		if !e.Type().IsRegular() {
			continue
		}
		if err := fn(path); err != nil {
			return err
		}
	}
	for _, sub := range dirs {
		if err := d.walk(sub, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
