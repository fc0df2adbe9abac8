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
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/esp"
	"github.com/openfw/bootcore/internal/gpt"
	"github.com/openfw/bootcore/internal/sparse"
	"github.com/openfw/bootcore/internal/storage"
)

const (
	// mbrMax caps a raw master-boot-record write to the boot code
	// area, leaving the legacy partition table and signature alone.
	mbrMax = 440

	sfuFileName  = "BIOSUPDATE.fv"
	ifwiFileName = "ifwi.bin"

	espPrefix = "/ESP/"
)

// Dispatcher routes a flash or erase request by label: a fixed
// exception table first, then generic partition flashing against the
// user logical unit.
type Dispatcher struct {
	// Disk is the root disk backing the user logical unit.
	Disk storage.Device
	// User and Factory are the partition tables of the two logical
	// units. Factory may be nil on single-unit devices.
	User    *gpt.Table
	Factory *gpt.Table
	// ESP is the boot-support filesystem receiving file-drop labels.
	ESP esp.FS
	// Debug enables the labels reserved for engineering builds.
	Debug bool

	// BootLabel names the boot partition the kernel patch operates
	// on. Defaults to "boot" when empty.
	BootLabel string
	// BootloaderLabel, when non-empty, routes that label to the
	// Bootloader hook instead of generic flashing.
	BootloaderLabel string

	// OEMVars imports an OEM variable blob. Nil rejects the label.
	OEMVars func(data []byte) error
	// Bootloader installs a bootloader image. Nil rejects the label.
	Bootloader func(data []byte) error
	// ChainBoot boots the payload in place of flashing it. Nil
	// rejects the efirun label.
	ChainBoot func(data []byte) error
	// PolicyActions maps authenticated-action labels to their
	// handlers.
	PolicyActions map[string]func(data []byte) error
}

func (d *Dispatcher) bootLabel() string {
	if d.BootLabel != "" {
		return d.BootLabel
	}
	return "boot"
}

// Resolve looks up label on the given logical unit.
func (d *Dispatcher) Resolve(label string, unit gpt.LogicalUnit) (gpt.Partition, error) {
	t := d.User
	if unit == gpt.UnitFactory {
		t = d.Factory
	}
	if t == nil {
		return gpt.Partition{}, fmt.Errorf("%w: no such logical unit", api.ErrNotFound)
	}
	return t.ByLabel(label)
}

// Flash writes data under the routing rules for label. The returned
// result's RefreshPartitions flag tells the caller the partition-size
// variables must be republished.
func (d *Dispatcher) Flash(label string, data []byte) (api.FlashResult, error) {
	glog.Infof("Flashing %q (%d bytes)", label, len(data))
	switch {
	case label == "gpt":
		return d.flashTable(d.User, data, true)
	case label == "gpt-gpp1":
		return d.flashTable(d.Factory, data, false)
	case label == "mbr":
		return api.FlashResult{}, d.flashMBR(data)
	case label == "efirun":
		return api.FlashResult{}, d.chainBoot(data)
	case label == "sfu":
		return api.FlashResult{}, d.dropFile(sfuFileName, data)
	case label == "ifwi":
		return api.FlashResult{}, d.dropFile(ifwiFileName, data)
	case label == "oemvars":
		return api.FlashResult{}, d.hook(d.OEMVars, label, data)
	case label == "zimage":
		return api.FlashResult{}, d.PatchKernel(data)
	case d.BootloaderLabel != "" && label == d.BootloaderLabel:
		return api.FlashResult{}, d.hook(d.Bootloader, label, data)
	case strings.HasPrefix(label, espPrefix):
		if !d.Debug {
			return api.FlashResult{}, fmt.Errorf("%w: label %q", api.ErrAccessDenied, label)
		}
		return api.FlashResult{}, d.dropFile(strings.TrimPrefix(label, espPrefix), data)
	}
	if fn, ok := d.PolicyActions[label]; ok {
		return api.FlashResult{}, d.hook(fn, label, data)
	}
	return api.FlashResult{}, d.flashPartition(label, data)
}

func (d *Dispatcher) hook(fn func([]byte) error, label string, data []byte) error {
	if fn == nil {
		return fmt.Errorf("%w: label %q", api.ErrUnsupported, label)
	}
	return fn(data)
}

func (d *Dispatcher) flashTable(t *gpt.Table, data []byte, refresh bool) (api.FlashResult, error) {
	if t == nil {
		return api.FlashResult{}, fmt.Errorf("%w: no such logical unit", api.ErrNotFound)
	}
	desc, err := gpt.ParseDescriptor(data)
	if err != nil {
		return api.FlashResult{}, err
	}
	if err := t.Install(desc.StartLBA, desc.Records); err != nil {
		return api.FlashResult{}, err
	}
	return api.FlashResult{RefreshPartitions: refresh}, nil
}

func (d *Dispatcher) flashMBR(data []byte) error {
	if !d.Debug {
		return fmt.Errorf("%w: label %q", api.ErrAccessDenied, "mbr")
	}
	if len(data) == 0 || len(data) > mbrMax {
		return fmt.Errorf("%w: mbr image must be 1..%d bytes, got %d", api.ErrInvalidParameter, mbrMax, len(data))
	}
	if err := d.Disk.WriteAt(0, data); err != nil {
		return fmt.Errorf("%w: writing mbr: %v", api.ErrDeviceError, err)
	}
	return nil
}

func (d *Dispatcher) chainBoot(data []byte) error {
	if !d.Debug {
		return fmt.Errorf("%w: label %q", api.ErrAccessDenied, "efirun")
	}
	return d.hook(d.ChainBoot, "efirun", data)
}

func (d *Dispatcher) dropFile(name string, data []byte) error {
	if d.ESP == nil {
		return fmt.Errorf("%w: no boot-support filesystem", api.ErrUnsupported)
	}
	glog.V(1).Infof("Dropping %d bytes into ESP file %q", len(data), name)
	return d.ESP.WriteFile(name, data)
}

func (d *Dispatcher) flashPartition(label string, data []byte) error {
	p, err := d.Resolve(label, gpt.UnitUser)
	if err != nil {
		return err
	}
	w := NewWriter(p)
	if sparse.IsSparse(data) {
		err = sparse.Expand(w, data)
	} else {
		err = w.Write(data)
	}
	if err != nil {
		return err
	}
	if p.Type != gpt.GUIDSystem {
		if err := d.User.Refresh(); err != nil {
			return fmt.Errorf("refreshing partition table: %w", err)
		}
	}
	return nil
}
