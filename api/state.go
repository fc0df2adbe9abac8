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

package api

// LockState is the bootloader lifecycle state gating flashing commands.
// Ordering matters: a command registered with a minimum state of Unlocked is
// rejected while the device is Locked.
type LockState int

const (
	// Locked devices only accept whitelisted flash targets.
	Locked LockState = iota
	// Unlocked devices accept all flashing and erase commands.
	Unlocked
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	}
	return "unknown"
}

// BootTarget is the outcome of a protocol session: where the device should
// hand control once the session stops.
type BootTarget int

const (
	// TargetUnknown means no target was chosen; the session is still live
	// or was torn down without a boot decision.
	TargetUnknown BootTarget = iota
	// TargetNormal continues the regular boot flow.
	TargetNormal
	// TargetBootloader re-enters the bootloader.
	TargetBootloader
	// TargetDownloaded boots the image received over the download protocol.
	TargetDownloaded
)

func (t BootTarget) String() string {
	switch t {
	case TargetNormal:
		return "normal"
	case TargetBootloader:
		return "bootloader"
	case TargetDownloaded:
		return "downloaded image"
	}
	return "unknown"
}

// FlashResult carries the out-of-band side effect of a flash operation.
type FlashResult struct {
	// RefreshPartitions is set when the operation changed partition
	// geometry and partition-prefixed variables must be republished.
	RefreshPartitions bool
}
