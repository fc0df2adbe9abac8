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

package gpt

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/openfw/bootcore/api"
)

// GUID is a partition type or unique identifier in on-disk GPT encoding:
// the first three groups little-endian, the remainder big-endian.
type GUID [16]byte

// Well-known partition type GUIDs.
var (
	// GUIDSystem is the EFI system partition type. Flashing or erasing a
	// partition of this type must not trigger a partition table refresh.
	GUIDSystem = MustParseGUID("c12a7328-f81f-11d2-ba4b-00a0c93ec93b")
	// GUIDLinuxData marks ext4 data partitions for the partition-type
	// variable.
	GUIDLinuxData = MustParseGUID("0fc63daf-8483-4772-8e79-3d69d8477de4")
)

// ParseGUID parses the canonical textual form into on-disk encoding.
func ParseGUID(s string) (GUID, error) {
	var g GUID
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return g, fmt.Errorf("%w: malformed GUID %q", api.ErrInvalidParameter, s)
	}
	raw, err := hex.DecodeString(strings.Join(parts, ""))
	if err != nil || len(raw) != 16 {
		return g, fmt.Errorf("%w: malformed GUID %q", api.ErrInvalidParameter, s)
	}
	// First three groups are stored little-endian on disk.
	binary.LittleEndian.PutUint32(g[0:4], binary.BigEndian.Uint32(raw[0:4]))
	binary.LittleEndian.PutUint16(g[4:6], binary.BigEndian.Uint16(raw[4:6]))
	binary.LittleEndian.PutUint16(g[6:8], binary.BigEndian.Uint16(raw[6:8]))
	copy(g[8:], raw[8:])
	return g, nil
}

// MustParseGUID is ParseGUID for package-level constants.
func MustParseGUID(s string) GUID {
	g, err := ParseGUID(s)
	if err != nil {
		panic(err)
	}
	return g
}

// String renders the canonical textual form.
func (g GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		binary.BigEndian.Uint16(g[8:10]),
		g[10:16])
}

// IsZero reports whether g is the all-zero GUID (an unused GPT entry).
func (g GUID) IsZero() bool {
	return g == GUID{}
}
