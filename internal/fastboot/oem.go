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

package fastboot

import (
	"errors"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
)

// hashTargets are the partitions the get-hashes report covers: boot
// images, the boot-support filesystem, then the verified filesystems.
var hashTargets = []struct {
	label string
	kind  string
}{
	{"boot", "bootimage"},
	{"recovery", "bootimage"},
	{"", "esp"},
	{"system", "filesystem"},
	{"vendor", "filesystem"},
}

func registerOEM(s *Session) {
	for _, cmd := range []Command{
		{"get-hashes", api.Locked, cmdGetHashes},
		{"garbage-disk", api.Unlocked, cmdGarbageDisk},
		{"off-mode-charge", api.Locked, cmdOffModeCharge},
		{"reboot", api.Locked, cmdOEMReboot},
	} {
		s.oemCmds.Register(cmd)
	}
	s.cmds.Register(Command{"oem", api.Locked, cmdOEM})
}

func cmdOEM(s *Session, args []string) {
	if len(args) < 2 {
		s.Fail("Invalid parameter")
		return
	}
	s.runRegistered(&s.oemCmds, args[1:])
}

func cmdGetHashes(s *Session, args []string) {
	if s.cfg.Verifier == nil {
		s.Fail("No verification support")
		return
	}
	alg := ""
	if len(args) > 1 {
		alg = args[1]
	}
	if err := s.cfg.Verifier.SetAlgorithm(alg); err != nil {
		s.Fail("%v", err)
		return
	}
	emit := func(line string) { s.Info("%s", line) }
	for _, target := range hashTargets {
		var err error
		switch target.kind {
		case "bootimage":
			err = s.cfg.Verifier.BootImageDigest(target.label, emit)
		case "esp":
			err = s.cfg.Verifier.ESPDigest(emit)
		case "filesystem":
			err = s.cfg.Verifier.FilesystemDigest(target.label, emit)
		}
		if errors.Is(err, api.ErrNotFound) || errors.Is(err, api.ErrUnsupported) {
			glog.V(1).Infof("Skipping hash of %q: %v", target.label, err)
			continue
		}
		if err != nil {
			s.Fail("Hash failure: %v", err)
			return
		}
	}
	s.Okay("")
}

func cmdGarbageDisk(s *Session, args []string) {
	if err := s.cfg.Dispatcher.GarbageDisk(); err != nil {
		s.Fail("Garbage disk failure: %v", err)
		return
	}
	if err := s.refreshPartitionVars(); err != nil {
		s.Fail("Failed to publish partition variables, %v", err)
		return
	}
	s.Okay("")
}

func cmdOffModeCharge(s *Session, args []string) {
	if len(args) != 2 || (args[1] != "0" && args[1] != "1") {
		s.Fail("Invalid parameter")
		return
	}
	if err := s.Publish("off-mode-charge", args[1]); err != nil {
		s.Fail("%v", err)
		return
	}
	s.Okay("")
}

func cmdOEMReboot(s *Session, args []string) {
	if len(args) != 2 {
		s.Fail("Invalid parameter")
		return
	}
	switch args[1] {
	case "bootloader":
		s.rebootTo(api.TargetBootloader, "Rebooting to bootloader ...")
	case "normal":
		s.rebootTo(api.TargetNormal, "Rebooting ...")
	default:
		s.Fail("Unknown reboot target %q", args[1])
	}
}
