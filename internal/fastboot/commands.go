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
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/gpt"
)

func registerBuiltins(r *Registry) {
	for _, cmd := range []Command{
		{"download", api.Locked, cmdDownload},
		{"flash", api.Locked, cmdFlash},
		{"erase", api.Unlocked, cmdErase},
		{"getvar", api.Locked, cmdGetVar},
		{"boot", api.Unlocked, cmdBoot},
		{"continue", api.Locked, cmdContinue},
		{"reboot", api.Locked, cmdReboot},
		{"reboot-bootloader", api.Locked, cmdRebootBootloader},
	} {
		r.Register(cmd)
	}
}

func cmdDownload(s *Session, args []string) {
	if len(args) != 2 {
		s.Fail("Invalid parameter")
		return
	}
	size, err := strconv.ParseInt(strings.TrimPrefix(args[1], "0x"), 16, 64)
	if err != nil {
		size = 0
	}
	glog.Infof("Receiving %d bytes ...", size)
	if size == 0 {
		s.Fail("no data to download")
		return
	}
	if size > s.cfg.MaxDownload {
		s.Fail("data too large")
		return
	}
	if int(size) > cap(s.dlBuf) {
		s.dlBuf = make([]byte, size)
	}
	s.dlBuf = s.dlBuf[:cap(s.dlBuf)]
	s.dlSize = int(size)

	s.state = StateStartDownload
	if err := s.cfg.Transport.Send(api.DataResponse(uint32(size))); err != nil {
		s.fatal(err)
	}
}

func cmdFlash(s *Session, args []string) {
	if len(args) != 2 {
		s.Fail("Invalid parameter")
		return
	}
	label := args[1]
	if s.lockState() == api.Locked && !inWhitelist(label, s.cfg.FlashLockedWhitelist) {
		glog.Errorf("Flash %q is prohibited in %v state", label, s.lockState())
		s.Fail("Prohibited command in %v state.", s.lockState())
		return
	}
	glog.Infof("Flashing %s ...", label)

	res, err := s.cfg.Dispatcher.Flash(label, s.dlBuf[:s.dlSize])
	if err != nil {
		s.Fail("Flash failure: %v", err)
		return
	}
	if res.RefreshPartitions {
		if err := s.refreshPartitionVars(); err != nil {
			s.Fail("Failed to publish partition variables, %v", err)
			return
		}
	}
	glog.Infof("Flash done.")
	s.Okay("")
}

func cmdErase(s *Session, args []string) {
	if len(args) != 2 {
		s.Fail("Invalid parameter")
		return
	}
	glog.Infof("Erasing %s ...", args[1])
	if err := s.cfg.Dispatcher.Erase(args[1]); err != nil {
		s.Fail("Erase failure: %v", err)
		return
	}
	glog.Infof("Erase done.")
	s.Okay("")
}

func cmdGetVar(s *Session, args []string) {
	if len(args) != 2 {
		s.Fail("Invalid parameter")
		return
	}
	if args[1] == "all" {
		for i := len(s.vars) - 1; i >= 0; i-- {
			v := s.vars[i]
			s.Info("%s: %s", v.name, v.current())
		}
		s.Okay("")
		return
	}
	if v := s.lookupVar(args[1]); v != nil {
		s.Okay("%s", v.current())
		return
	}
	s.Okay("")
}

func cmdBoot(s *Session, args []string) {
	if s.dlSize == 0 {
		s.Fail("No image downloaded")
		return
	}
	s.stop(s.dlBuf[:s.dlSize], api.TargetDownloaded)
	glog.Infof("Booting received image ...")
	s.Okay("")
}

func (s *Session) rebootTo(target api.BootTarget, msg string) {
	s.stop(nil, target)
	glog.Infof("%s", msg)
	s.Okay("")
}

func cmdContinue(s *Session, args []string) {
	s.rebootTo(api.TargetNormal, "Continuing ...")
}

func cmdReboot(s *Session, args []string) {
	s.rebootTo(api.TargetNormal, "Rebooting ...")
}

func cmdRebootBootloader(s *Session, args []string) {
	s.rebootTo(api.TargetBootloader, "Rebooting to bootloader ...")
}

func inWhitelist(key string, whitelist []string) bool {
	for _, w := range whitelist {
		if key == w {
			return true
		}
	}
	return false
}

func typeName(g gpt.GUID) string {
	switch g {
	case gpt.GUIDLinuxData:
		return "ext4"
	case gpt.GUIDSystem:
		return "vfat"
	}
	return "none"
}

func (s *Session) publishPart(name string, size int64, ptype gpt.GUID) error {
	for _, kv := range []struct{ prefix, value string }{
		{"partition-size", fmt.Sprintf("0x%X", size)},
		{"partition-type", typeName(ptype)},
		{"has-slot", "no"},
	} {
		if err := s.Publish(kv.prefix+":"+name, kv.value); err != nil {
			return err
		}
	}
	return nil
}

var partitionVarPrefixes = []string{"partition-size:", "partition-type:", "has-slot:"}

func (s *Session) publishPartitionVars() error {
	if s.cfg.Dispatcher == nil || s.cfg.Dispatcher.User == nil {
		return nil
	}
	for _, p := range s.cfg.Dispatcher.User.List() {
		if err := s.publishPart(p.Name, p.Size(), p.Type); err != nil {
			return err
		}
		// Compatibility with tooling using either name for the
		// userdata partition.
		switch p.Name {
		case "data":
			if err := s.publishPart("userdata", p.Size(), p.Type); err != nil {
				return err
			}
		case "userdata":
			if err := s.publishPart("data", p.Size(), p.Type); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) purgePartitionVars() {
	kept := s.vars[:0]
	for _, v := range s.vars {
		purge := false
		for _, prefix := range partitionVarPrefixes {
			if strings.HasPrefix(v.name, prefix) {
				purge = true
				break
			}
		}
		if !purge {
			kept = append(kept, v)
		}
	}
	s.vars = kept
}

// refreshPartitionVars drops every partition-prefixed variable and
// republishes them from the current table.
func (s *Session) refreshPartitionVars() error {
	s.purgePartitionVars()
	return s.publishPartitionVars()
}
