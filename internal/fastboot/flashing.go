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
	"context"

	"github.com/openfw/bootcore/api"
)

// The flashing command group drives the lock lifecycle.
func registerFlashing(s *Session) {
	for _, cmd := range []Command{
		{"lock", api.Locked, cmdLock},
		{"unlock", api.Locked, cmdUnlock},
		{"get_unlock_ability", api.Locked, cmdGetUnlockAbility},
	} {
		s.flashingCmds.Register(cmd)
	}
	s.cmds.Register(Command{"flashing", api.Locked, cmdFlashing})
}

func cmdFlashing(s *Session, args []string) {
	if len(args) < 2 {
		s.Fail("Invalid parameter")
		return
	}
	s.runRegistered(&s.flashingCmds, args[1:])
}

func cmdLock(s *Session, args []string) {
	if s.cfg.Lock == nil {
		s.Fail("No device state support")
		return
	}
	if err := s.cfg.Lock.Lock(context.Background()); err != nil {
		s.Fail("Failed to lock the device: %v", err)
		return
	}
	s.Info("Device now locked")
	s.Okay("")
}

func cmdUnlock(s *Session, args []string) {
	if s.cfg.Lock == nil {
		s.Fail("No device state support")
		return
	}
	if err := s.cfg.Lock.Unlock(context.Background()); err != nil {
		s.Fail("Failed to unlock the device: %v", err)
		return
	}
	s.Info("Device now unlocked")
	s.Okay("")
}

func cmdGetUnlockAbility(s *Session, args []string) {
	able := "0"
	if s.cfg.Lock != nil && s.cfg.Lock.UnlockAllowed() {
		able = "1"
	}
	s.Info("%s", able)
	s.Okay("")
}
