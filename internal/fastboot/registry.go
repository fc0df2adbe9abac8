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

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
)

// MaxVariableLength bounds variable names and values.
const MaxVariableLength = 64

// Handler executes one command. args[0] is the command name.
type Handler func(s *Session, args []string)

// Command couples a name with its handler and the minimum lock state
// it requires.
type Command struct {
	Name     string
	MinState api.LockState
	Handle   Handler
}

// Registry holds commands in registration order. Lookup walks newest
// first, so a later registration shadows an earlier one of the same
// name.
type Registry struct {
	cmds []Command
}

// Register adds cmd.
func (r *Registry) Register(cmd Command) {
	r.cmds = append(r.cmds, cmd)
}

// Lookup finds the most recently registered command of that name.
func (r *Registry) Lookup(name string) (Command, bool) {
	for i := len(r.cmds) - 1; i >= 0; i-- {
		if r.cmds[i].Name == name {
			return r.cmds[i], true
		}
	}
	return Command{}, false
}

type variable struct {
	name  string
	value string
	get   func() string
}

func (v *variable) current() string {
	if v.get == nil {
		return v.value
	}
	val := v.get()
	if val == "" {
		return ""
	}
	if len(val) >= MaxVariableLength {
		glog.Errorf("Value too long for %q variable", v.name)
		return ""
	}
	return val
}

func (s *Session) lookupVar(name string) *variable {
	for i := len(s.vars) - 1; i >= 0; i-- {
		if s.vars[i].name == name {
			return s.vars[i]
		}
	}
	return nil
}

func (s *Session) publishVar(name string, value string, get func() string) error {
	if name == "" || len(name) >= MaxVariableLength {
		return fmt.Errorf("%w: variable name %q", api.ErrInvalidParameter, name)
	}
	if len(value) >= MaxVariableLength {
		return fmt.Errorf("%w: value for variable %q too long", api.ErrInvalidParameter, name)
	}
	if v := s.lookupVar(name); v != nil {
		v.value = value
		v.get = get
		return nil
	}
	s.vars = append(s.vars, &variable{name: name, value: value, get: get})
	return nil
}

// Publish sets a static variable, replacing any same-named entry in
// place.
func (s *Session) Publish(name, value string) error {
	return s.publishVar(name, value, nil)
}

// PublishDynamic sets a variable whose value is computed on each
// query.
func (s *Session) PublishDynamic(name string, get func() string) error {
	return s.publishVar(name, "", get)
}
