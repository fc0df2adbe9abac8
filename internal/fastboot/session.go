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

// Package fastboot runs the device-side protocol session: a
// single-threaded event loop that reads command lines, drives the
// download sub-protocol and keeps acknowledgement frames strictly
// ordered.
package fastboot

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/devstate"
	"github.com/openfw/bootcore/internal/flash"
	"github.com/openfw/bootcore/internal/transport"
	"github.com/openfw/bootcore/internal/verify"
)

// State is the session's position in the protocol.
type State int

const (
	StateOffline State = iota
	// StateCommand means a complete command line is ready for
	// dispatch.
	StateCommand
	// StateComplete means the session is idle, waiting for the next
	// command line.
	StateComplete
	// StateStartDownload means the DATA announcement is in flight.
	StateStartDownload
	// StateDownload accumulates payload bytes up to the negotiated
	// size.
	StateDownload
	// StateTX drains the buffered acknowledgement queue, one frame
	// per transmit completion.
	StateTX
	StateStopping
	StateStopped
	// StateError is terminal: a transport write failed and the
	// session cannot continue.
	StateError
)

func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateCommand:
		return "COMMAND"
	case StateComplete:
		return "COMPLETE"
	case StateStartDownload:
		return "START_DOWNLOAD"
	case StateDownload:
		return "DOWNLOAD"
	case StateTX:
		return "TX"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// progressThreshold spaces the download progress log lines.
const progressThreshold = 5 << 20

// Config assembles a session's collaborators.
type Config struct {
	Transport  transport.Transport
	Dispatcher *flash.Dispatcher
	Verifier   *verify.Engine
	Lock       *devstate.Machine
	Counters   *devstate.Counters

	// MaxDownload caps the negotiated download size.
	MaxDownload int64

	Product           string
	Variant           string
	BootloaderVersion string
	// BatteryVoltage, when set, backs the battery-voltage variable.
	BatteryVoltage func() string

	// FlashLockedWhitelist lists the labels flashable while the
	// device is locked.
	FlashLockedWhitelist []string
}

// Result is what a finished session hands back to the boot flow.
type Result struct {
	Target api.BootTarget
	// Image is the downloaded payload when Target is
	// TargetDownloaded.
	Image []byte
}

// Session owns the protocol state, the registries and the download
// buffer. All methods are driven from the single Run goroutine.
type Session struct {
	cfg Config

	cmds         Registry
	oemCmds      Registry
	flashingCmds Registry
	vars         []*variable

	state     State
	nextState State
	txQueue   [][]byte
	cmdLine   string

	// dlBuf's capacity is monotonically non-decreasing for the life
	// of the session; dlSize is the negotiated length of the current
	// download.
	dlBuf        []byte
	dlSize       int
	received     int
	lastReceived int

	result   Result
	stopped  bool
	fatalErr error
}

// NewSession builds a session, registers the builtin commands and
// publishes the standard variables.
func NewSession(cfg Config) (*Session, error) {
	s := &Session{
		cfg:       cfg,
		state:     StateOffline,
		nextState: StateComplete,
	}

	for _, kv := range []struct{ name, value string }{
		{"product", cfg.Product},
		{"variant", cfg.Variant},
		{"version-bootloader", cfg.BootloaderVersion},
		{"max-download-size", fmt.Sprintf("0x%X", cfg.MaxDownload)},
	} {
		if err := s.Publish(kv.name, kv.value); err != nil {
			return nil, err
		}
	}
	if cfg.BatteryVoltage != nil {
		if err := s.PublishDynamic("battery-voltage", cfg.BatteryVoltage); err != nil {
			return nil, err
		}
	}
	if cfg.Lock != nil {
		lockVar := func() string {
			if cfg.Lock.Current() == api.Unlocked {
				return "yes"
			}
			return "no"
		}
		if err := s.PublishDynamic("unlocked", lockVar); err != nil {
			return nil, err
		}
		if err := s.PublishDynamic("secure", func() string {
			if cfg.Lock.Current() == api.Locked {
				return "yes"
			}
			return "no"
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Counters != nil {
		if err := s.PublishDynamic("watchdog-count", func() string {
			w, _ := cfg.Counters.Snapshot()
			return fmt.Sprintf("%d", w)
		}); err != nil {
			return nil, err
		}
		if err := s.PublishDynamic("crash-count", func() string {
			_, c := cfg.Counters.Snapshot()
			return fmt.Sprintf("%d", c)
		}); err != nil {
			return nil, err
		}
	}
	if err := s.publishPartitionVars(); err != nil {
		return nil, err
	}

	registerBuiltins(&s.cmds)
	registerOEM(s)
	registerFlashing(s)
	return s, nil
}

// Run drives the session until it stops, the transport goes away or a
// transmit fails.
func (s *Session) Run(ctx context.Context) (Result, error) {
	s.state = s.nextState
	glog.Infof("Session ready")
	for {
		ev, err := s.cfg.Transport.Poll(ctx)
		if err != nil {
			return Result{}, err
		}
		switch ev.Kind {
		case transport.KindReceived:
			s.processRx(ev.Data)
		case transport.KindSent:
			s.processTx()
		case transport.KindClosed:
			if s.stopped {
				return s.result, nil
			}
			return Result{}, fmt.Errorf("%w: transport closed", api.ErrProtocol)
		}
		s.runCommand()

		switch s.state {
		case StateStopped:
			return s.result, nil
		case StateError:
			return Result{}, s.fatalErr
		}
	}
}

func (s *Session) fatal(err error) {
	glog.Errorf("Session fatal: %v", err)
	s.state = StateError
	s.fatalErr = err
}

// frame formats one acknowledgement, truncating the text to what a
// frame can carry rather than losing the acknowledgement altogether.
func (s *Session) frame(code, format string, args ...interface{}) []byte {
	text := fmt.Sprintf(format, args...)
	if max := api.InfoPayload - 1; len(text) > max {
		glog.Warningf("Truncating oversized %s acknowledgement %q", code, text)
		text = text[:max]
	}
	frame, err := api.Frame(code, "%s", text)
	if err != nil {
		glog.Errorf("Dropping unframeable %s acknowledgement: %v", code, err)
		return nil
	}
	return frame
}

// ack formats and immediately transmits one frame.
func (s *Session) ack(code, format string, args ...interface{}) {
	frame := s.frame(code, format, args...)
	if frame == nil {
		return
	}
	glog.V(1).Infof("SENT %s", api.FrameText(frame))
	s.state = s.nextState
	if err := s.cfg.Transport.Send(frame); err != nil {
		s.fatal(err)
	}
}

// ackBuffered queues a frame behind any in-flight transmission.
func (s *Session) ackBuffered(code, format string, args ...interface{}) {
	frame := s.frame(code, format, args...)
	if frame == nil {
		return
	}
	s.txQueue = append(s.txQueue, frame)
	s.state = StateTX
}

// Info queues one informational line; it always precedes the final
// status of the running command.
func (s *Session) Info(format string, args ...interface{}) {
	s.ackBuffered(api.CodeInfo, format, args...)
}

// InfoLong splits an arbitrarily long string across as many INFO
// frames as needed.
func (s *Session) InfoLong(str string) {
	const max = api.InfoPayload - 1
	for len(str) > max {
		s.Info("%s", str[:max])
		str = str[max:]
	}
	s.Info("%s", str)
}

// Fail terminates the running command with a failure status.
func (s *Session) Fail(format string, args ...interface{}) {
	if s.state == StateTX {
		s.ackBuffered(api.CodeFail, format, args...)
		return
	}
	s.ack(api.CodeFail, format, args...)
}

// Okay terminates the running command successfully.
func (s *Session) Okay(format string, args ...interface{}) {
	if s.state == StateTX {
		s.ackBuffered(api.CodeOkay, format, args...)
		return
	}
	s.ack(api.CodeOkay, format, args...)
}

func (s *Session) flushTx() {
	frame := s.txQueue[0]
	s.txQueue = s.txQueue[1:]
	if len(s.txQueue) == 0 {
		s.state = s.nextState
	}
	glog.V(1).Infof("SENT %s", api.FrameText(frame))
	if err := s.cfg.Transport.Send(frame); err != nil {
		s.fatal(err)
	}
}

func (s *Session) processTx() {
	switch s.state {
	case StateStopping:
		s.state = StateStopped
	case StateTX:
		s.flushTx()
	case StateComplete:
		// Idle, the transport will hand us the next command line.
	case StateStartDownload:
		s.state = StateDownload
		s.received = 0
		s.lastReceived = 0
	default:
		glog.Errorf("Unexpected tx event while in state %v", s.state)
	}
}

func (s *Session) processRx(data []byte) {
	switch s.state {
	case StateDownload:
		if s.received+len(data) > s.dlSize {
			s.Fail("More data than the announced %d bytes", s.dlSize)
			return
		}
		copy(s.dlBuf[s.received:], data)
		s.received += len(data)
		if s.received/progressThreshold > s.lastReceived/progressThreshold {
			glog.Infof("RX %d MiB / %d MiB", s.received>>20, s.dlSize>>20)
		}
		s.lastReceived = s.received
		if s.received < s.dlSize {
			return
		}
		s.state = StateCommand
		s.Okay("")
	case StateComplete:
		if len(data) >= api.FrameSize {
			s.Fail("Inappropriate command buffer or length")
			return
		}
		line := string(data)
		if i := strings.IndexByte(line, 0); i >= 0 {
			line = line[:i]
		}
		glog.V(1).Infof("GOT %s", line)
		s.cmdLine = line
		s.state = StateCommand
	default:
		glog.Errorf("Inconsistent session state %v on receive", s.state)
	}
}

// splitCommand tokenizes a command line: the first token may end at a
// colon or a space, the rest split on spaces only.
func splitCommand(line string) ([]string, error) {
	line = strings.TrimLeft(line, ": ")
	if line == "" {
		return nil, fmt.Errorf("%w: empty command line", api.ErrInvalidParameter)
	}
	var first, rest string
	if i := strings.IndexAny(line, ": "); i >= 0 {
		first, rest = line[:i], line[i+1:]
	} else {
		first = line
	}
	args := append([]string{first}, strings.Fields(rest)...)
	if len(args) > api.MaxCommandArgs {
		return nil, fmt.Errorf("%w: too many arguments", api.ErrInvalidParameter)
	}
	return args, nil
}

func (s *Session) runCommand() {
	if s.state != StateCommand {
		return
	}
	args, err := splitCommand(s.cmdLine)
	if err != nil {
		glog.Errorf("Failed to split command line: %v", err)
		s.Fail("Invalid command line")
		return
	}
	s.runRegistered(&s.cmds, args)
	s.received = 0
	s.lastReceived = 0

	if s.state == StateTX {
		s.flushTx()
	}
}

func (s *Session) lockState() api.LockState {
	if s.cfg.Lock == nil {
		return api.Unlocked
	}
	return s.cfg.Lock.Current()
}

func (s *Session) runRegistered(r *Registry, args []string) {
	cmd, ok := r.Lookup(args[0])
	if !ok {
		glog.Errorf("Unknown command %q", args[0])
		s.Fail("unknown command")
		return
	}
	if cmd.MinState > s.lockState() {
		s.Fail("command not allowed in %v state", s.lockState())
		return
	}
	cmd.Handle(s, args)
}

// stop arranges session teardown: immediately when idle, otherwise at
// the next transmit completion so no bytes are torn down mid-flight.
func (s *Session) stop(image []byte, target api.BootTarget) {
	s.result = Result{Target: target}
	if len(image) > 0 {
		s.result.Image = make([]byte, len(image))
		copy(s.result.Image, image)
	}
	s.stopped = true
	if s.state == StateComplete {
		s.state = StateStopped
	} else {
		s.nextState = StateStopping
	}
}
