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

import "errors"

// Error taxonomy for the flashing and verification core. Handlers recover
// these locally and report them as FAIL responses; only ErrProtocol is fatal
// to a session.
var (
	// ErrInvalidParameter indicates malformed input or arguments.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrOutOfBounds indicates a write or read would exit the partition extent.
	ErrOutOfBounds = errors.New("out of partition bounds")
	// ErrUnsupported indicates an unknown algorithm, filesystem or command.
	ErrUnsupported = errors.New("unsupported")
	// ErrAccessDenied indicates a verification failure.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound indicates an absent label, partition or variable.
	ErrNotFound = errors.New("not found")
	// ErrDeviceError indicates an underlying disk I/O failure.
	ErrDeviceError = errors.New("device error")
	// ErrProtocol indicates a transport write failure; it forces the session
	// into its terminal error state.
	ErrProtocol = errors.New("transport protocol error")
)
