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

// Package api holds the wire-level types shared between the device-side
// protocol session and host-side tooling.
package api

import (
	"fmt"
)

// Status codes prefixing every response frame.
const (
	CodeOkay = "OKAY"
	CodeFail = "FAIL"
	CodeInfo = "INFO"
	CodeData = "DATA"
)

const (
	// FrameSize is the exact size of an acknowledgement frame on the wire.
	FrameSize = 64
	// CodeLength is the size of the status code prefix.
	CodeLength = 4
	// InfoPayload is the maximum formatted text per frame.
	InfoPayload = FrameSize - CodeLength
	// MaxCommandArgs bounds the token count of a single command line.
	MaxCommandArgs = 16
)

// Frame builds a fixed-size acknowledgement frame. The formatted text must
// fit within InfoPayload-1 bytes; overflowing it is a programming error on
// the calling handler, not something to silently truncate.
func Frame(code string, format string, args ...interface{}) ([]byte, error) {
	if len(code) != CodeLength {
		return nil, fmt.Errorf("%w: bad status code %q", ErrInvalidParameter, code)
	}
	text := fmt.Sprintf(format, args...)
	if len(text) > InfoPayload-1 {
		return nil, fmt.Errorf("%w: response text %d bytes exceeds frame payload", ErrInvalidParameter, len(text))
	}
	msg := make([]byte, FrameSize)
	copy(msg, code)
	copy(msg[CodeLength:], text)
	return msg, nil
}

// DataResponse builds the short download acknowledgement advertising the
// negotiated size: "DATA" followed by exactly 8 hex digits.
func DataResponse(size uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", CodeData, size))
}

// FrameText returns the text payload of a frame with trailing NULs removed.
func FrameText(frame []byte) string {
	if len(frame) < CodeLength {
		return ""
	}
	b := frame[CodeLength:]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
