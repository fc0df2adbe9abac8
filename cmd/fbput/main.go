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

// fbput is the host-side client: it speaks the protocol to a fastbootd
// instance to query variables, push images and flash or erase
// partitions.
//
// Usage:
//
//	fbput --addr host:port getvar all
//	fbput --addr host:port flash boot boot.img
//	fbput --addr host:port erase userdata
//	fbput --addr host:port boot kernel.img
//	fbput --addr host:port oem get-hashes sha256
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/transport"
)

var addr = flag.String("addr", "127.0.0.1:5554", "fastbootd address")

// chunkSize is the transfer unit during the data phase.
const chunkSize = 1 << 20

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		glog.Exitf("No command given")
	}

	conn, err := transport.Dial(*addr)
	if err != nil {
		glog.Exitf("Failed to connect: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	switch args[0] {
	case "flash":
		if len(args) != 3 {
			glog.Exitf("Usage: flash <label> <file>")
		}
		if err := push(ctx, conn, args[2]); err != nil {
			glog.Exitf("Download failed: %v", err)
		}
		err = command(ctx, conn, "flash:"+args[1])
	case "boot":
		if len(args) != 2 {
			glog.Exitf("Usage: boot <file>")
		}
		if err := push(ctx, conn, args[1]); err != nil {
			glog.Exitf("Download failed: %v", err)
		}
		err = command(ctx, conn, "boot")
	case "getvar":
		if len(args) != 2 {
			glog.Exitf("Usage: getvar <name>")
		}
		err = command(ctx, conn, "getvar:"+args[1])
	default:
		// erase, reboot, continue, oem ..., flashing ... go through
		// verbatim.
		err = command(ctx, conn, strings.Join(args, " "))
	}
	if err != nil {
		glog.Exitf("%v", err)
	}
}

// command sends one line and prints the response, INFO lines included,
// until the final status arrives.
func command(ctx context.Context, conn *transport.Conn, line string) error {
	if err := conn.Send([]byte(line)); err != nil {
		return err
	}
	for {
		frame, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		code, text := parseFrame(frame)
		switch code {
		case api.CodeInfo:
			fmt.Println(text)
		case api.CodeOkay:
			if text != "" {
				fmt.Println(text)
			}
			return nil
		case api.CodeFail:
			return fmt.Errorf("%s: FAIL %s", line, text)
		default:
			return fmt.Errorf("%w: unexpected response %q", api.ErrProtocol, code)
		}
	}
}

// push negotiates a download and streams the file to the device.
func push(ctx context.Context, conn *transport.Conn, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: %q is empty", api.ErrInvalidParameter, path)
	}
	if err := conn.Send([]byte(fmt.Sprintf("download:%08x", len(data)))); err != nil {
		return err
	}
	resp, err := conn.Receive(ctx)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(resp, []byte(api.CodeData)) {
		code, text := parseFrame(resp)
		return fmt.Errorf("download refused: %s %s", code, text)
	}

	bar := pb.Full.Start64(int64(len(data)))
	defer bar.Finish()
	w := bar.NewProxyWriter(&messageWriter{conn: conn})
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := w.Write(data[off:end]); err != nil {
			return err
		}
	}

	frame, err := conn.Receive(ctx)
	if err != nil {
		return err
	}
	if code, text := parseFrame(frame); code != api.CodeOkay {
		return fmt.Errorf("download not acknowledged: %s %s", code, text)
	}
	return nil
}

// messageWriter turns each Write into one transport message.
type messageWriter struct {
	conn *transport.Conn
}

func (w *messageWriter) Write(p []byte) (int, error) {
	if err := w.conn.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func parseFrame(frame []byte) (string, string) {
	if len(frame) < api.CodeLength {
		return "", string(frame)
	}
	return string(frame[:api.CodeLength]), api.FrameText(frame)
}
