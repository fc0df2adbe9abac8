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

// fastbootd serves the flashing protocol over TCP against a disk
// image, the way a device bootloader would over USB.
package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"os"
	"strings"

	"github.com/golang/glog"

	"github.com/openfw/bootcore/api"
	"github.com/openfw/bootcore/internal/devstate"
	"github.com/openfw/bootcore/internal/esp"
	"github.com/openfw/bootcore/internal/fastboot"
	"github.com/openfw/bootcore/internal/flash"
	"github.com/openfw/bootcore/internal/gpt"
	"github.com/openfw/bootcore/internal/storage"
	"github.com/openfw/bootcore/internal/transport"
	"github.com/openfw/bootcore/internal/verify"
)

var (
	diskPath    = flag.String("disk", "", "Path to the user disk image")
	factoryPath = flag.String("factory_disk", "", "Optional path to the factory disk image")
	blockSize   = flag.Int64("block_size", 512, "Logical block size of the disk images")
	espDir      = flag.String("esp_dir", "", "Directory backing the boot-support filesystem")
	listenAddr  = flag.String("listen", "127.0.0.1:5554", "Address to serve the protocol on")
	maxDownload = flag.Int64("max_download_size", 256<<20, "Largest accepted download")
	debugCmds   = flag.Bool("debug_commands", false, "Enable the engineering-only flash labels")
	unlockable  = flag.Bool("allow_unlock", true, "Whether the flashing unlock command may succeed")
	stateFile   = flag.String("state_file", "", "File persisting the lock state across runs")
	oemCertPath = flag.String("oem_cert", "", "PEM certificate used to classify booted images")
	product     = flag.String("product", "bootcore", "Value of the product variable")
	variant     = flag.String("variant", "dev", "Value of the variant variable")
	version     = flag.String("version_bootloader", "0.1", "Value of the version-bootloader variable")
	lockedFlash = flag.String("flash_locked_whitelist", "", "Comma-separated labels flashable while locked")
)

func loadLockState() api.LockState {
	if *stateFile == "" {
		return api.Locked
	}
	b, err := os.ReadFile(*stateFile)
	if err != nil {
		return api.Locked
	}
	if string(b) == "unlocked" {
		return api.Unlocked
	}
	return api.Locked
}

func loadOEMCert() *x509.Certificate {
	if *oemCertPath == "" {
		return nil
	}
	b, err := os.ReadFile(*oemCertPath)
	if err != nil {
		glog.Exitf("Failed to read OEM certificate: %v", err)
	}
	block, _ := pem.Decode(b)
	if block == nil {
		glog.Exitf("No PEM block in %q", *oemCertPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		glog.Exitf("Failed to parse OEM certificate: %v", err)
	}
	return cert
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func main() {
	flag.Parse()
	if *diskPath == "" {
		glog.Exitf("--disk is required")
	}

	disk, err := storageOpen(*diskPath)
	if err != nil {
		glog.Exitf("Failed to open disk: %v", err)
	}
	user, err := gpt.Open(disk)
	if err != nil {
		glog.Exitf("Failed to read partition table: %v", err)
	}
	var factory *gpt.Table
	if *factoryPath != "" {
		fdisk, err := storageOpen(*factoryPath)
		if err != nil {
			glog.Exitf("Failed to open factory disk: %v", err)
		}
		if factory, err = gpt.Open(fdisk); err != nil {
			glog.Exitf("Failed to read factory partition table: %v", err)
		}
	}

	var fs esp.FS
	if *espDir != "" {
		dfs, err := esp.NewDirFS(*espDir)
		if err != nil {
			glog.Exitf("Failed to open boot-support directory: %v", err)
		}
		fs = dfs
	}

	lock := devstate.New(loadLockState())
	lock.SetUnlockAbility(func() bool { return *unlockable })
	counters := &devstate.Counters{}

	dispatcher := &flash.Dispatcher{
		Disk:            disk,
		User:            user,
		Factory:         factory,
		ESP:             fs,
		Debug:           *debugCmds,
		BootloaderLabel: "bootloader",
	}
	if fs != nil {
		dispatcher.OEMVars = func(data []byte) error {
			return fs.WriteFile("oemvars.bin", data)
		}
		dispatcher.Bootloader = func(data []byte) error {
			return fs.WriteFile("bootloader.img", data)
		}
	}

	lock.OnChange(func(state api.LockState) {
		if *stateFile != "" {
			if err := os.WriteFile(*stateFile, []byte(state.String()), 0o600); err != nil {
				glog.Errorf("Failed to persist lock state: %v", err)
			}
		}
		// A lock transition invalidates user data.
		if err := dispatcher.Erase("data"); err != nil {
			glog.Warningf("Userdata wipe: %v", err)
		}
	})

	verifier := verify.NewEngine(func(label string) (gpt.Partition, error) {
		return dispatcher.Resolve(label, gpt.UnitUser)
	}, fs)
	oemCert := loadOEMCert()

	ln, err := transport.Listen(*listenAddr)
	if err != nil {
		glog.Exitf("Failed to listen: %v", err)
	}
	defer ln.Close()
	ln.MaxMessage = *maxDownload
	glog.Infof("Serving on %v", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.Exitf("Accept failed: %v", err)
		}
		serve(conn, fastboot.Config{
			Transport:            conn,
			Dispatcher:           dispatcher,
			Verifier:             verifier,
			Lock:                 lock,
			Counters:             counters,
			MaxDownload:          *maxDownload,
			Product:              *product,
			Variant:              *variant,
			BootloaderVersion:    *version,
			FlashLockedWhitelist: splitList(*lockedFlash),
		}, oemCert, lock)
	}
}

func serve(conn *transport.Conn, cfg fastboot.Config, oemCert *x509.Certificate, lock *devstate.Machine) {
	defer conn.Close()
	session, err := fastboot.NewSession(cfg)
	if err != nil {
		glog.Errorf("Failed to build session: %v", err)
		return
	}
	result, err := session.Run(context.Background())
	if err != nil {
		glog.Errorf("Session ended: %v", err)
		return
	}
	glog.Infof("Session finished, target %v", result.Target)
	if result.Target == api.TargetDownloaded {
		classifyBoot(result.Image, oemCert, lock)
	}
}

// classifyBoot applies the boot gate a device would before chaining
// into a downloaded image.
func classifyBoot(image []byte, oemCert *x509.Certificate, lock *devstate.Machine) {
	if oemCert == nil {
		glog.Warningf("No OEM certificate configured, booted image unclassified")
		return
	}
	state, target := verify.VerifyBootImage(image, oemCert)
	glog.Infof("Downloaded image: trust %v, target %q", state, target)
	if state == verify.TrustRed && lock.Current() == api.Locked {
		glog.Errorf("Refusing red image while locked")
	}
}

func storageOpen(path string) (*storage.FileDisk, error) {
	return storage.OpenFileDisk(path, *blockSize)
}
