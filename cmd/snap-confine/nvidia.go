// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2017-2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/snapcore/snap-confine/logger"
)

// Proprietary GPU drivers live outside the base snap, so the driver
// user-space libraries of the host have to be grafted into the namespace
// or GPU-using snaps would talk to the kernel driver through mismatched
// libraries. The libraries are collected below this directory inside the
// namespace.
const vendorLibDir = "/var/lib/snapd/lib/gl"

const nvidiaVersionFile = "/sys/module/nvidia/version"

// Driver library locations probed on the host, in order.
var vendorDriverSourceGlobs = []string{
	"/usr/lib/nvidia-[0-9]*",
	"/usr/lib/x86_64-linux-gnu/nvidia",
}

var filepathGlob = filepath.Glob

// mountVendorDrivers binds the host GPU driver libraries into the
// namespace under construction. This must happen before pivot_root
// because the sources are only addressable in the pre-pivot layout.
//
// A system without the proprietary driver loaded is the common case and
// not an error.
func mountVendorDrivers(scratchDir string) error {
	if _, err := osStat(nvidiaVersionFile); err != nil {
		logger.Debugf("no vendor GPU driver detected")
		return nil
	}
	var sources []string
	for _, pattern := range vendorDriverSourceGlobs {
		matches, err := filepathGlob(pattern)
		if err != nil {
			return fmt.Errorf("cannot glob %q: %v", pattern, err)
		}
		for _, match := range matches {
			fi, err := osStat(match)
			if err != nil || !fi.IsDir() {
				continue
			}
			sources = append(sources, match)
		}
	}
	if len(sources) == 0 {
		logger.Debugf("vendor GPU driver loaded but no library directory found")
		return nil
	}
	dst := filepath.Join(scratchDir, vendorLibDir)
	if err := osMkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("cannot create %q: %v", dst, err)
	}
	// A tmpfs keeps the driver libraries of distinct driver versions from
	// shadowing each other across upgrades.
	if err := doMount("none", dst, "tmpfs", syscall.MS_NODEV|syscall.MS_NOEXEC, ""); err != nil {
		return err
	}
	for _, src := range sources {
		target := filepath.Join(dst, filepath.Base(src))
		if err := osMkdirAll(target, 0755); err != nil {
			return fmt.Errorf("cannot create %q: %v", target, err)
		}
		if err := doMount(src, target, "", syscall.MS_BIND, ""); err != nil {
			return err
		}
		if err := changePropagation(target, syscall.MS_SLAVE); err != nil {
			return err
		}
	}
	return nil
}
