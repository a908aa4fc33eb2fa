// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2014-2024 Canonical Ltd
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

package release

import (
	"strings"

	"github.com/mvo5/goconfigparser"
)

// OS contains the subset of /etc/os-release used to classify the system.
type OS struct {
	ID        string
	IDLike    []string
	VersionID string
	VariantID string
}

var (
	osReleasePath         = "/etc/os-release"
	fallbackOsReleasePath = "/usr/lib/os-release"
)

// readOSRelease returns the os-release information of the current system.
func readOSRelease() OS {
	osRelease := OS{
		// from os-release(5): If not set, defaults to "ID=linux".
		ID: "linux",
	}

	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadFile(osReleasePath); err != nil {
		if err := cfg.ReadFile(fallbackOsReleasePath); err != nil {
			return osRelease
		}
	}

	if id, err := cfg.Get("", "ID"); err == nil {
		// ID should be prepared as per os-release(5) but be liberal
		// in what we accept anyway
		osRelease.ID = strings.ToLower(strings.Trim(id, `"'`))
	}
	if idLike, err := cfg.Get("", "ID_LIKE"); err == nil {
		for _, id := range strings.Fields(strings.Trim(idLike, `"'`)) {
			osRelease.IDLike = append(osRelease.IDLike, strings.ToLower(id))
		}
	}
	if versionID, err := cfg.Get("", "VERSION_ID"); err == nil {
		osRelease.VersionID = strings.Trim(versionID, `"'`)
	}
	if variantID, err := cfg.Get("", "VARIANT_ID"); err == nil {
		osRelease.VariantID = strings.ToLower(strings.Trim(variantID, `"'`))
	}
	return osRelease
}

// ReleaseInfo contains information about the system go-release.
var ReleaseInfo OS

// OnClassic states whether the process is running inside a classic
// distribution or an all-snap system image.
var OnClassic bool

func init() {
	ReleaseInfo = readOSRelease()
	OnClassic = ReleaseInfo.ID != "ubuntu-core"
}

// IsDebianLike tells whether the system identifies as Debian or as a
// derivative of it.
func IsDebianLike() bool {
	switch ReleaseInfo.ID {
	case "debian", "ubuntu":
		return true
	}
	for _, id := range ReleaseInfo.IDLike {
		if id == "debian" || id == "ubuntu" {
			return true
		}
	}
	return false
}

// Distro describes the coarse system class used to pick the
// mount namespace bootstrap strategy.
type Distro int

const (
	// DistroClassic is a traditional distribution with snap support.
	DistroClassic Distro = iota
	// DistroCore16 is an all-snap image based on core 16.
	DistroCore16
	// DistroCoreOther is an all-snap image based on a newer base.
	DistroCoreOther
)

// ClassifyDistro tells which mount namespace bootstrap strategy applies
// to the current system.
//
// On core 16 images the rootfs is already the core snap so per-snap
// namespaces keep it in place. Newer all-snap images and classic systems
// pivot into the base snap instead.
func ClassifyDistro() Distro {
	if ReleaseInfo.ID != "ubuntu-core" {
		return DistroClassic
	}
	if ReleaseInfo.VersionID == "16" {
		return DistroCore16
	}
	return DistroCoreOther
}

// MockOnClassic forces the process to appear inside a classic
// or all-snap system for testing purposes.
func MockOnClassic(onClassic bool) (restore func()) {
	old := OnClassic
	OnClassic = onClassic
	return func() { OnClassic = old }
}

// MockReleaseInfo fakes a given information to appear in ReleaseInfo,
// as if it was read from the os-release file on startup.
func MockReleaseInfo(osRelease *OS) (restore func()) {
	old := ReleaseInfo
	ReleaseInfo = *osRelease
	return func() { ReleaseInfo = old }
}
