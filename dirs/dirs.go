// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2016-2024 Canonical Ltd
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

package dirs

import (
	"path/filepath"
)

// the various file paths
var (
	GlobalRootDir string

	SnapMountDir string

	SnapMountPolicyDir string
	SnapRunDir         string
	SnapRunNsDir       string
	SnapRunLockDir     string

	SnapSeccompDir    string
	SnapVoidDir       string
	SnapHostfsDir     string
	SnapPrivateTmpDir string

	FreezerCgroupV1Dir   string
	PidsCgroupDir        string
	CgroupUnifiedRootDir string

	OsReleasePath string
)

var callbacks []func(string)

func init() {
	// init the global directories at startup
	SetRootDir("/")
}

// AddRootDirCallback registers a callback for whenever the global root
// directory (set by SetRootDir) is changed to enable updating format strings
// in other packages.
func AddRootDirCallback(c func(string)) {
	callbacks = append(callbacks, c)
}

// SetRootDir allows settings a new global root directory, this is useful
// for testing.
func SetRootDir(rootdir string) {
	if rootdir == "" {
		rootdir = "/"
	}
	GlobalRootDir = rootdir

	SnapMountDir = filepath.Join(rootdir, "/snap")

	SnapMountPolicyDir = filepath.Join(rootdir, "/var/lib/snapd/mount")
	SnapRunDir = filepath.Join(rootdir, "/run/snapd")
	SnapRunNsDir = filepath.Join(SnapRunDir, "/ns")
	SnapRunLockDir = filepath.Join(SnapRunDir, "/lock")

	SnapSeccompDir = filepath.Join(rootdir, "/var/lib/snapd/seccomp/bpf")
	SnapVoidDir = filepath.Join(rootdir, "/var/lib/snapd/void")
	SnapHostfsDir = filepath.Join(rootdir, "/var/lib/snapd/hostfs")
	SnapPrivateTmpDir = filepath.Join(rootdir, "/tmp/snap-private-tmp")

	FreezerCgroupV1Dir = filepath.Join(rootdir, "/sys/fs/cgroup/freezer")
	PidsCgroupDir = filepath.Join(rootdir, "/sys/fs/cgroup/pids")
	CgroupUnifiedRootDir = filepath.Join(rootdir, "/sys/fs/cgroup")

	OsReleasePath = filepath.Join(rootdir, "/etc/os-release")

	for _, c := range callbacks {
		c(rootdir)
	}
}
