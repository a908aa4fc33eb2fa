// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019-2024 Canonical Ltd
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

package cgroup

import (
	"github.com/godbus/dbus/v5"
	"gopkg.in/check.v1"
)

var (
	ParseProcCgroup    = parseProcCgroup
	ParsePid           = parsePid
	ProbeCgroupVersion = probeCgroupVersion
)

// MockVersion sets the reported version of cgroup support.
func MockVersion(mockVersion int, mockErr error) (restore func()) {
	oldVersion, oldErr := probeVersion, probeErr
	probeVersion, probeErr = mockVersion, mockErr
	return func() {
		probeVersion, probeErr = oldVersion, oldErr
	}
}

// MockFsTypeForPath mocks the statfs backed filesystem type probe.
func MockFsTypeForPath(mock func(string) (int64, error)) (restore func()) {
	old := fsTypeForPath
	fsTypeForPath = mock
	return func() {
		fsTypeForPath = old
	}
}

// MockFsRootPath mocks the path of the root filesystem.
func MockFsRootPath(p string) (restore func()) {
	old := rootPath
	rootPath = p
	return func() {
		rootPath = old
	}
}

// MockFreezerCgroupDir mocks the path of the freezer cgroup v1 hierarchy.
func MockFreezerCgroupDir(c *check.C) (restore func()) {
	old := freezerCgroupV1Dir
	freezerCgroupV1Dir = c.MkDir()
	return func() {
		freezerCgroupV1Dir = old
	}
}

// FreezerCgroupDir returns the path of the freezer cgroup v1 hierarchy.
func FreezerCgroupDir() string {
	return freezerCgroupV1Dir
}

// MockDevicesCgroupDir mocks the path of the devices cgroup v1 hierarchy.
func MockDevicesCgroupDir(c *check.C) (restore func()) {
	old := devicesCgroupV1Dir
	devicesCgroupV1Dir = c.MkDir()
	return func() {
		devicesCgroupV1Dir = old
	}
}

// DevicesCgroupDir returns the path of the devices cgroup v1 hierarchy.
func DevicesCgroupDir() string {
	return devicesCgroupV1Dir
}

// MockRandomUUID mocks the source of random UUIDs.
func MockRandomUUID(f func() (string, error)) (restore func()) {
	old := randomUUID
	randomUUID = f
	return func() {
		randomUUID = old
	}
}

// MockOsGetuid mocks the user ID of the current process.
func MockOsGetuid(uid int) (restore func()) {
	old := osGetuid
	osGetuid = func() int { return uid }
	return func() {
		osGetuid = old
	}
}

// MockOsGetpid mocks the process ID of the current process.
func MockOsGetpid(pid int) (restore func()) {
	old := osGetpid
	osGetpid = func() int { return pid }
	return func() {
		osGetpid = old
	}
}

// MockDoCreateTransientScope mocks the dbus interaction with systemd.
func MockDoCreateTransientScope(fn func(conn *dbus.Conn, unitName string, pid int) error) (restore func()) {
	old := doCreateTransientScope
	doCreateTransientScope = fn
	return func() {
		doCreateTransientScope = old
	}
}
