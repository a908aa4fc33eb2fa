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

// Package seccomp loads and applies the precompiled system call filters
// of snap applications.
package seccomp

import (
	"fmt"

	seccomp "github.com/seccomp/libseccomp-golang"
)

// LibraryVersion returns the version of the C seccomp library in use.
func LibraryVersion() string {
	major, minor, micro := seccomp.GetLibraryVersion()
	return fmt.Sprintf("%d.%d.%d", major, minor, micro)
}

// SupportsActLog returns true when the kernel, the C library and the Go
// bindings all support the log action.
var SupportsActLog = supportsActLogImpl

func supportsActLogImpl() bool {
	// Level 3 of the seccomp API introduced SCMP_ACT_LOG.
	api, err := seccomp.GetAPI()
	return err == nil && api >= 3
}

// MockSupportsActLog replaces the log action probe.
func MockSupportsActLog(f func() bool) (restore func()) {
	old := SupportsActLog
	SupportsActLog = f
	return func() {
		SupportsActLog = old
	}
}
