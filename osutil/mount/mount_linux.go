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

// Package mount provides symbolic rendering of mount and unmount flags
// for log messages and error reporting.
package mount

import (
	"syscall"
)

// UMOUNT_NOFOLLOW is not defined in go's syscall package
const UMOUNT_NOFOLLOW = 8

type flagName struct {
	name string
	flag int
}

var mountFlagNames = []flagName{
	{"MS_REMOUNT", syscall.MS_REMOUNT},
	{"MS_BIND", syscall.MS_BIND},
	{"MS_REC", syscall.MS_REC},
	{"MS_RDONLY", syscall.MS_RDONLY},
	{"MS_NOSUID", syscall.MS_NOSUID},
	{"MS_NODEV", syscall.MS_NODEV},
	{"MS_NOEXEC", syscall.MS_NOEXEC},
	{"MS_SHARED", syscall.MS_SHARED},
	{"MS_SLAVE", syscall.MS_SLAVE},
	{"MS_PRIVATE", syscall.MS_PRIVATE},
	{"MS_UNBINDABLE", syscall.MS_UNBINDABLE},
}

var unmountFlagNames = []flagName{
	{"UMOUNT_NOFOLLOW", UMOUNT_NOFOLLOW},
	{"MNT_FORCE", syscall.MNT_FORCE},
	{"MNT_DETACH", syscall.MNT_DETACH},
	{"MNT_EXPIRE", syscall.MNT_EXPIRE},
}

func flagsToOpts(flags int, names []flagName) (opts []string, unknown int) {
	for _, fn := range names {
		if flags&fn.flag == fn.flag && fn.flag != 0 {
			opts = append(opts, fn.name)
			flags &^= fn.flag
		}
	}
	return opts, flags
}

// MountFlagsToOpts returns the symbolic representation of mount flags.
func MountFlagsToOpts(flags int) (opts []string, unknown int) {
	return flagsToOpts(flags, mountFlagNames)
}

// UnmountFlagsToOpts returns the symbolic representation of unmount flags.
func UnmountFlagsToOpts(flags int) (opts []string, unknown int) {
	return flagsToOpts(flags, unmountFlagNames)
}
