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

package sys

import (
	"syscall"
)

// UserID is the type of the system value for user identity.
type UserID uint32

// GroupID is the type of the system value for group identity.
type GroupID uint32

// FlagID can be passed to chown-style functions to mean "no change".
// It works for both UserID and GroupID.
const FlagID = 1<<32 - 1

// Getuid returns the real user id of the calling process.
func Getuid() UserID {
	return UserID(syscall.Getuid())
}

// Geteuid returns the effective user id of the calling process.
func Geteuid() UserID {
	return UserID(syscall.Geteuid())
}

// Getgid returns the real group id of the calling process.
func Getgid() GroupID {
	return GroupID(syscall.Getgid())
}

// Getegid returns the effective group id of the calling process.
func Getegid() GroupID {
	return GroupID(syscall.Getegid())
}
