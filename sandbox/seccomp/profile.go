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

package seccomp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
)

// sizeofSockFilter is the size of one compiled BPF instruction.
const sizeofSockFilter = 8

// Profile is a compiled system call filter of a snap application.
type Profile struct {
	// Unrestricted profiles skip filtering altogether.
	Unrestricted bool

	bpf []byte
}

// profilePath returns the location of the compiled filter for the given
// security tag.
func profilePath(securityTag string) string {
	return filepath.Join(dirs.SnapSeccompDir, securityTag+".bin2")
}

// LoadProfile reads the compiled filter of the given security tag.
//
// A profile starting with the "@unrestricted" marker disables filtering.
// Anything else is a blob of BPF instructions produced ahead of time.
func LoadProfile(securityTag string) (*Profile, error) {
	fname := profilePath(securityTag)
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("cannot read seccomp profile %s: %v", fname, err)
	}
	if bytes.HasPrefix(data, []byte("@unrestricted")) {
		return &Profile{Unrestricted: true}, nil
	}
	if len(data) == 0 || len(data)%sizeofSockFilter != 0 {
		return nil, fmt.Errorf("seccomp profile %s is corrupted", fname)
	}
	return &Profile{bpf: data}, nil
}

// Apply installs the filter in the kernel for the current process and
// all of its future children.
func (p *Profile) Apply() error {
	if p.Unrestricted {
		logger.Debugf("seccomp profile is unrestricted, not applying a filter")
		return nil
	}
	logger.Debugf("applying seccomp filter with libseccomp %s", LibraryVersion())
	if !SupportsActLog() {
		logger.Noticef("seccomp log action is not supported, log rules in the filter will not be effective")
	}
	return applyFilter(p.bpf)
}

var applyFilter = applyFilterImpl

func applyFilterImpl(bpf []byte) error {
	// no_new_privs is required to install a filter without CAP_SYS_ADMIN
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("cannot set no_new_privs: %v", err)
	}
	prog := unix.SockFprog{
		Len:    uint16(len(bpf) / sizeofSockFilter),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&bpf[0])),
	}
	if _, _, errno := unix.Syscall(unix.SYS_SECCOMP,
		unix.SECCOMP_SET_MODE_FILTER, 0,
		uintptr(unsafe.Pointer(&prog))); errno != 0 {
		return fmt.Errorf("cannot apply seccomp filter: %v", errno)
	}
	return nil
}

// MockApplyFilter replaces the code that loads the filter into the kernel.
func MockApplyFilter(f func(bpf []byte) error) (restore func()) {
	old := applyFilter
	applyFilter = f
	return func() {
		applyFilter = old
	}
}
