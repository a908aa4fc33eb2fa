// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2018 Canonical Ltd
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

package mountns

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	IsControlDirPrivate     = isControlDirPrivate
	FindBaseSnapDevice      = findBaseSnapDevice
	RootDeviceFromMountInfo = rootDeviceFromMountInfo
	CaptureNamespace        = captureNamespace
)

const (
	HelperCmdExit      = helperCmdExit
	HelperCmdCaptureNs = helperCmdCaptureNs
)

// SystemCalls encapsulates the system interactions of this package.
type SystemCalls interface {
	Open(path string, flags int, mode uint32) (int, error)
	Openat(dirfd int, path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Fstatfs(fd int, buf *syscall.Statfs_t) error
	Fchdir(fd int) error
	Setns(fd int, nstype int) error
	Unshare(flags int) error
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

// SyscallRecorder stores which system calls were invoked.
type SyscallRecorder struct {
	calls  []string
	errors map[string]error
	nextFd int
	// FsType is reported by the mocked Fstatfs for every descriptor.
	FsType int64
}

// InsertFault makes given subsequent call fail with the specified error.
func (sys *SyscallRecorder) InsertFault(call string, err error) {
	if sys.errors == nil {
		sys.errors = make(map[string]error)
	}
	sys.errors[call] = err
}

// Calls returns the sequence of mocked calls that have been made.
func (sys *SyscallRecorder) Calls() []string {
	return sys.calls
}

func (sys *SyscallRecorder) call(call string) error {
	sys.calls = append(sys.calls, call)
	return sys.errors[call]
}

func (sys *SyscallRecorder) Open(path string, flags int, mode uint32) (int, error) {
	if err := sys.call(fmt.Sprintf("open %q %d", path, flags)); err != nil {
		return -1, err
	}
	sys.nextFd++
	return sys.nextFd, nil
}

func (sys *SyscallRecorder) Openat(dirfd int, path string, flags int, mode uint32) (int, error) {
	if err := sys.call(fmt.Sprintf("openat %d %q %d", dirfd, path, flags)); err != nil {
		return -1, err
	}
	sys.nextFd++
	return sys.nextFd, nil
}

func (sys *SyscallRecorder) Close(fd int) error {
	return sys.call(fmt.Sprintf("close %d", fd))
}

func (sys *SyscallRecorder) Fstatfs(fd int, buf *syscall.Statfs_t) error {
	if err := sys.call(fmt.Sprintf("fstatfs %d", fd)); err != nil {
		return err
	}
	buf.Type = sys.FsType
	return nil
}

func (sys *SyscallRecorder) Fchdir(fd int) error {
	return sys.call(fmt.Sprintf("fchdir %d", fd))
}

func (sys *SyscallRecorder) Setns(fd int, nstype int) error {
	return sys.call(fmt.Sprintf("setns %d %d", fd, nstype))
}

func (sys *SyscallRecorder) Unshare(flags int) error {
	return sys.call(fmt.Sprintf("unshare %d", flags))
}

func (sys *SyscallRecorder) Mount(source, target, fstype string, flags uintptr, data string) error {
	return sys.call(fmt.Sprintf("mount %q %q %q %d %q", source, target, fstype, flags, data))
}

func (sys *SyscallRecorder) Unmount(target string, flags int) error {
	return sys.call(fmt.Sprintf("unmount %q %d", target, flags))
}

// MockSystemCalls replaces real system calls with those of the argument.
func MockSystemCalls(sc SystemCalls) (restore func()) {
	oldSysOpen := sysOpen
	oldSysOpenat := sysOpenat
	oldSysClose := sysClose
	oldSysFstatfs := sysFstatfs
	oldSysFchdir := sysFchdir
	oldSysSetns := sysSetns
	oldSysUnshare := sysUnshare
	oldSysMount := sysMount
	oldSysUnmount := sysUnmount

	sysOpen = sc.Open
	sysOpenat = sc.Openat
	sysClose = sc.Close
	sysFstatfs = sc.Fstatfs
	sysFchdir = sc.Fchdir
	sysSetns = sc.Setns
	sysUnshare = sc.Unshare
	sysMount = sc.Mount
	sysUnmount = sc.Unmount

	return func() {
		sysOpen = oldSysOpen
		sysOpenat = oldSysOpenat
		sysClose = oldSysClose
		sysFstatfs = oldSysFstatfs
		sysFchdir = oldSysFchdir
		sysSetns = oldSysSetns
		sysUnshare = oldSysUnshare
		sysMount = oldSysMount
		sysUnmount = oldSysUnmount
	}
}

// MockGetwd replaces the function used to read the working directory.
func MockGetwd(fn func() (string, error)) (restore func()) {
	old := osGetwd
	osGetwd = fn
	return func() {
		osGetwd = old
	}
}

// MockChdir replaces the function used to change the working directory.
func MockChdir(fn func(string) error) (restore func()) {
	old := osChdir
	osChdir = fn
	return func() {
		osChdir = old
	}
}

// MockReadlink replaces the function used to read symbolic links.
func MockReadlink(fn func(string) (string, error)) (restore func()) {
	old := osReadlink
	osReadlink = fn
	return func() {
		osReadlink = old
	}
}

// MockSanityTimeout shortens the bounded cross-process waits.
func MockSanityTimeout(timeout time.Duration) (restore func()) {
	old := sanityTimeout
	sanityTimeout = timeout
	return func() {
		sanityTimeout = old
	}
}

// CaptureHelper is the parent-side handle of a running capture helper.
type CaptureHelper = captureHelper

// FakeCaptureHelper builds a parent-side helper handle around the given
// pipes for testing the capture protocol without re-executing anything.
func FakeCaptureHelper(pid int, cmdW, ackR *os.File, wait func() error, kill func() error) *captureHelper {
	return &captureHelper{pid: pid, cmdW: cmdW, ackR: ackR, wait: wait, kill: kill}
}

// MockStartCaptureHelper replaces the function starting the helper process.
func MockStartCaptureHelper(fn func(name string) (*captureHelper, error)) (restore func()) {
	old := startCaptureHelper
	startCaptureHelper = fn
	return func() {
		startCaptureHelper = old
	}
}

// MockRunInspectHelper replaces the function running the inspection helper.
func MockRunInspectHelper(fn func(mntFD int, name string) (uint64, error)) (restore func()) {
	old := runInspectHelper
	runInspectHelper = fn
	return func() {
		runInspectHelper = old
	}
}
