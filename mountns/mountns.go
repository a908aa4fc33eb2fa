// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2017-2018 Canonical Ltd
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

// Package mountns manages preserved per-snap mount namespaces.
//
// Each snap instance gets a mount namespace that is constructed once and
// then preserved as a bind-mounted file under the control directory
// (typically /run/snapd/ns). Subsequent invocations join the preserved
// namespace with setns(2) instead of re-constructing it. The namespace
// reference file <name>.mnt is either an empty regular file (nothing
// preserved yet) or a bind mount of a nsfs magic file (a live namespace).
package mountns

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
)

const (
	// Filesystem magic of nsfs, the filesystem backing namespace files on
	// kernels 4.4 and newer. Older kernels report proc for those files.
	nsfsMagic      = 0x6e736673
	procSuperMagic = 0x9fa0

	// umount2(2) flag, not exposed through the syscall package.
	umountNoFollow = 8
)

// sanityTimeout bounds every cross-process wait in this package. A stuck
// peer holding the lock or a wedged helper process must abort the waiter
// rather than hang it, as the waiter typically holds the per-snap lock.
var sanityTimeout = 3 * time.Second

// For mocking everything during testing.
var (
	sysMount   = syscall.Mount
	sysUnmount = syscall.Unmount
	sysUnshare = syscall.Unshare
	sysSetns   = unix.Setns
	sysFstatfs = syscall.Fstatfs
	sysFchdir  = syscall.Fchdir
	sysOpen    = syscall.Open
	sysOpenat  = syscall.Openat
	sysClose   = syscall.Close

	osGetwd    = os.Getwd
	osChdir    = os.Chdir
	osReadlink = os.Readlink
)

// ReassociateWithPID1 moves the current process to the mount namespace of
// pid 1 if it is not a member already.
//
// The control directory is self-bind mounted as private and the preserved
// namespace files are only reliably visible from the init namespace, so
// this must run before any other operation in this package.
func ReassociateWithPID1() error {
	pid1MntNs := filepath.Join(dirs.GlobalRootDir, "/proc/1/ns/mnt")
	selfMntNs := filepath.Join(dirs.GlobalRootDir, "/proc/self/ns/mnt")
	pid1NsID, err := osReadlink(pid1MntNs)
	if err != nil {
		// On kernels before 3.8 the namespace files are hard links, not
		// symbolic links, and readlink fails with ENOENT. There is
		// nothing useful we can do there so just carry on.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read mount namespace identifier of pid 1: %v", err)
	}
	selfNsID, err := osReadlink(selfMntNs)
	if err != nil {
		return fmt.Errorf("cannot read mount namespace identifier of the current process: %v", err)
	}
	if pid1NsID == selfNsID {
		return nil
	}
	logger.Debugf("moving to mount namespace of pid 1")
	fd, err := sysOpen(pid1MntNs, syscall.O_RDONLY|syscall.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v", pid1MntNs, err)
	}
	defer sysClose(fd)
	if err := sysSetns(fd, syscall.CLONE_NEWNS); err != nil {
		return fmt.Errorf("cannot join mount namespace of pid 1: %v", err)
	}
	return nil
}

// controlDirLock returns the lock guarding one-time control directory setup.
func controlDirLock() (*osutil.FileLock, error) {
	if err := os.MkdirAll(dirs.SnapRunLockDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create directory %s: %v", dirs.SnapRunLockDir, err)
	}
	return osutil.NewFileLock(filepath.Join(dirs.SnapRunLockDir, ".lock"))
}

// InitializeControlDir ensures that the control directory exists and is a
// private bind mount.
//
// The directory cannot share mount events with any peer group, as
// preserved namespace bind mounts would otherwise propagate to the host
// mount table. The operation is idempotent and takes a global lock so that
// it happens once per boot across all cooperating processes.
func InitializeControlDir() error {
	lock, err := controlDirLock()
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := lock.LockWithTimeout(sanityTimeout); err != nil {
		return fmt.Errorf("cannot acquire lock for mount namespace control directory: %v", err)
	}
	defer lock.Unlock()

	if err := os.MkdirAll(dirs.SnapRunNsDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %v", dirs.SnapRunNsDir, err)
	}
	private, err := isControlDirPrivate()
	if err != nil {
		return err
	}
	if private {
		return nil
	}
	if err := sysMount(dirs.SnapRunNsDir, dirs.SnapRunNsDir, "", syscall.MS_BIND|syscall.MS_REC, ""); err != nil {
		return fmt.Errorf("cannot self-bind mount %s: %v", dirs.SnapRunNsDir, err)
	}
	if err := sysMount("none", dirs.SnapRunNsDir, "", syscall.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("cannot change propagation type of %s to private: %v", dirs.SnapRunNsDir, err)
	}
	return nil
}

// isControlDirPrivate inspects the mount table of the current process and
// reports whether the control directory is already a private mount point.
// A mountinfo entry with no optional fields carries no peer group tags and
// is therefore private.
func isControlDirPrivate() (bool, error) {
	entries, err := osutil.LoadMountInfo()
	if err != nil {
		return false, fmt.Errorf("cannot parse mountinfo of the current process: %v", err)
	}
	for _, entry := range entries {
		if entry.MountDir == dirs.SnapRunNsDir && entry.OptionalFields == "" {
			return true, nil
		}
	}
	return false, nil
}
