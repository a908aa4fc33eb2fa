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

package mountns

import (
	"fmt"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
)

// State describes the lifecycle position of a namespace group.
type State int

const (
	// Unopened groups have no control directory descriptor yet.
	Unopened State = iota
	// Opened groups hold the control directory and the per-name lock file.
	Opened
	// Joined means the process entered a preserved namespace with setns.
	Joined
	// Populating means a fresh namespace was unshared and awaits mounts.
	Populating
	// Preserved means the populated namespace was captured to <name>.mnt.
	Preserved
	// Discarded means the preserved namespace reference was unmounted.
	Discarded
)

// JoinOutcome describes the result of CreateOrJoin.
type JoinOutcome int

const (
	// JoinedExisting means the process now runs inside the preserved
	// namespace and must not populate it again.
	JoinedExisting JoinOutcome = iota
	// CreatedNew means a fresh namespace was unshared and the caller must
	// populate it and then call Preserve.
	CreatedNew
)

// JoinOptions carries the information needed to decide whether an
// existing preserved namespace is still usable.
type JoinOptions struct {
	// BaseSnapName is the name of the base snap the namespace was
	// constructed from. A preserved namespace whose root filesystem is not
	// backed by the current revision of the base snap is stale.
	BaseSnapName string
	// NormalMode is true when the namespace uses the pivoted rootfs
	// layout. Without pivot_root the rootfs seen inside the namespace
	// never matches the base snap device so staleness cannot be detected.
	NormalMode bool
}

// Group mediates access to the preserved mount namespace of one snap
// instance. All mutating operations require the caller to hold the
// per-name lock, see Lock.
type Group struct {
	name  string
	dirFD int
	lock  *osutil.FileLock
	state State

	helper         *captureHelper
	shouldPopulate bool
}

// Open opens the control directory and the per-name lock file of the
// given snap instance.
//
// When the control directory does not exist and gracefulMissing is true,
// Open returns a nil group and no error. This is for unprivileged code
// paths that merely probe for a preserved namespace.
func Open(name string, gracefulMissing bool) (*Group, error) {
	dirFD, err := sysOpen(dirs.SnapRunNsDir, syscall.O_DIRECTORY|unix.O_PATH|syscall.O_CLOEXEC|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if gracefulMissing && err == syscall.ENOENT {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot open directory %s: %v", dirs.SnapRunNsDir, err)
	}
	lock, err := osutil.NewFileLockWithMode(filepath.Join(dirs.SnapRunNsDir, name+".lock"), 0600)
	if err != nil {
		sysClose(dirFD)
		return nil, fmt.Errorf("cannot open lock file for mount namespace of snap %q: %v", name, err)
	}
	return &Group{name: name, dirFD: dirFD, lock: lock, state: Opened}, nil
}

// Name returns the name of the snap instance the group belongs to.
func (g *Group) Name() string {
	return g.name
}

// State returns the lifecycle position of the group.
func (g *Group) State() State {
	return g.state
}

// Lock acquires the exclusive per-name lock. Only one process may be
// inside CreateOrJoin, Preserve or Discard for a given name at a time.
// The wait is bounded, a stuck peer makes Lock fail rather than hang.
func (g *Group) Lock() error {
	if err := g.lock.LockWithTimeout(sanityTimeout); err != nil {
		return fmt.Errorf("cannot lock mount namespace of snap %q: %v", g.name, err)
	}
	return nil
}

// Unlock releases the per-name lock.
func (g *Group) Unlock() error {
	return g.lock.Unlock()
}

// Close releases all resources held by the group. If a capture helper is
// still running it is told to exit and reaped first.
func (g *Group) Close() error {
	var firstErr error
	if g.helper != nil {
		firstErr = g.stopHelper()
	}
	if g.dirFD != -1 {
		sysClose(g.dirFD)
		g.dirFD = -1
	}
	if err := g.lock.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CreateOrJoin either joins the preserved mount namespace of the group or
// arranges for a fresh one to be created.
//
// The <name>.mnt file is opened with O_CREAT but never O_EXCL, it may
// already be a live bind-mounted namespace reference or a stale empty
// file left over from an aborted run, both are legal. The two cases are
// told apart with fstatfs: a nsfs (or, on older kernels, procfs) magic
// means a live reference.
//
// In the live case the process calls setns and the caller must not
// populate anything. A live but stale reference (base snap refreshed
// since capture) is discarded first, unless the namespace is still
// occupied by running processes of the snap.
//
// In the empty case a capture helper process is started and the current
// process unshares a new mount namespace. ShouldPopulate then returns
// true and the caller must populate the namespace and call Preserve.
func (g *Group) CreateOrJoin(opts *JoinOptions) (JoinOutcome, error) {
	mntFname := g.name + ".mnt"
	mntFD, err := sysOpenat(g.dirFD, mntFname, syscall.O_CREAT|syscall.O_RDONLY|syscall.O_CLOEXEC|syscall.O_NOFOLLOW, 0600)
	if err != nil {
		return 0, fmt.Errorf("cannot open preserved mount namespace %s: %v", g.name, err)
	}
	defer sysClose(mntFD)

	var fsData syscall.Statfs_t
	if err := sysFstatfs(mntFD, &fsData); err != nil {
		return 0, fmt.Errorf("cannot inspect filesystem of preserved mount namespace file: %v", err)
	}
	if fsData.Type == nsfsMagic || fsData.Type == procSuperMagic {
		discarded, err := g.inspectAndMaybeDiscardStaleNs(mntFD, opts)
		if err != nil {
			return 0, err
		}
		if !discarded {
			if err := g.joinPreservedNs(mntFD); err != nil {
				return 0, err
			}
			g.state = Joined
			return JoinedExisting, nil
		}
		// The stale reference is gone, fall through and create afresh.
	}
	if err := g.createWithHelper(); err != nil {
		return 0, err
	}
	g.shouldPopulate = true
	g.state = Populating
	return CreatedNew, nil
}

// ShouldPopulate returns true when CreateOrJoin created a fresh namespace
// that still needs to be populated and preserved.
func (g *Group) ShouldPopulate() bool {
	return g.shouldPopulate
}

// joinPreservedNs re-associates the current process with the namespace
// referenced by mntFD and restores the working directory on a best-effort
// basis. The old directory may not exist inside the target namespace, in
// that case the process moves to the void directory instead.
func (g *Group) joinPreservedNs(mntFD int) error {
	vanillaCwd, err := osGetwd()
	if err != nil {
		return fmt.Errorf("cannot get the current working directory: %v", err)
	}
	if err := sysSetns(mntFD, syscall.CLONE_NEWNS); err != nil {
		return fmt.Errorf("cannot join preserved mount namespace %s: %v", g.name, err)
	}
	logger.Debugf("joined preserved mount namespace %s", g.name)
	if err := osChdir(vanillaCwd); err != nil {
		logger.Debugf("cannot enter %s, moving to void", vanillaCwd)
		if err := osChdir(dirs.SnapVoidDir); err != nil {
			return fmt.Errorf("cannot change directory to %s: %v", dirs.SnapVoidDir, err)
		}
	}
	return nil
}

// createWithHelper starts the capture helper and unshares a fresh mount
// namespace for the current process. The helper stays resident in the
// original namespace, waiting for Preserve to tell it to capture ours.
func (g *Group) createWithHelper() error {
	helper, err := startCaptureHelper(g.name)
	if err != nil {
		return err
	}
	g.helper = helper
	logger.Debugf("started support process %d", helper.pid)
	if err := sysUnshare(syscall.CLONE_NEWNS); err != nil {
		return fmt.Errorf("cannot unshare the mount namespace: %v", err)
	}
	logger.Debugf("created new mount namespace")
	return nil
}

// Preserve asks the capture helper to bind-mount the namespace of the
// current, now fully populated, process onto <name>.mnt.
//
// Only valid after CreateOrJoin returned CreatedNew. The helper is not
// reaped here, that happens in Close, so that the caller can keep the
// group around while it finishes other setup.
func (g *Group) Preserve() error {
	if !g.shouldPopulate || g.helper == nil {
		return fmt.Errorf("internal error: cannot preserve mount namespace, no capture helper was started")
	}
	if err := g.helper.Message(helperCmdCaptureNs); err != nil {
		return err
	}
	g.state = Preserved
	return nil
}

// stopHelper tells the capture helper to exit and collects its exit
// status. An abnormal exit is an error, the namespace may not have been
// preserved and silently continuing would lose it.
func (g *Group) stopHelper() error {
	helper := g.helper
	g.helper = nil
	if err := helper.Message(helperCmdExit); err != nil {
		helper.Kill()
		return err
	}
	if err := helper.Wait(); err != nil {
		return fmt.Errorf("capture helper process exited abnormally: %v", err)
	}
	logger.Debugf("capture helper process exited normally")
	return nil
}

// Discard unmounts the preserved mount namespace file, reverting it to an
// empty regular file.
//
// Nothing being mounted (EINVAL) and the file being absent (ENOENT) are
// benign, both mean there is no preserved namespace to discard. The
// working directory of the caller is restored regardless of the outcome.
func (g *Group) Discard() error {
	oldDirFD, err := sysOpen(".", unix.O_PATH|syscall.O_DIRECTORY|syscall.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("cannot open current directory: %v", err)
	}
	defer sysClose(oldDirFD)
	if err := sysFchdir(g.dirFD); err != nil {
		return fmt.Errorf("cannot move to namespace group directory: %v", err)
	}
	mntFname := g.name + ".mnt"
	logger.Debugf("unmounting preserved mount namespace file %s", mntFname)
	umountErr := sysUnmount(mntFname, umountNoFollow)
	switch umountErr {
	case nil, syscall.EINVAL, syscall.ENOENT:
		umountErr = nil
	}
	if err := sysFchdir(oldDirFD); err != nil {
		return fmt.Errorf("cannot move back to original directory: %v", err)
	}
	if umountErr != nil {
		return fmt.Errorf("cannot unmount preserved mount namespace file %s: %v", mntFname, umountErr)
	}
	g.state = Discarded
	return nil
}
