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
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
	"github.com/snapcore/snap-confine/sandbox/cgroup"
)

// InspectHelperFlag is the hidden command line flag that re-executes the
// current binary as the namespace inspection helper.
const InspectHelperFlag = "--inspect-helper"

// inspectAndMaybeDiscardStaleNs checks whether the preserved namespace
// referenced by mntFD is stale and, when it is both stale and unoccupied,
// discards it.
//
// The namespace becomes stale when the base snap is refreshed after the
// capture, the rootfs inside then refers to an old revision's squashfs
// device. Joining a namespace uses up the setns call of this process, so
// the inspection is delegated to a short-lived helper process that joins,
// reports the root device and exits.
//
// Returns true when the namespace was discarded and a fresh one should be
// constructed.
func (g *Group) inspectAndMaybeDiscardStaleNs(mntFD int, opts *JoinOptions) (bool, error) {
	if opts == nil || !opts.NormalMode {
		// Without pivot_root the rootfs inside the namespace is the host
		// rootfs and never matches the base snap device.
		return false, nil
	}
	baseSnapDev, err := currentBaseSnapDevice(opts.BaseSnapName)
	if err != nil {
		return false, err
	}
	rootDev, err := runInspectHelper(mntFD, g.name)
	if err != nil {
		return false, err
	}
	if rootDev == baseSnapDev {
		logger.Debugf("preserved mount namespace can be reused")
		return false, nil
	}
	occupied, err := cgroup.SnapProcessesOccupied(g.name)
	if err != nil {
		return false, err
	}
	if occupied {
		// Discarding the namespace under running processes would fracture
		// their view of what is mounted.
		logger.Debugf("preserved mount namespace is stale but occupied")
		return false, nil
	}
	if err := g.discardStaleNs(); err != nil {
		return false, err
	}
	logger.Debugf("stale mount namespace discarded")
	return true, nil
}

// currentBaseSnapDevice returns the device number backing the current
// revision of the given base snap, as seen in the mount table of this
// process.
func currentBaseSnapDevice(baseSnapName string) (uint64, error) {
	revLink := filepath.Join(dirs.SnapMountDir, baseSnapName, "current")
	rev, err := osReadlink(revLink)
	if err != nil {
		return 0, fmt.Errorf("cannot read current revision of snap %s: %v", baseSnapName, err)
	}
	entries, err := osutil.LoadMountInfo()
	if err != nil {
		return 0, fmt.Errorf("cannot parse mountinfo of the current process: %v", err)
	}
	return findBaseSnapDevice(entries, baseSnapName, rev)
}

// findBaseSnapDevice scans the mount table for the squashfs of the given
// base snap revision. The last matching entry wins, it is the effective
// one if the path was mounted over multiple times.
func findBaseSnapDevice(entries []*osutil.MountInfoEntry, baseSnapName, baseSnapRev string) (uint64, error) {
	squashfsPath := filepath.Join(dirs.SnapMountDir, baseSnapName, baseSnapRev)
	var dev uint64
	found := false
	for _, entry := range entries {
		if entry.MountDir == squashfsPath {
			dev = unix.Mkdev(uint32(entry.DevMajor), uint32(entry.DevMinor))
			logger.Debugf("block device of snap %s, revision %s is %d:%d", baseSnapName, baseSnapRev, entry.DevMajor, entry.DevMinor)
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("cannot find mount entry for snap %s revision %s", baseSnapName, baseSnapRev)
	}
	return dev, nil
}

// rootDeviceFromMountInfo returns the device number backing the root
// filesystem. The first entry for "/" is the initial rootfs, which is the
// one constructed by the bootstrapper even if something was mounted over
// it later.
func rootDeviceFromMountInfo(entries []*osutil.MountInfoEntry) (uint64, error) {
	for _, entry := range entries {
		if entry.MountDir == "/" {
			logger.Debugf("block device of the root filesystem is %d:%d", entry.DevMajor, entry.DevMinor)
			return unix.Mkdev(uint32(entry.DevMajor), uint32(entry.DevMinor)), nil
		}
	}
	return 0, fmt.Errorf("cannot find mount entry of the root filesystem")
}

// For mocking in tests.
var runInspectHelper = runInspectHelperImpl

// runInspectHelperImpl re-executes the current binary in the hidden
// inspection helper mode, handing it the namespace file as descriptor 3.
// The helper joins the namespace and prints the device number of its root
// filesystem. The run is bounded, a helper stuck inside a broken
// namespace is killed rather than waited for.
func runInspectHelperImpl(mntFD int, name string) (uint64, error) {
	dupFD, err := syscall.Dup(mntFD)
	if err != nil {
		return 0, fmt.Errorf("cannot duplicate preserved mount namespace descriptor: %v", err)
	}
	mntFile := os.NewFile(uintptr(dupFD), name+".mnt")
	defer mntFile.Close()

	ctx, cancel := context.WithTimeout(context.Background(), sanityTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "/proc/self/exe", InspectHelperFlag)
	cmd.ExtraFiles = []*os.File{mntFile}
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("support process for mount namespace inspection exited abnormally: %v", err)
	}
	dev, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse response of mount namespace inspection: %v", err)
	}
	return dev, nil
}

// RunInspectHelper is the child side of the namespace inspection,
// dispatched to by main when the hidden inspection flag is present. The
// preserved namespace file arrives as descriptor 3.
func RunInspectHelper() error {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(syscall.SIGINT), 0, 0, 0); err != nil {
		return fmt.Errorf("cannot set parent process death notification signal: %v", err)
	}
	logger.Debugf("joining preserved mount namespace for inspection")
	if err := sysSetns(3, syscall.CLONE_NEWNS); err != nil {
		return fmt.Errorf("cannot join preserved mount namespace: %v", err)
	}
	entries, err := osutil.LoadMountInfo()
	if err != nil {
		return fmt.Errorf("cannot parse mountinfo of the current process: %v", err)
	}
	dev, err := rootDeviceFromMountInfo(entries)
	if err != nil {
		return err
	}
	fmt.Println(dev)
	return nil
}

// discardStaleNs detaches the stale namespace reference and removes the
// saved current mount profile so that the updater will not reconcile
// against state from the old namespace. MNT_DETACH is needed here, the
// namespace file may still be busy.
func (g *Group) discardStaleNs() error {
	mntFname := filepath.Join(dirs.SnapRunNsDir, g.name+".mnt")
	if err := sysUnmount(mntFname, syscall.MNT_DETACH|umountNoFollow); err != nil {
		return fmt.Errorf("cannot discard stale mount namespace %s: %v", mntFname, err)
	}
	fstabFname := filepath.Join(dirs.SnapRunNsDir, fmt.Sprintf("snap.%s.fstab", g.name))
	if err := os.Remove(fstabFname); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove stale mount profile %s: %v", fstabFname, err)
	}
	return nil
}
