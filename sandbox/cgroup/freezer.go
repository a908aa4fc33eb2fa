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

package cgroup

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
)

const defaultFreezerCgroupV1Dir = "/sys/fs/cgroup/freezer"

var freezerCgroupV1Dir = defaultFreezerCgroupV1Dir

func init() {
	dirs.AddRootDirCallback(func(root string) {
		freezerCgroupV1Dir = filepath.Join(root, defaultFreezerCgroupV1Dir)
	})
}

// FreezeSnapProcesses suspends execution of all the processes belonging to
// a given snap. Processes remain frozen until ThawSnapProcesses is called,
// care must be taken not to freeze processes indefinitely.
//
// The freeze operation is not instant. Once commenced it proceeds
// asynchronously. Internally the function waits for the freezing to
// complete in at most 3000ms. If this time is insufficient then the
// processes are thawed and an error is returned.
//
// A correct implementation is picked depending on cgroup v1 or v2 use in
// the system. With v1 the call acts on the freezer group created when a
// snap process was first started, with v2 it acts on all the tracking
// groups of the snap.
//
// This operation can be mocked with MockFreezing
var FreezeSnapProcesses = func(snapName string) error {
	if IsUnified() {
		return freezeSnapProcessesImplV2(snapName)
	}
	return freezeSnapProcessesImplV1(snapName)
}

// ThawSnapProcesses resumes execution of all processes belonging to a given
// snap.
//
// This operation can be mocked with MockFreezing
var ThawSnapProcesses = func(snapName string) error {
	if IsUnified() {
		return thawSnapProcessesImplV2(snapName)
	}
	return thawSnapProcessesImplV1(snapName)
}

func freezerStateV1Path(snapName string) string {
	return filepath.Join(freezerCgroupV1Dir, fmt.Sprintf("snap.%s", snapName), "freezer.state")
}

func freezeSnapProcessesImplV1(snapName string) error {
	fname := freezerStateV1Path(snapName)
	if err := os.WriteFile(fname, []byte("FROZEN"), 0644); os.IsNotExist(err) {
		// When there's no freezer cgroup we don't have to freeze
		// anything. This can happen when no process belonging to a
		// given snap has been started yet.
		return nil
	} else if err != nil {
		return err
	}
	for i := 0; i < 30; i++ {
		data, err := os.ReadFile(fname)
		if err != nil {
			return err
		}
		// If the cgroup is still freezing then wait a moment and try again.
		if bytes.Equal(data, []byte("FREEZING")) {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		return nil
	}
	// If we got here then we timed out after seeing FREEZING for too long.
	// Thawing is best-effort at this point.
	ThawSnapProcesses(snapName)
	return fmt.Errorf("cannot finish freezing processes of snap %q", snapName)
}

func thawSnapProcessesImplV1(snapName string) error {
	fname := freezerStateV1Path(snapName)
	if err := os.WriteFile(fname, []byte("THAWED"), 0644); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// applyToSnap walks the tracking groups of the given snap and invokes the
// action on each scope or service group found.
func applyToSnap(snapName string, action func(groupDir string) error, skipError func(err error) bool) error {
	canary := fmt.Sprintf("snap.%s.", snapName)
	cgroupRoot := filepath.Join(rootPath, cgroupMountPoint)
	if !osutil.IsDirectory(cgroupRoot) {
		return nil
	}
	return filepath.Walk(cgroupRoot, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if !strings.HasPrefix(info.Name(), canary) {
			return nil
		}
		// snap applications end up inside a cgroup related to a
		// service, or, when run standalone, a scope
		if ext := filepath.Ext(info.Name()); ext != ".scope" && ext != ".service" {
			return nil
		}
		if err := action(name); err != nil && !skipError(err) {
			return err
		}
		return filepath.SkipDir
	})
}

// writeExistingFile works like os.WriteFile but does not create the file
// when it does not exist.
func writeExistingFile(where string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(where, os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, errW := f.Write(data)
	errC := f.Close()
	if errW != nil {
		return errW
	}
	return errC
}

func freezeSnapProcessesImplV2(snapName string) error {
	// The process calling this code may already be part of the tracking
	// cgroup of the snap, care must be taken not to freeze ourselves.
	ownGroup, err := ProcessPathInTrackingCgroup(os.Getpid())
	if err != nil {
		return err
	}
	ownGroupDir := filepath.Join(rootPath, cgroupMountPoint, ownGroup)
	freezeOne := func(dir string) error {
		if dir == ownGroupDir {
			logger.Debugf("freeze, skipping own group %v", dir)
			return nil
		}
		fname := filepath.Join(dir, "cgroup.freeze")
		if err := writeExistingFile(fname, []byte("1"), 0644); err != nil {
			// the group may be gone already
			return err
		}
		for i := 0; i < 30; i++ {
			data, err := os.ReadFile(fname)
			if err != nil {
				// group may be gone
				return err
			}
			if bytes.Equal(bytes.TrimSpace(data), []byte("1")) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		return fmt.Errorf("cannot freeze processes of snap %q in group %v", snapName, filepath.Base(dir))
	}
	if err := applyToSnap(snapName, freezeOne, os.IsNotExist); err != nil {
		// We either hit a timeout or some other error, thawing is
		// best-effort at this point.
		alwaysSkipError := func(_ error) bool { return true }
		thawSnapProcessesV2(snapName, alwaysSkipError)
		return fmt.Errorf("cannot finish freezing processes of snap %q: %v", snapName, err)
	}
	return nil
}

func thawSnapProcessesV2(snapName string, skipError func(error) bool) error {
	thawOne := func(dir string) error {
		fname := filepath.Join(dir, "cgroup.freeze")
		if err := writeExistingFile(fname, []byte("0"), 0644); os.IsNotExist(err) {
			// the group may be gone already
			return nil
		} else if err != nil && !skipError(err) {
			return fmt.Errorf("cannot thaw processes of snap %q, %v", snapName, err)
		}
		return nil
	}
	return applyToSnap(snapName, thawOne, skipError)
}

func thawSnapProcessesImplV2(snapName string) error {
	return thawSnapProcessesV2(snapName, os.IsNotExist)
}

// SnapProcessesOccupied returns true when any process belonging to the
// given snap is alive. Preserved mount namespaces of occupied snaps must
// not be discarded as that would fracture the mount table view of the
// processes still inside.
//
// This operation can be mocked with MockSnapProcessesOccupied
var SnapProcessesOccupied = func(snapName string) (bool, error) {
	if IsUnified() {
		return snapProcessesOccupiedImplV2(snapName)
	}
	return snapProcessesOccupiedImplV1(snapName)
}

func snapProcessesOccupiedImplV1(snapName string) (bool, error) {
	fname := filepath.Join(freezerCgroupV1Dir, fmt.Sprintf("snap.%s", snapName), "cgroup.procs")
	pids, err := pidsInFile(fname)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func snapProcessesOccupiedImplV2(snapName string) (bool, error) {
	occupied := false
	checkOne := func(dir string) error {
		pids, err := pidsInFile(filepath.Join(dir, "cgroup.procs"))
		if err != nil {
			return err
		}
		if len(pids) > 0 {
			occupied = true
		}
		return nil
	}
	if err := applyToSnap(snapName, checkOne, os.IsNotExist); err != nil {
		return false, err
	}
	return occupied, nil
}

// MockSnapProcessesOccupied replaces the occupancy check of SnapProcessesOccupied.
func MockSnapProcessesOccupied(occupied func(snapName string) (bool, error)) (restore func()) {
	old := SnapProcessesOccupied
	SnapProcessesOccupied = occupied
	return func() {
		SnapProcessesOccupied = old
	}
}

// MockFreezing replaces the real implementation of freeze and thaw.
func MockFreezing(freeze, thaw func(snapName string) error) (restore func()) {
	oldFreeze := FreezeSnapProcesses
	oldThaw := ThawSnapProcesses

	FreezeSnapProcesses = freeze
	ThawSnapProcesses = thaw

	return func() {
		FreezeSnapProcesses = oldFreeze
		ThawSnapProcesses = oldThaw
	}
}
