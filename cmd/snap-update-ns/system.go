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

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
	"github.com/snapcore/snap-confine/sandbox/cgroup"
)

// lockTimeout bounds the wait for the per-snap namespace lock. A peer
// stuck while holding the lock must fail this process rather than hang
// it, the caller can retry once the peer is dealt with.
var lockTimeout = 3 * time.Second

func desiredProfilePath(snapName string) string {
	return filepath.Join(dirs.SnapMountPolicyDir, fmt.Sprintf("snap.%s.fstab", snapName))
}

func currentProfilePath(snapName string) string {
	return filepath.Join(dirs.SnapRunNsDir, fmt.Sprintf("snap.%s.fstab", snapName))
}

func openLock(snapName string) (*osutil.FileLock, error) {
	return osutil.NewFileLockWithMode(filepath.Join(dirs.SnapRunNsDir, snapName+".lock"), 0600)
}

func applySystemFstab(instanceName string, fromSnapConfine bool) error {
	// Lock the mount namespace so that any concurrently attempted
	// invocations of snap-confine are synchronized and will see
	// consistent state.
	lock, err := openLock(instanceName)
	if err != nil {
		return fmt.Errorf("cannot open lock file for mount namespace of snap %q: %s", instanceName, err)
	}
	defer func() {
		logger.Debugf("unlocking mount namespace of snap %q", instanceName)
		lock.Close()
	}()

	logger.Debugf("locking mount namespace of snap %q", instanceName)
	if fromSnapConfine {
		// When --from-snap-confine is passed then we just ensure that the
		// namespace is locked by the caller. Snap-confine invokes us while
		// holding the lock, taking it again here would deadlock.
		if err := lock.TryLock(); err != osutil.ErrAlreadyLocked {
			return fmt.Errorf("mount namespace of snap %q is not locked but --from-snap-confine was used", instanceName)
		}
	} else {
		if err := lock.LockWithTimeout(lockTimeout); err != nil {
			return fmt.Errorf("cannot lock mount namespace of snap %q: %s", instanceName, err)
		}
	}

	// Freeze the mount namespace and unfreeze it later. This lets us
	// perform modifications without snap processes attempting to construct
	// symlinks or otherwise race against the mount point handling.
	logger.Debugf("freezing processes of snap %q", instanceName)
	if err := cgroup.FreezeSnapProcesses(instanceName); err != nil {
		return err
	}
	defer func() {
		logger.Debugf("thawing processes of snap %q", instanceName)
		cgroup.ThawSnapProcesses(instanceName)
	}()

	return computeAndSaveChanges(instanceName)
}

func computeAndSaveChanges(snapName string) error {
	// Read the desired and current mount profiles. Missing files count as
	// empty profiles so that we can gracefully handle a mount interface
	// connection or disconnection.
	desired, err := osutil.LoadMountProfile(desiredProfilePath(snapName))
	if err != nil {
		return fmt.Errorf("cannot load desired mount profile of snap %q: %s", snapName, err)
	}
	debugShowProfile(desired, "desired mount profile")

	currentBefore, err := osutil.LoadMountProfile(currentProfilePath(snapName))
	if err != nil {
		return fmt.Errorf("cannot load current mount profile of snap %q: %s", snapName, err)
	}
	debugShowProfile(currentBefore, "current mount profile (before applying changes)")

	currentAfter := applyProfile(snapName, currentBefore, desired)

	logger.Debugf("saving current mount profile of snap %q", snapName)
	if err := osutil.SaveMountProfile(currentAfter, currentProfilePath(snapName), osutil.NoChown, osutil.NoChown); err != nil {
		return fmt.Errorf("cannot save current mount profile of snap %q: %s", snapName, err)
	}
	return nil
}

// applyProfile performs the computed changes and returns the effective
// current profile: the reused entries plus everything that was mounted
// successfully.
//
// Failures of individual changes are logged but do not abort the update,
// aborting midway would leave the namespace in a state that neither
// matches the old nor the new profile while the saved current profile
// still reflects reality.
func applyProfile(snapName string, currentBefore, desired *osutil.MountProfile) *osutil.MountProfile {
	changes := NeededChanges(currentBefore, desired)
	debugShowChanges(changes, "mount changes needed")

	// Entries that remain mounted are those the change list does not
	// unmount.
	unmounted := make(map[string]bool)
	for _, change := range changes {
		if change.Action == Unmount {
			unmounted[change.Entry.Dir] = true
		}
	}
	var currentAfter osutil.MountProfile
	for _, entry := range currentBefore.Entries {
		if !unmounted[filepath.Clean(entry.Dir)] {
			currentAfter.Entries = append(currentAfter.Entries, entry)
		}
	}

	for i := range changes {
		change := &changes[i]
		logger.Debugf("performing operation: %s", change)
		if err := change.Perform(); err != nil {
			logger.Noticef("cannot change mount namespace of snap %q according to change %s: %s", snapName, change, err)
			continue
		}
		if change.Action == Mount {
			currentAfter.Entries = append(currentAfter.Entries, change.Entry)
		}
	}
	return &currentAfter
}

func debugShowProfile(profile *osutil.MountProfile, header string) {
	if len(profile.Entries) > 0 {
		logger.Debugf("%s:", header)
		for _, entry := range profile.Entries {
			logger.Debugf("\t%s", entry)
		}
	} else {
		logger.Debugf("%s: (none)", header)
	}
}

func debugShowChanges(changes []Change, header string) {
	if len(changes) > 0 {
		logger.Debugf("%s:", header)
		for _, change := range changes {
			logger.Debugf("\t%s", change)
		}
	} else {
		logger.Debugf("%s: (none)", header)
	}
}
