// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2017 Canonical Ltd
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
	"path"
	"sort"
	"strings"

	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
	"github.com/snapcore/snap-confine/osutil/mount"
)

// Action represents a mount action (mount or unmount).
type Action string

const (
	// Mount represents an action that results in mounting something somewhere.
	Mount Action = "mount"
	// Unmount represents an action that results in unmounting something from somewhere.
	Unmount Action = "unmount"
)

// Change describes a change to the mount table (action and the entry to act on).
type Change struct {
	Entry  osutil.MountEntry
	Action Action
}

// String formats mount change to a human-readable line.
func (c Change) String() string {
	return fmt.Sprintf("%s (%s)", c.Action, c.Entry)
}

// NeededChanges computes the changes required to transform current into desired.
//
// Both profiles are fstab-like lists of mount entries. The computed
// changes, when applied in order, transform the current profile into the
// desired profile. Unmounts are emitted before mounts, in reverse mount
// order, so that children are taken down before their parents.
func NeededChanges(currentProfile, desiredProfile *osutil.MountProfile) []Change {
	// Copy both as we will want to mutate them.
	current := make([]osutil.MountEntry, len(currentProfile.Entries))
	copy(current, currentProfile.Entries)
	desired := make([]osutil.MountEntry, len(desiredProfile.Entries))
	copy(desired, desiredProfile.Entries)

	// Clean the directory part of both profiles. This is done so that we
	// can easily test if a given directory is a subdirectory with
	// strings.HasPrefix coupled with an extra slash character.
	for i := range current {
		current[i].Dir = path.Clean(current[i].Dir)
	}
	for i := range desired {
		desired[i].Dir = path.Clean(desired[i].Dir)
	}

	// Sort both lists by directory name with implicit trailing slash.
	sort.Sort(byMagicDir(current))
	sort.Sort(byMagicDir(desired))

	// Construct a desired directory map.
	desiredMap := make(map[string]*osutil.MountEntry)
	for i := range desired {
		desiredMap[desired[i].Dir] = &desired[i]
	}

	// Compute reusable entries: those which are equal in current and
	// desired and which are not prefixed by another entry that changed.
	// When a mount point changes, the kernel cascade-unmounts everything
	// mounted beneath it, so entries under a changed prefix cannot be
	// kept even when they look identical.
	var reuse map[string]bool
	var skipDir string
	for i := range current {
		dir := current[i].Dir
		if skipDir != "" && strings.HasPrefix(dir, skipDir) {
			continue
		}
		skipDir = "" // reset skip prefix as it no longer applies
		// The rootfs entry is written by snap-confine when the namespace
		// is constructed and is never a part of any desired profile. It
		// must be kept or everything mounted in the namespace would be
		// torn down along with it.
		if dir == "/" && current[i].XSnapdOrigin() == "rootfs" {
			logger.Debugf("reusing rootfs entry %q", current[i])
			if reuse == nil {
				reuse = make(map[string]bool)
			}
			reuse[dir] = true
			continue
		}
		if entry, ok := desiredMap[dir]; ok && current[i].Equal(entry) {
			if reuse == nil {
				reuse = make(map[string]bool)
			}
			reuse[dir] = true
			continue
		}
		skipDir = strings.TrimSuffix(dir, "/") + "/"
	}

	// We are now ready to compute the necessary mount changes.
	var changes []Change

	// Unmount entries not reused in reverse to handle children before their parent.
	for i := len(current) - 1; i >= 0; i-- {
		if !reuse[current[i].Dir] {
			changes = append(changes, Change{Action: Unmount, Entry: current[i]})
		}
	}

	// Mount desired entries not reused.
	for i := range desired {
		if !reuse[desired[i].Dir] {
			changes = append(changes, Change{Action: Mount, Entry: desired[i]})
		}
	}

	return changes
}

// Perform applies the change to the mount table.
//
// Mount points are created on demand. Mount options that do not map to
// mount flags are passed through as mount data.
func (c *Change) Perform() error {
	switch c.Action {
	case Mount:
		if err := ensureMountPoint(c.Entry.Dir, 0755, -1, -1); err != nil {
			return err
		}
		flags, unparsed := osutil.MountOptsToCommonFlags(c.Entry.Options)
		opts, _ := mount.MountFlagsToOpts(flags)
		logger.Debugf("mount %q %q %q %s %q",
			c.Entry.Name, c.Entry.Dir, c.Entry.Type,
			strings.Join(opts, "|"), strings.Join(unparsed, ","))
		return sysMount(c.Entry.Name, c.Entry.Dir, c.Entry.Type, uintptr(flags), strings.Join(unparsed, ","))
	case Unmount:
		opts, _ := mount.UnmountFlagsToOpts(umountNoFollow)
		logger.Debugf("umount %q %s", c.Entry.Dir, strings.Join(opts, "|"))
		return sysUnmount(c.Entry.Dir, umountNoFollow)
	}
	return fmt.Errorf("cannot process mount change, unknown action: %q", c.Action)
}
