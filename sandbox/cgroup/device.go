// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021-2024 Canonical Ltd
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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
)

const defaultDevicesCgroupV1Dir = "/sys/fs/cgroup/devices"

var devicesCgroupV1Dir = defaultDevicesCgroupV1Dir

func init() {
	dirs.AddRootDirCallback(func(root string) {
		devicesCgroupV1Dir = filepath.Join(root, defaultDevicesCgroupV1Dir)
	})
}

// ErrNoDeviceCgroup is returned when a device cgroup was expected to have
// been prepared already but does not exist. This is not fatal, it means
// that no devices were assigned to the snap.
var ErrNoDeviceCgroup = errors.New("device cgroup does not exist")

// DeviceKind distinguishes the two kinds of device nodes.
type DeviceKind int

const (
	// CharDevice is a character device node.
	CharDevice DeviceKind = iota
	// BlockDevice is a block device node.
	BlockDevice
)

func (k DeviceKind) String() string {
	if k == BlockDevice {
		return "b"
	}
	return "c"
}

// DeviceMinorAny selects every minor number of the given major.
const DeviceMinorAny = ^uint32(0)

type deviceKey struct {
	kind  DeviceKind
	major uint32
	minor uint32
}

func (key deviceKey) String() string {
	if key.minor == DeviceMinorAny {
		return fmt.Sprintf("%s %d:* rwm", key.kind, key.major)
	}
	return fmt.Sprintf("%s %d:%d rwm", key.kind, key.major, key.minor)
}

// DeviceCgroup restricts access to device nodes for the processes of one
// snap application.
//
// On cgroup v1 the devices controller carries the access list and the
// kernel enforces it directly. The unified hierarchy has no devices
// controller, enforcement there is done with eBPF programs maintained
// by snapd, so on v2 this adapter only records the access list.
type DeviceCgroup struct {
	securityTag string
	unified     bool

	// v1 control files
	allowPath string
	denyPath  string
	procsPath string

	// v2 recorded access list
	acl map[deviceKey]bool
}

// NewDeviceCgroup opens the device cgroup of the given security tag.
//
// With fromExisting set the group must have been prepared before,
// typically by snapd when devices were assigned to the snap, and
// ErrNoDeviceCgroup reports that it was not. Otherwise the group is
// created and starts out denying access to everything.
func NewDeviceCgroup(securityTag string, fromExisting bool) (*DeviceCgroup, error) {
	if IsUnified() {
		return &DeviceCgroup{
			securityTag: securityTag,
			unified:     true,
			acl:         make(map[deviceKey]bool),
		}, nil
	}
	dir := filepath.Join(devicesCgroupV1Dir, securityTag)
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot inspect device cgroup of %q: %v", securityTag, err)
		}
		if fromExisting {
			return nil, ErrNoDeviceCgroup
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create device cgroup of %q: %v", securityTag, err)
		}
	}
	c := &DeviceCgroup{
		securityTag: securityTag,
		allowPath:   filepath.Join(dir, "devices.allow"),
		denyPath:    filepath.Join(dir, "devices.deny"),
		procsPath:   filepath.Join(dir, "cgroup.procs"),
	}
	if !fromExisting {
		// Remove everything permitted by earlier invocations so the group
		// holds exactly what gets assigned now. An existing group is left
		// alone, running processes may be using their devices right now.
		if err := os.WriteFile(c.denyPath, []byte("a"), 0644); err != nil {
			return nil, fmt.Errorf("cannot reset device cgroup of %q: %v", securityTag, err)
		}
	}
	return c, nil
}

// Allow grants access to the given device node.
func (c *DeviceCgroup) Allow(kind DeviceKind, major, minor uint32) error {
	key := deviceKey{kind: kind, major: major, minor: minor}
	if c.unified {
		c.acl[key] = true
		return nil
	}
	if err := os.WriteFile(c.allowPath, []byte(key.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("cannot allow device %s for %q: %v", key, c.securityTag, err)
	}
	return nil
}

// Deny revokes access to the given device node.
func (c *DeviceCgroup) Deny(kind DeviceKind, major, minor uint32) error {
	key := deviceKey{kind: kind, major: major, minor: minor}
	if c.unified {
		delete(c.acl, key)
		return nil
	}
	if err := os.WriteFile(c.denyPath, []byte(key.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("cannot deny device %s for %q: %v", key, c.securityTag, err)
	}
	return nil
}

// AccessList returns the recorded device access entries, sorted.
func (c *DeviceCgroup) AccessList() []string {
	var entries []string
	for key := range c.acl {
		entries = append(entries, key.String())
	}
	sort.Strings(entries)
	return entries
}

// AttachPid moves the given process into the device cgroup so that the
// kernel enforces the access list on it.
func (c *DeviceCgroup) AttachPid(pid int) error {
	if c.unified {
		// Enforcement on the unified hierarchy is attached to the cgroup
		// the process already lives in.
		logger.Debugf("not attaching pid %d, device access on cgroup v2 is enforced externally", pid)
		return nil
	}
	if err := os.WriteFile(c.procsPath, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return fmt.Errorf("cannot attach pid %d to device cgroup of %q: %v", pid, c.securityTag, err)
	}
	return nil
}
