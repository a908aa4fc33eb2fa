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

// Package cgroup observes and manipulates the control groups that snap
// application processes live in.
package cgroup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/snapcore/snap-confine/dirs"
)

const (
	// Unknown is the unknown cgroup version.
	Unknown = 0
	// V1 is the "classic" hierarchy of per-controller mount points.
	V1 = 1
	// V2 is the unified hierarchy.
	V2 = 2

	cgroupMountPoint = "/sys/fs/cgroup"

	cgroup2SuperMagic = 0x63677270
)

var (
	probeVersion       = Unknown
	probeErr     error = nil

	rootPath = "/"
)

func init() {
	dirs.AddRootDirCallback(func(root string) {
		rootPath = root
	})
	probeVersion, probeErr = probeCgroupVersion()
}

var fsTypeForPath = fsTypeForPathImpl

func fsTypeForPathImpl(path string) (int64, error) {
	var statfs syscall.Statfs_t
	if err := syscall.Statfs(path, &statfs); err != nil {
		return 0, fmt.Errorf("cannot statfs path: %v", err)
	}
	// Type is int32 on 386, use an explicit conversion to keep the
	// code working on all architectures
	return int64(statfs.Type), nil
}

// procPidCgroup returns the path to the cgroup file of a given process.
func procPidCgroup(pid int) string {
	return filepath.Join(rootPath, fmt.Sprintf("proc/%v/cgroup", pid))
}

func probeCgroupVersion() (version int, err error) {
	cgroupMount := filepath.Join(rootPath, cgroupMountPoint)
	typ, err := fsTypeForPath(cgroupMount)
	if err != nil {
		return Unknown, fmt.Errorf("cannot determine cgroup version: %v", err)
	}
	if typ == cgroup2SuperMagic {
		return V2, nil
	}
	return V1, nil
}

// IsUnified returns true when a unified cgroup hierarchy is in use.
func IsUnified() bool {
	version, _ := Version()
	return version == V2
}

// Version returns the detected cgroup version.
func Version() (int, error) {
	return probeVersion, probeErr
}

// ProcGroup finds the path of a given cgroup controller for the process
// with the given pid.
//
// For both the v2 unified hierarchy and the v1 named "systemd" hierarchy
// pass a matcher obtained from MatchUnifiedHierarchy or
// MatchV1NamedHierarchy respectively.
func ProcGroup(pid int, matcher GroupMatcher) (string, error) {
	if matcher == nil {
		return "", fmt.Errorf("internal error: cgroup matcher is nil")
	}

	f, err := os.Open(procPidCgroup(pid))
	if err != nil {
		return "", err
	}
	defer f.Close()

	return parseProcCgroup(f, matcher)
}

// GroupMatcher selects the line of /proc/<pid>/cgroup to extract a path from.
type GroupMatcher interface {
	String() string
	// Match returns true when the given cgroup entry matches.
	Match(id, controllerList string) bool
}

type unified struct{}

func (u *unified) Match(id, controllerList string) bool {
	return id == "0" && controllerList == ""
}
func (u *unified) String() string { return "unified hierarchy" }

// MatchUnifiedHierarchy provides matches for the unified hierarchy on v2.
func MatchUnifiedHierarchy() GroupMatcher {
	return &unified{}
}

type v1NamedHierarchy struct {
	name string
}

func (n *v1NamedHierarchy) Match(_, controllerList string) bool {
	return controllerList == "name="+n.name
}

func (n *v1NamedHierarchy) String() string {
	return fmt.Sprintf("named hierarchy %q", n.name)
}

// MatchV1NamedHierarchy provides a matcher for a given v1 named hierarchy.
func MatchV1NamedHierarchy(hierarchyName string) GroupMatcher {
	return &v1NamedHierarchy{name: hierarchyName}
}

type v1Controller struct {
	controller string
}

func (n *v1Controller) Match(_, controllerList string) bool {
	for _, controller := range strings.Split(controllerList, ",") {
		if controller == n.controller {
			return true
		}
	}
	return false
}

func (n *v1Controller) String() string {
	return fmt.Sprintf("controller %q", n.controller)
}

// MatchV1Controller provides a matcher for a given v1 controller.
func MatchV1Controller(controller string) GroupMatcher {
	return &v1Controller{controller: controller}
}

func parseProcCgroup(reader io.Reader, matcher GroupMatcher) (string, error) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		// the format is described in cgroups(7):
		// hierarchy-ID:controller-list:cgroup-path
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			return "", fmt.Errorf("cannot parse proc cgroup entry %q", line)
		}
		id, controllerList, cgroupPath := fields[0], fields[1], fields[2]
		if matcher.Match(id, controllerList) {
			return cgroupPath, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("cannot find %s cgroup path for process", matcher)
}

// ProcessPathInTrackingCgroup returns the path in the hierarchy that is
// used for tracking snap processes.
//
// With v2 this is the path in the unified hierarchy, with v1 it is the
// path in the named "systemd" hierarchy.
func ProcessPathInTrackingCgroup(pid int) (string, error) {
	var matcher GroupMatcher
	version, err := Version()
	if err != nil {
		return "", err
	}
	switch version {
	case V2:
		matcher = MatchUnifiedHierarchy()
	case V1:
		matcher = MatchV1NamedHierarchy("systemd")
	default:
		return "", fmt.Errorf("unsupported cgroup version %v", version)
	}
	return ProcGroup(pid, matcher)
}
