// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2018-2024 Canonical Ltd
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

// Package apparmor probes the state of apparmor on the system and applies
// the confinement transitions used when launching snap applications.
package apparmor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/snapcore/snap-confine/dirs"
)

// LevelType encodes the kind of support for apparmor found on this system.
type LevelType int

const (
	// Unknown indicates that apparmor was not probed yet.
	Unknown LevelType = iota
	// Unsupported indicates that apparmor is not enabled.
	Unsupported
	// Unusable indicates that apparmor is enabled but cannot be used.
	Unusable
	// Partial indicates that apparmor is enabled but some
	// features are missing.
	Partial
	// Full indicates that all features are supported.
	Full
)

func (level LevelType) String() string {
	switch level {
	case Unknown:
		return "unknown"
	case Unsupported:
		return "none"
	case Unusable:
		return "unusable"
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return fmt.Sprintf("AppArmorLevelType:%d", level)
}

const featuresSysPath = "sys/kernel/security/apparmor/features"

var rootPath = "/"

func init() {
	dirs.AddRootDirCallback(func(root string) {
		rootPath = root
	})
}

// requiredKernelFeatures are always needed for the sandbox to operate.
var requiredKernelFeatures = []string{"file"}

// preferredKernelFeatures are used by the full snap sandbox.
var preferredKernelFeatures = []string{
	"caps", "dbus", "domain", "file", "mount", "namespaces", "network", "ptrace", "signal",
}

type assessment struct {
	once     sync.Once
	level    LevelType
	summary  string
	features []string
	err      error
}

var currentAssessment = &assessment{}

func (a *assessment) assess() {
	a.once.Do(func() {
		a.features, a.err = probeKernelFeatures()
		a.level, a.summary = deduceLevel(a.features, a.err)
	})
}

func deduceLevel(features []string, probeErr error) (LevelType, string) {
	if probeErr != nil || len(features) == 0 {
		return Unsupported, "apparmor not enabled"
	}
	have := make(map[string]bool, len(features))
	for _, f := range features {
		have[f] = true
	}
	var missing []string
	for _, f := range requiredKernelFeatures {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Unusable, fmt.Sprintf("apparmor is enabled but required kernel features are missing: %s", strings.Join(missing, ", "))
	}
	missing = nil
	for _, f := range preferredKernelFeatures {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return Partial, fmt.Sprintf("apparmor is enabled but some kernel features are missing: %s", strings.Join(missing, ", "))
	}
	return Full, "apparmor is enabled and all features are available"
}

func probeKernelFeatures() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(rootPath, featuresSysPath))
	if err != nil {
		return nil, err
	}
	features := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			features = append(features, entry.Name())
		}
	}
	sort.Strings(features)
	return features, nil
}

// ProbedLevel quantifies how well apparmor is supported on the current
// kernel. The result is cached internally.
func ProbedLevel() LevelType {
	currentAssessment.assess()
	return currentAssessment.level
}

// Summary describes how well apparmor is supported on the current kernel.
// The result is cached internally.
func Summary() string {
	currentAssessment.assess()
	return currentAssessment.summary
}

// KernelFeatures returns a sorted list of apparmor features like
// []string{"dbus", "network"}. The result is cached internally.
func KernelFeatures() ([]string, error) {
	currentAssessment.assess()
	return currentAssessment.features, currentAssessment.err
}
