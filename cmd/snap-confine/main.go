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

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/i18n"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/mountns"
	"github.com/snapcore/snap-confine/release"
	"github.com/snapcore/snap-confine/sandbox/apparmor"
	"github.com/snapcore/snap-confine/sandbox/cgroup"
	"github.com/snapcore/snap-confine/sandbox/seccomp"
	"github.com/snapcore/snap-confine/snap/naming"
)

type options struct {
	Base        string `long:"base" description:"name of the base snap providing the root filesystem"`
	Positionals struct {
		SecurityTag string   `positional-arg-name:"SECURITY_TAG" required:"yes"`
		Executable  string   `positional-arg-name:"EXECUTABLE" required:"yes"`
		Args        []string `positional-arg-name:"ARGS"`
	} `positional-args:"true"`
}

func main() {
	logger.SimpleSetup()
	if err := dispatch(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, i18n.G("cannot confine snap application: %s\n"), err)
		os.Exit(1)
	}
}

// helperConfinement restricts the namespace capture helper to a dedicated
// apparmor subprofile before it starts waiting for commands. The helper
// retains only the permissions required to bind-mount the preserved
// namespace file.
type helperConfinement struct{}

func (helperConfinement) RestrictCaptureHelper() error {
	if apparmorProbe() == apparmor.Unsupported {
		return nil
	}
	return apparmor.ChangeHat("mount-namespace-capture-helper", 0)
}

// dispatch recognizes the hidden helper modes used for re-execution
// before regular command line processing kicks in.
func dispatch(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case mountns.CaptureHelperFlag:
			if len(args) != 3 {
				return fmt.Errorf("cannot run capture helper: expected a name and a pid")
			}
			parentPid, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("cannot parse pid of the capture helper parent: %v", err)
			}
			return mountns.RunCaptureHelper(args[1], parentPid, helperConfinement{})
		case mountns.InspectHelperFlag:
			return mountns.RunInspectHelper()
		}
	}
	return run(args)
}

func parseArgs(args []string) (*options, error) {
	var opts options
	// PassAfterNonOption keeps option-like arguments of the application
	// itself out of our hands.
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash|flags.PassAfterNonOption)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

// For mocking in tests.
var (
	syscallExec      = syscall.Exec
	runUpdaterTool   = runUpdaterToolImpl
	joinDeviceCgroup = joinDeviceCgroupImpl
	classifyDistro   = release.ClassifyDistro
	apparmorProbe    = apparmor.ProbedLevel
	createTracking   = cgroup.CreateTransientScopeForTracking
	loadSeccomp      = seccomp.LoadProfile
	populateAndSave  = populateMountNamespace
)

// runUpdaterToolImpl reconciles the mount profile of a preserved
// namespace by invoking snap-update-ns, which lives next to this binary.
// We hold the per-snap lock at this point and say so, the tool skips
// taking it again.
func runUpdaterToolImpl(instanceName string) error {
	exe, err := osReadlinkSelfExe()
	if err != nil {
		return fmt.Errorf("cannot locate the namespace updater tool: %v", err)
	}
	tool := filepath.Join(filepath.Dir(exe), "snap-update-ns")
	cmd := exec.Command(tool, "--from-snap-confine", instanceName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("cannot update preserved mount namespace of snap %q: %v", instanceName, err)
	}
	return nil
}

// joinDeviceCgroupImpl places the process in the device cgroup prepared
// by snapd when device access was assigned to the snap. A missing group
// means no devices were assigned, access control then rests with the
// apparmor and seccomp profiles alone.
func joinDeviceCgroupImpl(securityTag string) error {
	dc, err := cgroup.NewDeviceCgroup(securityTag, true)
	if err == cgroup.ErrNoDeviceCgroup {
		return nil
	}
	if err != nil {
		return err
	}
	return dc.AttachPid(os.Getpid())
}

// namespaceBase describes where the root filesystem of the namespace
// comes from. Without an explicit base the original core snap is
// assumed, and on an all-snap core 16 system that base is already the
// booted rootfs so the legacy non-pivoting layout applies.
func namespaceBase(opts *options) (baseSnapName, rootfsDir string, normalMode bool) {
	baseSnapName = opts.Base
	if baseSnapName == "" {
		baseSnapName = "core"
	}
	rootfsDir = filepath.Join(dirs.SnapMountDir, baseSnapName, "current")
	normalMode = baseSnapName != "core" || classifyDistro() != release.DistroCore16
	return baseSnapName, rootfsDir, normalMode
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	securityTag := opts.Positionals.SecurityTag
	tag, err := naming.ParseSecurityTag(securityTag)
	if err != nil {
		return fmt.Errorf("cannot parse security tag %q: %v", securityTag, err)
	}
	instanceName := tag.InstanceName()
	baseSnapName, rootfsDir, normalMode := namespaceBase(opts)

	// Mount points are created with the permission bits we ask for, not
	// with whatever umask we inherited from the invoking shell.
	syscall.Umask(0)

	// setns and unshare act on the calling thread only, the goroutine must
	// not migrate between namespace operations and exec.
	runtime.LockOSThread()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get the current working directory: %v", err)
	}

	if err := mountns.ReassociateWithPID1(); err != nil {
		return err
	}
	if err := mountns.InitializeControlDir(); err != nil {
		return err
	}
	group, err := mountns.Open(instanceName, false)
	if err != nil {
		return err
	}
	defer group.Close()
	if err := group.Lock(); err != nil {
		return err
	}
	if err := setupNamespace(group, instanceName, baseSnapName, rootfsDir, normalMode); err != nil {
		group.Unlock()
		return err
	}
	if err := group.Unlock(); err != nil {
		return err
	}

	// The old working directory may not exist inside the namespace.
	if err := os.Chdir(cwd); err != nil {
		logger.Noticef("cannot restore working directory: %v", err)
		if err := os.Chdir(dirs.SnapVoidDir); err != nil {
			return fmt.Errorf("cannot move to void directory: %v", err)
		}
	}

	if err := createTracking(securityTag, &cgroup.TrackingOptions{AllowSessionBus: os.Getuid() != 0}); err != nil {
		if !errors.Is(err, cgroup.ErrCannotTrackProcess) {
			return err
		}
		logger.Noticef("snapd cannot track the started application")
	}
	if err := joinDeviceCgroup(securityTag); err != nil {
		return err
	}

	if apparmorProbe() != apparmor.Unsupported {
		if err := apparmor.ChangeProfileOnExec(securityTag); err != nil {
			return err
		}
	}
	profile, err := loadSeccomp(securityTag)
	if err != nil {
		return err
	}
	if err := profile.Apply(); err != nil {
		return err
	}

	argv := append([]string{opts.Positionals.Executable}, opts.Positionals.Args...)
	return syscallExec(opts.Positionals.Executable, argv, os.Environ())
}

// setupNamespace joins the preserved mount namespace of the snap instance
// or constructs a fresh one. The caller must hold the per-name lock.
//
// A fresh namespace is populated and then captured so that subsequent
// invocations share it. An existing namespace already has its mounts, it
// merely gets reconciled against the current mount profile.
func setupNamespace(group *mountns.Group, instanceName, baseSnapName, rootfsDir string, normalMode bool) error {
	if _, err := group.CreateOrJoin(&mountns.JoinOptions{
		BaseSnapName: baseSnapName,
		NormalMode:   normalMode,
	}); err != nil {
		return err
	}
	if group.ShouldPopulate() {
		if err := populateAndSave(instanceName, baseSnapName, rootfsDir, normalMode); err != nil {
			return err
		}
		return group.Preserve()
	}
	return runUpdaterTool(instanceName)
}
