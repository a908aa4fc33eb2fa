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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/osutil"
	"github.com/snapcore/snap-confine/osutil/mount"
	"github.com/snapcore/snap-confine/release"
)

// not available through syscall
const umountNoFollow = 8

// For mocking everything during testing.
var (
	osLstat     = os.Lstat
	osStat      = os.Stat
	osMkdirAll  = os.MkdirAll
	osMkdirTemp = os.MkdirTemp
	osRemove    = os.Remove
	osChmod     = os.Chmod
	osChown     = os.Chown

	sysMount     = syscall.Mount
	sysUnmount   = syscall.Unmount
	sysPivotRoot = unix.PivotRoot
	sysMkdir     = syscall.Mkdir
	sysMkdirat   = unix.Mkdirat
	sysOpenat    = syscall.Openat
	sysClose     = syscall.Close
	sysFstat     = syscall.Fstat
)

// bootstrapMount describes one host directory that is made visible
// inside the confined namespace.
type bootstrapMount struct {
	path string
	// Bidirectional mount points stay shared so that mount events
	// propagate both ways. Everything else is made recursively slave
	// after binding, the snap sees host events but cannot leak its own.
	isBidirectional bool
	// altPath is a second location that should behave exactly like path.
	// It exists so that /media can be provided on systems using
	// /run/media.
	altPath string
	// Optional mount points are skipped when the source is absent.
	isOptional bool
}

// bootstrapConfig is everything the bootstrapper needs to construct the
// confined mount namespace.
type bootstrapConfig struct {
	rootfsDir    string
	mounts       []bootstrapMount
	distro       release.Distro
	normalMode   bool
	baseSnapName string
	instanceName string
}

// normalModeMounts lists the host directories replicated into the
// namespace when the rootfs is pivoted to the base snap.
var normalModeMounts = []bootstrapMount{
	{path: "/dev"},  // because it contains devices on the host OS
	{path: "/etc"},  // because that's where /etc/resolv.conf lives
	{path: "/home"}, // to support /home/*/snap and the home interface
	{path: "/root"}, // because that is $HOME for services
	{path: "/proc"}, // fundamental filesystem
	{path: "/sys"},  // fundamental filesystem
	{path: "/tmp"},  // to get writable tmp
	{path: "/var/snap"},      // to get access to global snap data
	{path: "/var/lib/snapd"}, // to get access to snapd state and seccomp profiles
	{path: "/var/tmp"},       // to get access to the other temporary directory
	{path: "/run"},           // to get /run with sockets and what not
	{path: "/lib/modules", isOptional: true},  // access to the modules of the running kernel
	{path: "/lib/firmware", isOptional: true}, // access to the firmware of the running kernel
	{path: "/usr/src"},
	{path: "/var/log"},
	{path: "/run/media", isBidirectional: true, altPath: "/media"}, // access to the users removable devices
	{path: "/run/netns", isBidirectional: true},                    // access to the 'ip netns' network namespaces
	{path: "/mnt", isOptional: true},                               // to support the removable-media interface
	{path: "/var/lib/extrausers", isOptional: true},                // access to UID/GID of extrausers (if available)
}

// legacyModeMounts lists the directories set up when the rootfs stays in
// place. Only the bidirectional points are needed then.
var legacyModeMounts = []bootstrapMount{
	{path: "/media", isBidirectional: true},
	{path: "/run/netns", isBidirectional: true},
}

// doMount wraps mount(2) with a debug log of the symbolic flags, in the
// same spirit as the mount changes performed by snap-update-ns.
func doMount(source, target, fstype string, flags int, data string) error {
	opts, unknown := mount.MountFlagsToOpts(flags)
	if unknown != 0 {
		opts = append(opts, fmt.Sprintf("%#x", unknown))
	}
	logger.Debugf("performing operation: mount %q %q %q %s %q",
		source, target, fstype, strings.Join(opts, "|"), data)
	if err := sysMount(source, target, fstype, uintptr(flags), data); err != nil {
		return fmt.Errorf("cannot mount %q at %q: %v", source, target, err)
	}
	return nil
}

// changePropagation issues the separate, flagless-source mount call that
// the kernel requires for propagation changes. Propagation flags cannot
// be combined with MS_BIND in one call.
func changePropagation(target string, flags int) error {
	opts, _ := mount.MountFlagsToOpts(flags)
	logger.Debugf("performing operation: mount none %q %s", target, strings.Join(opts, "|"))
	if err := sysMount("none", target, "", uintptr(flags), ""); err != nil {
		return fmt.Errorf("cannot change mount propagation of %q: %v", target, err)
	}
	return nil
}

func doUmount(target string, flags int) error {
	opts, _ := mount.UnmountFlagsToOpts(flags)
	logger.Debugf("performing operation: umount %q %s", target, strings.Join(opts, "|"))
	if err := sysUnmount(target, flags); err != nil {
		return fmt.Errorf("cannot unmount %q: %v", target, err)
	}
	return nil
}

// performBindMounts replicates the configured host directories under the
// scratch directory.
func performBindMounts(scratchDir string, mounts []bootstrapMount) error {
	for _, mnt := range mounts {
		if mnt.isBidirectional {
			// A bidirectional mount point must exist on the host or
			// nothing can ever propagate out through it.
			if err := osMkdirAll(mnt.path, 0755); err != nil {
				return fmt.Errorf("cannot create %q: %v", mnt.path, err)
			}
		}
		if mnt.isOptional {
			if _, err := osLstat(mnt.path); err != nil {
				logger.Debugf("skipping optional mount point %q", mnt.path)
				continue
			}
		}
		dst := filepath.Join(scratchDir, mnt.path)
		if err := osMkdirAll(dst, 0755); err != nil {
			return fmt.Errorf("cannot create mount point %q: %v", dst, err)
		}
		if err := doMount(mnt.path, dst, "", syscall.MS_REC|syscall.MS_BIND, ""); err != nil {
			return err
		}
		if !mnt.isBidirectional {
			// Mount events will only propagate inwards to the namespace.
			if err := changePropagation(dst, syscall.MS_REC|syscall.MS_SLAVE); err != nil {
				return err
			}
		}
		if mnt.altPath == "" {
			continue
		}
		dst = filepath.Join(scratchDir, mnt.altPath)
		fi, err := osLstat(dst)
		if err != nil {
			return fmt.Errorf("cannot inspect alternate path %q: %v", dst, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("cannot bind mount alternate path over a symlink: %q", dst)
		}
		if err := doMount(mnt.path, dst, "", syscall.MS_REC|syscall.MS_BIND, ""); err != nil {
			return err
		}
		if !mnt.isBidirectional {
			if err := changePropagation(dst, syscall.MS_REC|syscall.MS_SLAVE); err != nil {
				return err
			}
		}
	}
	return nil
}

// dirsFromBase are re-bound from the base snap after /etc was bound from
// the host, so that the behavior of running snaps is not affected by
// host-specific variants of these directories.
var dirsFromBase = []string{
	"/etc/alternatives",
	"/etc/nsswitch.conf",
	// Privileged interfaces give access to apparmor_parser from the base
	// snap which needs matching configuration from the base snap.
	"/etc/apparmor",
	"/etc/apparmor.d",
	// Use ssl certs from the base by default unless using a Debian-like
	// classic system with a core base, see below.
	"/etc/ssl",
}

// etcFixupsFromBase puts base snap versions of selected /etc entries
// back over the host versions that step 4 bound into the scratch
// directory.
func etcFixupsFromBase(scratchDir string, cfg *bootstrapConfig) error {
	for _, dir := range dirsFromBase {
		// Debian-like classic systems with a core base keep the host
		// /etc/ssl to support custom ca-cert setups.
		if dir == "/etc/ssl" && cfg.distro == release.DistroClassic &&
			release.IsDebianLike() && strings.HasPrefix(cfg.baseSnapName, "core") {
			continue
		}
		src := filepath.Join(cfg.rootfsDir, dir)
		dst := filepath.Join(scratchDir, dir)
		srcFi, err := osLstat(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("cannot inspect %q from the base snap: %v", src, err)
		}
		dstFi, err := osLstat(dst)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("cannot inspect %q: %v", dst, err)
		}
		// Only a file-over-file or directory-over-directory bind works.
		if srcFi.Mode()&os.ModeType != dstFi.Mode()&os.ModeType ||
			srcFi.Mode()&os.ModeType&^os.ModeDir != 0 {
			logger.Debugf("skipping mount of mismatched entries %q and %q", src, dst)
			continue
		}
		if err := doMount(src, dst, "", syscall.MS_BIND, ""); err != nil {
			return err
		}
		if err := changePropagation(dst, syscall.MS_SLAVE); err != nil {
			return err
		}
	}
	return nil
}

var osReadlinkSelfExe = func() (string, error) {
	return os.Readlink("/proc/self/exe")
}

// mountSnapdTools makes the snapd tooling from the host available at
// /usr/lib/snapd inside the namespace. Base snaps other than core do not
// ship snapd so snap-exec has to come from the host installation or from
// the snapd/core snap we are executing out of.
func mountSnapdTools(scratchDir string, cfg *bootstrapConfig) error {
	if cfg.distro != release.DistroCoreOther && cfg.baseSnapName == "core" {
		return nil
	}
	self, err := osReadlinkSelfExe()
	if err != nil {
		return fmt.Errorf("cannot read /proc/self/exe: %v", err)
	}
	src := filepath.Dir(self)
	if !filepath.IsAbs(src) {
		return fmt.Errorf("cannot use location of the current executable: %q", src)
	}
	dst := filepath.Join(scratchDir, "/usr/lib/snapd")
	if err := doMount(src, dst, "", syscall.MS_BIND|syscall.MS_RDONLY, ""); err != nil {
		return err
	}
	return changePropagation(dst, syscall.MS_SLAVE)
}

// prepareHostfs makes sure the hostfs escape hatch directory exists, is
// owned by root and satisfies the pivot_root requirement for the
// "put_old" argument: it must be a mount point that is private, not
// shared with any peer group.
func prepareHostfs(scratchDir string) error {
	if err := sysMkdir(dirs.SnapHostfsDir, 0000); err != nil {
		if err != syscall.EEXIST {
			return fmt.Errorf("cannot create %q: %v", dirs.SnapHostfsDir, err)
		}
		fi, err := osStat(dirs.SnapHostfsDir)
		if err != nil {
			return fmt.Errorf("cannot inspect %q: %v", dirs.SnapHostfsDir, err)
		}
		if st, ok := fi.Sys().(*syscall.Stat_t); ok && (st.Uid != 0 || st.Gid != 0) {
			return fmt.Errorf("%s is not owned by root", dirs.SnapHostfsDir)
		}
	} else {
		// We created the directory with mode 0000 so nobody could fiddle
		// with it before the ownership was settled.
		if err := osChown(dirs.SnapHostfsDir, 0, 0); err != nil {
			return fmt.Errorf("cannot set root ownership of %q: %v", dirs.SnapHostfsDir, err)
		}
		if err := osChmod(dirs.SnapHostfsDir, 0755); err != nil {
			return fmt.Errorf("cannot set permissions of %q: %v", dirs.SnapHostfsDir, err)
		}
	}
	putOld := filepath.Join(scratchDir, dirs.SnapHostfsDir)
	if err := doMount(putOld, putOld, "", syscall.MS_BIND, ""); err != nil {
		return err
	}
	return changePropagation(putOld, syscall.MS_PRIVATE)
}

// bootstrapMountNamespace constructs the confined filesystem view.
//
// The caller must have unshared a fresh mount namespace already. The
// ordering below is load bearing: the root must be recursively shared
// before the scratch directory becomes a self-bound mount point and the
// scratch directory must be unbindable before the recursive bind of the
// rootfs, otherwise that bind would replicate the scratch directory into
// itself and loop. Propagation changes are always separate mount calls,
// the kernel rejects them when combined with MS_BIND.
func bootstrapMountNamespace(cfg *bootstrapConfig) error {
	scratchDir, err := osMkdirTemp("/tmp", "snap.rootfs_")
	if err != nil {
		return fmt.Errorf("cannot create temporary directory for the root file system: %v", err)
	}
	logger.Debugf("scratch directory for constructing namespace: %s", scratchDir)
	if err := changePropagation("/", syscall.MS_REC|syscall.MS_SHARED); err != nil {
		return err
	}
	if err := doMount(scratchDir, scratchDir, "", syscall.MS_BIND, ""); err != nil {
		return err
	}
	if err := changePropagation(scratchDir, syscall.MS_UNBINDABLE); err != nil {
		return err
	}
	// Replicate the rootfs of the base snap (or of the host in legacy
	// mode) into the scratch directory and detach it from the original
	// peer group while still receiving host-side events.
	if err := doMount(cfg.rootfsDir, scratchDir, "", syscall.MS_REC|syscall.MS_BIND, ""); err != nil {
		return err
	}
	if err := changePropagation(scratchDir, syscall.MS_REC|syscall.MS_SLAVE); err != nil {
		return err
	}
	if err := performBindMounts(scratchDir, cfg.mounts); err != nil {
		return err
	}
	if cfg.normalMode {
		if err := etcFixupsFromBase(scratchDir, cfg); err != nil {
			return err
		}
	}
	if err := mountSnapdTools(scratchDir, cfg); err != nil {
		return err
	}
	if cfg.normalMode {
		// The location of mounted snaps on the host may not match the
		// fixed /snap directory the base snap expects.
		dst := filepath.Join(scratchDir, "/snap")
		if err := doMount(dirs.SnapMountDir, dst, "", syscall.MS_BIND|syscall.MS_REC, ""); err != nil {
			return err
		}
		if err := changePropagation(dst, syscall.MS_REC|syscall.MS_SLAVE); err != nil {
			return err
		}
	}
	if err := prepareHostfs(scratchDir); err != nil {
		return err
	}
	if cfg.distro == release.DistroClassic {
		if err := mountVendorDrivers(scratchDir); err != nil {
			return err
		}
	}
	putOld := filepath.Join(scratchDir, dirs.SnapHostfsDir)
	logger.Debugf("performing operation: pivot_root %s %s", scratchDir, putOld)
	if err := sysPivotRoot(scratchDir, putOld); err != nil {
		return fmt.Errorf("cannot pivot_root %q %q: %v", scratchDir, putOld, err)
	}
	// The self-bind mount of the scratch directory is still visible in
	// the old root, now mounted at the hostfs directory. Unmount it and
	// remove the empty directory so nothing of the construction remains.
	leftover := filepath.Join(dirs.SnapHostfsDir, scratchDir)
	if err := doUmount(leftover, umountNoFollow); err != nil {
		return err
	}
	logger.Debugf("performing operation: rmdir %s", leftover)
	if err := osRemove(leftover); err != nil {
		return fmt.Errorf("cannot remove %q: %v", leftover, err)
	}
	if err := changePropagation(dirs.SnapHostfsDir, syscall.MS_REC|syscall.MS_SLAVE); err != nil {
		return err
	}
	// Detach the redundant hostfs copies of the fundamental filesystems,
	// software enumerating the mount table becomes confused by them.
	for _, dir := range []string{"/sys", "/dev", "/proc"} {
		if err := doUmount(filepath.Join(dirs.SnapHostfsDir, dir), umountNoFollow|syscall.MNT_DETACH); err != nil {
			return err
		}
	}
	return nil
}

// verifyOwnedDir opens a directory without following symlinks and checks
// that it is a directory owned by root with exactly the given mode.
func verifyOwnedDir(dirFD int, name, path string, mode uint32) (int, error) {
	fd, err := sysOpenat(dirFD, name, syscall.O_RDONLY|syscall.O_DIRECTORY|syscall.O_CLOEXEC|syscall.O_NOFOLLOW, 0)
	if err != nil {
		return -1, fmt.Errorf("cannot open %q: %v", path, err)
	}
	var st syscall.Stat_t
	if err := sysFstat(fd, &st); err != nil {
		sysClose(fd)
		return -1, fmt.Errorf("cannot stat %q: %v", path, err)
	}
	if st.Uid != 0 || st.Gid != 0 || st.Mode != syscall.S_IFDIR|mode {
		sysClose(fd)
		return -1, fmt.Errorf("%s has unexpected ownership or permissions", path)
	}
	return fd, nil
}

// setupPrivateTmp gives the namespace a private /tmp backed by
// /tmp/snap-private-tmp/snap.<instance>/tmp on the host.
//
// The directory names are deliberately predictable so users can relate
// to them and snapd can clean them up, which is also why ownership and
// permissions are verified at every level instead of trusted.
func setupPrivateTmp(instanceName string) error {
	root := dirs.SnapPrivateTmpDir
	// Normally created by systemd-tmpfiles but snapd may have just been
	// installed and the tmpfiles configuration not yet executed.
	if err := sysMkdir(root, 0700); err != nil && err != syscall.EEXIST {
		return fmt.Errorf("cannot create %q: %v", root, err)
	}
	rootFD, err := verifyOwnedDir(unix.AT_FDCWD, root, root, 0700)
	if err != nil {
		return err
	}
	defer sysClose(rootFD)

	base := "snap." + instanceName
	basePath := filepath.Join(root, base)
	if err := sysMkdirat(rootFD, base, 0700); err != nil && err != unix.EEXIST {
		return fmt.Errorf("cannot create %q: %v", basePath, err)
	}
	baseFD, err := verifyOwnedDir(rootFD, base, basePath, 0700)
	if err != nil {
		return err
	}
	defer sysClose(baseFD)

	tmpPath := filepath.Join(basePath, "tmp")
	if err := sysMkdirat(baseFD, "tmp", 01777); err != nil && err != unix.EEXIST {
		return fmt.Errorf("cannot create %q: %v", tmpPath, err)
	}
	tmpFD, err := verifyOwnedDir(baseFD, "tmp", tmpPath, 01777)
	if err != nil {
		return err
	}
	defer sysClose(tmpFD)

	// Mount through the descriptor so a racing rename of the verified
	// directory cannot redirect the bind to somewhere else.
	src := fmt.Sprintf("/proc/self/fd/%d", tmpFD)
	if err := doMount(src, "/tmp", "", syscall.MS_BIND, ""); err != nil {
		return err
	}
	return changePropagation("/tmp", syscall.MS_PRIVATE)
}

// setupPrivatePts mounts a fresh multi-instance devpts over /dev/pts and
// binds its ptmx over /dev/ptmx, following the user-space instructions
// from the kernel devpts documentation.
func setupPrivatePts() error {
	// Without /dev/pts/ptmx the system does not provide the isolation we
	// require; without /dev/ptmx there is nothing to bind over.
	if _, err := osStat("/dev/pts/ptmx"); err != nil {
		return fmt.Errorf("cannot stat /dev/pts/ptmx: %v", err)
	}
	if _, err := osStat("/dev/ptmx"); err != nil {
		return fmt.Errorf("cannot stat /dev/ptmx: %v", err)
	}
	if err := doMount("devpts", "/dev/pts", "devpts", 0, "newinstance,ptmxmode=0666,mode=0620,gid=5"); err != nil {
		return err
	}
	return doMount("/dev/pts/ptmx", "/dev/ptmx", "none", syscall.MS_BIND, "")
}

// initializeNsFstab seeds the saved current mount profile of a freshly
// constructed namespace with the synthetic rootfs entry, so that the
// update helper knows about the pivoted root and will not try to unmount
// it during reconciliation.
func initializeNsFstab(instanceName string) error {
	profile := &osutil.MountProfile{Entries: []osutil.MountEntry{
		{Name: "tmpfs", Dir: "/", Type: "tmpfs", Options: []string{"x-snapd.origin=rootfs"}},
	}}
	fname := filepath.Join(dirs.SnapRunNsDir, fmt.Sprintf("snap.%s.fstab", instanceName))
	if err := osutil.SaveMountProfile(profile, fname, osutil.NoChown, osutil.NoChown); err != nil {
		return fmt.Errorf("cannot save initial mount profile of snap %q: %v", instanceName, err)
	}
	logger.Debugf("saved rootfs fstab entry to %s", fname)
	return nil
}

// applyMountProfile performs the one-shot application of the desired
// per-snap mount profile inside a freshly constructed namespace.
//
// Only bind mounts are permitted here and they are read-only, nodev and
// nosuid unless the entry explicitly requests rw. Reconciliation of an
// already-running namespace is the job of the external update helper and
// its diff engine, this path runs once against a known-empty namespace.
func applyMountProfile(instanceName string) error {
	fname := filepath.Join(dirs.SnapMountPolicyDir, fmt.Sprintf("snap.%s.fstab", instanceName))
	desired, err := osutil.LoadMountProfile(fname)
	if err != nil {
		return fmt.Errorf("cannot load desired mount profile of snap %q: %v", instanceName, err)
	}
	applied := &osutil.MountProfile{Entries: []osutil.MountEntry{
		{Name: "tmpfs", Dir: "/", Type: "tmpfs", Options: []string{"x-snapd.origin=rootfs"}},
	}}
	for _, entry := range desired.Entries {
		flags := syscall.MS_BIND | syscall.MS_RDONLY | syscall.MS_NODEV | syscall.MS_NOSUID
		ok := false
		for _, opt := range entry.Options {
			switch opt {
			case "bind":
				ok = true
			case "rw":
				flags &^= syscall.MS_RDONLY
			}
		}
		if !ok {
			return fmt.Errorf("cannot apply mount profile of snap %q: entry for %q is not a bind mount", instanceName, entry.Dir)
		}
		if err := osMkdirAll(entry.Dir, 0755); err != nil {
			return fmt.Errorf("cannot create mount point %q: %v", entry.Dir, err)
		}
		if err := doMount(entry.Name, entry.Dir, "", flags, ""); err != nil {
			return err
		}
		applied.Entries = append(applied.Entries, entry)
	}
	fname = filepath.Join(dirs.SnapRunNsDir, fmt.Sprintf("snap.%s.fstab", instanceName))
	if err := osutil.SaveMountProfile(applied, fname, osutil.NoChown, osutil.NoChown); err != nil {
		return fmt.Errorf("cannot save current mount profile of snap %q: %v", instanceName, err)
	}
	return nil
}

// populateMountNamespace builds the whole confined filesystem view for a
// freshly unshared namespace: the pivoted rootfs, the private /tmp and
// /dev/pts and the per-snap mount profile.
func populateMountNamespace(instanceName, baseSnapName, rootfsDir string, normalMode bool) error {
	distro := release.ClassifyDistro()
	cfg := &bootstrapConfig{
		distro:       distro,
		normalMode:   normalMode,
		baseSnapName: baseSnapName,
		instanceName: instanceName,
	}
	if normalMode {
		cfg.rootfsDir = rootfsDir
		cfg.mounts = normalModeMounts
	} else {
		// In legacy mode the rootfs stays in place and only the
		// bidirectional propagation points are arranged.
		cfg.rootfsDir = "/"
		cfg.mounts = legacyModeMounts
	}
	if normalMode {
		if err := initializeNsFstab(instanceName); err != nil {
			return err
		}
	}
	if err := bootstrapMountNamespace(cfg); err != nil {
		return err
	}
	if err := setupPrivateTmp(instanceName); err != nil {
		return err
	}
	if err := setupPrivatePts(); err != nil {
		return err
	}
	if normalMode {
		return applyMountProfile(instanceName)
	}
	return nil
}
