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

package main_test

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	. "gopkg.in/check.v1"

	"golang.org/x/sys/unix"

	confine "github.com/snapcore/snap-confine/cmd/snap-confine"
	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/release"
	"github.com/snapcore/snap-confine/testutil"
)

// openDirNoFollowFlags is how the bootstrapper opens verified directories.
const openDirNoFollowFlags = syscall.O_RDONLY | syscall.O_DIRECTORY | syscall.O_CLOEXEC | syscall.O_NOFOLLOW

// umountNoFollowFlag mirrors UMOUNT_NOFOLLOW which syscall does not define.
const umountNoFollowFlag = 8

type bootstrapSuite struct {
	testutil.BaseTest
	sys *confine.SyscallRecorder
}

var _ = Suite(&bootstrapSuite{})

func (s *bootstrapSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.sys = &confine.SyscallRecorder{}
	s.BaseTest.AddCleanup(confine.MockSystemCalls(s.sys))
	_, restore := logger.MockLogger()
	s.BaseTest.AddCleanup(restore)
}

func (s *bootstrapSuite) TestBindMountPlain(c *C) {
	c.Assert(confine.PerformBindMount("/tmp/scratch", "/home", "", false, false), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdirall "/tmp/scratch/home" 755`,
		fmt.Sprintf(`mount "/home" "/tmp/scratch/home" "" %d ""`, syscall.MS_REC|syscall.MS_BIND),
		fmt.Sprintf(`mount "none" "/tmp/scratch/home" "" %d ""`, syscall.MS_REC|syscall.MS_SLAVE),
	})
}

func (s *bootstrapSuite) TestBindMountBidirectional(c *C) {
	c.Assert(confine.PerformBindMount("/tmp/scratch", "/run/netns", "", true, false), IsNil)
	// The mount point is created on the host as well and propagation is
	// left shared so that events travel both ways.
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdirall "/run/netns" 755`,
		`mkdirall "/tmp/scratch/run/netns" 755`,
		fmt.Sprintf(`mount "/run/netns" "/tmp/scratch/run/netns" "" %d ""`, syscall.MS_REC|syscall.MS_BIND),
	})
}

func (s *bootstrapSuite) TestBindMountOptionalMissing(c *C) {
	c.Assert(confine.PerformBindMount("/tmp/scratch", "/mnt", "", false, true), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/mnt"`,
	})
}

func (s *bootstrapSuite) TestBindMountOptionalPresent(c *C) {
	s.sys.InsertLstatResult(`lstat "/mnt"`, confine.FakeFileInfo(os.ModeDir|0755))
	c.Assert(confine.PerformBindMount("/tmp/scratch", "/mnt", "", false, true), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/mnt"`,
		`mkdirall "/tmp/scratch/mnt" 755`,
		fmt.Sprintf(`mount "/mnt" "/tmp/scratch/mnt" "" %d ""`, syscall.MS_REC|syscall.MS_BIND),
		fmt.Sprintf(`mount "none" "/tmp/scratch/mnt" "" %d ""`, syscall.MS_REC|syscall.MS_SLAVE),
	})
}

func (s *bootstrapSuite) TestBindMountAlternatePath(c *C) {
	s.sys.InsertLstatResult(`lstat "/tmp/scratch/media"`, confine.FakeFileInfo(os.ModeDir|0755))
	c.Assert(confine.PerformBindMount("/tmp/scratch", "/run/media", "/media", true, false), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdirall "/run/media" 755`,
		`mkdirall "/tmp/scratch/run/media" 755`,
		fmt.Sprintf(`mount "/run/media" "/tmp/scratch/run/media" "" %d ""`, syscall.MS_REC|syscall.MS_BIND),
		`lstat "/tmp/scratch/media"`,
		fmt.Sprintf(`mount "/run/media" "/tmp/scratch/media" "" %d ""`, syscall.MS_REC|syscall.MS_BIND),
	})
}

func (s *bootstrapSuite) TestBindMountAlternatePathSymlink(c *C) {
	s.sys.InsertLstatResult(`lstat "/tmp/scratch/media"`, confine.FakeFileInfo(os.ModeSymlink|0777))
	err := confine.PerformBindMount("/tmp/scratch", "/run/media", "/media", true, false)
	c.Assert(err, ErrorMatches, `cannot bind mount alternate path over a symlink: "/tmp/scratch/media"`)
}

func (s *bootstrapSuite) TestBindMountError(c *C) {
	s.sys.InsertFault(fmt.Sprintf(`mount "/home" "/tmp/scratch/home" "" %d ""`, syscall.MS_REC|syscall.MS_BIND), errTesting)
	err := confine.PerformBindMount("/tmp/scratch", "/home", "", false, false)
	c.Assert(err, ErrorMatches, `cannot mount "/home" at "/tmp/scratch/home": testing`)
}

func (s *bootstrapSuite) TestEtcFixupsNothingInBase(c *C) {
	restore := release.MockReleaseInfo(&release.OS{ID: "arch"})
	defer restore()
	c.Assert(confine.EtcFixupsFromBase("/tmp/scratch", "/snap/core20/current", "core20", release.DistroClassic), IsNil)
	// Entries absent from the base snap are left alone.
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/snap/core20/current/etc/alternatives"`,
		`lstat "/snap/core20/current/etc/nsswitch.conf"`,
		`lstat "/snap/core20/current/etc/apparmor"`,
		`lstat "/snap/core20/current/etc/apparmor.d"`,
		`lstat "/snap/core20/current/etc/ssl"`,
	})
}

func (s *bootstrapSuite) TestEtcFixupsMounts(c *C) {
	restore := release.MockReleaseInfo(&release.OS{ID: "arch"})
	defer restore()
	s.sys.InsertLstatResult(`lstat "/snap/core20/current/etc/ssl"`, confine.FakeFileInfo(os.ModeDir|0755))
	s.sys.InsertLstatResult(`lstat "/tmp/scratch/etc/ssl"`, confine.FakeFileInfo(os.ModeDir|0755))
	c.Assert(confine.EtcFixupsFromBase("/tmp/scratch", "/snap/core20/current", "core20", release.DistroClassic), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/snap/core20/current/etc/alternatives"`,
		`lstat "/snap/core20/current/etc/nsswitch.conf"`,
		`lstat "/snap/core20/current/etc/apparmor"`,
		`lstat "/snap/core20/current/etc/apparmor.d"`,
		`lstat "/snap/core20/current/etc/ssl"`,
		`lstat "/tmp/scratch/etc/ssl"`,
		fmt.Sprintf(`mount "/snap/core20/current/etc/ssl" "/tmp/scratch/etc/ssl" "" %d ""`, syscall.MS_BIND),
		fmt.Sprintf(`mount "none" "/tmp/scratch/etc/ssl" "" %d ""`, syscall.MS_SLAVE),
	})
}

func (s *bootstrapSuite) TestEtcFixupsMismatchedTypes(c *C) {
	restore := release.MockReleaseInfo(&release.OS{ID: "arch"})
	defer restore()
	s.sys.InsertLstatResult(`lstat "/snap/core20/current/etc/nsswitch.conf"`, confine.FakeFileInfo(0644))
	s.sys.InsertLstatResult(`lstat "/tmp/scratch/etc/nsswitch.conf"`, confine.FakeFileInfo(os.ModeSymlink|0777))
	c.Assert(confine.EtcFixupsFromBase("/tmp/scratch", "/snap/core20/current", "core20", release.DistroClassic), IsNil)
	// A file cannot be bound over a symlink, the entry is skipped.
	for _, call := range s.sys.Calls() {
		c.Check(call, Not(Matches), `mount .*nsswitch.*`)
	}
}

func (s *bootstrapSuite) TestEtcFixupsDebianLikeKeepsHostSsl(c *C) {
	restore := release.MockReleaseInfo(&release.OS{ID: "ubuntu"})
	defer restore()
	c.Assert(confine.EtcFixupsFromBase("/tmp/scratch", "/snap/core20/current", "core20", release.DistroClassic), IsNil)
	// Custom ca-cert setups live in the host /etc/ssl on Debian-like
	// systems, it is not replaced by the base snap copy.
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/snap/core20/current/etc/alternatives"`,
		`lstat "/snap/core20/current/etc/nsswitch.conf"`,
		`lstat "/snap/core20/current/etc/apparmor"`,
		`lstat "/snap/core20/current/etc/apparmor.d"`,
	})
}

func (s *bootstrapSuite) TestMountSnapdToolsSkippedOnCore(c *C) {
	c.Assert(confine.MountSnapdToolsFor("/tmp/scratch", "core", release.DistroCore16), IsNil)
	c.Assert(s.sys.Calls(), HasLen, 0)
}

func (s *bootstrapSuite) TestMountSnapdTools(c *C) {
	restore := confine.MockReadlinkSelfExe("/usr/lib/snapd/snap-confine", nil)
	defer restore()
	c.Assert(confine.MountSnapdToolsFor("/tmp/scratch", "core20", release.DistroClassic), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		fmt.Sprintf(`mount "/usr/lib/snapd" "/tmp/scratch/usr/lib/snapd" "" %d ""`, syscall.MS_BIND|syscall.MS_RDONLY),
		fmt.Sprintf(`mount "none" "/tmp/scratch/usr/lib/snapd" "" %d ""`, syscall.MS_SLAVE),
	})
}

func (s *bootstrapSuite) TestMountSnapdToolsRelativeExecutable(c *C) {
	restore := confine.MockReadlinkSelfExe("snap-confine", nil)
	defer restore()
	err := confine.MountSnapdToolsFor("/tmp/scratch", "core20", release.DistroClassic)
	c.Assert(err, ErrorMatches, `cannot use location of the current executable: "."`)
}

func (s *bootstrapSuite) insertPrivateTmpStats(c *C) {
	s.sys.InsertFstatResult("fstat 1", syscall.Stat_t{Mode: syscall.S_IFDIR | 0700})
	s.sys.InsertFstatResult("fstat 2", syscall.Stat_t{Mode: syscall.S_IFDIR | 0700})
	s.sys.InsertFstatResult("fstat 3", syscall.Stat_t{Mode: syscall.S_IFDIR | 01777})
}

func (s *bootstrapSuite) TestSetupPrivateTmp(c *C) {
	s.insertPrivateTmpStats(c)
	c.Assert(confine.SetupPrivateTmp("foo"), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdir "/tmp/snap-private-tmp" 700`,
		fmt.Sprintf(`openat %d "/tmp/snap-private-tmp" %d 0`, unix.AT_FDCWD, openDirNoFollowFlags),
		`fstat 1`,
		`mkdirat 1 "snap.foo" 700`,
		fmt.Sprintf(`openat 1 "snap.foo" %d 0`, openDirNoFollowFlags),
		`fstat 2`,
		`mkdirat 2 "tmp" 1777`,
		fmt.Sprintf(`openat 2 "tmp" %d 0`, openDirNoFollowFlags),
		`fstat 3`,
		fmt.Sprintf(`mount "/proc/self/fd/3" "/tmp" "" %d ""`, syscall.MS_BIND),
		fmt.Sprintf(`mount "none" "/tmp" "" %d ""`, syscall.MS_PRIVATE),
		`close 3`,
		`close 2`,
		`close 1`,
	})
}

func (s *bootstrapSuite) TestSetupPrivateTmpExistingDirs(c *C) {
	s.insertPrivateTmpStats(c)
	s.sys.InsertFault(`mkdir "/tmp/snap-private-tmp" 700`, syscall.EEXIST)
	s.sys.InsertFault(`mkdirat 1 "snap.foo" 700`, syscall.EEXIST)
	s.sys.InsertFault(`mkdirat 2 "tmp" 1777`, syscall.EEXIST)
	c.Assert(confine.SetupPrivateTmp("foo"), IsNil)
}

func (s *bootstrapSuite) TestSetupPrivateTmpBadOwnership(c *C) {
	s.sys.InsertFstatResult("fstat 1", syscall.Stat_t{Uid: 1000, Mode: syscall.S_IFDIR | 0700})
	err := confine.SetupPrivateTmp("foo")
	c.Assert(err, ErrorMatches, `/tmp/snap-private-tmp has unexpected ownership or permissions`)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdir "/tmp/snap-private-tmp" 700`,
		fmt.Sprintf(`openat %d "/tmp/snap-private-tmp" %d 0`, unix.AT_FDCWD, openDirNoFollowFlags),
		`fstat 1`,
		`close 1`,
	})
}

func (s *bootstrapSuite) TestSetupPrivateTmpBadMode(c *C) {
	s.sys.InsertFstatResult("fstat 1", syscall.Stat_t{Mode: syscall.S_IFDIR | 0700})
	s.sys.InsertFstatResult("fstat 2", syscall.Stat_t{Mode: syscall.S_IFDIR | 0755})
	err := confine.SetupPrivateTmp("foo")
	c.Assert(err, ErrorMatches, `/tmp/snap-private-tmp/snap.foo has unexpected ownership or permissions`)
}

func (s *bootstrapSuite) TestSetupPrivatePts(c *C) {
	s.sys.InsertStatResult(`stat "/dev/pts/ptmx"`, confine.FakeFileInfo(os.ModeCharDevice|0666))
	s.sys.InsertStatResult(`stat "/dev/ptmx"`, confine.FakeFileInfo(os.ModeCharDevice|0666))
	c.Assert(confine.SetupPrivatePts(), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`stat "/dev/pts/ptmx"`,
		`stat "/dev/ptmx"`,
		`mount "devpts" "/dev/pts" "devpts" 0 "newinstance,ptmxmode=0666,mode=0620,gid=5"`,
		fmt.Sprintf(`mount "/dev/pts/ptmx" "/dev/ptmx" "none" %d ""`, syscall.MS_BIND),
	})
}

func (s *bootstrapSuite) TestSetupPrivatePtsNoMultiInstanceSupport(c *C) {
	err := confine.SetupPrivatePts()
	c.Assert(err, ErrorMatches, `cannot stat /dev/pts/ptmx: file does not exist`)
}

func (s *bootstrapSuite) TestPopulateLegacyMode(c *C) {
	restore := release.MockReleaseInfo(&release.OS{ID: "ubuntu-core", VersionID: "16"})
	defer restore()
	s.insertPrivateTmpStats(c)
	s.sys.InsertStatResult(`stat "/dev/pts/ptmx"`, confine.FakeFileInfo(os.ModeCharDevice|0666))
	s.sys.InsertStatResult(`stat "/dev/ptmx"`, confine.FakeFileInfo(os.ModeCharDevice|0666))

	c.Assert(confine.PopulateMountNamespace("foo", "core", "/snap/core/current", false), IsNil)

	scratch := "/tmp/snap.rootfs_x8rswn"
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`mkdirtemp "/tmp" "snap.rootfs_"`,
		// The ordering here is load bearing, see bootstrapMountNamespace.
		fmt.Sprintf(`mount "none" "/" "" %d ""`, syscall.MS_REC|syscall.MS_SHARED),
		fmt.Sprintf(`mount %q %q "" %d ""`, scratch, scratch, syscall.MS_BIND),
		fmt.Sprintf(`mount "none" %q "" %d ""`, scratch, syscall.MS_UNBINDABLE),
		fmt.Sprintf(`mount "/" %q "" %d ""`, scratch, syscall.MS_REC|syscall.MS_BIND),
		fmt.Sprintf(`mount "none" %q "" %d ""`, scratch, syscall.MS_REC|syscall.MS_SLAVE),
		// Legacy mode only arranges the bidirectional propagation points.
		`mkdirall "/media" 755`,
		fmt.Sprintf(`mkdirall %q 755`, scratch+"/media"),
		fmt.Sprintf(`mount "/media" %q "" %d ""`, scratch+"/media", syscall.MS_REC|syscall.MS_BIND),
		`mkdirall "/run/netns" 755`,
		fmt.Sprintf(`mkdirall %q 755`, scratch+"/run/netns"),
		fmt.Sprintf(`mount "/run/netns" %q "" %d ""`, scratch+"/run/netns", syscall.MS_REC|syscall.MS_BIND),
		// The hostfs escape hatch is prepared for pivot_root.
		`mkdir "/var/lib/snapd/hostfs" 0`,
		`chown "/var/lib/snapd/hostfs" 0 0`,
		`chmod "/var/lib/snapd/hostfs" 755`,
		fmt.Sprintf(`mount %q %q "" %d ""`, scratch+"/var/lib/snapd/hostfs", scratch+"/var/lib/snapd/hostfs", syscall.MS_BIND),
		fmt.Sprintf(`mount "none" %q "" %d ""`, scratch+"/var/lib/snapd/hostfs", syscall.MS_PRIVATE),
		fmt.Sprintf(`pivot_root %q %q`, scratch, scratch+"/var/lib/snapd/hostfs"),
		// Construction residue is cleaned up after the pivot.
		fmt.Sprintf(`unmount %q UMOUNT_NOFOLLOW`, "/var/lib/snapd/hostfs"+scratch),
		fmt.Sprintf(`remove %q`, "/var/lib/snapd/hostfs"+scratch),
		fmt.Sprintf(`mount "none" "/var/lib/snapd/hostfs" "" %d ""`, syscall.MS_REC|syscall.MS_SLAVE),
		fmt.Sprintf(`unmount "/var/lib/snapd/hostfs/sys" %d`, umountNoFollowFlag|syscall.MNT_DETACH),
		fmt.Sprintf(`unmount "/var/lib/snapd/hostfs/dev" %d`, umountNoFollowFlag|syscall.MNT_DETACH),
		fmt.Sprintf(`unmount "/var/lib/snapd/hostfs/proc" %d`, umountNoFollowFlag|syscall.MNT_DETACH),
		// The private /tmp is constructed through verified descriptors.
		`mkdir "/tmp/snap-private-tmp" 700`,
		fmt.Sprintf(`openat %d "/tmp/snap-private-tmp" %d 0`, unix.AT_FDCWD, openDirNoFollowFlags),
		`fstat 1`,
		`mkdirat 1 "snap.foo" 700`,
		fmt.Sprintf(`openat 1 "snap.foo" %d 0`, openDirNoFollowFlags),
		`fstat 2`,
		`mkdirat 2 "tmp" 1777`,
		fmt.Sprintf(`openat 2 "tmp" %d 0`, openDirNoFollowFlags),
		`fstat 3`,
		fmt.Sprintf(`mount "/proc/self/fd/3" "/tmp" "" %d ""`, syscall.MS_BIND),
		fmt.Sprintf(`mount "none" "/tmp" "" %d ""`, syscall.MS_PRIVATE),
		`close 3`,
		`close 2`,
		`close 1`,
		// Finally the private pts instance.
		`stat "/dev/pts/ptmx"`,
		`stat "/dev/ptmx"`,
		`mount "devpts" "/dev/pts" "devpts" 0 "newinstance,ptmxmode=0666,mode=0620,gid=5"`,
		fmt.Sprintf(`mount "/dev/pts/ptmx" "/dev/ptmx" "none" %d ""`, syscall.MS_BIND),
	})
}

type nsFstabSuite struct {
	testutil.BaseTest
}

var _ = Suite(&nsFstabSuite{})

func (s *nsFstabSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	dirs.SetRootDir(c.MkDir())
	s.BaseTest.AddCleanup(func() { dirs.SetRootDir("/") })
	c.Assert(os.MkdirAll(dirs.SnapRunNsDir, 0755), IsNil)
	_, restore := logger.MockLogger()
	s.BaseTest.AddCleanup(restore)
}

func (s *nsFstabSuite) TestInitializeNsFstab(c *C) {
	c.Assert(confine.InitializeNsFstab("foo"), IsNil)
	fname := filepath.Join(dirs.SnapRunNsDir, "snap.foo.fstab")
	c.Check(fname, testutil.FileEquals, "tmpfs / tmpfs x-snapd.origin=rootfs 0 0\n")
}

func (s *nsFstabSuite) TestApplyMountProfile(c *C) {
	sys := &confine.SyscallRecorder{}
	s.BaseTest.AddCleanup(confine.MockSystemCalls(sys))
	c.Assert(os.MkdirAll(dirs.SnapMountPolicyDir, 0755), IsNil)
	desired := filepath.Join(dirs.SnapMountPolicyDir, "snap.foo.fstab")
	content := "/snap/foo/1/stuff /stuff none bind 0 0\n/snap/foo/1/rw /rw none bind,rw 0 0\n"
	c.Assert(os.WriteFile(desired, []byte(content), 0644), IsNil)

	c.Assert(confine.ApplyMountProfile("foo"), IsNil)
	c.Assert(sys.Calls(), DeepEquals, []string{
		`mkdirall "/stuff" 755`,
		fmt.Sprintf(`mount "/snap/foo/1/stuff" "/stuff" "" %d ""`, syscall.MS_BIND|syscall.MS_RDONLY|syscall.MS_NODEV|syscall.MS_NOSUID),
		`mkdirall "/rw" 755`,
		fmt.Sprintf(`mount "/snap/foo/1/rw" "/rw" "" %d ""`, syscall.MS_BIND|syscall.MS_NODEV|syscall.MS_NOSUID),
	})
	current := filepath.Join(dirs.SnapRunNsDir, "snap.foo.fstab")
	c.Check(current, testutil.FileEquals, "tmpfs / tmpfs x-snapd.origin=rootfs 0 0\n"+content)
}

func (s *nsFstabSuite) TestApplyMountProfileRejectsNonBindEntries(c *C) {
	c.Assert(os.MkdirAll(dirs.SnapMountPolicyDir, 0755), IsNil)
	desired := filepath.Join(dirs.SnapMountPolicyDir, "snap.foo.fstab")
	c.Assert(os.WriteFile(desired, []byte("/dev/sda1 /foo ext4 rw 0 0\n"), 0644), IsNil)

	err := confine.ApplyMountProfile("foo")
	c.Assert(err, ErrorMatches, `cannot apply mount profile of snap "foo": entry for "/foo" is not a bind mount`)
}

func (s *nsFstabSuite) TestApplyMountProfileNoDesiredProfile(c *C) {
	sys := &confine.SyscallRecorder{}
	s.BaseTest.AddCleanup(confine.MockSystemCalls(sys))

	// A snap without a mount profile still gets the rootfs entry seeded.
	c.Assert(confine.ApplyMountProfile("foo"), IsNil)
	c.Assert(sys.Calls(), HasLen, 0)
	current := filepath.Join(dirs.SnapRunNsDir, "snap.foo.fstab")
	c.Check(current, testutil.FileEquals, "tmpfs / tmpfs x-snapd.origin=rootfs 0 0\n")
}
