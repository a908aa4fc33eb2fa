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

package main_test

import (
	"errors"
	"fmt"
	"syscall"

	. "gopkg.in/check.v1"

	update "github.com/snapcore/snap-confine/cmd/snap-update-ns"
	"github.com/snapcore/snap-confine/testutil"
)

type utilsSuite struct {
	testutil.BaseTest
	sys *update.SyscallRecorder
}

var _ = Suite(&utilsSuite{})

func (s *utilsSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.sys = &update.SyscallRecorder{}
	s.BaseTest.AddCleanup(update.MockSystemCalls(s.sys))
}

// secure-mkdir-all

// Ensure that we reject attempts to create a directory with an relative path.
func (s *utilsSuite) TestSecureMkdirAllRelative(c *C) {
	err := update.SecureMkdirAll("rel/path", 0755, 123, 456)
	c.Assert(err, ErrorMatches, `cannot create directory with relative path: "rel/path"`)
	c.Assert(s.sys.Calls(), IsNil)
}

// Ensure that asking for the root directory is a no-op apart from opening it.
func (s *utilsSuite) TestSecureMkdirAllLevel0(c *C) {
	c.Assert(update.SecureMkdirAll("/", 0755, 123, 456), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		fmt.Sprintf(`open "/" %d 0`, openDirFlags),
		`close 1`,
	})
}

// Ensure that we can create a directory in the top-level directory.
func (s *utilsSuite) TestSecureMkdirAllLevel1(c *C) {
	c.Assert(update.SecureMkdirAll("/path", 0755, 123, 456), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		fmt.Sprintf(`open "/" %d 0`, openDirFlags),
		`mkdirat 1 "path" 755`,
		fmt.Sprintf(`openat 1 "path" %d 0`, openDirFlags),
		`fchown 2 123 456`,
		`close 2`,
		`close 1`,
	})
}

// Ensure that we can create a directory two levels from the top-level directory.
func (s *utilsSuite) TestSecureMkdirAllLevel2(c *C) {
	c.Assert(update.SecureMkdirAll("/path/to", 0755, 123, 456), IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		fmt.Sprintf(`open "/" %d 0`, openDirFlags),
		`mkdirat 1 "path" 755`,
		fmt.Sprintf(`openat 1 "path" %d 0`, openDirFlags),
		`fchown 2 123 456`,
		`mkdirat 2 "to" 755`,
		fmt.Sprintf(`openat 2 "to" %d 0`, openDirFlags),
		`fchown 3 123 456`,
		`close 3`,
		`close 2`,
		`close 1`,
	})
}

// Ensure that a directory that already exists is not chowned again.
func (s *utilsSuite) TestSecureMkdirAllExistingDirsDontChown(c *C) {
	s.sys.InsertFault(`mkdirat 1 "abs" 755`, syscall.EEXIST)
	err := update.SecureMkdirAll("/abs/path", 0755, 123, 456)
	c.Assert(err, IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		fmt.Sprintf(`open "/" %d 0`, openDirFlags),
		`mkdirat 1 "abs" 755`,
		fmt.Sprintf(`openat 1 "abs" %d 0`, openDirFlags),
		`mkdirat 2 "path" 755`,
		fmt.Sprintf(`openat 2 "path" %d 0`, openDirFlags),
		`fchown 3 123 456`,
		`close 3`,
		`close 2`,
		`close 1`,
	})
}

// Ensure that we report open failure on the root directory.
func (s *utilsSuite) TestSecureMkdirAllOpenRootError(c *C) {
	s.sys.InsertFault(fmt.Sprintf(`open "/" %d 0`, openDirFlags), errors.New("testing"))
	err := update.SecureMkdirAll("/abs", 0755, 123, 456)
	c.Assert(err, ErrorMatches, `cannot open root directory: testing`)
}

// Ensure that we report mkdirat failures.
func (s *utilsSuite) TestSecureMkdirAllMkdiratError(c *C) {
	s.sys.InsertFault(`mkdirat 1 "abs" 755`, syscall.EPERM)
	err := update.SecureMkdirAll("/abs", 0755, 123, 456)
	c.Assert(err, ErrorMatches, `cannot mkdir path segment "abs": operation not permitted`)
}

// Ensure that we report failures to open path segments.
func (s *utilsSuite) TestSecureMkdirAllOpenatError(c *C) {
	s.sys.InsertFault(fmt.Sprintf(`openat 1 "abs" %d 0`, openDirFlags), syscall.ELOOP)
	err := update.SecureMkdirAll("/abs", 0755, 123, 456)
	c.Assert(err, ErrorMatches, `cannot open path segment "abs": too many levels of symbolic links`)
}

// Ensure that we report chown failures for created path segments.
func (s *utilsSuite) TestSecureMkdirAllFchownError(c *C) {
	s.sys.InsertFault(`fchown 2 123 456`, syscall.EPERM)
	err := update.SecureMkdirAll("/abs", 0755, 123, 456)
	c.Assert(err, ErrorMatches, `cannot chown path segment "abs" to 123.456: operation not permitted`)
}

// ensure-mount-point

// Ensure that a missing mount point is created.
func (s *utilsSuite) TestEnsureMountPointMissing(c *C) {
	err := update.EnsureMountPoint("/missing", 0755, -1, -1)
	c.Assert(err, IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{
		`lstat "/missing"`,
		fmt.Sprintf(`open "/" %d 0`, openDirFlags),
		`mkdirat 1 "missing" 755`,
		fmt.Sprintf(`openat 1 "missing" %d 0`, openDirFlags),
		`fchown 2 -1 -1`,
		`close 2`,
		`close 1`,
	})
}

// Ensure that an existing directory is left alone.
func (s *utilsSuite) TestEnsureMountPointExistingDir(c *C) {
	s.sys.InsertLstatResult(`lstat "/existing"`, update.FakeDirFileInfo)
	err := update.EnsureMountPoint("/existing", 0755, -1, -1)
	c.Assert(err, IsNil)
	c.Assert(s.sys.Calls(), DeepEquals, []string{`lstat "/existing"`})
}

// Ensure that anything but a directory is rejected.
func (s *utilsSuite) TestEnsureMountPointNotADir(c *C) {
	s.sys.InsertLstatResult(`lstat "/file"`, update.FakeFileInfo)
	err := update.EnsureMountPoint("/file", 0755, -1, -1)
	c.Assert(err, ErrorMatches, `cannot use "/file" for mounting, not a directory`)
}

// Ensure that lstat failures other than ENOENT are reported.
func (s *utilsSuite) TestEnsureMountPointLstatError(c *C) {
	s.sys.InsertFault(`lstat "/broken"`, syscall.EACCES)
	err := update.EnsureMountPoint("/broken", 0755, -1, -1)
	c.Assert(err, ErrorMatches, `cannot inspect "/broken": permission denied`)
}
