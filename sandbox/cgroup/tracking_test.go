// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2020-2024 Canonical Ltd
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

package cgroup_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/godbus/dbus/v5"
	. "gopkg.in/check.v1"

	"github.com/snapcore/snap-confine/dbusutil"
	"github.com/snapcore/snap-confine/sandbox/cgroup"
	"github.com/snapcore/snap-confine/testutil"
)

type trackingSuite struct {
	testutil.BaseTest
}

var _ = Suite(&trackingSuite{})

func (s *trackingSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.AddCleanup(cgroup.MockVersion(cgroup.V2, nil))
}

// mockTrackingCgroup writes a /proc/<pid>/cgroup file placing the given
// pid in the given unified hierarchy path.
func (s *trackingSuite) mockTrackingCgroup(c *C, pid int, path string) {
	root := c.MkDir()
	procDir := filepath.Join(root, "proc", fmt.Sprintf("%d", pid))
	c.Assert(os.MkdirAll(procDir, 0755), IsNil)
	content := fmt.Sprintf("0::%s\n", path)
	c.Assert(os.WriteFile(filepath.Join(procDir, "cgroup"), []byte(content), 0644), IsNil)
	s.AddCleanup(cgroup.MockFsRootPath(root))
}

func (s *trackingSuite) TestCreateTransientScopeNoDBus(c *C) {
	noDBus := func() (*dbus.Conn, error) {
		return nil, fmt.Errorf("dbus not available")
	}
	s.AddCleanup(dbusutil.MockConnections(noDBus, noDBus))

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, ErrorMatches, "cannot track application process")
}

func (s *trackingSuite) TestCreateTransientScopeUUIDFailure(c *C) {
	stub := func() (*dbus.Conn, error) { return nil, nil }
	s.AddCleanup(dbusutil.MockConnections(stub, stub))
	s.AddCleanup(cgroup.MockRandomUUID(func() (string, error) {
		return "", errors.New("mocked uuid error")
	}))

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, ErrorMatches, "mocked uuid error")
}

func (s *trackingSuite) TestCreateTransientScopeHappy(c *C) {
	stub := func() (*dbus.Conn, error) { return nil, nil }
	s.AddCleanup(dbusutil.MockConnections(stub, stub))
	s.AddCleanup(cgroup.MockOsGetuid(12345))
	s.AddCleanup(cgroup.MockOsGetpid(312123))
	uuid := "cc98cd01-6a25-46bd-b71b-82069b71b770"
	s.AddCleanup(cgroup.MockRandomUUID(func() (string, error) {
		return uuid, nil
	}))
	var calledUnit string
	s.AddCleanup(cgroup.MockDoCreateTransientScope(func(conn *dbus.Conn, unitName string, pid int) error {
		c.Check(pid, Equals, 312123)
		calledUnit = unitName
		return nil
	}))
	s.mockTrackingCgroup(c, 312123, "/user.slice/snap.pkg.app-"+uuid+".scope")

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, IsNil)
	c.Check(calledUnit, Equals, "snap.pkg.app-"+uuid+".scope")
}

func (s *trackingSuite) TestCreateTransientScopeNotMoved(c *C) {
	stub := func() (*dbus.Conn, error) { return nil, nil }
	s.AddCleanup(dbusutil.MockConnections(stub, stub))
	s.AddCleanup(cgroup.MockOsGetuid(12345))
	s.AddCleanup(cgroup.MockOsGetpid(312123))
	s.AddCleanup(cgroup.MockRandomUUID(func() (string, error) {
		return "cc98cd01-6a25-46bd-b71b-82069b71b770", nil
	}))
	s.AddCleanup(cgroup.MockDoCreateTransientScope(func(conn *dbus.Conn, unitName string, pid int) error {
		return nil
	}))
	// The scope was created but this process never moved into it.
	s.mockTrackingCgroup(c, 312123, "/user.slice/other.scope")

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, Equals, cgroup.ErrCannotTrackProcess)
}

func (s *trackingSuite) TestCreateTransientScopeUnknownMethod(c *C) {
	stub := func() (*dbus.Conn, error) { return nil, nil }
	s.AddCleanup(dbusutil.MockConnections(stub, stub))
	s.AddCleanup(cgroup.MockRandomUUID(func() (string, error) {
		return "cc98cd01-6a25-46bd-b71b-82069b71b770", nil
	}))
	s.AddCleanup(cgroup.MockDoCreateTransientScope(func(conn *dbus.Conn, unitName string, pid int) error {
		return cgroup.ErrDBusUnknownMethod
	}))

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, Equals, cgroup.ErrCannotTrackProcess)
}

func (s *trackingSuite) TestCreateTransientScopeRootFallsBackToSystemBus(c *C) {
	stub := func() (*dbus.Conn, error) { return nil, nil }
	s.AddCleanup(dbusutil.MockConnections(stub, stub))
	s.AddCleanup(cgroup.MockOsGetuid(0))
	s.AddCleanup(cgroup.MockOsGetpid(312123))
	uuid := "cc98cd01-6a25-46bd-b71b-82069b71b770"
	s.AddCleanup(cgroup.MockRandomUUID(func() (string, error) {
		return uuid, nil
	}))
	// The first attempt, over the session bus, fails in a way indicating
	// that systemd --user is not usable. The retry over the system bus
	// succeeds.
	n := 0
	s.AddCleanup(cgroup.MockDoCreateTransientScope(func(conn *dbus.Conn, unitName string, pid int) error {
		n++
		if n == 1 {
			return cgroup.ErrDBusNameHasNoOwner
		}
		return nil
	}))
	s.mockTrackingCgroup(c, 312123, "/system.slice/snap.pkg.app-"+uuid+".scope")

	err := cgroup.CreateTransientScopeForTracking("snap.pkg.app", nil)
	c.Assert(err, IsNil)
	c.Check(n, Equals, 2)
}

func (s *trackingSuite) TestConfirmSystemdServiceTrackingHappy(c *C) {
	s.AddCleanup(cgroup.MockOsGetpid(312123))
	s.mockTrackingCgroup(c, 312123, "/system.slice/snap.pkg.app.service")

	c.Assert(cgroup.ConfirmSystemdServiceTracking("snap.pkg.app"), IsNil)
}

func (s *trackingSuite) TestConfirmSystemdServiceTrackingSad(c *C) {
	s.AddCleanup(cgroup.MockOsGetpid(312123))
	s.mockTrackingCgroup(c, 312123, "/user.slice/user-1000.slice/session-1.scope")

	err := cgroup.ConfirmSystemdServiceTracking("snap.pkg.app")
	c.Assert(err, Equals, cgroup.ErrCannotTrackProcess)
}
