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

package cgroup

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/snapcore/snap-confine/dbusutil"
	"github.com/snapcore/snap-confine/logger"
)

var (
	// ErrCannotTrackProcess is returned when the process cannot be placed
	// in a tracking cgroup.
	ErrCannotTrackProcess = errors.New("cannot track application process")

	// ErrDBusUnknownMethod is returned when a dbus method is not known.
	ErrDBusUnknownMethod = errors.New("unknown dbus object method")

	// ErrDBusNameHasNoOwner is returned when the dbus name is not owned.
	ErrDBusNameHasNoOwner = errors.New("dbus name has no owner")

	// ErrDBusSpawnChildExited is returned when the dbus service activation
	// helper fails.
	ErrDBusSpawnChildExited = errors.New("dbus spawned child process exited")
)

var osGetuid = os.Getuid
var osGetpid = os.Getpid

var randomUUID = func() (string, error) {
	// The source of the UUID is the same as that used by systemd, so the
	// generated scope names blend in.
	uuidBytes, err := os.ReadFile("/proc/sys/kernel/random/uuid")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(uuidBytes)), nil
}

// TrackingOptions control how the application process is tracked.
type TrackingOptions struct {
	// AllowSessionBus allows usage of the session bus. Only sensible when
	// the application is invoked by a user.
	AllowSessionBus bool
}

// CreateTransientScopeForTracking puts the current process in a transient
// scope unit so that the kernel tracks it in a dedicated cgroup.
//
// The scope is named after the security tag and a random UUID. Scopes are
// created by asking systemd over the session bus for user processes or
// over the system bus for root. Systemd terminates the scope when the
// last process inside it exits.
func CreateTransientScopeForTracking(securityTag string, opts *TrackingOptions) error {
	if opts == nil {
		// Retain original semantics when not explicitly configured.
		opts = &TrackingOptions{AllowSessionBus: true}
	}
	logger.Debugf("creating transient scope %s", securityTag)

	// Non-root users use the session bus, root may use either. When the
	// session bus fails for root the system bus is tried as a fallback.
	uid := osGetuid()
	var isSessionBus bool
	var conn *dbus.Conn
	var err error
	if opts.AllowSessionBus {
		isSessionBus, conn, err = sessionOrMaybeSystemBus(uid)
	} else {
		conn, err = dbusutil.SystemBus()
	}
	if err != nil {
		return ErrCannotTrackProcess
	}

	uuid, err := randomUUID()
	if err != nil {
		return err
	}
	unitName := fmt.Sprintf("%s-%s.scope", securityTag, uuid)
	pid := osGetpid()

tryAgain:
	if err := doCreateTransientScope(conn, unitName, pid); err != nil {
		switch err {
		case ErrDBusUnknownMethod:
			return ErrCannotTrackProcess
		case ErrDBusSpawnChildExited, ErrDBusNameHasNoOwner:
			if isSessionBus && uid == 0 {
				// The session bus is not working for root, fall
				// back to the system bus.
				logger.Debugf("session bus is not usable, falling back to system bus")
				isSessionBus = false
				conn, err = dbusutil.SystemBus()
				if err != nil {
					return ErrCannotTrackProcess
				}
				goto tryAgain
			}
			return ErrCannotTrackProcess
		}
		return err
	}

	// Double check that systemd placed us in the new scope. Systemd
	// performs the move asynchronously so poll for a short while.
	expectedPath := "/" + unitName
	for i := 0; i < 100; i++ {
		path, err := ProcessPathInTrackingCgroup(pid)
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, expectedPath) {
			return nil
		}
		time.Sleep(3 * time.Millisecond)
	}
	logger.Noticef("systemd could not associate process %d with transient scope %q", pid, unitName)
	return ErrCannotTrackProcess
}

func sessionOrMaybeSystemBus(uid int) (isSessionBus bool, conn *dbus.Conn, err error) {
	conn, err = dbusutil.SessionBus()
	if err == nil {
		return true, conn, nil
	}
	logger.Debugf("session bus is not available: %s", err)
	if uid == 0 {
		logger.Debugf("falling back to system bus")
		conn, err = dbusutil.SystemBus()
		if err != nil {
			logger.Debugf("system bus is not available: %s", err)
		}
	}
	return false, conn, err
}

// doCreateTransientScope creates a systemd transient scope with specified
// properties over the given dbus connection.
var doCreateTransientScope = func(conn *dbus.Conn, unitName string, pid int) error {
	type Property struct {
		Name  string
		Value dbus.Variant
	}
	type Unit struct {
		Name  string
		Props []Property
	}
	// Mode "fail" refuses to replace an existing unit with the same name,
	// and since the name contains a random UUID collisions indicate a
	// deeper problem.
	mode := "fail"
	properties := []Property{{"PIDs", dbus.MakeVariant([]uint32{uint32(pid)})}}
	aux := []Unit(nil)
	systemd := conn.Object("org.freedesktop.systemd1", "/org/freedesktop/systemd1")
	call := systemd.Call(
		"org.freedesktop.systemd1.Manager.StartTransientUnit",
		0,
		unitName,
		mode,
		properties,
		aux,
	)
	var job dbus.ObjectPath
	if err := call.Store(&job); err != nil {
		if dbusErr, ok := err.(dbus.Error); ok {
			logger.Debugf("StartTransientUnit failed with %q: %v", dbusErr.Name, dbusErr.Body)
			// Some specific errors are differentiated so the caller
			// can decide to retry on another bus.
			switch dbusErr.Name {
			case "org.freedesktop.DBus.Error.NameHasNoOwner":
				return ErrDBusNameHasNoOwner
			case "org.freedesktop.DBus.Error.UnknownMethod":
				return ErrDBusUnknownMethod
			case "org.freedesktop.DBus.Error.Spawn.ChildExited":
				return ErrDBusSpawnChildExited
			}
		}
		return err
	}
	return nil
}

// ConfirmSystemdServiceTracking checks if systemd tracks this process as
// a service belonging to the given security tag.
func ConfirmSystemdServiceTracking(securityTag string) error {
	pid := osGetpid()
	path, err := ProcessPathInTrackingCgroup(pid)
	if err != nil {
		return err
	}
	unitName := securityTag + ".service"
	if !strings.Contains(path, unitName) {
		return ErrCannotTrackProcess
	}
	return nil
}
