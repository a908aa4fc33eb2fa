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

// Package dbusutil provides access to the session and system buses with
// mockable connections for testing.
package dbusutil

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

func isSessionBusLikelyPresent() bool {
	if addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); addr != "" {
		return true
	}
	if fi, err := os.Stat(fmt.Sprintf("/run/user/%d/bus", os.Getuid())); err == nil {
		return fi.Mode()&os.ModeSocket != 0
	}
	return false
}

var connectSessionBus = func() (*dbus.Conn, error) {
	// Do not implicitly spawn a session bus when it is not running.
	if !isSessionBusLikelyPresent() {
		return nil, fmt.Errorf("cannot find session bus")
	}
	return dbusConnectBus(dbus.SessionBusPrivate)
}

var connectSystemBus = func() (*dbus.Conn, error) {
	return dbusConnectBus(dbus.SystemBusPrivate)
}

func dbusConnectBus(connect func(opts ...dbus.ConnOption) (*dbus.Conn, error)) (*dbus.Conn, error) {
	conn, err := connect()
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// SessionBus returns a connection to the session bus.
//
// Unlike dbus.SessionBus this function does not implicitly spawn a bus
// when the session bus is not present.
func SessionBus() (*dbus.Conn, error) {
	return connectSessionBus()
}

// SystemBus returns a connection to the system bus.
func SystemBus() (*dbus.Conn, error) {
	return connectSystemBus()
}

// MockConnections mocks the connection functions used by SystemBus and
// SessionBus.
func MockConnections(system, session func() (*dbus.Conn, error)) (restore func()) {
	oldSystem := connectSystemBus
	oldSession := connectSessionBus
	connectSystemBus = system
	connectSessionBus = session
	return func() {
		connectSystemBus = oldSystem
		connectSessionBus = oldSession
	}
}

// MockOnlySystemBusAvailable makes SystemBus return the given connection
// and SessionBus fail.
func MockOnlySystemBusAvailable(conn *dbus.Conn) (restore func()) {
	system := func() (*dbus.Conn, error) { return conn, nil }
	session := func() (*dbus.Conn, error) {
		return nil, fmt.Errorf("session bus is not available")
	}
	return MockConnections(system, session)
}
