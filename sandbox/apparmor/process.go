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

package apparmor

import (
	"fmt"
	"os"
	"path/filepath"
)

var attrSelfExecPaths = []string{
	"/proc/self/attr/apparmor/exec",
	"/proc/self/attr/exec",
}

// ChangeProfileOnExec arranges for the given apparmor profile to be
// applied when the current process calls exec.
//
// The newer apparmor-specific attribute file is preferred, falling back
// to the legacy procfs attribute interface.
func ChangeProfileOnExec(profile string) error {
	command := fmt.Sprintf("exec %s", profile)
	var firstErr error
	for _, attrPath := range attrSelfExecPaths {
		err := writeAttrFile(filepath.Join(rootPath, attrPath), command)
		if err == nil {
			return nil
		}
		if os.IsNotExist(err) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("cannot find apparmor attribute file to change profile")
	}
	return fmt.Errorf("cannot change apparmor profile on exec to %q: %v", profile, firstErr)
}

var attrSelfCurrentPaths = []string{
	"/proc/self/attr/apparmor/current",
	"/proc/self/attr/current",
}

// ChangeHat switches the current process to the given subprofile (hat)
// of its apparmor profile.
//
// A zero token makes the change irreversible, which is what confined
// helper processes want.
func ChangeHat(hat string, token uint64) error {
	command := fmt.Sprintf("changehat %d^%s", token, hat)
	var firstErr error
	for _, attrPath := range attrSelfCurrentPaths {
		err := writeAttrFile(filepath.Join(rootPath, attrPath), command)
		if err == nil {
			return nil
		}
		if os.IsNotExist(err) {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("cannot find apparmor attribute file to change hat")
	}
	return fmt.Errorf("cannot change apparmor hat to %q: %v", hat, firstErr)
}

// writeAttrFile writes the attribute in a single write syscall, the
// kernel rejects partial writes to attr files.
func writeAttrFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	_, errW := f.WriteString(content)
	errC := f.Close()
	if errW != nil {
		return errW
	}
	return errC
}
