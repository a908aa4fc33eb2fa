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

package osutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/snapcore/snap-confine/osutil/sys"
)

// MountProfile represents an array of mount entries.
type MountProfile struct {
	Entries []MountEntry
}

// LoadMountProfile loads a mount profile from a given file.
//
// The file may be absent, in such case an empty profile is returned without
// errors.
func LoadMountProfile(fname string) (*MountProfile, error) {
	f, err := os.Open(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return &MountProfile{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadMountProfile(f)
}

// LoadMountProfileText loads a mount profile from a given string.
func LoadMountProfileText(fstab string) (*MountProfile, error) {
	return ReadMountProfile(strings.NewReader(fstab))
}

// SaveMountProfile saves a mount profile to a given file.
//
// The profile is saved with an atomic write+rename+sync operation. The uid
// and gid are used to change ownership of the resulting file; the special
// value NoChown may be used to skip that.
func SaveMountProfile(p *MountProfile, fname string, uid sys.UserID, gid sys.GroupID) error {
	buf := &bytes.Buffer{}
	if _, err := p.WriteTo(buf); err != nil {
		return err
	}
	return AtomicWriteFileChown(fname, buf.Bytes(), 0644, 0, uid, gid)
}

// ReadMountProfile reads and parses a mount profile.
//
// The supported format is described by fstab(5).
func ReadMountProfile(reader io.Reader) (*MountProfile, error) {
	var p MountProfile
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Skip lines that only contain a comment, that is, those that start
		// with the '#' character (ignoring leading spaces). This is
		// consistent with what libmount does.
		if strings.IndexByte(line, '#') == 0 {
			continue
		}
		// Skip lines that are totally empty
		if line == "" {
			continue
		}
		entry, err := ParseMountEntry(line)
		if err != nil {
			return nil, err
		}
		p.Entries = append(p.Entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteTo writes a text representation of the mount profile.
//
// The supported format is described by fstab(5).
//
// Note that there is no trailing newline if the profile is empty.
func (p *MountProfile) WriteTo(writer io.Writer) (int64, error) {
	var written int64
	for i := range p.Entries {
		var n int
		var err error
		if n, err = fmt.Fprintf(writer, "%s\n", p.Entries[i]); err != nil {
			return written, err
		}
		written += int64(n)
	}
	return written, nil
}
