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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MountInfoEntry contains data from /proc/$PID/mountinfo
//
// For details please refer to mountinfo documentation at
// https://www.kernel.org/doc/Documentation/filesystems/proc.txt
type MountInfoEntry struct {
	MountID        int
	ParentID       int
	DevMajor       int
	DevMinor       int
	Root           string
	MountDir       string
	MountOptions   string
	OptionalFields string
	FsType         string
	MountSource    string
	SuperOptions   string
}

func (e *MountInfoEntry) String() string {
	maybeSpace := " "
	if e.OptionalFields == "" {
		maybeSpace = ""
	}
	return fmt.Sprintf("%d %d %d:%d %s %s %s %s%s- %s %s %s",
		e.MountID, e.ParentID, e.DevMajor, e.DevMinor,
		escapeOctal(e.Root), escapeOctal(e.MountDir), e.MountOptions,
		e.OptionalFields, maybeSpace,
		escapeOctal(e.FsType), escapeOctal(e.MountSource), e.SuperOptions)
}

// unescapeOctal replaces the escape sequences used by the kernel in
// mountinfo (`\040` for space, `\011` for tab, `\012` for newline, `\134`
// for backslash and so on) with the bytes they stand for.
//
// A backslash followed by anything that does not parse as exactly three
// octal digits is copied through unchanged. The kernel never produces
// such sequences but the parser must not mangle them either.
func unescapeOctal(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			num, err := strconv.ParseUint(s[i+1:i+4], 8, 8)
			if err == nil {
				sb.WriteByte(byte(num))
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

// escapeOctal is the inverse of unescapeOctal for the characters the
// kernel escapes in mountinfo fields.
func escapeOctal(s string) string {
	return mountInfoReplacer.Replace(s)
}

var mountInfoReplacer = strings.NewReplacer(
	" ", `\040`, "\t", `\011`, "\n", `\012`, "\\", `\134`)

// ParseMountInfoEntry parses a single line of /proc/$PID/mountinfo file.
func ParseMountInfoEntry(s string) (*MountInfoEntry, error) {
	var e MountInfoEntry
	var err error
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '\t' })
	// The format is variable-length, but at least 10 fields are mandatory.
	// The (7) below is a list of optional field which is terminated with (8).
	// 36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
	// (1)(2)(3)   (4)   (5)      (6)      (7)   (8) (9)   (10)         (11)
	if len(fields) < 10 {
		return nil, fmt.Errorf("incorrect number of fields, expected at least 10 but found %d", len(fields))
	}
	// Parse MountID (decimal number).
	e.MountID, err = strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("cannot parse mount ID: %q", fields[0])
	}
	// Parse ParentID (decimal number).
	e.ParentID, err = strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("cannot parse parent mount ID: %q", fields[1])
	}
	// Parses DevMajor:DevMinor pair (decimal numbers separated by colon).
	subFields := strings.FieldsFunc(fields[2], func(r rune) bool { return r == ':' })
	if len(subFields) != 2 {
		return nil, fmt.Errorf("cannot parse device major:minor number pair: %q", fields[2])
	}
	e.DevMajor, err = strconv.Atoi(subFields[0])
	if err != nil {
		return nil, fmt.Errorf("cannot parse device major number: %q", subFields[0])
	}
	e.DevMinor, err = strconv.Atoi(subFields[1])
	if err != nil {
		return nil, fmt.Errorf("cannot parse device minor number: %q", subFields[1])
	}
	// NOTE: All string fields use the same octal escape logic as the kernel.
	// Parse Root, MountDir and MountOptions fields.
	e.Root = unescapeOctal(fields[3])
	e.MountDir = unescapeOctal(fields[4])
	e.MountOptions = unescapeOctal(fields[5])
	// Optional fields are terminated with a "-" value and start after the
	// mount options field. Skip ahead until we see the "-" marker.
	var i int
	for i = 6; i < len(fields) && fields[i] != "-"; i++ {
	}
	if i == len(fields) {
		return nil, fmt.Errorf("list of optional fields is not terminated properly")
	}
	// Never nil, possibly empty.
	optional := make([]string, 0, i-6)
	for _, opt := range fields[6:i] {
		optional = append(optional, unescapeOctal(opt))
	}
	e.OptionalFields = strings.Join(optional, " ")
	// Parse the last three fixed fields.
	tailFields := fields[i+1:]
	if len(tailFields) != 3 {
		return nil, fmt.Errorf("incorrect number of tail fields, expected 3 but found %d", len(tailFields))
	}
	e.FsType = unescapeOctal(tailFields[0])
	e.MountSource = unescapeOctal(tailFields[1])
	e.SuperOptions = unescapeOctal(tailFields[2])
	return &e, nil
}

// ReadMountInfo reads and parses a mountinfo file.
//
// A single malformed line makes the entire read fail; no partial table is
// ever returned. Entries preserve the order in which they appear, the
// kernel emits them in the order the mounts were performed and later logic
// relies on that.
func ReadMountInfo(reader io.Reader) ([]*MountInfoEntry, error) {
	var entries []*MountInfoEntry
	r := bufio.NewReader(reader)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			if line != "" {
				entry, err := ParseMountInfoEntry(line)
				if err != nil {
					return nil, err
				}
				entries = append(entries, entry)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// mock for testing
var procSelfMountInfo = ProcSelfMountInfo

// ProcSelfMountInfo is the path to the mountinfo table of the current process.
const ProcSelfMountInfo = "/proc/self/mountinfo"

// LoadMountInfo loads the mount information table of the current process.
func LoadMountInfo() ([]*MountInfoEntry, error) {
	f, err := os.Open(procSelfMountInfo)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMountInfo(f)
}

// MockMountInfo mocks content of /proc/self/mountinfo read by LoadMountInfo.
// It is exported so that tests of packages inspecting the mount table can
// use it.
func MockMountInfo(text string) (restore func()) {
	f, err := os.CreateTemp("", "mountinfo")
	if err != nil {
		panic(err)
	}
	if _, err := f.WriteString(text); err != nil {
		panic(err)
	}
	f.Close()

	old := procSelfMountInfo
	procSelfMountInfo = f.Name()
	return func() {
		os.Remove(procSelfMountInfo)
		procSelfMountInfo = old
	}
}
