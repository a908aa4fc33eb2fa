// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2016-2024 Canonical Ltd
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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/snapcore/snap-confine/osutil/sys"
)

// AtomicWriteFlags are a bitfield of flags for AtomicWriteFile
type AtomicWriteFlags uint

const (
	// AtomicWriteFollow makes AtomicWriteFile follow symlinks
	AtomicWriteFollow AtomicWriteFlags = 1 << iota
)

// Allow disabling sync for testing. This brings massive improvements on
// certain filesystems (like btrfs) and very old kernels.
var snapdUnsafeIO bool = os.Getenv("SNAPD_UNSAFE_IO") == "1"

// AtomicWriteFile updates the filename atomically and works otherwise
// like io/ioutil.WriteFile()
//
// Note that it won't follow symlinks and will replace existing symlinks
// with the real file, unless the AtomicWriteFollow flag is specified.
func AtomicWriteFile(filename string, data []byte, perm os.FileMode, flags AtomicWriteFlags) error {
	return AtomicWriteFileChown(filename, data, perm, flags, NoChown, NoChown)
}

// AtomicWriteFileChown updates the filename atomically and optionally
// changes its ownership. The special value NoChown can be passed for
// uid and gid to skip the ownership change.
func AtomicWriteFileChown(filename string, data []byte, perm os.FileMode, flags AtomicWriteFlags, uid sys.UserID, gid sys.GroupID) error {
	if (uid == NoChown) != (gid == NoChown) {
		return fmt.Errorf("internal error: AtomicWriteFileChown needs none or both of uid and gid set")
	}

	if flags&AtomicWriteFollow != 0 {
		if fn, err := os.Readlink(filename); err == nil || (fn != "" && os.IsNotExist(err)) {
			if filepath.IsAbs(fn) {
				filename = fn
			} else {
				filename = filepath.Join(filepath.Dir(filename), fn)
			}
		}
	}
	tmp := filename + "." + randomString(12)

	fd, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = fd.Write(data); err != nil {
		fd.Close()
		return err
	}
	if uid != NoChown && gid != NoChown {
		if err = fd.Chown(int(uid), int(gid)); err != nil {
			fd.Close()
			return err
		}
	}
	if !snapdUnsafeIO {
		if err = fd.Sync(); err != nil {
			fd.Close()
			return err
		}
	}
	if err = fd.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, filename)
}

// NoChown is a special value for AtomicWriteFileChown and
// SaveMountProfile meaning "do not change ownership".
const NoChown = sys.FlagID

func randomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}
