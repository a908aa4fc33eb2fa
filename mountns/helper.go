// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2017-2018 Canonical Ltd
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

package mountns

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/snapcore/snap-confine/dirs"
	"github.com/snapcore/snap-confine/logger"
)

// CaptureHelperFlag is the hidden command line flag that re-executes the
// current binary as the namespace capture helper.
const CaptureHelperFlag = "--capture-helper"

// Commands of the capture helper wire protocol. Each command is a single
// byte written to the helper's stdin, the helper echoes it back on stdout
// after carrying it out.
const (
	helperCmdExit byte = iota
	helperCmdCaptureNs
)

// Confinement applies additional security restrictions to the capture
// helper process before it starts waiting for commands.
type Confinement interface {
	RestrictCaptureHelper() error
}

// captureHelper is the parent-side handle of a running capture helper.
type captureHelper struct {
	pid  int
	cmdW *os.File
	ackR *os.File
	wait func() error
	kill func() error
}

// For mocking in tests.
var startCaptureHelper = startCaptureHelperImpl

// startCaptureHelperImpl re-executes the current binary in the hidden
// capture helper mode. A mount namespace can only be captured by
// bind-mounting /proc/<pid>/ns/mnt from a process that is still in the
// original namespace after <pid> has moved on, hence the separate
// process. Go cannot fork and keep running arbitrary code in the child,
// so the helper is a re-exec of /proc/self/exe instead.
func startCaptureHelperImpl(name string) (*captureHelper, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cannot create pipe for commanding the capture helper: %v", err)
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, fmt.Errorf("cannot create pipe for capture helper responses: %v", err)
	}
	cmd := exec.Command("/proc/self/exe", CaptureHelperFlag, name, strconv.Itoa(os.Getpid()))
	cmd.Stdin = cmdR
	cmd.Stdout = ackW
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		cmdR.Close()
		cmdW.Close()
		ackR.Close()
		ackW.Close()
		return nil, fmt.Errorf("cannot start helper process for mount namespace capture: %v", err)
	}
	// The child holds duplicates of these now.
	cmdR.Close()
	ackW.Close()
	return &captureHelper{
		pid:  cmd.Process.Pid,
		cmdW: cmdW,
		ackR: ackR,
		wait: cmd.Wait,
		kill: cmd.Process.Kill,
	}, nil
}

// Message sends one command to the helper and waits for the matching ack.
// The wait is bounded so that a wedged helper cannot block the parent
// while it holds the per-snap lock.
func (h *captureHelper) Message(command byte) error {
	logger.Debugf("sending command %d to capture helper (pid: %d)", command, h.pid)
	if _, err := h.cmdW.Write([]byte{command}); err != nil {
		return fmt.Errorf("cannot send command %d to capture helper: %v", command, err)
	}
	if err := h.ackR.SetReadDeadline(time.Now().Add(sanityTimeout)); err == nil {
		defer h.ackR.SetReadDeadline(time.Time{})
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(h.ackR, ack); err != nil {
		return fmt.Errorf("cannot receive ack from capture helper: %v", err)
	}
	if ack[0] != command {
		return fmt.Errorf("unexpected ack %d from capture helper", ack[0])
	}
	return nil
}

// Wait collects the exit status of the helper and closes the pipes.
func (h *captureHelper) Wait() error {
	h.cmdW.Close()
	h.ackR.Close()
	return h.wait()
}

// Kill terminates the helper forcefully, then reaps it.
func (h *captureHelper) Kill() {
	h.kill()
	h.cmdW.Close()
	h.ackR.Close()
	h.wait()
}

// RunCaptureHelper is the child side of the capture protocol, dispatched
// to by main when the hidden capture helper flag is present.
//
// The helper confines itself, arms a death signal so that it cannot
// outlive its parent, moves to the control directory and then processes
// commands from stdin until told to exit. The capture command bind-mounts
// /proc/<parent>/ns/mnt onto <name>.mnt, preserving the parent's fully
// populated namespace as a durable reference.
func RunCaptureHelper(name string, parentPid int, policy Confinement) error {
	if policy != nil {
		if err := policy.RestrictCaptureHelper(); err != nil {
			return err
		}
	}
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(syscall.SIGINT), 0, 0, 0); err != nil {
		return fmt.Errorf("cannot set parent process death notification signal: %v", err)
	}
	// The parent may have died before the death signal was armed. If it
	// did we would block on the pipe forever, so check it is still there.
	if err := syscall.Kill(parentPid, 0); err != nil {
		if err == syscall.ESRCH {
			return fmt.Errorf("parent process has terminated")
		}
		return fmt.Errorf("cannot confirm that parent process is alive: %v", err)
	}
	if err := osChdir(dirs.SnapRunNsDir); err != nil {
		return fmt.Errorf("cannot move to directory with preserved namespaces: %v", err)
	}
	buf := make([]byte, 1)
	for {
		logger.Debugf("capture helper waiting for command")
		if _, err := io.ReadFull(os.Stdin, buf); err != nil {
			return fmt.Errorf("cannot read command from the pipe: %v", err)
		}
		command := buf[0]
		logger.Debugf("capture helper received command %d", command)
		switch command {
		case helperCmdExit:
			// Ack and leave.
		case helperCmdCaptureNs:
			if err := captureNamespace(name, parentPid); err != nil {
				return err
			}
		default:
			return fmt.Errorf("cannot handle unknown command %d", command)
		}
		if _, err := os.Stdout.Write([]byte{command}); err != nil {
			return fmt.Errorf("cannot write ack: %v", err)
		}
		if command == helperCmdExit {
			logger.Debugf("capture helper exiting")
			return nil
		}
	}
}

// captureNamespace preserves the mount namespace of the given process as
// <name>.mnt in the current directory, which is the control directory.
func captureNamespace(name string, pid int) error {
	src := fmt.Sprintf("/proc/%d/ns/mnt", pid)
	dst := name + ".mnt"
	if err := sysMount(src, dst, "", syscall.MS_BIND, ""); err != nil {
		return fmt.Errorf("cannot preserve mount namespace of process %d as %s: %v", pid, dst, err)
	}
	logger.Debugf("mount namespace of process %d preserved as %s", pid, dst)
	return nil
}
