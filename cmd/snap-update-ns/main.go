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

package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/snap-confine/i18n"
	"github.com/snapcore/snap-confine/logger"
	"github.com/snapcore/snap-confine/snap/naming"
)

type options struct {
	FromSnapConfine bool `long:"from-snap-confine" description:"indicate that the caller holds the per-snap namespace lock"`
	Positionals     struct {
		SnapName string `positional-arg-name:"SNAP_NAME" required:"yes"`
	} `positional-args:"true"`
}

func main() {
	logger.SimpleSetup()
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, i18n.G("cannot update snap namespace: %s\n"), err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (*options, error) {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash|flags.PassAfterNonOption)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	instanceName := opts.Positionals.SnapName
	if err := naming.ValidateInstance(instanceName); err != nil {
		return err
	}
	// Explicitly set the umask to 0 so that permission bits are not masked
	// out when creating mount points. We inherit an arbitrary umask from
	// whoever invoked us.
	syscall.Umask(0)
	return applySystemFstab(instanceName, opts.FromSnapConfine)
}
