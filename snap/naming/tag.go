// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019-2024 Canonical Ltd
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

package naming

import (
	"errors"
	"fmt"
	"strings"
)

// SecurityTag exposes a tag that identifies a snap process.
type SecurityTag interface {
	// String returns the entire security tag.
	String() string

	// InstanceName returns the snap instance name the tag belongs to.
	InstanceName() string
}

// AppSecurityTag exposes information about an application tag.
type AppSecurityTag interface {
	SecurityTag
	// AppName returns the name of the application.
	AppName() string
}

type appSecurityTag struct {
	instanceName string
	appName      string
}

func (t appSecurityTag) String() string {
	return fmt.Sprintf("snap.%s.%s", t.instanceName, t.appName)
}

func (t appSecurityTag) InstanceName() string {
	return t.instanceName
}

func (t appSecurityTag) AppName() string {
	return t.appName
}

// HookSecurityTag exposes information about a hook tag.
type HookSecurityTag interface {
	SecurityTag
	// HookName returns the name of the hook.
	HookName() string
}

type hookSecurityTag struct {
	instanceName string
	hookName     string
}

func (t hookSecurityTag) String() string {
	return fmt.Sprintf("snap.%s.hook.%s", t.instanceName, t.hookName)
}

func (t hookSecurityTag) InstanceName() string {
	return t.instanceName
}

func (t hookSecurityTag) HookName() string {
	return t.hookName
}

var errInvalidSecurityTag = errors.New("invalid security tag")

// ParseSecurityTag parses a snap security tag and returns a parsed
// representation or an error.
//
// Supported forms are "snap.<name>.<app>" and "snap.<name>.hook.<hook>".
func ParseSecurityTag(tag string) (SecurityTag, error) {
	parts := strings.Split(tag, ".")
	switch len(parts) {
	case 3:
		if parts[0] != "snap" {
			return nil, errInvalidSecurityTag
		}
		instanceName, appName := parts[1], parts[2]
		if err := ValidateInstance(instanceName); err != nil {
			return nil, errInvalidSecurityTag
		}
		if err := ValidateApp(appName); err != nil {
			return nil, errInvalidSecurityTag
		}
		return appSecurityTag{instanceName: instanceName, appName: appName}, nil
	case 4:
		if parts[0] != "snap" || parts[2] != "hook" {
			return nil, errInvalidSecurityTag
		}
		instanceName, hookName := parts[1], parts[3]
		if err := ValidateInstance(instanceName); err != nil {
			return nil, errInvalidSecurityTag
		}
		if err := ValidateHook(hookName); err != nil {
			return nil, errInvalidSecurityTag
		}
		return hookSecurityTag{instanceName: instanceName, hookName: hookName}, nil
	default:
		return nil, errInvalidSecurityTag
	}
}

// ParseAppSecurityTag parses an app security tag.
func ParseAppSecurityTag(tag string) (AppSecurityTag, error) {
	parsedTag, err := ParseSecurityTag(tag)
	if err != nil {
		return nil, err
	}
	appTag, ok := parsedTag.(AppSecurityTag)
	if !ok {
		return nil, fmt.Errorf("%q is not an app security tag", tag)
	}
	return appTag, nil
}
