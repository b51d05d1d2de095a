// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hw defines the hardware capabilities consumed by the kernel and
// provides in-tree implementations of them: block devices backed by memory or
// by a host file, virtual and host timers, and an interrupt controller.
package hw

import "fmt"

// ComponentType classifies a hardware component.
type ComponentType string

// Component types known to the kernel.
const (
	TypeBlockDevice ComponentType = "blockdev"
	TypeTimer       ComponentType = "timer"
	TypeIntc        ComponentType = "intc"
	TypeConsole     ComponentType = "console"
)

// ComponentInfo describes a registered component.
type ComponentInfo struct {
	// ID is unique per component type.
	ID          string
	Type        ComponentType
	Product     string
	Vendor      string
	Description string

	// Default marks the preferred component of its type.
	Default bool
}

func (c ComponentInfo) String() string {
	return fmt.Sprintf("%s/%s", c.Type, c.ID)
}

// Component is implemented by every hardware component.
type Component interface {
	Info() ComponentInfo
}
