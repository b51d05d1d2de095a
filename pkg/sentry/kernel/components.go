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

package kernel

import (
	"fmt"

	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/log"
	"laritos.dev/laritos/pkg/sentry/hw"
)

// componentRegistry keeps the hardware components of the board. Within a
// type, default components come first, then the rest in registration order.
type componentRegistry struct {
	lock  Spinlock
	comps []hw.Component
}

// RegisterComponent adds c to the component registry.
func (k *Kernel) RegisterComponent(c hw.Component) error {
	r := &k.components
	info := c.Info()
	if info.ID == "" {
		return fmt.Errorf("component of type %q has no id: %w", info.Type, kerr.EINVAL)
	}
	st := r.lock.Acquire()
	defer r.lock.Release(st)
	at := len(r.comps)
	for i, o := range r.comps {
		oi := o.Info()
		if oi.Type == info.Type && oi.ID == info.ID {
			return fmt.Errorf("component %s already registered: %w", info, kerr.EEXIST)
		}
		if info.Default && at == len(r.comps) && oi.Type == info.Type && !oi.Default {
			at = i
		}
	}
	r.comps = append(r.comps, nil)
	copy(r.comps[at+1:], r.comps[at:])
	r.comps[at] = c
	log.Infof("Component %s registered (%s by %s)", info, info.Product, info.Vendor)
	return nil
}

// UnregisterComponent removes the component of type t named id.
func (k *Kernel) UnregisterComponent(t hw.ComponentType, id string) error {
	r := &k.components
	st := r.lock.Acquire()
	defer r.lock.Release(st)
	for i, c := range r.comps {
		if info := c.Info(); info.Type == t && info.ID == id {
			r.comps = append(r.comps[:i], r.comps[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("component %s/%s: %w", t, id, kerr.ENODEV)
}

// Components returns the registered components of type t, or of every type
// if t is empty.
func (k *Kernel) Components(t hw.ComponentType) []hw.Component {
	r := &k.components
	st := r.lock.Acquire()
	defer r.lock.Release(st)
	var cs []hw.Component
	for _, c := range r.comps {
		if t == "" || c.Info().Type == t {
			cs = append(cs, c)
		}
	}
	return cs
}

// Component returns the component of type t named id. An empty id selects
// the preferred component of that type.
func (k *Kernel) Component(t hw.ComponentType, id string) (hw.Component, error) {
	for _, c := range k.Components(t) {
		if id == "" || c.Info().ID == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("component %s/%s: %w", t, id, kerr.ENODEV)
}
