// Copyright 2020 The gVisor Authors.
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

package refs

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type object struct {
	AtomicRefCount
	name      string
	destroyed int
}

func (o *object) DecRef() {
	o.DecRefWithDestructor(func() { o.destroyed++ })
}

func (o *object) RefType() string { return "object" }

func (o *object) LeakMessage() string { return fmt.Sprintf("object %s leaked", o.name) }

func TestRefCount(t *testing.T) {
	o := &object{}
	if got := o.ReadRefs(); got != 1 {
		t.Fatalf("ReadRefs() = %d, want 1", got)
	}
	o.IncRef()
	o.IncRef()
	if got := o.ReadRefs(); got != 3 {
		t.Fatalf("ReadRefs() = %d, want 3", got)
	}
	o.DecRef()
	o.DecRef()
	if o.destroyed != 0 {
		t.Fatalf("destroyed with references held")
	}
	o.DecRef()
	if o.destroyed != 1 {
		t.Fatalf("destroyed = %d, want 1", o.destroyed)
	}
	if o.TryIncRef() {
		t.Errorf("TryIncRef succeeded on a destroyed object")
	}
}

func TestDecRefUnderflow(t *testing.T) {
	o := &object{}
	o.DecRef()
	defer func() {
		if recover() == nil {
			t.Errorf("DecRef on a destroyed object did not panic")
		}
	}()
	o.DecRef()
}

func TestTryIncRef(t *testing.T) {
	o := &object{}
	if !o.TryIncRef() {
		t.Fatalf("TryIncRef failed on a live object")
	}
	if got := o.ReadRefs(); got != 2 {
		t.Errorf("ReadRefs() = %d, want 2", got)
	}
}

func TestLeakCheck(t *testing.T) {
	SetLeakMode(LeaksLogWarning)
	defer SetLeakMode(NoLeakChecking)

	a, b := &object{name: "a"}, &object{name: "b"}
	Register(a)
	Register(b)
	Unregister(a)
	if diff := cmp.Diff([]string{"object b leaked"}, DoLeakCheck()); diff != "" {
		t.Errorf("DoLeakCheck mismatch (-want +got):\n%s", diff)
	}
	if got := DoLeakCheck(); got != nil {
		t.Errorf("second DoLeakCheck() = %v, want nil", got)
	}
}

func TestLeakCheckDisabled(t *testing.T) {
	SetLeakMode(NoLeakChecking)
	Register(&object{name: "ignored"})
	if got := DoLeakCheck(); got != nil {
		t.Errorf("DoLeakCheck() = %v, want nil", got)
	}
}
