// Copyright 2021 The gVisor Authors.
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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFirstZeroRespectsSize(t *testing.T) {
	b := New(3)
	for i := uint32(0); i < 3; i++ {
		got, err := b.FirstZero(0)
		if err != nil {
			t.Fatalf("FirstZero(0) #%d failed: %v", i, err)
		}
		if got != i {
			t.Fatalf("FirstZero(0) = %d, want %d", got, i)
		}
		b.Add(got)
	}
	if got, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full 3-bit map = %d, want error", got)
	}
	b.Remove(1)
	if got, err := b.FirstZero(0); err != nil || got != 1 {
		t.Errorf("FirstZero after Remove(1) = (%d, %v), want (1, nil)", got, err)
	}
}

func TestFirstZeroAcrossWords(t *testing.T) {
	b := New(200)
	for i := uint32(0); i < 130; i++ {
		b.Add(i)
	}
	got, err := b.FirstZero(0)
	if err != nil {
		t.Fatalf("FirstZero(0) failed: %v", err)
	}
	if got != 130 {
		t.Errorf("FirstZero(0) = %d, want 130", got)
	}
	if got, _ := b.FirstZero(150); got != 150 {
		t.Errorf("FirstZero(150) = %d, want 150", got)
	}
	if n := b.GetNumOnes(); n != 130 {
		t.Errorf("GetNumOnes() = %d, want 130", n)
	}
}

func TestOnDiskRoundTrip(t *testing.T) {
	disk := make([]byte, 16)
	disk[0] = 0x0b // bits 0, 1, 3
	disk[9] = 0x80 // bit 79
	b, err := FromBytes(disk, 128)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}
	if diff := cmp.Diff([]uint32{0, 1, 3, 79}, b.ToSlice()); diff != "" {
		t.Errorf("decoded bits mismatch (-want +got):\n%s", diff)
	}
	if got, _ := b.FirstZero(0); got != 2 {
		t.Errorf("FirstZero(0) = %d, want 2", got)
	}

	b.Add(64)
	off, word := b.Word(64)
	if off != 8 {
		t.Errorf("Word(64) offset = %d, want 8", off)
	}
	if diff := cmp.Diff([]byte{0x01, 0x80, 0, 0, 0, 0, 0, 0}, word); diff != "" {
		t.Errorf("Word(64) mismatch (-want +got):\n%s", diff)
	}
	if got := b.Bytes(); got[0] != 0x0b || got[8] != 0x01 || got[9] != 0x80 {
		t.Errorf("Bytes() = %x, want bits 0,1,3,64,79 set", got)
	}
}

func TestFromBytesShortBuffer(t *testing.T) {
	if _, err := FromBytes(make([]byte, 4), 64); err == nil {
		t.Errorf("FromBytes with a 4-byte buffer for 64 bits succeeded, want error")
	}
}
