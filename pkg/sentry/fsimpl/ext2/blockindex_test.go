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

package ext2

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
)

func TestBlockIndexPath(t *testing.T) {
	const ptrs = 256
	for _, tc := range []struct {
		n    uint64
		want []uint64
	}{
		{n: 0, want: []uint64{0}},
		{n: 11, want: []uint64{11}},
		{n: 12, want: []uint64{12, 0}},
		{n: 12 + ptrs - 1, want: []uint64{12, ptrs - 1}},
		{n: 12 + ptrs, want: []uint64{13, 0, 0}},
		{n: 12 + ptrs + ptrs + 3, want: []uint64{13, 1, 3}},
		{n: 12 + ptrs + ptrs*ptrs, want: []uint64{14, 0, 0, 0}},
		{n: 12 + ptrs + ptrs*ptrs + ptrs*ptrs + ptrs + 1, want: []uint64{14, 1, 1, 1}},
	} {
		got, err := blockIndexPath(tc.n, ptrs)
		if err != nil {
			t.Errorf("blockIndexPath(%d): %v", tc.n, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("blockIndexPath(%d) mismatch (-want +got):\n%s", tc.n, diff)
		}
	}

	last := uint64(12 + ptrs + ptrs*ptrs + ptrs*ptrs*ptrs)
	if _, err := blockIndexPath(last-1, ptrs); err != nil {
		t.Errorf("blockIndexPath(%d): %v", last-1, err)
	}
	if _, err := blockIndexPath(last, ptrs); !errors.Is(err, kerr.EFBIG) {
		t.Errorf("blockIndexPath(%d): got %v, want EFBIG", last, err)
	}
}
