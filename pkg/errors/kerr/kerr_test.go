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

package kerr

import (
	goerrors "errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestWrappedErrorsKeepTheirErrno(t *testing.T) {
	err := fmt.Errorf("mount /data: %w", ENODEV)
	if !goerrors.Is(err, ENODEV) {
		t.Errorf("errors.Is(%v, ENODEV) = false, want true", err)
	}
	if !goerrors.Is(err, unix.ENODEV) {
		t.Errorf("errors.Is(%v, unix.ENODEV) = false, want true", err)
	}
	if got := ToUnix(err); got != unix.ENODEV {
		t.Errorf("ToUnix(%v) = %v, want %v", err, got, unix.ENODEV)
	}
}

func TestEquals(t *testing.T) {
	for _, tc := range []struct {
		name string
		e    error
		want bool
	}{
		{name: "same", e: EROFS, want: true},
		{name: "wrapped", e: fmt.Errorf("open: %w", EROFS), want: true},
		{name: "bare errno", e: unix.EROFS, want: true},
		{name: "other", e: EACCES, want: false},
		{name: "nil", e: nil, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equals(EROFS, tc.e); got != tc.want {
				t.Errorf("Equals(EROFS, %v) = %t, want %t", tc.e, got, tc.want)
			}
		})
	}
}

func TestToUnix(t *testing.T) {
	if got := ToUnix(nil); got != 0 {
		t.Errorf("ToUnix(nil) = %v, want 0", got)
	}
	if got := ToUnix(goerrors.New("plain")); got != unix.EIO {
		t.Errorf("ToUnix(plain) = %v, want EIO", got)
	}
}
