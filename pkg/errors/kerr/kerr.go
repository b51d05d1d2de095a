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

// Package kerr contains the kernel's error codes exported as error interface
// pointers. This allows for fast comparison and return operations comparable
// to unix.Errno constants.
package kerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"laritos.dev/laritos/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. Since the types are distinct (these are *errors.Error) they are
// not directly comparable; use Equals or errors.Is.
var (
	EPERM        = errors.New(unix.EPERM, "operation not permitted")
	ENOENT       = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH        = errors.New(unix.ESRCH, "no such process")
	EIO          = errors.New(unix.EIO, "I/O error")
	EBADF        = errors.New(unix.EBADF, "bad file number")
	ECHILD       = errors.New(unix.ECHILD, "no child processes")
	EAGAIN       = errors.New(unix.EAGAIN, "try again")
	ENOMEM       = errors.New(unix.ENOMEM, "out of memory")
	EACCES       = errors.New(unix.EACCES, "permission denied")
	EBUSY        = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST       = errors.New(unix.EEXIST, "file exists")
	ENODEV       = errors.New(unix.ENODEV, "no such device")
	ENOTDIR      = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR       = errors.New(unix.EISDIR, "is a directory")
	EINVAL       = errors.New(unix.EINVAL, "invalid argument")
	EMFILE       = errors.New(unix.EMFILE, "too many open files")
	EFBIG        = errors.New(unix.EFBIG, "file too large")
	ENOSPC       = errors.New(unix.ENOSPC, "no space left on device")
	EROFS        = errors.New(unix.EROFS, "read-only file system")
	ENAMETOOLONG = errors.New(unix.ENAMETOOLONG, "file name too long")
	ENOTEMPTY    = errors.New(unix.ENOTEMPTY, "directory not empty")
	EOPNOTSUPP   = errors.New(unix.EOPNOTSUPP, "operation not supported")
	EUCLEAN      = errors.New(unix.EUCLEAN, "structure needs cleaning")
)

// ToUnix converts a kernel error to a unix.Errno. Errors that carry no errno
// map to EIO; nil maps to 0.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// Equals compares a kernel error to a given error, looking through wrapping.
func Equals(e *errors.Error, err error) bool {
	if e == nil {
		return err == nil
	}
	if err == nil {
		return false
	}
	return goerrors.Is(err, e) || ToUnix(err) == e.Errno()
}
