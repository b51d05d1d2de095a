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

package pseudofs_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"laritos.dev/laritos/pkg/errors/kerr"
	"laritos.dev/laritos/pkg/sentry/fsimpl/pseudofs"
	"laritos.dev/laritos/pkg/sentry/vfs"
)

func newVFS(t *testing.T) (*vfs.VFS, *vfs.BasicContext) {
	t.Helper()
	v := vfs.New(vfs.Options{})
	v.MustRegisterFilesystemType(pseudofs.FilesystemType{})
	if _, err := v.Mount(pseudofs.Name, "/", vfs.MountRead|vfs.MountWrite, nil); err != nil {
		t.Fatalf("Mount(/): %v", err)
	}
	return v, vfs.NewBasicContext(nil, 8)
}

func open(t *testing.T, v *vfs.VFS, ctx vfs.ProcessContext, path string, mode vfs.AccessMode) *vfs.File {
	t.Helper()
	f, err := v.OpenFile(ctx, path, mode)
	if err != nil {
		t.Fatalf("OpenFile(%s, %s): %v", path, mode, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestBufHelpers(t *testing.T) {
	from := []byte("12345")
	to := make([]byte, 3)
	if n := pseudofs.WriteToBuf(to, from, 1); n != 3 || string(to) != "234" {
		t.Errorf("WriteToBuf(off=1) = %d %q, want 3 %q", n, to, "234")
	}
	if n := pseudofs.WriteToBuf(to, from, 5); n != 0 {
		t.Errorf("WriteToBuf past the end = %d, want 0", n)
	}
	buf := []byte("abcd")
	if n := pseudofs.ReadFromBuf(buf, []byte("XYZ"), 2); n != 2 || string(buf) != "abXY" {
		t.Errorf("ReadFromBuf(off=2) = %d %q, want 2 %q", n, buf, "abXY")
	}
	if n := pseudofs.ReadFromBuf(buf, []byte("X"), 4); n != 0 {
		t.Errorf("ReadFromBuf past the end = %d, want 0", n)
	}
}

func TestPlainFile(t *testing.T) {
	v, ctx := newVFS(t)
	if _, err := v.CreateFileAt(ctx, "/plain", vfs.ModeRW); err != nil {
		t.Fatalf("CreateFileAt: %v", err)
	}
	f := open(t, v, ctx, "/plain", vfs.ModeRW)
	if n, err := f.Write([]byte("hello"), 2); err != nil || n != 5 {
		t.Fatalf("Write = %d, %v, want 5, nil", n, err)
	}
	buf := make([]byte, 16)
	n, err := f.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff([]byte("\x00\x00hello"), buf[:n]); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestBinFile(t *testing.T) {
	v, ctx := newVFS(t)
	root := v.Root()
	if _, err := pseudofs.CreateBinFile(v, root, "bin", vfs.MayRead, []byte("12345\x00")); err != nil {
		t.Fatalf("CreateBinFile: %v", err)
	}
	f := open(t, v, ctx, "/bin", vfs.MayRead)
	buf := make([]byte, 10)
	n, err := f.Read(buf, 0)
	if err != nil || n != 6 {
		t.Fatalf("Read = %d, %v, want 6, nil", n, err)
	}
	if got := string(buf[:n]); got != "12345\x00" {
		t.Errorf("Read = %q, want %q", got, "12345\x00")
	}
	if _, err := v.OpenFile(ctx, "/bin", vfs.MayWrite); !errors.Is(err, kerr.EACCES) {
		t.Errorf("OpenFile(write) of a read-only file: got %v, want EACCES", err)
	}
}

func TestWritableBinFileDoesNotGrow(t *testing.T) {
	v, ctx := newVFS(t)
	data := []byte("abcd")
	if _, err := pseudofs.CreateBinFile(v, v.Root(), "bin", vfs.ModeRW, data); err != nil {
		t.Fatalf("CreateBinFile: %v", err)
	}
	f := open(t, v, ctx, "bin", vfs.MayWrite)
	if n, err := f.Write([]byte("XYZ"), 2); err != nil || n != 2 {
		t.Fatalf("Write = %d, %v, want 2, nil", n, err)
	}
	if got := string(data); got != "abXY" {
		t.Errorf("data = %q, want %q", got, "abXY")
	}
}

func TestUintFiles(t *testing.T) {
	v, ctx := newVFS(t)
	root := v.Root()
	var val32 uint32 = 0x01020304
	if _, err := pseudofs.CreateUintFile(v, root, "u16", func() uint16 { return 0xbeef }, nil); err != nil {
		t.Fatalf("CreateUintFile(u16): %v", err)
	}
	if _, err := pseudofs.CreateUintFile(v, root, "u32", func() uint32 { return val32 }, func(x uint32) { val32 = x }); err != nil {
		t.Fatalf("CreateUintFile(u32): %v", err)
	}
	if _, err := pseudofs.CreateUintFile(v, root, "u64", func() uint64 { return 1 << 40 }, nil); err != nil {
		t.Fatalf("CreateUintFile(u64): %v", err)
	}

	for _, tc := range []struct {
		path string
		want []byte
	}{
		{"/u16", []byte{0xef, 0xbe}},
		{"/u32", []byte{4, 3, 2, 1}},
		{"/u64", []byte{0, 0, 0, 0, 0, 1, 0, 0}},
	} {
		f := open(t, v, ctx, tc.path, vfs.MayRead)
		buf := make([]byte, 16)
		n, err := f.Read(buf, 0)
		if err != nil {
			t.Fatalf("Read(%s): %v", tc.path, err)
		}
		if diff := cmp.Diff(tc.want, buf[:n]); diff != "" {
			t.Errorf("Read(%s) mismatch (-want +got):\n%s", tc.path, diff)
		}
	}

	f := open(t, v, ctx, "/u32", vfs.MayWrite)
	if _, err := f.Write([]byte{0xaa, 0, 0, 0}, 0); err != nil {
		t.Fatalf("Write(u32): %v", err)
	}
	if val32 != 0xaa {
		t.Errorf("val32 = %#x, want 0xaa", val32)
	}
	if _, err := f.Write([]byte{1}, 0); !errors.Is(err, kerr.EINVAL) {
		t.Errorf("short Write(u32): got %v, want EINVAL", err)
	}
	if _, err := v.OpenFile(ctx, "/u16", vfs.MayWrite); !errors.Is(err, kerr.EACCES) {
		t.Errorf("OpenFile(u16, write): got %v, want EACCES", err)
	}
}

func TestBoolAndStringFiles(t *testing.T) {
	v, ctx := newVFS(t)
	root := v.Root()
	flag := true
	if _, err := pseudofs.CreateBoolFile(v, root, "flag", func() bool { return flag }, func(b bool) { flag = b }); err != nil {
		t.Fatalf("CreateBoolFile: %v", err)
	}
	if _, err := pseudofs.CreateStringFile(v, root, "name", func() string { return "init" }); err != nil {
		t.Fatalf("CreateStringFile: %v", err)
	}

	f := open(t, v, ctx, "/flag", vfs.ModeRW)
	buf := make([]byte, 8)
	if n, err := f.Read(buf, 0); err != nil || n != 1 || buf[0] != 1 {
		t.Errorf("Read(flag) = %d %v %v, want 1 [1] nil", n, buf[:n], err)
	}
	if _, err := f.Write([]byte{0}, 0); err != nil {
		t.Fatalf("Write(flag): %v", err)
	}
	if flag {
		t.Errorf("flag still set after writing 0")
	}

	s := open(t, v, ctx, "/name", vfs.MayRead)
	n, err := s.Read(buf, 0)
	if err != nil {
		t.Fatalf("Read(name): %v", err)
	}
	if got := string(buf[:n]); got != "init\x00" {
		t.Errorf("Read(name) = %q, want %q", got, "init\x00")
	}
}

func TestCallbacksNotAllowed(t *testing.T) {
	v, ctx := newVFS(t)
	called := false
	if _, err := pseudofs.CreateCustomWOFile(v, v.Root(), "sink", func(b []byte, off int64) (int, error) {
		called = true
		return len(b), nil
	}); err != nil {
		t.Fatalf("CreateCustomWOFile: %v", err)
	}
	f := open(t, v, ctx, "/sink", vfs.MayWrite)
	if n, err := f.Write([]byte("xyz"), 0); err != nil || n != 3 || !called {
		t.Errorf("Write = %d, %v (called %t), want 3, nil (called true)", n, err, called)
	}
	if _, err := f.Read(make([]byte, 1), 0); !errors.Is(err, kerr.EBADF) {
		t.Errorf("Read of a write-only file: got %v, want EBADF", err)
	}
}

func TestListDir(t *testing.T) {
	v, ctx := newVFS(t)
	for _, p := range []string{"/a", "/c"} {
		if _, err := v.MkdirAt(ctx, p, vfs.ModeRW|vfs.MayExec); err != nil {
			t.Fatalf("MkdirAt(%s): %v", p, err)
		}
	}
	if _, err := v.CreateFileAt(ctx, "/b", vfs.ModeRW); err != nil {
		t.Fatalf("CreateFileAt: %v", err)
	}
	f := open(t, v, ctx, "/", vfs.MayRead)
	got, err := f.ReadDir()
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	want := []vfs.DirEntry{
		{Name: "..", IsDir: true},
		{Name: "a", IsDir: true},
		{Name: "c", IsDir: true},
		{Name: "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadDir mismatch (-want +got):\n%s", diff)
	}

	list := make([]vfs.DirEntry, 2)
	n, err := f.ListDir(2, list)
	if err != nil {
		t.Fatalf("ListDir(2): %v", err)
	}
	if diff := cmp.Diff(want[2:4], list[:n]); diff != "" {
		t.Errorf("ListDir(2) mismatch (-want +got):\n%s", diff)
	}
	if n, err := f.ListDir(4, list); err != nil || n != 0 {
		t.Errorf("ListDir past the end = %d, %v, want 0, nil", n, err)
	}
	if _, err := f.Read(make([]byte, 1), 0); !errors.Is(err, kerr.EISDIR) {
		t.Errorf("Read of a directory: got %v, want EISDIR", err)
	}
}

func TestInodesFreed(t *testing.T) {
	v, ctx := newVFS(t)
	sb := v.Root().Mount().Superblock()
	if got := pseudofs.LiveInodes(sb); got != 1 {
		t.Fatalf("LiveInodes = %d, want 1", got)
	}
	for _, p := range []string{"/d", "/d/e", "/d/e/f"} {
		if _, err := v.MkdirAt(ctx, p, vfs.ModeRW|vfs.MayExec); err != nil {
			t.Fatalf("MkdirAt(%s): %v", p, err)
		}
	}
	if got := pseudofs.LiveInodes(sb); got != 4 {
		t.Errorf("LiveInodes = %d, want 4", got)
	}
	if err := v.RemoveAt(ctx, "/d"); err != nil {
		t.Fatalf("RemoveAt: %v", err)
	}
	if got := pseudofs.LiveInodes(sb); got != 1 {
		t.Errorf("LiveInodes after removal = %d, want 1", got)
	}
}
