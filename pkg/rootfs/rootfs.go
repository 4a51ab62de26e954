// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package rootfs accumulates unpacked package contents into an in-memory
// filesystem model keyed by canonical path.
package rootfs

import (
	"archive/tar"
	"maps"
	"path"
	"strings"
	"time"

	"github.com/google/debstrap/pkg/archive"
	"github.com/pkg/errors"
)

var epoch = time.Unix(0, 0)

// Filesystem maps canonical paths to tar entries. Paths are canonical when
// every prefix resolving through a recorded symlink has been rewritten to the
// symlink's target, so a package installing into bin/foo lands at usr/bin/foo
// once the usr-merge symlinks are seeded.
type Filesystem struct {
	files map[string]*archive.TarEntry
}

func New() *Filesystem {
	return &Filesystem{files: make(map[string]*archive.TarEntry)}
}

// Add inserts a tar entry under its canonical name.
//
// Re-adding an entry whose useful attributes match the stored one is
// idempotent except that the stored mtime becomes the maximum of the two.
// A collision with differing attributes is an error. Entries canonicalizing
// to the empty name are dropped.
func (fs *Filesystem) Add(hdr *tar.Header, body []byte) error {
	hdr.Name = fs.buildPath(hdr.Name)
	hdr.Uname = ""
	hdr.Gname = ""

	if existing, ok := fs.files[hdr.Name]; ok {
		if hdr.ModTime.After(existing.ModTime) {
			existing.ModTime = hdr.ModTime
		}
		if !usefulAttributesEqual(hdr, existing.Header) {
			return errors.Errorf("conflicting entries for %s", hdr.Name)
		}
		return nil
	}
	if hdr.Name == "" {
		return nil
	}
	fs.files[hdr.Name] = &archive.TarEntry{Header: hdr, Body: body}
	return nil
}

// Mkdir records a directory with mode 0755.
func (fs *Filesystem) Mkdir(name string) error {
	return fs.Add(&tar.Header{Name: name, Typeflag: tar.TypeDir, Mode: 0o755, ModTime: epoch}, nil)
}

// Symlink records a symbolic link.
func (fs *Filesystem) Symlink(name, target string) error {
	return fs.Add(&tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: target, Mode: 0o644, ModTime: epoch}, nil)
}

// File records a regular file. A negative mode selects the default 0644.
func (fs *Filesystem) File(name string, contents []byte, mode int64) error {
	if mode < 0 {
		mode = 0o644
	}
	hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: mode, Size: int64(len(contents)), ModTime: epoch}
	return fs.Add(hdr, contents)
}

// Mknod records a character device node.
func (fs *Filesystem) Mknod(name string, major, minor int64) error {
	hdr := &tar.Header{Name: name, Typeflag: tar.TypeChar, Mode: 0o644, Devmajor: major, Devminor: minor, ModTime: epoch}
	return fs.Add(hdr, nil)
}

// resolve follows a recorded symlink at name to its target, recursively
// until the path no longer names a symlink.
func (fs *Filesystem) resolve(name string) string {
	entry, ok := fs.files[name]
	if !ok || entry.Typeflag != tar.TypeSymlink {
		return name
	}
	target := entry.Linkname
	if !strings.HasPrefix(target, "/") {
		target = path.Join(path.Dir(name), target)
	}
	return fs.resolve(path.Clean(target))
}

// buildPath canonicalizes name left-to-right, resolving each prefix through
// any symlink recorded for it before appending the next component.
func (fs *Filesystem) buildPath(name string) string {
	ret := ""
	for _, c := range strings.Split(name, "/") {
		ret = fs.resolve(path.Join(ret, c))
	}
	return ret
}

// Mtime returns the recorded mtime in epoch seconds for a canonical path.
func (fs *Filesystem) Mtime(name string) (int64, bool) {
	entry, ok := fs.files[name]
	if !ok {
		return 0, false
	}
	return entry.ModTime.Unix(), true
}

// Entries returns all recorded entries in unspecified order.
func (fs *Filesystem) Entries() []*archive.TarEntry {
	entries := make([]*archive.TarEntry, 0, len(fs.files))
	for _, e := range fs.files {
		entries = append(entries, e)
	}
	return entries
}

// Len returns the number of recorded entries.
func (fs *Filesystem) Len() int {
	return len(fs.files)
}

// usrMergeNames are the aliased trees dpkg expects to already exist: the
// directories under usr/ plus top-level symlinks pointing at them. Packages
// then install through either spelling and land in one place.
var usrMergeNames = []string{"bin", "sbin", "lib", "lib32", "lib64", "libx32"}

// SeedUsrMerge records the merged-usr skeleton ahead of any package unpack.
func (fs *Filesystem) SeedUsrMerge() error {
	for _, name := range usrMergeNames {
		real := "usr/" + name
		if err := fs.Mkdir(real); err != nil {
			return err
		}
		if err := fs.Symlink(name, real); err != nil {
			return err
		}
	}
	return nil
}

func usefulAttributesEqual(a, b *tar.Header) bool {
	return a.Name == b.Name &&
		a.Mode == b.Mode &&
		a.Uid == b.Uid &&
		a.Gid == b.Gid &&
		a.Size == b.Size &&
		a.Typeflag == b.Typeflag &&
		a.Uname == b.Uname &&
		a.Gname == b.Gname &&
		maps.Equal(a.PAXRecords, b.PAXRecords)
}
