// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package deb streams the contents of Debian binary packages: the outer ar
// container, the compressed control and data tarballs inside it, and the
// dpkg info files synthesized from the control archive.
package deb

import (
	"archive/tar"
	"io"
	"strings"
	"time"

	"github.com/blakesmith/ar"
	"github.com/google/debstrap/pkg/archive"
	"github.com/pkg/errors"
)

const infoDir = "var/lib/dpkg/info/"

var epoch = time.Unix(0, 0)

// EmitFunc receives each unpacked entry. Non-regular entries carry a nil
// body. Headers are owned by the callee.
type EmitFunc func(*tar.Header, []byte) error

// Unpack reads a binary package and emits, in order: the synthesized dpkg
// info files from the control archive, every data archive entry, and finally
// the package's .list manifest.
func Unpack(r io.Reader, emit EmitFunc) error {
	var prefix string
	var manifest []string

	arR := ar.NewReader(r)
	for {
		hdr, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading ar header")
		}
		name := strings.TrimSuffix(strings.TrimSpace(hdr.Name), "/")
		switch {
		case strings.HasPrefix(name, "control.tar"):
			prefix, err = unpackControl(arR, name, emit)
			if err != nil {
				return err
			}
		case strings.HasPrefix(name, "data.tar"):
			manifest, err = unpackData(arR, name, emit)
			if err != nil {
				return err
			}
		}
	}
	if prefix == "" {
		return errors.New("package has no control archive")
	}

	// The manifest becomes the package's dpkg .list info file.
	body := []byte(strings.Join(manifest, ""))
	return emit(infoFileHeader(prefix+"list", int64(len(body))), body)
}

// unpackData streams the data archive, emitting each entry with a leading
// "./" stripped, and returns the manifest of emitted names.
func unpackData(r io.Reader, name string, emit EmitFunc) ([]string, error) {
	dec, err := archive.Decompress(r, name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	var manifest []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		// Leading "./" goes the way dpkg writes its .list files; tar
		// directory entries also lose their trailing slash.
		hdr.Name = strings.TrimSuffix(strings.TrimPrefix(hdr.Name, "./"), "/")
		manifest = append(manifest, manifestLine(hdr.Name))
		var body []byte
		if hdr.Typeflag == tar.TypeReg {
			if body, err = io.ReadAll(tr); err != nil {
				return nil, errors.Wrapf(err, "reading %s from %s", hdr.Name, name)
			}
		}
		if err := emit(hdr, body); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}

// unpackControl loads the control archive, derives the package's dpkg info
// prefix, and emits the synthesized info files. The control file itself is
// re-emitted with an unpacked status line appended; dpkg's first run folds
// those into its status database.
func unpackControl(r io.Reader, name string, emit EmitFunc) (string, error) {
	dec, err := archive.Decompress(r, name)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s", name)
	}
	type member struct {
		hdr  *tar.Header
		body []byte
	}
	var members []member
	var control []byte
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrapf(err, "reading %s", name)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return "", errors.Wrapf(err, "reading %s from %s", hdr.Name, name)
		}
		if strings.TrimLeft(hdr.Name, "./") == "control" && hdr.Typeflag == tar.TypeReg {
			control = body
		}
		members = append(members, member{hdr, body})
	}
	if control == nil {
		return "", errors.Errorf("%s has no control file", name)
	}

	prefix := infoDir + dpkgName(control) + "."
	status := append(append([]byte{}, control...), []byte("Status: install ok unpacked\n")...)
	if err := emit(infoFileHeader(prefix+"control", int64(len(status))), status); err != nil {
		return "", err
	}
	for _, m := range members {
		if m.hdr.Typeflag != tar.TypeReg {
			continue
		}
		base := strings.TrimLeft(m.hdr.Name, "./")
		if base == "control" {
			continue
		}
		m.hdr.Name = prefix + base
		if err := emit(m.hdr, m.body); err != nil {
			return "", err
		}
	}
	return prefix, nil
}

// dpkgName computes the identity dpkg files the package under: qualified by
// architecture only when the package is Multi-Arch: same.
func dpkgName(control []byte) string {
	fields := map[string]string{}
	for _, line := range strings.SplitAfter(string(control), "\n") {
		k, v, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch k {
		case "Package", "Architecture", "Multi-Arch":
			fields[k] = strings.TrimRight(v, "\n")
		}
	}
	if fields["Multi-Arch"] == "same" {
		return fields["Package"] + ":" + fields["Architecture"]
	}
	return fields["Package"]
}

func infoFileHeader(name string, size int64) *tar.Header {
	return &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: size, ModTime: epoch}
}

// manifestLine renders one .list line. dpkg records the archive root (the
// empty name) as "/.".
func manifestLine(name string) string {
	if name == "" {
		return "/.\n"
	}
	return "/" + name + "\n"
}
