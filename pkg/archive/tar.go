// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package archive provides the tar entry model shared across the build, the
// deterministic tar emitter, and the export post-filter.
package archive

import (
	"archive/tar"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// TarEntry represents an entry in a tar archive.
type TarEntry struct {
	*tar.Header
	Body []byte
}

// WriteTo writes the TarEntry to a tar writer.
func (e *TarEntry) WriteTo(tw *tar.Writer) error {
	if err := tw.WriteHeader(e.Header); err != nil {
		return err
	}
	if _, err := tw.Write(e.Body); err != nil {
		return err
	}
	return nil
}

// Excluded reports whether a path is dropped from the emitted image:
// documentation, manpages, and compiled locale catalogs.
func Excluded(name string) bool {
	if strings.HasPrefix(name, "usr/share/doc/") {
		return true
	}
	if strings.HasPrefix(name, "usr/share/man/") {
		return true
	}
	ok, _ := path.Match("usr/share/locale/*/LC_MESSAGES/*.mo", name)
	return ok
}

// WriteTar emits entries in ascending name order, excluding non-directory
// entries under the excluded paths. Directories survive exclusion so the
// hierarchy below them stays valid.
//
// No end-of-archive marker is written; the consumer reads the stream to its
// end and needs none.
func WriteTar(w io.Writer, entries []*TarEntry) error {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b *TarEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	tw := tar.NewWriter(w)
	for _, e := range sorted {
		if e.Typeflag != tar.TypeDir && Excluded(e.Name) {
			continue
		}
		if err := e.WriteTo(tw); err != nil {
			return errors.Wrapf(err, "writing %s", e.Name)
		}
		// Flush pads the body to the block boundary without emitting
		// the end-of-archive marker that Close would add.
		if err := tw.Flush(); err != nil {
			return errors.Wrapf(err, "flushing %s", e.Name)
		}
	}
	return nil
}
