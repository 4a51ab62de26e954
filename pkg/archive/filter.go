// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const blockSize = 512

// MtimeSource reports the canonical mtime recorded for a path, if any.
type MtimeSource interface {
	Mtime(name string) (int64, bool)
}

// suppressed are entries the container runtime injects into the exported
// tree despite --net=none; they must not reach the final image.
var suppressed = map[string]bool{
	".dockerenv":      true,
	"etc/resolv.conf": true,
}

// FilterExport consumes the runtime's export stream block-by-block and
// restores determinism: runtime-injected files are dropped, every entry's
// mtime is forced back to the filesystem model's recorded value (or zero for
// untracked paths), and a synthetic resolv.conf symlink is appended.
func FilterExport(src io.Reader, w io.Writer, mtimes MtimeSource) error {
	var block [blockSize]byte
	for {
		if _, err := io.ReadFull(src, block[:]); err != nil {
			return errors.Wrap(err, "reading export header block")
		}
		if isZeroBlock(block[:]) {
			break
		}
		name, err := headerName(block[:])
		if err != nil {
			return err
		}
		size, err := headerSize(block[:])
		if err != nil {
			return errors.Wrapf(err, "parsing size of %s", name)
		}

		destination := io.Writer(w)
		if suppressed[name] {
			destination = io.Discard
		} else {
			// Directory entries carry a trailing slash; the model's
			// canonical names do not.
			mtime, ok := mtimes.Mtime(strings.TrimSuffix(name, "/"))
			if !ok {
				mtime = 0
			}
			if err := patchMtime(block[:], mtime); err != nil {
				return errors.Wrapf(err, "patching mtime of %s", name)
			}
		}
		if _, err := destination.Write(block[:]); err != nil {
			return errors.Wrapf(err, "writing header of %s", name)
		}
		if _, err := io.CopyN(destination, src, roundUpBlock(size)); err != nil {
			return errors.Wrapf(err, "copying body of %s", name)
		}
	}

	// The runtime needs a resolver inside the image even though the real
	// resolv.conf was dropped above.
	tw := tar.NewWriter(w)
	err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     "etc/resolv.conf",
		Linkname: "/run/systemd/resolve/stub-resolv.conf",
		Mode:     0o644,
		ModTime:  time.Unix(0, 0),
		Format:   tar.FormatUSTAR,
	})
	if err != nil {
		return errors.Wrap(err, "writing resolv.conf symlink")
	}
	if err := tw.Flush(); err != nil {
		return errors.Wrap(err, "flushing resolv.conf symlink")
	}
	if _, err := w.Write(make([]byte, 2*blockSize)); err != nil {
		return errors.Wrap(err, "writing end-of-archive marker")
	}
	return nil
}

func isZeroBlock(block []byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

func roundUpBlock(size int64) int64 {
	return (size + blockSize - 1) &^ (blockSize - 1)
}

// headerName extracts the entry name, honoring the ustar prefix field.
func headerName(block []byte) (string, error) {
	name := cutNul(block[0:100])
	if magic := cutNul(block[257:263]); strings.HasPrefix(magic, "ustar") {
		if prefix := cutNul(block[345:500]); prefix != "" {
			name = prefix + "/" + name
		}
	}
	if name == "" {
		return "", errors.New("tar header with empty name")
	}
	return name, nil
}

func headerSize(block []byte) (int64, error) {
	return parseOctal(block[124:136])
}

// patchMtime rewrites the mtime field in place and recomputes the header
// checksum.
func patchMtime(block []byte, mtime int64) error {
	if mtime < 0 || mtime > 0o77777777777 {
		return errors.Errorf("mtime %d outside octal field range", mtime)
	}
	copy(block[136:148], fmt.Sprintf("%011o\x00", mtime))
	var sum int64
	for i, b := range block {
		if i >= 148 && i < 156 {
			sum += ' '
		} else {
			sum += int64(b)
		}
	}
	copy(block[148:156], fmt.Sprintf("%06o\x00 ", sum))
	return nil
}

func cutNul(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func parseOctal(field []byte) (int64, error) {
	s := strings.Trim(cutNul(field), " ")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing octal field")
	}
	return n, nil
}
