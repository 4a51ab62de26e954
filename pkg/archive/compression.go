// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

type decompressor func(io.Reader) (io.Reader, error)

var decompressors = map[string]decompressor{
	".gz": func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	},
	".xz": func(r io.Reader) (io.Reader, error) {
		return xz.NewReader(r)
	},
	".zst": func(r io.Reader) (io.Reader, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	},
}

// Decompress wraps r with the decompressor matching name's suffix. Names
// without a recognized suffix pass through unchanged.
func Decompress(r io.Reader, name string) (io.Reader, error) {
	for suffix, open := range decompressors {
		if strings.HasSuffix(name, suffix) {
			wrapped, err := open(r)
			if err != nil {
				return nil, errors.Wrapf(err, "opening %s stream", suffix)
			}
			return wrapped, nil
		}
	}
	return r, nil
}
