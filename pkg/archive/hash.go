// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// HashWriter tees everything written through it into a sha256 hasher.
type HashWriter struct {
	w io.Writer
	h hash.Hash
}

func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{w: w, h: sha256.New()}
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	hw.h.Write(p)
	return hw.w.Write(p)
}

// HexDigest returns the digest of all bytes written so far.
func (hw *HashWriter) HexDigest() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}
