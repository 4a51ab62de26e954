// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/google/debstrap/pkg/archive"
	"github.com/pkg/errors"
)

// Package is one record from a binary package index. Only the fields the
// build consumes survive parsing; everything else is discarded.
type Package struct {
	Name         string
	Filename     string
	Version      string
	Priority     string
	SHA256       string
	Depends      []string
	PreDepends   []string
	MultiArch    string
	Architecture string
}

// indexPreference orders the Packages index variants by preference; the
// suffix picks the decompressor.
var indexPreference = []string{".xz", ".gz", ""}

// Packages fetches and parses the suite's binary package index for an
// architecture, preferring the best-compressed variant the release manifest
// lists.
func (s *Suite) Packages(ctx context.Context, arch string) (map[string]Package, error) {
	for _, suffix := range indexPreference {
		path := "main/binary-" + arch + "/Packages" + suffix
		contents, err := s.Fetch(ctx, path)
		if errors.Is(err, ErrNotInManifest) {
			continue
		}
		if err != nil {
			return nil, err
		}
		plain, err := archive.Decompress(bytes.NewReader(contents), path)
		if err != nil {
			return nil, errors.Wrapf(err, "decompressing %s", path)
		}
		return ParseIndex(plain)
	}
	return nil, errors.Errorf("no Packages index for %s in release manifest", arch)
}

// ParseIndex decodes an uncompressed package index: RFC-822-style stanzas
// separated by blank lines, keyed by package name.
func ParseIndex(r io.Reader) (map[string]Package, error) {
	index := make(map[string]Package)
	var cur Package
	var seen bool
	flush := func() error {
		if !seen {
			return nil
		}
		if cur.Name == "" {
			return errors.New("package stanza without a Package field")
		}
		index[cur.Name] = cur
		cur = Package{}
		seen = false
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		switch key {
		case "Package":
			cur.Name = value
		case "Filename":
			cur.Filename = value
		case "Version":
			cur.Version = value
		case "Priority":
			cur.Priority = value
		case "SHA256":
			cur.SHA256 = value
		case "Depends":
			cur.Depends = ParseDependencyNames(value)
		case "Pre-Depends":
			cur.PreDepends = ParseDependencyNames(value)
		case "Multi-Arch":
			cur.MultiArch = value
		case "Architecture":
			cur.Architecture = value
		default:
			continue
		}
		seen = true
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning package index")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return index, nil
}

// ParseDependencyNames reduces a dependency field to bare package names:
// clauses split on commas, version constraints dropped, and only the first
// alternative of each disjunction kept, whether or not it exists in the
// index.
func ParseDependencyNames(field string) []string {
	var names []string
	for _, clause := range strings.Split(field, ",") {
		tokens := strings.Fields(clause)
		if len(tokens) == 0 {
			continue
		}
		names = append(names, tokens[0])
	}
	return names
}
