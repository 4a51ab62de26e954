// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package debian is a client for Debian-style package repositories: it
// authenticates distribution release manifests, parses package indexes,
// resolves installation closures, and downloads package artifacts.
package debian

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"

	"github.com/google/debstrap/internal/diskcache"
	"github.com/google/debstrap/internal/gpgv"
	"github.com/pkg/errors"
)

// ErrNotInManifest is returned by Suite.Fetch for paths the signed release
// manifest does not enumerate.
var ErrNotInManifest = errors.New("path not listed in release manifest")

// Verifier checks a detached signature and returns the accepted signature's
// status fields. Implemented by gpgv.Verifier.
type Verifier interface {
	Verify(ctx context.Context, keyring string, signature, contents []byte) (map[string]string, error)
}

// Client fetches and authenticates repository metadata.
type Client struct {
	Cache    *diskcache.Cache
	Verifier Verifier
	Keyring  string
}

// Suite serves checksum-verified files below one dists/<suite>/ tree. Every
// byte it returns is anchored to the gpg-verified release manifest.
type Suite struct {
	client   *Client
	host     string
	distPath string
	sums     map[string]string
}

// Suite fetches dists/<suite>/Release plus its detached signature below the
// archive root path, verifies the signature, and indexes the SHA256 section.
func (c *Client) Suite(ctx context.Context, host, archivePath, suite string) (*Suite, error) {
	distPath := archivePath + "dists/" + suite + "/"
	release, err := c.Cache.Get(ctx, host, distPath+"Release")
	if err != nil {
		return nil, errors.Wrapf(err, "fetching Release for %s", suite)
	}
	signature, err := c.Cache.Get(ctx, host, distPath+"Release.gpg")
	if err != nil {
		return nil, errors.Wrapf(err, "fetching Release.gpg for %s", suite)
	}
	fields, err := c.Verifier.Verify(ctx, c.Keyring, signature, release)
	if err != nil {
		return nil, errors.Wrapf(err, "verifying Release for %s", suite)
	}
	log.Print(gpgv.Report(distPath+"Release", fields))
	return &Suite{
		client:   c,
		host:     host,
		distPath: distPath,
		sums:     parseSHA256Section(release),
	}, nil
}

// Fetch returns the contents of a repository path relative to the suite's
// dists directory, verified against the release manifest's checksum.
func (s *Suite) Fetch(ctx context.Context, path string) ([]byte, error) {
	expected, ok := s.sums[path]
	if !ok {
		return nil, errors.Wrap(ErrNotInManifest, path)
	}
	contents, err := s.client.Cache.Get(ctx, s.host, s.distPath+path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(contents)
	if actual := hex.EncodeToString(sum[:]); actual != expected {
		return nil, errors.Errorf("checksum mismatch for %s: want %s, got %s", path, expected, actual)
	}
	return contents, nil
}

// parseSHA256Section extracts the checksum map from a release manifest. The
// section opens with a literal "SHA256:" line; each member line is indented
// and reads "<sha256> <size> <path>". The first unindented line ends it.
func parseSHA256Section(release []byte) map[string]string {
	sums := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(release))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		if sc.Text() == "SHA256:" {
			break
		}
	}
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, " ") {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		sums[fields[2]] = fields[0]
	}
	return sums
}
