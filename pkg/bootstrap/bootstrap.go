// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap orchestrates a full image build: index resolution,
// package download and unpack, tar emission, the in-container second stage,
// and the determinism-restoring export filter.
package bootstrap

import (
	"bufio"
	"context"
	"io"
	"log"
	"maps"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/debstrap/internal/container"
	"github.com/google/debstrap/internal/diskcache"
	"github.com/google/debstrap/internal/gpgv"
	"github.com/google/debstrap/internal/httpx"
	"github.com/google/debstrap/pkg/archive"
	"github.com/google/debstrap/pkg/deb"
	"github.com/google/debstrap/pkg/registry/debian"
	"github.com/google/debstrap/pkg/rootfs"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Builder holds the invocation-scoped locations every stage shares.
type Builder struct {
	CacheRoot  string
	KeyringDir string
	Runtime    *container.Runtime
	OutputPath string
}

// Build produces the image for a definition and returns the hex sha256 of
// the final tar.
func (b *Builder) Build(ctx context.Context, def *Definition) (string, error) {
	archiveURL, err := url.Parse(def.ArchiveURL)
	if err != nil {
		return "", errors.Wrap(err, "parsing archive_url")
	}
	fetcher := httpx.NewFetcher()
	client := &debian.Client{
		Cache:    diskcache.New(b.CacheRoot, fetcher),
		Verifier: &gpgv.Verifier{KeyringDir: b.KeyringDir},
		Keyring:  def.Keyring,
	}

	index, err := fetchIndexes(ctx, client, archiveURL, def)
	if err != nil {
		return "", err
	}

	log.Print("Evaluating packages to download")
	packages := debian.Resolve(index)

	log.Print("Creating filesystem")
	fs := rootfs.New()
	if err := fs.File("init", []byte(RenderInit(def.ArchiveURL, def.Suites)), 0o755); err != nil {
		return "", err
	}
	if err := fs.SeedUsrMerge(); err != nil {
		return "", err
	}
	if err := b.populate(ctx, fs, archiveURL, packages); err != nil {
		return "", err
	}

	log.Printf("Writing image to %s import", b.Runtime.Binary)
	imageID, err := b.Runtime.Import(ctx, func(w io.Writer) error {
		hw := archive.NewHashWriter(w)
		if err := archive.WriteTar(hw, fs.Entries()); err != nil {
			return err
		}
		log.Printf("SHA256 sent to %s: %s", b.Runtime.Binary, hw.HexDigest())
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Print("Running container for second stage installation")
	containerID, err := b.Runtime.RunInit(ctx, imageID)
	if err != nil {
		return "", err
	}

	log.Printf("Running %s export and performing output filtering", b.Runtime.Binary)
	return b.export(ctx, fs, containerID)
}

// fetchIndexes loads the package index of every suite concurrently and
// merges them in suite order, so records from later suites win.
func fetchIndexes(ctx context.Context, client *debian.Client, archiveURL *url.URL, def *Definition) (map[string]debian.Package, error) {
	indexes := make([]map[string]debian.Package, len(def.Suites))
	eg, ctx := errgroup.WithContext(ctx)
	for i, suite := range def.Suites {
		eg.Go(func() error {
			s, err := client.Suite(ctx, archiveURL.Host, archiveURL.Path, suite)
			if err != nil {
				return err
			}
			indexes[i], err = s.Packages(ctx, def.Architecture)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	merged := make(map[string]debian.Package)
	for _, index := range indexes {
		maps.Copy(merged, index)
	}
	return merged, nil
}

// populate downloads every package and unpacks each one into the filesystem
// model as it completes. Downloads run in parallel; the model is fed from
// this goroutine only.
func (b *Builder) populate(ctx context.Context, fs *rootfs.Filesystem, archiveURL *url.URL, packages []debian.Package) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	downloader := &debian.Downloader{
		CacheRoot:   b.CacheRoot,
		Fetcher:     httpx.NewFetcher(),
		Host:        archiveURL.Host,
		ArchivePath: archiveURL.Path,
	}
	paths, wait := downloader.Fetch(ctx, packages)
	var unpackErr error
	for path := range paths {
		if unpackErr != nil {
			continue // drain remaining completions after a failure
		}
		if unpackErr = b.unpack(path, fs); unpackErr != nil {
			cancel()
		}
	}
	waitErr := wait()
	if unpackErr != nil {
		return unpackErr
	}
	return waitErr
}

func (b *Builder) unpack(path string, fs *rootfs.Filesystem) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	if err := deb.Unpack(f, fs.Add); err != nil {
		return errors.Wrapf(err, "unpacking %s", path)
	}
	return nil
}

// export filters the runtime's export stream into the final tar, installed
// atomically at OutputPath, and returns its digest.
func (b *Builder) export(ctx context.Context, fs *rootfs.Filesystem, containerID string) (string, error) {
	dir := filepath.Dir(b.OutputPath)
	tmp, err := os.CreateTemp(dir, ".root-*.tar")
	if err != nil {
		return "", errors.Wrap(err, "creating output temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	var digest string
	err = b.Runtime.Export(ctx, containerID, func(r io.Reader) error {
		bw := bufio.NewWriter(tmp)
		hw := archive.NewHashWriter(bw)
		if err := archive.FilterExport(r, hw, fs); err != nil {
			return err
		}
		digest = hw.HexDigest()
		return bw.Flush()
	})
	if err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "closing output temp file")
	}
	if err := os.Rename(tmp.Name(), b.OutputPath); err != nil {
		return "", errors.Wrap(err, "installing output file")
	}
	return digest, nil
}
