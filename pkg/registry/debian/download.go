// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb"
	"github.com/google/debstrap/internal/httpx"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// concurrentDownloads bounds the download worker pool.
const concurrentDownloads = 8

// Downloader fetches package artifacts into the on-disk cache tree at
// <CacheRoot>/<Host>/<ArchivePath>/<Filename>.
type Downloader struct {
	CacheRoot   string
	Fetcher     *httpx.Fetcher
	Host        string
	ArchivePath string
}

// Fetch downloads every package with bounded parallelism and sends local
// destination paths on the returned channel in completion order, not
// submission order. The returned wait function reports the first failure
// after the channel closes.
//
// A destination that already exists is emitted as-is without re-verifying
// its digest; its content was verified by the run that stored it.
func (d *Downloader) Fetch(ctx context.Context, packages []Package) (<-chan string, func() error) {
	out := make(chan string)
	done := make(chan error, 1)

	bar := pb.New(len(packages))
	bar.Output = os.Stderr
	bar.Start()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrentDownloads)
	go func() {
		for _, pkg := range packages {
			eg.Go(func() error {
				destination, err := d.fetchOne(ctx, pkg)
				if err != nil {
					return err
				}
				bar.Increment()
				select {
				case out <- destination:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		err := eg.Wait()
		bar.Finish()
		close(out)
		done <- err
	}()
	return out, func() error { return <-done }
}

func (d *Downloader) fetchOne(ctx context.Context, pkg Package) (string, error) {
	url := d.ArchivePath + pkg.Filename
	destination := filepath.Join(d.CacheRoot, d.Host, filepath.FromSlash(url))
	if _, err := os.Stat(destination); err == nil {
		log.Printf("Destination %s already exists. Skipping.", destination)
		return destination, nil
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return "", errors.Wrap(err, "creating package directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(destination), ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "creating download temp file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	resp, err := d.Fetcher.Fetch(ctx, d.Host, url, nil)
	if err != nil {
		return "", errors.Wrapf(err, "downloading %s", pkg.Name)
	}
	defer resp.Body.Close()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		return "", errors.Wrapf(err, "downloading %s", pkg.Name)
	}
	if digest := hex.EncodeToString(hasher.Sum(nil)); digest != pkg.SHA256 {
		return "", errors.Errorf("corrupted download of %s: want %s, got %s", pkg.Name, pkg.SHA256, digest)
	}

	// Hard-linking the verified temp file means a partial download can
	// never appear under the final name.
	if err := os.Link(tmp.Name(), destination); err != nil {
		return "", errors.Wrapf(err, "installing %s", pkg.Name)
	}
	log.Printf("Downloaded %s", destination)
	return destination, nil
}
