// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package diskcache stores fetched repository files on disk, keyed by host
// and path, revalidating them with conditional GETs.
package diskcache

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/debstrap/internal/httpx"
	"github.com/pkg/errors"
)

// Cache is an on-disk content store. Entry mtimes record the server Date of
// the fetch that produced them and drive If-Modified-Since revalidation.
type Cache struct {
	Root    string
	Fetcher *httpx.Fetcher
}

func New(root string, f *httpx.Fetcher) *Cache {
	return &Cache{Root: root, Fetcher: f}
}

// Path returns the on-disk location for host+path.
func (c *Cache) Path(host, path string) string {
	return filepath.Join(c.Root, host, filepath.FromSlash(path))
}

// Get fetches http://<host><path>, serving from disk when the server reports
// the cached copy is still current.
func (c *Cache) Get(ctx context.Context, host, path string) ([]byte, error) {
	destination := c.Path(host, path)
	header := http.Header{}
	if st, err := os.Stat(destination); err == nil {
		header.Set("If-Modified-Since", st.ModTime().UTC().Format(http.TimeFormat))
	}

	resp, err := c.Fetcher.Fetch(ctx, host, path, header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	log.Printf("HTTP %d for %s%s", resp.StatusCode, host, path)

	if resp.StatusCode == http.StatusNotModified {
		io.Copy(io.Discard, resp.Body)
		return os.ReadFile(destination)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s%s", host, path)
	}
	if err := c.store(destination, body, resp.Header.Get("Date")); err != nil {
		return nil, err
	}
	return body, nil
}

// store writes body under destination atomically and stamps it with the
// server date so later runs can revalidate.
func (c *Cache) store(destination string, body []byte, date string) error {
	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return errors.Wrap(err, "creating cache temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing cache temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing cache temp file")
	}
	if err := os.Rename(tmp.Name(), destination); err != nil {
		return errors.Wrap(err, "installing cache file")
	}
	mtime := time.Now()
	if t, err := http.ParseTime(date); err == nil {
		mtime = t
	}
	if err := os.Chtimes(destination, mtime, mtime); err != nil {
		return errors.Wrap(err, "setting cache mtime")
	}
	return nil
}
