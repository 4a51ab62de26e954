// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/debstrap/internal/httpx"
	"github.com/google/debstrap/internal/httpx/httpxtest"
)

func testPackage(name, filename, contents string) Package {
	return Package{Name: name, Filename: filename, SHA256: hexDigest([]byte(contents))}
}

func collect(t *testing.T, d *Downloader, packages []Package) ([]string, error) {
	t.Helper()
	paths, wait := d.Fetch(context.Background(), packages)
	var got []string
	for p := range paths {
		got = append(got, p)
	}
	return got, wait()
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	m := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{URL: "http://m/debian/pool/main/a/apt/apt.deb", Response: resp(200, []byte("deb contents"))},
		},
		URLValidator: httpxtest.NewURLValidator(t),
	}
	d := &Downloader{
		CacheRoot:   t.TempDir(),
		Fetcher:     &httpx.Fetcher{Client: m},
		Host:        "m",
		ArchivePath: "/debian/",
	}
	got, err := collect(t, d, []Package{testPackage("apt", "pool/main/a/apt/apt.deb", "deb contents")})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("emitted %d paths, want 1", len(got))
	}
	contents, err := os.ReadFile(got[0])
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(contents) != "deb contents" {
		t.Errorf("downloaded contents = %q", contents)
	}
	want := filepath.Join(d.CacheRoot, "m", "debian", "pool", "main", "a", "apt", "apt.deb")
	if got[0] != want {
		t.Errorf("destination = %q, want %q", got[0], want)
	}
}

func TestFetchRejectsCorruptedDownload(t *testing.T) {
	m := &httpxtest.MockClient{
		Calls: []httpxtest.Call{
			{Response: resp(200, []byte("tampered"))},
		},
		SkipURLValidation: true,
	}
	d := &Downloader{
		CacheRoot:   t.TempDir(),
		Fetcher:     &httpx.Fetcher{Client: m},
		Host:        "m",
		ArchivePath: "/debian/",
	}
	_, err := collect(t, d, []Package{testPackage("apt", "pool/apt.deb", "expected")})
	if err == nil {
		t.Fatal("Fetch accepted a corrupted download")
	}
	// The partial temp file must never land under the destination name.
	if _, statErr := os.Stat(filepath.Join(d.CacheRoot, "m", "debian", "pool", "apt.deb")); !os.IsNotExist(statErr) {
		t.Error("corrupted download appeared under the final name")
	}
}

func TestFetchSkipsExistingDestination(t *testing.T) {
	root := t.TempDir()
	destination := filepath.Join(root, "m", "debian", "pool", "apt.deb")
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		t.Fatal(err)
	}
	// Contents deliberately differ from the record's digest: cached files
	// are trusted from their first store.
	if err := os.WriteFile(destination, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := &httpxtest.MockClient{SkipURLValidation: true}
	d := &Downloader{
		CacheRoot:   root,
		Fetcher:     &httpx.Fetcher{Client: m},
		Host:        "m",
		ArchivePath: "/debian/",
	}
	got, err := collect(t, d, []Package{testPackage("apt", "pool/apt.deb", "never fetched")})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || got[0] != destination {
		t.Fatalf("paths = %v, want the existing destination", got)
	}
	if m.CallCount() != 0 {
		t.Errorf("network used for a cached package: %d calls", m.CallCount())
	}
}

// stubClient serves one fixed body to any number of concurrent requests.
type stubClient struct {
	body string
}

func (c *stubClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       httpxtest.Body(c.body),
		Request:    req,
	}, nil
}

func TestFetchEmitsAllPackages(t *testing.T) {
	contents := "shared deb contents"
	var packages []Package
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		packages = append(packages, testPackage(n, "pool/"+n+".deb", contents))
	}
	d := &Downloader{
		CacheRoot:   t.TempDir(),
		Fetcher:     &httpx.Fetcher{Client: &stubClient{body: contents}},
		Host:        "m",
		ArchivePath: "/debian/",
	}
	got, err := collect(t, d, packages)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != len(packages) {
		t.Errorf("emitted %d paths, want %d", len(got), len(packages))
	}
}
