// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mtimeMap map[string]int64

func (m mtimeMap) Mtime(name string) (int64, bool) {
	mtime, ok := m[name]
	return mtime, ok
}

// exportStream builds a tar the way a runtime export would look, complete
// with end-of-archive marker.
func exportStream(t *testing.T, entries []*TarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		e.Format = tar.FormatUSTAR
		if err := e.WriteTo(tw); err != nil {
			t.Fatalf("building export stream: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type exportedEntry struct {
	Name     string
	Mtime    int64
	Linkname string
	Body     string
}

func readFiltered(t *testing.T, stream []byte) []exportedEntry {
	t.Helper()
	var out []exportedEntry
	tr := tar.NewReader(bytes.NewReader(stream))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("reading filtered tar: %v", err)
		}
		body, _ := io.ReadAll(tr)
		out = append(out, exportedEntry{hdr.Name, hdr.ModTime.Unix(), hdr.Linkname, string(body)})
	}
}

func TestFilterExportRestoresMtimes(t *testing.T) {
	stream := exportStream(t, []*TarEntry{
		{
			Header: &tar.Header{Name: "usr/bin/tool", Typeflag: tar.TypeReg, Mode: 0o755, Size: 4, ModTime: time.Unix(1700000000, 0)},
			Body:   []byte("tool"),
		},
		{
			Header: &tar.Header{Name: "etc/generated", Typeflag: tar.TypeReg, Mode: 0o644, Size: 3, ModTime: time.Unix(1700000000, 0)},
			Body:   []byte("gen"),
		},
	})
	var buf bytes.Buffer
	if err := FilterExport(bytes.NewReader(stream), &buf, mtimeMap{"usr/bin/tool": 12345}); err != nil {
		t.Fatalf("FilterExport: %v", err)
	}
	got := readFiltered(t, buf.Bytes())
	want := []exportedEntry{
		{Name: "usr/bin/tool", Mtime: 12345, Body: "tool"},
		{Name: "etc/generated", Mtime: 0, Body: "gen"},
		{Name: "etc/resolv.conf", Mtime: 0, Linkname: "/run/systemd/resolve/stub-resolv.conf"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered entries mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterExportDropsRuntimeInjectedFiles(t *testing.T) {
	stream := exportStream(t, []*TarEntry{
		{Header: &tar.Header{Name: ".dockerenv", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: time.Unix(0, 0)}},
		{
			Header: &tar.Header{Name: "etc/resolv.conf", Typeflag: tar.TypeReg, Mode: 0o644, Size: 10, ModTime: time.Unix(0, 0)},
			Body:   []byte("nameserver"),
		},
		{
			Header: &tar.Header{Name: "etc/hostname", Typeflag: tar.TypeReg, Mode: 0o644, Size: 4, ModTime: time.Unix(0, 0)},
			Body:   []byte("host"),
		},
	})
	var buf bytes.Buffer
	if err := FilterExport(bytes.NewReader(stream), &buf, mtimeMap{}); err != nil {
		t.Fatalf("FilterExport: %v", err)
	}
	got := readFiltered(t, buf.Bytes())
	want := []exportedEntry{
		{Name: "etc/hostname", Body: "host"},
		{Name: "etc/resolv.conf", Linkname: "/run/systemd/resolve/stub-resolv.conf"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filtered entries mismatch (-want +got):\n%s", diff)
	}
}

func TestFilterExportEndsWithZeroBlocks(t *testing.T) {
	stream := exportStream(t, []*TarEntry{
		{Header: &tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: time.Unix(0, 0)}},
	})
	var buf bytes.Buffer
	if err := FilterExport(bytes.NewReader(stream), &buf, mtimeMap{}); err != nil {
		t.Fatal(err)
	}
	out := buf.Bytes()
	if len(out)%blockSize != 0 {
		t.Fatalf("output length %d not block-aligned", len(out))
	}
	trailer := out[len(out)-2*blockSize:]
	if !isZeroBlock(trailer[:blockSize]) || !isZeroBlock(trailer[blockSize:]) {
		t.Error("output does not end with two zero blocks")
	}
}

func TestFilterExportIsHashable(t *testing.T) {
	stream := exportStream(t, []*TarEntry{
		{Header: &tar.Header{Name: "f", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: time.Unix(7, 0)}},
	})
	var first, second bytes.Buffer
	hw1 := NewHashWriter(&first)
	if err := FilterExport(bytes.NewReader(stream), hw1, mtimeMap{"f": 7}); err != nil {
		t.Fatal(err)
	}
	hw2 := NewHashWriter(&second)
	if err := FilterExport(bytes.NewReader(stream), hw2, mtimeMap{"f": 7}); err != nil {
		t.Fatal(err)
	}
	if hw1.HexDigest() != hw2.HexDigest() {
		t.Error("identical inputs produced different digests")
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("identical inputs produced different bytes")
	}
}

func TestPatchMtimeKeepsHeaderReadable(t *testing.T) {
	stream := exportStream(t, []*TarEntry{
		{Header: &tar.Header{Name: "x", Typeflag: tar.TypeReg, Mode: 0o644, ModTime: time.Unix(999999, 0)}},
	})
	block := make([]byte, blockSize)
	copy(block, stream[:blockSize])
	if err := patchMtime(block, 424242); err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(io.MultiReader(bytes.NewReader(block), bytes.NewReader(stream[blockSize:])))
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("patched header unreadable: %v", err)
	}
	if hdr.ModTime.Unix() != 424242 {
		t.Errorf("mtime = %d, want 424242", hdr.ModTime.Unix())
	}
}

func TestRoundUpBlock(t *testing.T) {
	testCases := []struct{ in, want int64 }{
		{0, 0}, {1, 512}, {511, 512}, {512, 512}, {513, 1024},
	}
	for _, tc := range testCases {
		if got := roundUpBlock(tc.in); got != tc.want {
			t.Errorf("roundUpBlock(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
