// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeDefinition(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadDefinition(t *testing.T) {
	dir := writeDefinition(t, "trixie.json",
		`{"keyring": "debian", "archive_url": "http://deb.debian.org/debian/", "suites": ["trixie", "trixie-updates"]}`)
	got, err := LoadDefinition(dir, "trixie")
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}
	want := &Definition{
		Architecture: "amd64",
		Keyring:      "debian",
		ArchiveURL:   "http://deb.debian.org/debian/",
		Suites:       []string{"trixie", "trixie-updates"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefinitionExplicitArchitecture(t *testing.T) {
	dir := writeDefinition(t, "ports.json",
		`{"architecture": "arm64", "keyring": "debian", "archive_url": "http://m/", "suites": ["sid"]}`)
	got, err := LoadDefinition(dir, "ports")
	if err != nil {
		t.Fatal(err)
	}
	if got.Architecture != "arm64" {
		t.Errorf("architecture = %q, want arm64", got.Architecture)
	}
}

func TestLoadDefinitionRejectsPathCharacters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../etc/passwd", "a/b", "x.json", "."} {
		if _, err := LoadDefinition(dir, name); err == nil {
			t.Errorf("LoadDefinition(%q) succeeded, want rejection", name)
		}
	}
}

func TestLoadDefinitionValidatesRequiredFields(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
	}{
		{"missing keyring", `{"archive_url": "http://m/", "suites": ["x"]}`},
		{"missing archive_url", `{"keyring": "k", "suites": ["x"]}`},
		{"empty suites", `{"keyring": "k", "archive_url": "http://m/", "suites": []}`},
		{"unknown field", `{"keyring": "k", "archive_url": "http://m/", "suites": ["x"], "mirror": "y"}`},
		{"malformed", `{`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeDefinition(t, "bad.json", tc.contents)
			if _, err := LoadDefinition(dir, "bad"); err == nil {
				t.Error("invalid definition accepted")
			}
		})
	}
}

func TestRenderInit(t *testing.T) {
	script := RenderInit("http://deb.debian.org/debian/", []string{"trixie", "trixie-updates"})
	wantLines := []string{
		"echo deb http://deb.debian.org/debian/ trixie main >> /etc/apt/sources.list\n",
		"echo deb http://deb.debian.org/debian/ trixie-updates main >> /etc/apt/sources.list\n",
	}
	for _, line := range wantLines {
		if !strings.Contains(script, line) {
			t.Errorf("rendered init is missing %q", line)
		}
	}
	if !strings.HasPrefix(script, "#!/bin/bash\n") {
		t.Error("rendered init does not start with the second stage")
	}
	if !strings.Contains(script, "passwd -d root") {
		t.Error("rendered init does not end with the third stage")
	}
	if strings.Index(script, "dpkg --configure -a") > strings.Index(script, "echo deb ") {
		t.Error("sources lines must come after package configuration")
	}
}
