// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func names(packages []Package) []string {
	var out []string
	for _, p := range packages {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}

func TestResolveSeedsRequiredAndVirtualization(t *testing.T) {
	index := map[string]Package{
		"base-files": {Name: "base-files", Priority: "required"},
		"apt":        {Name: "apt", Priority: "important"},
		"gpgv":       {Name: "gpgv", Priority: "optional"},
		"systemd":    {Name: "systemd", Priority: "optional"},
		"vim":        {Name: "vim", Priority: "optional"},
	}
	got := names(Resolve(index))
	want := []string{"apt", "base-files", "gpgv", "systemd"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFollowsDependsAndPreDepends(t *testing.T) {
	index := map[string]Package{
		"apt":    {Name: "apt", Depends: []string{"libc6"}, PreDepends: []string{"libgcc-s1"}},
		"libc6":  {Name: "libc6", Depends: []string{"libgcc-s1"}},
		"libgcc-s1": {Name: "libgcc-s1"},
		"unrelated": {Name: "unrelated", Priority: "optional"},
	}
	got := names(Resolve(index))
	want := []string{"apt", "libc6", "libgcc-s1"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveSkipsUnknownNames(t *testing.T) {
	index := map[string]Package{
		"apt": {Name: "apt", Depends: []string{"awareness"}},
	}
	got := names(Resolve(index))
	want := []string{"apt"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTerminatesOnCycles(t *testing.T) {
	index := map[string]Package{
		"apt":   {Name: "apt", Depends: []string{"libc6"}},
		"libc6": {Name: "libc6", Depends: []string{"apt"}},
	}
	got := names(Resolve(index))
	want := []string{"apt", "libc6"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("closure mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveOrderIsIrrelevantToMembership(t *testing.T) {
	index := map[string]Package{
		"apt":  {Name: "apt", Depends: []string{"dash"}},
		"dash": {Name: "dash", Priority: "required"},
	}
	first := names(Resolve(index))
	second := names(Resolve(index))
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("closure membership varies between runs (-first +second):\n%s", diff)
	}
}
