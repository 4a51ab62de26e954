// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package debian

import (
	"log"
	"math/rand"
)

// virtualizationSeeds are installed beyond the Priority: required set so the
// image boots as a VM guest: init system, kernel, device management, and the
// package manager toolchain for in-container configuration.
var virtualizationSeeds = []string{"apt", "gpgv", "systemd", "linux-image-virtual", "udev"}

// Resolve computes the transitive closure of packages to install: every
// record with Priority required, the virtualization seeds, and everything
// they depend on. Names without an index record are skipped silently —
// they are usually virtual packages another member of the closure provides.
//
// The result order is randomized to spread load across mirror backends;
// nothing downstream depends on it.
func Resolve(index map[string]Package) []Package {
	unprocessed := make(map[string]bool)
	for name, pkg := range index {
		if pkg.Priority == "required" {
			unprocessed[name] = true
		}
	}
	for _, name := range virtualizationSeeds {
		unprocessed[name] = true
	}

	required := make(map[string]bool)
	for len(unprocessed) > 0 {
		var name string
		for name = range unprocessed {
			break
		}
		delete(unprocessed, name)

		pkg, ok := index[name]
		if !ok {
			continue
		}
		required[name] = true
		for _, dep := range append(append([]string{}, pkg.Depends...), pkg.PreDepends...) {
			if required[dep] || unprocessed[dep] {
				continue
			}
			log.Printf("Adding dependency %s from %s", dep, name)
			unprocessed[dep] = true
		}
	}

	ret := make([]Package, 0, len(required))
	for name := range required {
		ret = append(ret, index[name])
	}
	rand.Shuffle(len(ret), func(i, j int) {
		ret[i], ret[j] = ret[j], ret[i]
	})
	return ret
}
