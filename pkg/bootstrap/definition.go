// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Definition selects what to build: which architecture, against which signed
// archive, and from which suites.
type Definition struct {
	Architecture string   `json:"architecture"`
	Keyring      string   `json:"keyring"`
	ArchiveURL   string   `json:"archive_url"`
	Suites       []string `json:"suites"`
}

// LoadDefinition reads <dir>/<name>.json. Names are bare identifiers; path
// separators and extensions are rejected before any file access.
func LoadDefinition(dir, name string) (*Definition, error) {
	if strings.ContainsAny(name, "./") {
		return nil, errors.Errorf("invalid definition name %q", name)
	}
	raw, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		return nil, errors.Wrapf(err, "reading definition %s", name)
	}
	def := &Definition{Architecture: "amd64"}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(def); err != nil {
		return nil, errors.Wrapf(err, "parsing definition %s", name)
	}
	if def.Keyring == "" {
		return nil, errors.Errorf("definition %s is missing keyring", name)
	}
	if def.ArchiveURL == "" {
		return nil, errors.Errorf("definition %s is missing archive_url", name)
	}
	if len(def.Suites) == 0 {
		return nil, errors.Errorf("definition %s has no suites", name)
	}
	return def, nil
}
