// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package gpgv verifies detached signatures by driving the external gpgv
// binary and parsing its machine-readable status stream.
package gpgv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const statusPrefix = "[GNUPG:] "

var (
	// ErrNotInstalled distinguishes a missing gpgv binary from a failed
	// verification so operators can install it and retry.
	ErrNotInstalled = errors.New("gpgv binary not found")
	// ErrBadSignature means gpgv ran but no signature satisfied the
	// GOODSIG+VALIDSIG requirement.
	ErrBadSignature = errors.New("signature verification failed")
)

// Verifier runs gpgv against keyrings stored under KeyringDir as
// <KeyringDir>/<name>.gpg.
type Verifier struct {
	KeyringDir string
}

// Verify checks the detached signature over contents using the named keyring.
// On success it returns the status fields of the accepted signature.
func (v *Verifier) Verify(ctx context.Context, keyring string, signature, contents []byte) (map[string]string, error) {
	sigR, sigW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating signature pipe")
	}
	defer sigR.Close()
	defer sigW.Close()
	contR, contW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating content pipe")
	}
	defer contR.Close()
	defer contW.Close()

	cmd := exec.CommandContext(ctx, "gpgv",
		"-q",
		"--status-fd", "1",
		"--keyring", filepath.Join(v.KeyringDir, keyring+".gpg"),
		"/dev/fd/3",
		"/dev/fd/4",
	)
	// ExtraFiles land at fd 3 and 4 in the child.
	cmd.ExtraFiles = []*os.File{sigR, contR}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating status pipe")
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ErrNotInstalled
		}
		return nil, errors.Wrap(err, "starting gpgv")
	}
	// The child owns its copies now; the read ends must close here so the
	// child sees EOF once the write ends close.
	sigR.Close()
	contR.Close()

	// Each write end closes as soon as its payload is written, before the
	// wait below, or the child would block forever on its reads.
	if _, err := sigW.Write(signature); err != nil {
		return nil, errors.Wrap(err, "writing signature")
	}
	sigW.Close()
	if _, err := contW.Write(contents); err != nil {
		return nil, errors.Wrap(err, "writing signed content")
	}
	contW.Close()

	fields, ok := ScanStatus(stdout)
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if ok {
		return fields, nil
	}
	if waitErr != nil {
		if _, isExit := waitErr.(*exec.ExitError); !isExit {
			return nil, errors.Wrap(waitErr, "gpgv crashed")
		}
	}
	return nil, ErrBadSignature
}

// ScanStatus consumes a gpgv status stream and returns the fields of the
// first signature satisfying the GOODSIG+VALIDSIG requirement.
//
// Fields accumulate per signature, keyed by opcode. At a NEWSIG boundary a
// satisfied accumulator wins immediately; otherwise it resets. The final
// accumulator is checked after the stream ends.
func ScanStatus(r io.Reader) (map[string]string, bool) {
	acc := make(map[string]string)
	satisfied := func() bool {
		_, good := acc["GOODSIG"]
		_, valid := acc["VALIDSIG"]
		return good && valid
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, statusPrefix) {
			continue
		}
		op := line[len(statusPrefix):]
		if op == "NEWSIG" {
			if satisfied() {
				return acc, true
			}
			acc = make(map[string]string)
			continue
		}
		opcode, rest, _ := strings.Cut(op, " ")
		acc[opcode] = rest
	}
	if satisfied() {
		return acc, true
	}
	return nil, false
}

// Report formats accepted signature fields the way operators expect to see
// them in the build log.
func Report(name string, fields map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From GPG for %q:\n", name)
	for k, v := range fields {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	return b.String()
}
