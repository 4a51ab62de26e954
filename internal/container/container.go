// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package container drives an external docker-compatible runtime to run the
// in-container configuration stage over an imported image.
package container

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Runtime wraps a container runtime binary exposing the import/create/
// start/export command surface.
type Runtime struct {
	Binary string
}

func New(binary string) *Runtime {
	return &Runtime{Binary: binary}
}

// Import streams a tar produced by the callback into `import -` and returns
// the resulting image id.
func (r *Runtime) Import(ctx context.Context, stream func(io.Writer) error) (string, error) {
	cmd := exec.CommandContext(ctx, r.Binary, "import", "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", errors.Wrap(err, "creating import pipe")
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return "", errors.Wrapf(err, "starting %s import", r.Binary)
	}
	streamErr := stream(stdin)
	stdin.Close()
	waitErr := cmd.Wait()
	if streamErr != nil {
		return "", streamErr
	}
	if waitErr != nil {
		return "", errors.Wrapf(waitErr, "%s import failed", r.Binary)
	}
	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", errors.Errorf("%s import returned no image id", r.Binary)
	}
	return id, nil
}

// RunInit creates a container with networking disabled, runs /init in it,
// and returns the container id. Combined output is buffered and replayed to
// stderr only when the stage fails; a clean run stays quiet.
func (r *Runtime) RunInit(ctx context.Context, imageID string) (string, error) {
	out, err := exec.CommandContext(ctx, r.Binary, "create", "--net=none", imageID, "/init").Output()
	if err != nil {
		return "", errors.Wrapf(err, "%s create failed", r.Binary)
	}
	containerID := strings.TrimSpace(string(out))

	start := exec.CommandContext(ctx, r.Binary, "start", "-a", containerID)
	var buf bytes.Buffer
	start.Stdout = &buf
	start.Stderr = &buf
	if err := start.Run(); err != nil {
		os.Stderr.Write(buf.Bytes())
		return "", errors.Wrap(err, "container failed")
	}
	return containerID, nil
}

// Export runs `export <container>` and hands the tar stream to the consumer.
func (r *Runtime) Export(ctx context.Context, containerID string, consume func(io.Reader) error) error {
	cmd := exec.CommandContext(ctx, r.Binary, "export", containerID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "creating export pipe")
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting %s export", r.Binary)
	}
	consumeErr := consume(stdout)
	io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	if waitErr != nil {
		return errors.Wrapf(waitErr, "%s export failed", r.Binary)
	}
	return nil
}
