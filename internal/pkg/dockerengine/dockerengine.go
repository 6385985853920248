// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package dockerengine is the gateway through which the builder and
// validator talk to the container runtime: they depend on this package's
// narrower interface instead of the client directly. The one exception is
// the exec API, which internal/pkg/shellexec calls on the client obtained
// from RawClient.
package dockerengine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// logrusToSylog bridges the global logrus logger to sylog. Several of
// docker/docker's own transitive dependencies (containerd, moby/sys) log
// internally through logrus's package-level functions rather than
// returning errors, so without this every API call New makes could spray
// unrelated log lines straight to stderr instead of through sylog's
// level-gated writer.
func logrusToSylog() {
	logrus.SetOutput(sylog.Writer())
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
}

// Client wraps a docker/docker/client.Client with the narrow surface the
// builder and validator need.
type Client struct {
	api *client.Client
}

// New connects to the docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_TLS_VERIFY, ...), negotiating the API
// version against the daemon.
func New() (*Client, error) {
	logrusToSylog()

	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "dockerengine: connecting to docker daemon")
	}
	return &Client{api: api}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// ImageExists reports whether name is present locally.
func (c *Client) ImageExists(ctx context.Context, name string) (bool, error) {
	_, _, err := c.api.ImageInspectWithRaw(ctx, name)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "dockerengine: inspecting image %s", name)
}

// RemoveImage force-removes name. A not-found error is treated as success.
func (c *Client) RemoveImage(ctx context.Context, name string) error {
	_, err := c.api.ImageRemove(ctx, name, types.ImageRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errors.Wrapf(err, "dockerengine: removing image %s", name)
	}
	return nil
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// BuildError is returned by Build when the daemon reports an errorDetail
// chunk; BuildLog carries everything streamed before the failure.
type BuildError struct {
	Message  string
	BuildLog string
}

func (e *BuildError) Error() string {
	return "dockerengine: build failed: " + e.Message
}

// BuildFiles maps a path relative to the build context root to its
// content; Dockerfile must be present.
type BuildFiles map[string]string

// Build constructs a tar build context from files, submits it to the
// daemon tagged as imageName for platform, and returns the accumulated,
// ANSI-stripped build log. A daemon-reported build failure is returned as
// a *BuildError carrying the partial log, matching the Python SDK's
// docker.errors.BuildError semantics.
func (c *Client) Build(ctx context.Context, imageName string, files BuildFiles, platform string, noCache bool) (string, error) {
	buildContext, err := tarFiles(files)
	if err != nil {
		return "", errors.Wrap(err, "dockerengine: building tar context")
	}

	resp, err := c.api.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Remove:     true,
		ForceRemove: true,
		NoCache:    noCache,
		Platform:   platform,
	})
	if err != nil {
		return "", errors.Wrapf(err, "dockerengine: starting build of %s", imageName)
	}
	defer resp.Body.Close()

	return readBuildLog(resp.Body)
}

func tarFiles(files BuildFiles) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// readBuildLog decodes the daemon's streamed build response using the same
// jsonmessage.JSONMessage shape the docker CLI itself decodes build output
// into, ANSI-stripping each stream chunk as it accumulates.
func readBuildLog(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var buildLog string
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return buildLog, errors.Wrap(err, "dockerengine: decoding build output")
		}
		if msg.Error != nil {
			return buildLog, &BuildError{
				Message:  ansiEscape.ReplaceAllString(msg.Error.Message, ""),
				BuildLog: buildLog,
			}
		}
		if msg.Stream != "" {
			buildLog += ansiEscape.ReplaceAllString(msg.Stream, "")
		}
	}
	return buildLog, nil
}

// CreateContainerOptions configures ContainerCreate.
type CreateContainerOptions struct {
	Image    string
	Platform string
	Command  []string
}

// parsePlatform splits a "os/arch[/variant]" string, as produced by
// instancespec.Spec.PlatformString, into the *v1.Platform ContainerCreate
// expects. An empty or malformed string yields a nil platform, letting the
// daemon fall back to its own default.
func parsePlatform(platform string) *v1.Platform {
	parts := strings.Split(platform, "/")
	if len(parts) < 2 {
		return nil
	}
	p := &v1.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p
}

// CreateContainer creates a detached, long-lived container from opts and
// starts it, on the platform opts.Platform names so that a multi-arch host
// doesn't default to its own native architecture for a foreign-arch image.
func (c *Client) CreateContainer(ctx context.Context, opts CreateContainerOptions) (string, error) {
	cmd := opts.Command
	if len(cmd) == 0 {
		cmd = []string{"tail", "-f", "/dev/null"}
	}

	created, err := c.api.ContainerCreate(ctx, &container.Config{
		Image: opts.Image,
		Cmd:   cmd,
		Tty:   false,
	}, nil, nil, parsePlatform(opts.Platform), "")
	if err != nil {
		return "", errors.Wrapf(err, "dockerengine: creating container from %s", opts.Image)
	}

	if err := c.api.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return created.ID, errors.Wrapf(err, "dockerengine: starting container %s", created.ID)
	}
	return created.ID, nil
}

// StopAndRemoveContainer stops containerID with a short grace period then
// force-removes it. Failures are logged at debug level and never
// returned: this is the cleanup step registered via defer after every
// successful CreateContainer, and it must not mask an earlier error or
// panic unwinding through it.
func (c *Client) StopAndRemoveContainer(ctx context.Context, containerID string) {
	timeout := 10
	if err := c.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		sylog.Debugf("dockerengine: stopping container %s: %v", containerID, err)
	}
	if err := c.api.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		sylog.Debugf("dockerengine: removing container %s: %v", containerID, err)
	}
}

// RawClient exposes the underlying *client.Client to collaborators that
// need the full docker exec API surface (internal/pkg/shellexec).
func (c *Client) RawClient() *client.Client {
	return c.api
}

// Push uploads name to its registry, used by the build command's
// --push flag once a build (and, if requested, its validation) succeeds.
func (c *Client) Push(ctx context.Context, name string) error {
	rc, err := c.api.ImagePush(ctx, name, types.ImagePushOptions{})
	if err != nil {
		return errors.Wrapf(err, "dockerengine: pushing image %s", name)
	}
	defer rc.Close()
	_, err = readBuildLog(rc)
	return err
}
