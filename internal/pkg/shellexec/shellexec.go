// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package shellexec is the single gateway through which the builder and
// validator run commands, both on the host and inside a running container.
// It never surfaces a nonzero exit code or a timeout as a Go error: callers
// inspect Result instead, matching the classify-don't-raise style of the
// Python implementation this module replaces.
package shellexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"

	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// Result is the outcome of a single command execution.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	TimedOut bool
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

// stripANSI removes color/cursor escape sequences so that log persistence
// and parse_log-style scanning never have to deal with them.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// decode replaces invalid UTF-8 byte sequences with the Unicode replacement
// character, mirroring Python's str.decode("utf-8", errors="replace").
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// Run executes cmd on the host, in cwd, killing the process group if it
// exceeds timeout. A nonzero exit status and a timeout are both reported
// through Result rather than as an error; err is reserved for gateway
// failures such as an unresolvable binary.
func Run(ctx context.Context, cmd []string, cwd string, timeout time.Duration) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, errors.New("shellexec: empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd[0], cmd[1:]...)
	c.Dir = cwd
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr, combined bytes.Buffer
	c.Stdout = io.MultiWriter(&stdout, &combined)
	c.Stderr = io.MultiWriter(&stderr, &combined)

	runErr := c.Run()

	res := Result{
		Stdout:   stripANSI(decode(stdout.Bytes())),
		Stderr:   stripANSI(decode(stderr.Bytes())),
		Combined: stripANSI(decode(combined.Bytes())),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		sylog.Debugf("shellexec: command %v timed out after %s", cmd, timeout)
		return res, nil
	}

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if runErr != nil {
		return res, errors.Wrapf(runErr, "shellexec: running %v", cmd)
	}

	return res, nil
}

// ExecInContainer runs cmd inside containerID via the docker exec API,
// streaming combined stdout/stderr. If the command does not finish within
// timeout, the exec's process is sent SIGTERM on a best-effort basis and
// timedOut is reported true (with exitCode meaningless); the container
// itself is left running. exitCode is fetched via ContainerExecInspect
// once the exec has finished, mirroring exec_run(...).exit_code in the
// Python implementation this module replaces — callers that need to know
// whether cmd actually succeeded must check it, since a zero Go error
// only means the exec API call itself didn't fail.
func ExecInContainer(ctx context.Context, cli *client.Client, containerID string, cmd []string, timeout time.Duration) (output string, exitCode int, timedOut bool, err error) {
	execCfg := types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		WorkingDir:   "/testbed",
	}

	created, err := cli.ContainerExecCreate(ctx, containerID, execCfg)
	if err != nil {
		return "", 0, false, errors.Wrap(err, "shellexec: creating container exec")
	}

	attach, err := cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return "", 0, false, errors.Wrap(err, "shellexec: attaching to container exec")
	}
	defer attach.Close()

	type readResult struct {
		buf bytes.Buffer
		err error
	}
	done := make(chan readResult, 1)

	go func() {
		var rr readResult
		_, copyErr := stdcopy.StdCopy(&rr.buf, &rr.buf, attach.Reader)
		rr.err = copyErr
		done <- rr
	}()

	var timer *time.Timer
	var timerCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timerCh = timer.C
		defer timer.Stop()
	}

	select {
	case rr := <-done:
		if rr.err != nil {
			return "", 0, false, errors.Wrap(rr.err, "shellexec: reading container exec output")
		}
		insp, err := cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return "", 0, false, errors.Wrap(err, "shellexec: inspecting finished container exec")
		}
		return stripANSI(decode(rr.buf.Bytes())), insp.ExitCode, false, nil
	case <-timerCh:
		killExecProcess(ctx, cli, created.ID)
		sylog.Debugf("shellexec: exec %s in container %s timed out after %s", created.ID, containerID, timeout)
		return "", 0, true, nil
	case <-ctx.Done():
		return "", 0, false, ctx.Err()
	}
}

// killExecProcess is best-effort: failure to kill a runaway process is
// logged but never surfaced, matching validator.py's bare except.
func killExecProcess(ctx context.Context, cli *client.Client, execID string) {
	insp, err := cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		sylog.Debugf("shellexec: inspecting timed-out exec %s: %v", execID, err)
		return
	}
	if insp.Pid == 0 {
		return
	}

	killCfg := types.ExecConfig{
		Cmd:    []string{"kill", "-TERM", fmt.Sprintf("%d", insp.Pid)},
		Detach: true,
	}
	killExec, err := cli.ContainerExecCreate(ctx, insp.ContainerID, killCfg)
	if err != nil {
		sylog.Debugf("shellexec: creating kill exec for pid %d: %v", insp.Pid, err)
		return
	}
	if err := cli.ContainerExecStart(ctx, killExec.ID, types.ExecStartCheck{Detach: true}); err != nil {
		sylog.Debugf("shellexec: starting kill exec for pid %d: %v", insp.Pid, err)
	}
}
