// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package validator runs the two-step differential validation that
// decides whether an instance image actually reproduces and fixes its
// bug: pre-patch (the bug-revealing tests must fail, the stable tests
// must pass) and post-patch (both sets must pass, after the gold patch is
// applied).
package validator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/r2e-gym/r2e-docker/internal/pkg/dockerengine"
	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/shellexec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/template"
	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
)

// Validator runs the two-step validation against a running container built
// from an instance image.
type Validator struct {
	Engine  *dockerengine.Client
	Timeout time.Duration
}

func (v *Validator) timeout() time.Duration {
	if v.Timeout <= 0 {
		return 600 * time.Second
	}
	return v.Timeout
}

// TestStatus is the normalized outcome of one test id, as parsed from an
// eval run: "PASSED" or "FAILED" (ERROR is folded into FAILED).
type TestStatus string

const (
	StatusPassed TestStatus = "PASSED"
	StatusFailed TestStatus = "FAILED"
)

var (
	shortSummaryMarker = "short test summary info"
	statusLine         = regexp.MustCompile(`^(PASSED|FAILED|ERROR)\s+(\S+)`)
)

// ParseLog extracts {test_id: status} from raw eval output. It first
// looks for the region between the sentinel markers written by the eval
// script; if the start sentinel is absent, it falls back to the "short
// test summary info" section some test runners print on their own.
func ParseLog(raw string) map[string]TestStatus {
	cleaned := stripANSI(raw)
	lines := strings.Split(cleaned, "\n")

	var startIdx, endIdx = -1, -1
	for i, line := range lines {
		if strings.Contains(line, template.StartTestOutput) {
			startIdx = i + 1
		}
		if strings.Contains(line, template.EndTestOutput) {
			endIdx = i
			break
		}
	}

	if startIdx == -1 {
		for i, line := range lines {
			if strings.Contains(line, shortSummaryMarker) {
				startIdx = i + 1
				break
			}
		}
	}

	if startIdx == -1 {
		return nil
	}

	region := lines[startIdx:]
	if endIdx != -1 {
		region = lines[startIdx:endIdx]
	}

	results := make(map[string]TestStatus)
	for _, line := range region {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		m := statusLine.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		status, testID := m[1], m[2]
		if status == "ERROR" {
			status = "FAILED"
		}
		results[testID] = TestStatus(status)
	}

	return results
}

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*m")

func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// classify scores expected against results: wantPass=true requires
// StatusPassed to count correct, wantPass=false requires anything but
// StatusPassed. A test absent from results always counts wrong: absent on
// pre-patch means the bug can't be confirmed, absent on post-patch means
// the fix might have hidden the test.
func classify(expected map[string]struct{}, results map[string]TestStatus, wantPass bool, label string) (correct, wrong int, details []string) {
	for testID := range expected {
		status, ok := results[testID]
		switch {
		case !ok:
			wrong++
			details = append(details, fmt.Sprintf("%s missing: %s", label, testID))
		case (status == StatusPassed) == wantPass:
			correct++
		default:
			wrong++
			if wantPass {
				details = append(details, fmt.Sprintf("%s unexpectedly FAILED: %s", label, testID))
			} else {
				details = append(details, fmt.Sprintf("%s unexpectedly PASSED: %s", label, testID))
			}
		}
	}
	return correct, wrong, details
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// patchAttempt is one entry in the ordered fallback chain tried against
// the gold patch; {path} is substituted with the patch file path.
type patchAttempt struct {
	name    string
	command func(path string) []string
}

var patchAttempts = []patchAttempt{
	{
		name: "git apply",
		command: func(path string) []string {
			return []string{"bash", "-c", "cd /testbed && git apply -v " + path}
		},
	},
	{
		name: "git apply --reject",
		command: func(path string) []string {
			return []string{"bash", "-c", "cd /testbed && git apply -v --reject " + path}
		},
	},
	{
		name: "patch --fuzz=5",
		command: func(path string) []string {
			return []string{"bash", "-c", "cd /testbed && patch --batch --fuzz=5 -p1 -i " + path}
		},
	},
}

const maxPatchErrorLen = 500

func truncatePatchError(s string) string {
	if len(s) <= maxPatchErrorLen {
		return s
	}
	return s[:maxPatchErrorLen]
}

// writeScriptToContainer writes content to path inside containerID using
// a single heredoc exec call. The delimiter is randomly generated per
// call and quoted (<<'DELIM'), which disables all shell expansion inside
// the body, so no escaping of content is required regardless of what it
// contains.
func writeScriptToContainer(ctx context.Context, cli *dockerengine.Client, containerID, content, path string) error {
	delim, err := randomDelimiter()
	if err != nil {
		return errors.Wrap(err, "validator: generating heredoc delimiter")
	}

	script := fmt.Sprintf("cat <<'%s' > %s\n%s\n%s\nchmod +x %s", delim, path, content, delim, path)
	cmd := []string{"bash", "-c", script}

	_, _, timedOut, err := shellexec.ExecInContainer(ctx, cli.RawClient(), containerID, cmd, 60*time.Second)
	if err != nil {
		return errors.Wrapf(err, "validator: writing %s into container", path)
	}
	if timedOut {
		return errors.Errorf("validator: writing %s into container timed out", path)
	}
	return nil
}

func randomDelimiter() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "EOF_R2E_" + hex.EncodeToString(buf), nil
}

// Validate runs the two-step validation for spec against its built
// instance image. The container is always removed before Validate
// returns, including on every early-return error path.
func (v *Validator) Validate(ctx context.Context, spec *instancespec.Spec) (descriptor.ValidationResult, error) {
	d := spec.Descriptor
	f2p := toSet(d.FailToPass)
	p2p := toSet(d.PassToPass)

	if len(f2p) == 0 {
		return descriptor.ValidationResult{Passed: false, Reason: "no FAIL_TO_PASS tests defined"}, nil
	}

	containerID, err := v.Engine.CreateContainer(ctx, dockerengine.CreateContainerOptions{
		Image:    spec.InstanceKey(),
		Platform: spec.PlatformString(),
	})
	if err != nil {
		if containerID != "" {
			v.Engine.StopAndRemoveContainer(context.Background(), containerID)
		}
		return descriptor.ValidationResult{}, errors.Wrap(err, "validator: creating container")
	}
	defer v.Engine.StopAndRemoveContainer(context.Background(), containerID)

	evalScript := template.EvalScript(spec)
	if err := writeScriptToContainer(ctx, v.Engine, containerID, evalScript, "/root/eval.sh"); err != nil {
		return descriptor.ValidationResult{}, err
	}

	preOutput, _, preTimedOut, err := shellexec.ExecInContainer(ctx, v.Engine.RawClient(), containerID, []string{"bash", "/root/eval.sh"}, v.timeout())
	if err != nil {
		return descriptor.ValidationResult{}, errors.Wrap(err, "validator: running pre-patch eval")
	}
	if preTimedOut {
		return descriptor.ValidationResult{
			Passed: false,
			Reason: fmt.Sprintf("pre-patch eval timed out after %s", v.timeout()),
			PreRaw: fmt.Sprintf("TIMEOUT after %s", v.timeout()),
		}, nil
	}

	preResults := ParseLog(preOutput)
	if len(preResults) == 0 {
		return descriptor.ValidationResult{
			Passed: false,
			Reason: "could not parse pre-patch test output",
			PreRaw: preOutput,
		}, nil
	}

	preF2PCorrect, preF2PWrong, f2pDetails := classify(f2p, preResults, false, "PRE F2P")
	preP2PCorrect, preP2PWrong, p2pDetails := classify(p2p, preResults, true, "PRE P2P")
	details := append(f2pDetails, p2pDetails...)

	if preF2PWrong != 0 || preP2PWrong != 0 {
		var reasons []string
		if preF2PWrong != 0 {
			reasons = append(reasons, fmt.Sprintf("%d F2P tests did not fail pre-patch", preF2PWrong))
		}
		if preP2PWrong != 0 {
			reasons = append(reasons, fmt.Sprintf("%d P2P tests did not pass pre-patch", preP2PWrong))
		}
		return descriptor.ValidationResult{
			Passed:         false,
			Reason:         "step 1 (pre-patch) failed: " + strings.Join(reasons, "; "),
			PreF2PCorrect:  preF2PCorrect,
			PreF2PWrong:    preF2PWrong,
			PreP2PCorrect:  preP2PCorrect,
			PreP2PWrong:    preP2PWrong,
			PreRaw:         preOutput,
			Details:        details,
		}, nil
	}

	if d.Patch == "" {
		return descriptor.ValidationResult{
			Passed:        false,
			Reason:        "no gold patch available for step 2",
			PreF2PCorrect: preF2PCorrect,
			PreP2PCorrect: preP2PCorrect,
			PreRaw:        preOutput,
			Details:       details,
		}, nil
	}

	if err := writeScriptToContainer(ctx, v.Engine, containerID, d.Patch, "/tmp/gold_patch.diff"); err != nil {
		return descriptor.ValidationResult{}, err
	}

	var lastErrOutput string
	applied := false
	for _, attempt := range patchAttempts {
		out, exitCode, timedOut, err := shellexec.ExecInContainer(ctx, v.Engine.RawClient(), containerID, attempt.command("/tmp/gold_patch.diff"), 60*time.Second)
		if err != nil {
			return descriptor.ValidationResult{}, errors.Wrapf(err, "validator: running patch attempt %q", attempt.name)
		}
		if timedOut {
			lastErrOutput = out + "\n(timed out)"
			continue
		}
		lastErrOutput = out
		if exitCode != 0 {
			continue
		}
		applied = true
		break
	}
	if !applied {
		return descriptor.ValidationResult{
			Passed:        false,
			Reason:        "could not apply gold patch: " + truncatePatchError(lastErrOutput),
			PreF2PCorrect: preF2PCorrect,
			PreP2PCorrect: preP2PCorrect,
			PreRaw:        preOutput,
			Details:       details,
		}, nil
	}

	postOutput, _, postTimedOut, err := shellexec.ExecInContainer(ctx, v.Engine.RawClient(), containerID, []string{"bash", "/root/eval.sh"}, v.timeout())
	if err != nil {
		return descriptor.ValidationResult{}, errors.Wrap(err, "validator: running post-patch eval")
	}
	if postTimedOut {
		return descriptor.ValidationResult{
			Passed:        false,
			Reason:        fmt.Sprintf("post-patch eval timed out after %s", v.timeout()),
			PreF2PCorrect: preF2PCorrect,
			PreP2PCorrect: preP2PCorrect,
			PreRaw:        preOutput,
			PostRaw:       fmt.Sprintf("TIMEOUT after %s", v.timeout()),
			Details:       details,
		}, nil
	}

	postResults := ParseLog(postOutput)
	if len(postResults) == 0 {
		return descriptor.ValidationResult{
			Passed:        false,
			Reason:        "could not parse post-patch test output",
			PreF2PCorrect: preF2PCorrect,
			PreP2PCorrect: preP2PCorrect,
			PreRaw:        preOutput,
			PostRaw:       postOutput,
			Details:       details,
		}, nil
	}

	postF2PCorrect, postF2PWrong, postF2PDetails := classify(f2p, postResults, true, "POST F2P")
	postP2PCorrect, postP2PWrong, postP2PDetails := classify(p2p, postResults, true, "POST P2P")
	details = append(details, postF2PDetails...)
	details = append(details, postP2PDetails...)

	if postF2PWrong != 0 || postP2PWrong != 0 {
		var reasons []string
		if postF2PWrong != 0 {
			reasons = append(reasons, fmt.Sprintf("%d F2P tests did not pass post-patch", postF2PWrong))
		}
		if postP2PWrong != 0 {
			reasons = append(reasons, fmt.Sprintf("%d P2P tests did not pass post-patch", postP2PWrong))
		}
		return descriptor.ValidationResult{
			Passed:         false,
			Reason:         "step 2 (post-patch) failed: " + strings.Join(reasons, "; "),
			PreF2PCorrect:  preF2PCorrect,
			PreP2PCorrect:  preP2PCorrect,
			PostF2PCorrect: postF2PCorrect,
			PostF2PWrong:   postF2PWrong,
			PostP2PCorrect: postP2PCorrect,
			PostP2PWrong:   postP2PWrong,
			PreRaw:         preOutput,
			PostRaw:        postOutput,
			Details:        details,
		}, nil
	}

	return descriptor.ValidationResult{
		Passed:         true,
		Reason:         "all checks passed (both pre-patch and post-patch)",
		PreF2PCorrect:  preF2PCorrect,
		PreP2PCorrect:  preP2PCorrect,
		PostF2PCorrect: postF2PCorrect,
		PostP2PCorrect: postP2PCorrect,
		PreRaw:         preOutput,
		PostRaw:        postOutput,
		Details:        details,
	}, nil
}
