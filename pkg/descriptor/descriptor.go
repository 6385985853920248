// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package descriptor defines the data model shared by every other package
// in the module: the instance unit loaded from the external dataset
// iterator, and the outcome record produced by validation.
package descriptor

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidDescriptor is the sentinel cause wrapped by Validate failures.
var ErrInvalidDescriptor = errors.New("descriptor: invalid instance descriptor")

// StringSet is a JSON field that the upstream dataset sometimes encodes as
// a native JSON array and sometimes as a JSON-encoded string containing an
// array (a quirk of how FAIL_TO_PASS/PASS_TO_PASS are serialized by
// different dataset export paths). UnmarshalJSON accepts either form.
type StringSet []string

// UnmarshalJSON implements the list-or-JSON-string union accepted for
// FAIL_TO_PASS/PASS_TO_PASS fields.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return errors.Wrap(err, "descriptor: field is neither a JSON array nor a JSON string")
	}
	if encoded == "" {
		*s = nil
		return nil
	}
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return errors.Wrap(err, "descriptor: string field did not contain a JSON array")
	}
	*s = list
	return nil
}

// has reports whether id is a member of the set.
func (s StringSet) has(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// InstanceDescriptor is one benchmark instance: a repository pinned at a
// buggy commit, paired with the test patch that reveals the bug and the
// gold patch that fixes it.
type InstanceDescriptor struct {
	InstanceID              string    `json:"instance_id"`
	Repo                    string    `json:"repo"`
	Version                 string    `json:"version"`
	BaseCommit              string    `json:"base_commit"`
	TestPatch               string    `json:"test_patch"`
	Patch                   string    `json:"patch"`
	FailToPass              StringSet `json:"FAIL_TO_PASS"`
	PassToPass              StringSet `json:"PASS_TO_PASS"`
	EnvironmentSetupCommit  string    `json:"environment_setup_commit,omitempty"`
}

// ManifestCommit returns the commit at which dependency manifests
// (requirements.txt, environment.yml) should be resolved: the instance's
// environment_setup_commit when set, else its base_commit.
func (d InstanceDescriptor) ManifestCommit() string {
	if d.EnvironmentSetupCommit != "" {
		return d.EnvironmentSetupCommit
	}
	return d.BaseCommit
}

// Validate checks the invariants every InstanceDescriptor must satisfy
// before it can be built or validated.
func (d InstanceDescriptor) Validate() error {
	if d.InstanceID == "" {
		return errors.Wrap(ErrInvalidDescriptor, "empty instance_id")
	}
	if d.Repo == "" {
		return errors.Wrapf(ErrInvalidDescriptor, "%s: empty repo", d.InstanceID)
	}
	if len(d.BaseCommit) != 40 {
		return errors.Wrapf(ErrInvalidDescriptor, "%s: base_commit must be 40 hex characters, got %d", d.InstanceID, len(d.BaseCommit))
	}
	if len(d.FailToPass) == 0 {
		return errors.Wrapf(ErrInvalidDescriptor, "%s: FAIL_TO_PASS must be non-empty", d.InstanceID)
	}
	for _, id := range d.FailToPass {
		if d.PassToPass.has(id) {
			return errors.Wrapf(ErrInvalidDescriptor, "%s: %q is in both FAIL_TO_PASS and PASS_TO_PASS", d.InstanceID, id)
		}
	}
	return nil
}

// TestPatchFiles extracts the paths touched by the unified diff in
// TestPatch, in `diff --git a/... b/(path)` order.
func (d InstanceDescriptor) TestPatchFiles() []string {
	return diffTargets(d.TestPatch)
}

func diffTargets(patch string) []string {
	var out []string
	for _, line := range strings.Split(patch, "\n") {
		const prefix = "diff --git a/"
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := line[len(prefix):]
		idx := strings.Index(rest, " b/")
		if idx < 0 {
			continue
		}
		out = append(out, rest[idx+len(" b/"):])
	}
	return out
}

// ValidationResult is the outcome of a two-step differential validation
// run against a built instance image.
type ValidationResult struct {
	Passed bool
	Reason string

	PreF2PCorrect int
	PreF2PWrong   int
	PreP2PCorrect int
	PreP2PWrong   int

	PostF2PCorrect int
	PostF2PWrong   int
	PostP2PCorrect int
	PostP2PWrong   int

	PreRaw  string
	PostRaw string
	Details []string
}

// maxRawLen bounds the raw output captured in a persisted ValidationResult.
const maxRawLen = 2048

func truncateTail(s string) string {
	if len(s) <= maxRawLen {
		return s
	}
	return s[len(s)-maxRawLen:]
}

// Summary renders a one-line status digest, matching the original
// implementation's ValidationResult.summary().
func (r ValidationResult) Summary() string {
	status := "FAIL"
	if r.Passed {
		status = "PASS"
	}
	return strings.Join([]string{
		"[" + status + "]",
		"pre(F2P_fail=" + itoa(r.PreF2PCorrect) + " F2P_pass=" + itoa(r.PreF2PWrong) +
			" P2P_pass=" + itoa(r.PreP2PCorrect) + " P2P_fail=" + itoa(r.PreP2PWrong) + ")",
		"post(F2P_pass=" + itoa(r.PostF2PCorrect) + " F2P_fail=" + itoa(r.PostF2PWrong) +
			" P2P_pass=" + itoa(r.PostP2PCorrect) + " P2P_fail=" + itoa(r.PostP2PWrong) + ")",
		"| " + r.Reason,
	}, " ")
}

// DetailedLog renders the summary, anomaly details, and tail-truncated raw
// output from both validation steps, for persistence alongside a failed
// instance.
func (r ValidationResult) DetailedLog() string {
	var b strings.Builder
	b.WriteString(r.Summary())
	b.WriteString("\n\n")
	for _, d := range r.Details {
		b.WriteString("  ")
		b.WriteString(d)
		b.WriteString("\n")
	}
	b.WriteString("\n--- Pre-patch raw output ---\n")
	b.WriteString(truncateTail(r.PreRaw))
	b.WriteString("\n\n--- Post-patch raw output ---\n")
	b.WriteString(truncateTail(r.PostRaw))
	return b.String()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
