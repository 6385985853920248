// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package descriptor

import (
	"encoding/json"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestStringSetUnmarshalFromArray(t *testing.T) {
	var s StringSet
	err := json.Unmarshal([]byte(`["a::test_one", "a::test_two"]`), &s)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string(s), []string{"a::test_one", "a::test_two"})
}

func TestStringSetUnmarshalFromEncodedString(t *testing.T) {
	var s StringSet
	err := json.Unmarshal([]byte(`"[\"a::test_one\"]"`), &s)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string(s), []string{"a::test_one"})
}

func TestStringSetUnmarshalFromEmptyString(t *testing.T) {
	var s StringSet
	err := json.Unmarshal([]byte(`""`), &s)
	assert.NilError(t, err)
	assert.Assert(t, s == nil)
}

func TestInstanceDescriptorValidate(t *testing.T) {
	valid := InstanceDescriptor{
		InstanceID: "astropy__astropy-1234",
		Repo:       "astropy/astropy",
		BaseCommit: strings.Repeat("a", 40),
		FailToPass: StringSet{"t1"},
		PassToPass: StringSet{"t2"},
	}
	assert.NilError(t, valid.Validate())

	tests := []struct {
		name string
		d    InstanceDescriptor
	}{
		{"missing instance id", InstanceDescriptor{Repo: "a/b", BaseCommit: strings.Repeat("a", 40), FailToPass: StringSet{"t1"}}},
		{"missing repo", InstanceDescriptor{InstanceID: "x", BaseCommit: strings.Repeat("a", 40), FailToPass: StringSet{"t1"}}},
		{"short base commit", InstanceDescriptor{InstanceID: "x", Repo: "a/b", BaseCommit: "abc", FailToPass: StringSet{"t1"}}},
		{"empty fail to pass", InstanceDescriptor{InstanceID: "x", Repo: "a/b", BaseCommit: strings.Repeat("a", 40)}},
		{
			"overlap between f2p and p2p",
			InstanceDescriptor{
				InstanceID: "x", Repo: "a/b", BaseCommit: strings.Repeat("a", 40),
				FailToPass: StringSet{"shared"}, PassToPass: StringSet{"shared"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Assert(t, tt.d.Validate() != nil)
		})
	}
}

func TestManifestCommitFallsBackToBaseCommit(t *testing.T) {
	d := InstanceDescriptor{BaseCommit: "base"}
	assert.Equal(t, d.ManifestCommit(), "base")

	d.EnvironmentSetupCommit = "setup"
	assert.Equal(t, d.ManifestCommit(), "setup")
}

func TestTestPatchFiles(t *testing.T) {
	patch := "diff --git a/tests/foo.py b/tests/foo.py\n" +
		"index 111..222 100644\n" +
		"--- a/tests/foo.py\n" +
		"+++ b/tests/foo.py\n"
	d := InstanceDescriptor{TestPatch: patch}
	assert.DeepEqual(t, d.TestPatchFiles(), []string{"tests/foo.py"})
}

func TestValidationResultSummary(t *testing.T) {
	r := ValidationResult{Passed: true, Reason: "ok"}
	assert.Assert(t, strings.HasPrefix(r.Summary(), "[PASS]"))

	r2 := ValidationResult{Passed: false, Reason: "step 1 failed"}
	assert.Assert(t, strings.HasPrefix(r2.Summary(), "[FAIL]"))
}

func TestValidationResultDetailedLogTruncatesRaw(t *testing.T) {
	r := ValidationResult{PreRaw: strings.Repeat("x", 4096)}
	log := r.DetailedLog()
	assert.Assert(t, len(log) < 4096+200)
}
