// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package validator

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/r2e-gym/r2e-docker/internal/pkg/template"
)

func TestParseLogSentinelRegion(t *testing.T) {
	raw := "setting up\n" +
		template.StartTestOutput + "\n" +
		"PASSED testing/test_a.py::test_one\n" +
		"FAILED testing/test_a.py::test_two\n" +
		"ERROR testing/test_a.py::test_three\n" +
		template.EndTestOutput + "\n" +
		"tearing down\n"

	results := ParseLog(raw)
	assert.Equal(t, results["testing/test_a.py::test_one"], StatusPassed)
	assert.Equal(t, results["testing/test_a.py::test_two"], StatusFailed)
	assert.Equal(t, results["testing/test_a.py::test_three"], StatusFailed)
}

func TestParseLogFallsBackToShortSummary(t *testing.T) {
	raw := "running tests\n" +
		"=== short test summary info ===\n" +
		"PASSED testing/test_a.py::test_one\n"

	results := ParseLog(raw)
	assert.Equal(t, results["testing/test_a.py::test_one"], StatusPassed)
}

func TestParseLogReturnsNilWithoutAnyMarker(t *testing.T) {
	results := ParseLog("no markers here at all\n")
	assert.Assert(t, results == nil)
}

func TestParseLogStripsANSI(t *testing.T) {
	raw := template.StartTestOutput + "\n" +
		"\x1b[32mPASSED\x1b[0m testing/test_a.py::test_one\n" +
		template.EndTestOutput + "\n"
	results := ParseLog(raw)
	assert.Equal(t, results["testing/test_a.py::test_one"], StatusPassed)
}

func TestClassifyMissingCountsWrong(t *testing.T) {
	expected := map[string]struct{}{"a": {}, "b": {}}
	results := map[string]TestStatus{"a": StatusPassed}

	correct, wrong, details := classify(expected, results, true, "PRE P2P")
	assert.Equal(t, correct, 1)
	assert.Equal(t, wrong, 1)
	assert.Equal(t, len(details), 1)
}

func TestClassifyWantFailCountsNonPassedCorrect(t *testing.T) {
	expected := map[string]struct{}{"a": {}}
	results := map[string]TestStatus{"a": StatusFailed}

	correct, wrong, _ := classify(expected, results, false, "PRE F2P")
	assert.Equal(t, correct, 1)
	assert.Equal(t, wrong, 0)
}

func TestTruncatePatchError(t *testing.T) {
	short := "short output"
	assert.Equal(t, truncatePatchError(short), short)

	long := make([]byte, maxPatchErrorLen+100)
	for i := range long {
		long[i] = 'x'
	}
	assert.Equal(t, len(truncatePatchError(string(long))), maxPatchErrorLen)
}

func TestRandomDelimiterIsUniqueAndPrefixed(t *testing.T) {
	d1, err := randomDelimiter()
	assert.NilError(t, err)
	d2, err := randomDelimiter()
	assert.NilError(t, err)

	assert.Assert(t, d1 != d2)
	assert.Assert(t, len(d1) == len("EOF_R2E_")+16)
}

func TestPatchAttemptsOrderedGitThenRejectThenPatch(t *testing.T) {
	assert.Equal(t, len(patchAttempts), 3)
	assert.Equal(t, patchAttempts[0].name, "git apply")
	assert.Equal(t, patchAttempts[1].name, "git apply --reject")
	assert.Equal(t, patchAttempts[2].name, "patch --fuzz=5")
}
