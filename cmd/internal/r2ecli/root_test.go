// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package r2ecli

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestInitRegistersBuildAndValidateWithoutError(t *testing.T) {
	err := Init()
	assert.NilError(t, err)

	found := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	assert.Assert(t, found["build"])
	assert.Assert(t, found["validate"])
}

func TestBuildCmdHasExpectedFlags(t *testing.T) {
	for _, name := range []string{"dataset", "split", "registry", "max-workers", "force-rebuild", "limit", "instance-ids", "validate", "validation-timeout", "verbose-logs", "output-dir"} {
		assert.Assert(t, BuildCmd.Flags().Lookup(name) != nil, "missing --%s", name)
	}
}

func TestValidateCmdHasExpectedFlags(t *testing.T) {
	for _, name := range []string{"dataset", "split", "registry", "instance-id", "timeout"} {
		assert.Assert(t, ValidateCmd.Flags().Lookup(name) != nil, "missing --%s", name)
	}
}

func TestValidateCmdRequiresExactlyOneImageArg(t *testing.T) {
	assert.Assert(t, ValidateCmd.Args != nil)
	assert.NilError(t, ValidateCmd.Args(ValidateCmd, []string{"image"}))
	assert.Assert(t, ValidateCmd.Args(ValidateCmd, nil) != nil)
	assert.Assert(t, ValidateCmd.Args(ValidateCmd, []string{"a", "b"}) != nil)
}
