// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package test collects helpers shared by package-level tests across the
// module: environment-sensitive skips, and fixtures for the docker daemon
// used in integration tests.
package test

import "testing"

// DropPrivilege is a placeholder for apptainer's setuid-aware test harness:
// unlike apptainer, this orchestrator never installs a setuid binary, so
// there is no privileged/unprivileged split to switch between. It is kept
// so that tests ported from the teacher compile unchanged against this
// package's API.
func DropPrivilege(t *testing.T) {
	t.Helper()
}

// ResetPrivilege restores the state DropPrivilege would have changed. See
// DropPrivilege.
func ResetPrivilege(t *testing.T) {
	t.Helper()
}
