// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package builder

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestSafeNameReplacesSeparators(t *testing.T) {
	got := safeName("myrepo/pytest_base:abcdef0123456789abcdef")
	assert.Assert(t, !strings.Contains(got, "/"))
	assert.Assert(t, !strings.Contains(got, ":"))
	assert.Equal(t, got, "myrepo_pytest_base__abcdef0123456789abcdef")
}

func TestWorkersDefaultsToOne(t *testing.T) {
	b := &Builder{}
	assert.Equal(t, b.workers(), 1)

	b.MaxWorkers = 4
	assert.Equal(t, b.workers(), 4)
}

func TestFailedLogDirAndBuildLogDirNestUnderLogDir(t *testing.T) {
	b := &Builder{LogDir: "/tmp/r2e-docker-logs"}
	assert.Equal(t, b.failedLogDir(), "/tmp/r2e-docker-logs/failed_logs")
	assert.Equal(t, b.buildLogDir("env", "myrepo_base:abc"), "/tmp/r2e-docker-logs/build_logs/env/myrepo_base__abc")
}
