// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package template

import (
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
)

func pytestSpec(t *testing.T) *instancespec.Spec {
	t.Helper()
	d := descriptor.InstanceDescriptor{
		InstanceID: "pytest-dev__pytest-1234",
		Repo:       "pytest-dev/pytest",
		Version:    "7.2",
		BaseCommit: strings.Repeat("a", 40),
		TestPatch:  "diff --git a/testing/test_foo.py b/testing/test_foo.py\n--- a/testing/test_foo.py\n+++ b/testing/test_foo.py\n",
		FailToPass: descriptor.StringSet{"t1"},
		PassToPass: descriptor.StringSet{"t2"},
	}
	s, err := instancespec.New(d, "")
	assert.NilError(t, err)
	return s
}

func TestDockerfileBaseContainsPlatformAndCondaVersion(t *testing.T) {
	s := pytestSpec(t)
	df := DockerfileBase(s)
	assert.Assert(t, strings.Contains(df, s.PlatformString()))
	assert.Assert(t, strings.Contains(df, s.DockerSpecs().CondaVersion))
}

func TestDockerfileEnvReferencesBaseImage(t *testing.T) {
	s := pytestSpec(t)
	df := DockerfileEnv(s, s.BaseKey())
	assert.Assert(t, strings.Contains(df, s.BaseKey()))
	assert.Assert(t, strings.Contains(df, "setup_env.sh"))
}

func TestDockerfileInstanceReferencesEnvImage(t *testing.T) {
	s := pytestSpec(t)
	df := DockerfileInstance(s, "myenv:latest")
	assert.Assert(t, strings.Contains(df, "myenv:latest"))
	assert.Assert(t, strings.Contains(df, "setup_repo.sh"))
}

func TestEnvScriptLiteralPackages(t *testing.T) {
	s := pytestSpec(t)
	script, commands, err := EnvScript(context.Background(), s)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(script, "conda create -n testbed python=3.9"))
	assert.Assert(t, len(commands) > 0)
	assert.Equal(t, commands[len(commands)-1], "conda activate testbed")
}

func TestRepoScriptIncludesCloneAndInstall(t *testing.T) {
	s := pytestSpec(t)
	script := RepoScript(s)
	assert.Assert(t, strings.Contains(script, "git clone -o origin https://github.com/pytest-dev/pytest"))
	assert.Assert(t, strings.Contains(script, "python -m pip install -e ."))
	assert.Assert(t, strings.Contains(script, "git reset --hard "+s.Descriptor.BaseCommit))
}

func TestEvalScriptUsesNoExitOnError(t *testing.T) {
	s := pytestSpec(t)
	script := EvalScript(s)
	assert.Assert(t, strings.HasPrefix(script, "#!/bin/bash\nset -uxo pipefail\n"))
	assert.Assert(t, strings.Contains(script, StartTestOutput))
	assert.Assert(t, strings.Contains(script, EndTestOutput))
	assert.Assert(t, strings.Contains(script, "pytest -rA testing/test_foo.py"))
}

func TestTestDirectivesDropsNonTestExtensions(t *testing.T) {
	patch := "diff --git a/tests/test_a.py b/tests/test_a.py\n" +
		"diff --git a/docs/readme.rst b/docs/readme.rst\n"
	directives := TestDirectives(patch, "astropy/astropy")
	assert.DeepEqual(t, directives, []string{"tests/test_a.py"})
}

func TestTestDirectivesDjangoRewrite(t *testing.T) {
	patch := "diff --git a/tests/foo/bar.py b/tests/foo/bar.py\n"
	directives := TestDirectives(patch, "django/django")
	assert.DeepEqual(t, directives, []string{"foo.bar"})
}
