// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package specdata

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestRepoVersionSpecFor(t *testing.T) {
	spec, ok := RepoVersionSpecFor("astropy/astropy", "5.1")
	assert.Assert(t, ok)
	assert.Equal(t, spec.Python, "3.9")
	assert.Equal(t, spec.Packages, "requirements.txt")

	_, ok = RepoVersionSpecFor("nonexistent/repo", "1.0")
	assert.Assert(t, !ok)
}

func TestShortName(t *testing.T) {
	name, ok := ShortName("django/django")
	assert.Assert(t, ok)
	assert.Equal(t, name, "django")
}

func TestDockerSpecsMerge(t *testing.T) {
	merged := DockerSpecs{UbuntuVersion: "20.04"}.Merge()
	assert.Equal(t, merged.UbuntuVersion, "20.04")
	assert.Equal(t, merged.CondaVersion, DefaultDockerSpecs.CondaVersion)
}

func TestIsPinnedToX86DefaultsFalse(t *testing.T) {
	assert.Assert(t, !IsPinnedToX86("astropy__astropy-1234"))
}
