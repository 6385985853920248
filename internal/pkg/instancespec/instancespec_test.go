// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package instancespec

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
)

func validDescriptor() descriptor.InstanceDescriptor {
	return descriptor.InstanceDescriptor{
		InstanceID: "astropy__astropy-1234",
		Repo:       "astropy/astropy",
		Version:    "5.1",
		BaseCommit: strings.Repeat("a", 40),
		FailToPass: descriptor.StringSet{"t1"},
		PassToPass: descriptor.StringSet{"t2"},
	}
}

func TestNewRejectsInvalidDescriptor(t *testing.T) {
	_, err := New(descriptor.InstanceDescriptor{}, "")
	assert.ErrorContains(t, err, "invalid instance descriptor")
}

func TestNewRejectsUnknownRepoVersion(t *testing.T) {
	d := validDescriptor()
	d.Version = "99.99"
	_, err := New(d, "")
	assert.ErrorContains(t, err, "no RepoVersionSpec")
}

func TestNewNormalizesRegistryTrailingSlash(t *testing.T) {
	s, err := New(validDescriptor(), "myregistry")
	assert.NilError(t, err)
	assert.Equal(t, s.Registry, "myregistry/")
}

func TestBaseKeyIsPerArch(t *testing.T) {
	s, err := New(validDescriptor(), "")
	assert.NilError(t, err)
	assert.Equal(t, s.BaseKey(), "base.py."+s.Arch+":latest")
}

func TestEnvKeyDeterministic(t *testing.T) {
	s, err := New(validDescriptor(), "")
	assert.NilError(t, err)

	commands := []string{"source /opt/miniconda3/bin/activate", "conda create -n testbed python=3.9 -y"}
	k1 := s.EnvKey(commands)
	k2 := s.EnvKey(commands)
	assert.Equal(t, k1, k2)

	k3 := s.EnvKey(append(append([]string{}, commands...), "extra"))
	assert.Assert(t, k1 != k3)
}

func TestInstanceKeyUsesBaseCommit(t *testing.T) {
	s, err := New(validDescriptor(), "")
	assert.NilError(t, err)
	assert.Equal(t, s.InstanceKey(), s.ShortName+"_final:"+s.Descriptor.BaseCommit)
}
