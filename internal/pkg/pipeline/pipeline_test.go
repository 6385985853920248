// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package pipeline

import (
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
)

type sliceSource struct {
	descs []descriptor.InstanceDescriptor
	i     int
}

func (s *sliceSource) Next(ctx context.Context) (descriptor.InstanceDescriptor, bool, error) {
	if s.i >= len(s.descs) {
		return descriptor.InstanceDescriptor{}, false, nil
	}
	d := s.descs[s.i]
	s.i++
	return d, true, nil
}

func validDesc(id string) descriptor.InstanceDescriptor {
	return descriptor.InstanceDescriptor{
		InstanceID: id,
		Repo:       "pytest-dev/pytest",
		Version:    "7.2",
		BaseCommit: strings.Repeat("a", 40),
		FailToPass: descriptor.StringSet{"t1"},
	}
}

func TestCollectSpecsSkipsUnknownRepoVersion(t *testing.T) {
	src := &sliceSource{descs: []descriptor.InstanceDescriptor{
		validDesc("good-1"),
		{InstanceID: "bad-1", Repo: "unknown/repo", Version: "0.0", BaseCommit: strings.Repeat("b", 40), FailToPass: descriptor.StringSet{"t1"}},
	}}

	d := &Driver{Source: src}
	specs, outcomes := d.collectSpecs(context.Background())

	assert.Equal(t, len(specs), 1)
	assert.Equal(t, specs[0].Descriptor.InstanceID, "good-1")

	assert.Equal(t, len(outcomes), 2)
	assert.Equal(t, outcomes[1].InstanceID, "bad-1")
	assert.Assert(t, outcomes[1].Reason != "")
	assert.Assert(t, !outcomes[1].Built)
}

func TestCollectSpecsSkipsInvalidDescriptor(t *testing.T) {
	src := &sliceSource{descs: []descriptor.InstanceDescriptor{
		{InstanceID: "", Repo: "pytest-dev/pytest", Version: "7.2"},
	}}

	d := &Driver{Source: src}
	specs, outcomes := d.collectSpecs(context.Background())

	assert.Equal(t, len(specs), 0)
	assert.Equal(t, len(outcomes), 1)
}

func TestAddBarAndIncrNoOpWithoutProgress(t *testing.T) {
	d := &Driver{}
	bar := d.addBar("build", 10)
	assert.Assert(t, bar == nil)
	incr(bar) // must not panic
}

func TestRunReturnsEmptyOutcomesForEmptySource(t *testing.T) {
	d := &Driver{Source: &sliceSource{}}
	outcomes, err := d.Run(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(outcomes), 0)
}
