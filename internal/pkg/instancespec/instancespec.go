// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package instancespec binds an InstanceDescriptor to its resolved
// RepoVersionSpec and target architecture, and derives the three
// content-addressed image keys the builder and validator key their work
// on.
package instancespec

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/r2e-gym/r2e-docker/internal/pkg/specdata"
	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
)

// Spec is everything needed to render, build, and validate one instance.
type Spec struct {
	Descriptor descriptor.InstanceDescriptor
	RepoSpec   specdata.RepoVersionSpec
	ShortName  string
	Registry   string
	Arch       string // "x86_64" or "arm64"
}

// New validates d, resolves its RepoVersionSpec and short name from
// specdata, and picks a target architecture. registry is prefixed onto
// the env and instance image keys (the base key never carries it); an
// empty registry yields unprefixed keys.
func New(d descriptor.InstanceDescriptor, registry string) (*Spec, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	repoSpec, ok := specdata.RepoVersionSpecFor(d.Repo, d.Version)
	if !ok {
		return nil, errors.Errorf("instancespec: %s: no RepoVersionSpec for %s@%s", d.InstanceID, d.Repo, d.Version)
	}
	shortName, ok := specdata.ShortName(d.Repo)
	if !ok {
		return nil, errors.Errorf("instancespec: %s: no short name for repo %s", d.InstanceID, d.Repo)
	}

	if registry != "" && !strings.HasSuffix(registry, "/") {
		registry += "/"
	}

	return &Spec{
		Descriptor: d,
		RepoSpec:   repoSpec,
		ShortName:  shortName,
		Registry:   registry,
		Arch:       specdata.ResolveArch(d.InstanceID, runtime.GOARCH),
	}, nil
}

// PlatformString is the docker --platform value for this spec's arch.
func (s *Spec) PlatformString() string {
	if s.Arch == "x86_64" {
		return "linux/x86_64"
	}
	return "linux/arm64/v8"
}

// DockerSpecs merges this instance's per-version overrides over the
// package default.
func (s *Spec) DockerSpecs() specdata.DockerSpecs {
	return s.RepoSpec.DockerSpecs.Merge()
}

// BaseKey is the content-addressed key of the tier-1 base image, shared
// across every instance that targets the same architecture.
func (s *Spec) BaseKey() string {
	return fmt.Sprintf("base.py.%s:latest", s.Arch)
}

// EnvKey is the content-addressed key of the tier-2 env image: equal
// commands + docker specs + arch always produce the same key, so
// instances that need an identical environment share one image.
//
// The hash input is the commands joined with NUL bytes, followed by the
// merged docker specs rendered as "{UbuntuVersion:... CondaVersion:...}",
// followed by the arch; the key's tag is the first 22 lowercase hex
// characters of its SHA-256 digest.
func (s *Spec) EnvKey(commands []string) string {
	spec := s.DockerSpecs()
	hashInput := strings.Join(commands, "\x00") + fmt.Sprintf("{UbuntuVersion:%s CondaVersion:%s}", spec.UbuntuVersion, spec.CondaVersion) + s.Arch
	sum := digest.FromString(hashInput).Encoded()
	hash22 := sum[:22]
	return fmt.Sprintf("%s%s_base:%s", s.Registry, s.ShortName, hash22)
}

// InstanceKey is the content-addressed key of the tier-3 instance image,
// one per base_commit.
func (s *Spec) InstanceKey() string {
	return fmt.Sprintf("%s%s_final:%s", s.Registry, s.ShortName, s.Descriptor.BaseCommit)
}
