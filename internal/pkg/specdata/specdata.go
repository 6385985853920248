// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package specdata holds the read-only, compile-time configuration tables
// that drive template rendering and architecture selection: one
// RepoVersionSpec per (repo, version) pair, a short-name map used to build
// image names, a manifest path-candidate map per repo, and the small set
// of non-test file extensions and x86-pinned instance IDs that the
// template renderer consults.
//
// These tables mirror the teacher's buildcfg package in spirit: compiled-in
// constants the rest of the module reads but never mutates. Only a small,
// illustrative set of repos is carried here, enough to exercise every
// branch of the renderer (requirements.txt, environment.yml, and literal
// package list flavors, with and without no_use_env); the full registry of
// benchmark repos is itself out of scope, supplied by the external
// descriptor source the same way instances are.
package specdata

// DockerSpecs overrides base-image build knobs for a specific repo/version.
// Any zero field falls back to DefaultDockerSpecs.
type DockerSpecs struct {
	UbuntuVersion string
	CondaVersion  string
}

// DefaultDockerSpecs is merged under per-version DockerSpecs overrides.
var DefaultDockerSpecs = DockerSpecs{
	UbuntuVersion: "22.04",
	CondaVersion:  "py311_23.1.0-1",
}

// Merge returns d with every zero field replaced by the corresponding field
// of DefaultDockerSpecs.
func (d DockerSpecs) Merge() DockerSpecs {
	merged := d
	if merged.UbuntuVersion == "" {
		merged.UbuntuVersion = DefaultDockerSpecs.UbuntuVersion
	}
	if merged.CondaVersion == "" {
		merged.CondaVersion = DefaultDockerSpecs.CondaVersion
	}
	return merged
}

// RepoVersionSpec is a single (repo, version) table entry.
type RepoVersionSpec struct {
	Python       string
	Packages     string // "requirements.txt", "environment.yml", or a literal package list
	PipPackages  []string
	PreInstall   []string
	Install      string
	EvalCommands []string
	TestCmd      string
	NoUseEnv     bool
	DockerSpecs  DockerSpecs
}

// DefaultRegistry is the fallback image registry prefix when
// R2E_DOCKER_REGISTRY is unset.
const DefaultRegistry = "namanjain12/"

// repoVersionSpecs is the illustrative RepoVersionSpec registry, keyed by
// repo then version.
var repoVersionSpecs = map[string]map[string]RepoVersionSpec{
	"astropy/astropy": {
		"5.1": {
			Python:      "3.9",
			Packages:    "requirements.txt",
			Install:     "python -m pip install -e .",
			TestCmd:     "pytest -rA",
			PipPackages: []string{"pytest", "pytest-astropy"},
		},
	},
	"django/django": {
		"4.2": {
			Python:       "3.9",
			Packages:     "environment.yml",
			NoUseEnv:     true,
			Install:      "python -m pip install -e .",
			EvalCommands: []string{"export LANG=en_US.UTF-8", "export LANGUAGE=en_US:en", "export LC_ALL=en_US.UTF-8"},
			TestCmd:      "./tests/runtests.py --verbosity 2",
		},
	},
	"pytest-dev/pytest": {
		"7.2": {
			Python:   "3.9",
			Packages: "pytest asyncio hypothesis",
			Install:  "python -m pip install -e .",
			TestCmd:  "pytest -rA",
		},
	},
}

// shortNames maps a repo to the short name used in derived image tags.
var shortNames = map[string]string{
	"astropy/astropy":   "astropy",
	"django/django":      "django",
	"pytest-dev/pytest":  "pytest",
}

// reqPaths lists candidate requirements.txt locations, tried in order,
// relative to a repo's raw.githubusercontent.com tree.
var reqPaths = map[string][]string{
	"astropy/astropy": {"requirements.txt"},
}

// envYMLPaths lists candidate environment.yml locations.
var envYMLPaths = map[string][]string{
	"django/django": {"environment.yml"},
}

// nonTestExtensions are file extensions that never count as a test
// directive even when touched by a test_patch diff.
var nonTestExtensions = []string{".rst", ".md", ".png", ".txt", ".json", ".cfg", ".toml"}

// useX86 lists instance IDs that must build for x86_64 even on an arm64
// host, because their dependency chain lacks an arm64 wheel.
var useX86 = map[string]bool{}

// RepoVersionSpecFor returns the registered spec for repo/version.
func RepoVersionSpecFor(repo, version string) (RepoVersionSpec, bool) {
	byVersion, ok := repoVersionSpecs[repo]
	if !ok {
		return RepoVersionSpec{}, false
	}
	spec, ok := byVersion[version]
	return spec, ok
}

// ShortName returns the short name registered for repo.
func ShortName(repo string) (string, bool) {
	name, ok := shortNames[repo]
	return name, ok
}

// RequirementsCandidates returns the candidate requirements.txt paths for repo.
func RequirementsCandidates(repo string) []string {
	return reqPaths[repo]
}

// EnvironmentYMLCandidates returns the candidate environment.yml paths for repo.
func EnvironmentYMLCandidates(repo string) []string {
	return envYMLPaths[repo]
}

// NonTestExtensions returns the extensions that disqualify a changed path
// from being treated as a test directive.
func NonTestExtensions() []string {
	out := make([]string, len(nonTestExtensions))
	copy(out, nonTestExtensions)
	return out
}

// IsPinnedToX86 reports whether instanceID must always build for x86_64.
func IsPinnedToX86(instanceID string) bool {
	return useX86[instanceID]
}

// ResolveArch picks the build architecture for instanceID given the host's
// runtime.GOARCH value: an arm64 host builds arm64 images unless the
// instance is pinned to x86_64, and any other host always builds x86_64.
func ResolveArch(instanceID, hostGOARCH string) string {
	if hostGOARCH == "arm64" {
		if IsPinnedToX86(instanceID) {
			return "x86_64"
		}
		return "arm64"
	}
	return "x86_64"
}
