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
	"regexp"
	"strings"

	"github.com/r2e-gym/r2e-docker/internal/pkg/specdata"
)

// StartTestOutput and EndTestOutput bound the region of eval.sh's output
// that the validator's ParseLog scans for PASSED/FAILED/ERROR lines.
const (
	StartTestOutput = ">>>>> Start Test Output"
	EndTestOutput   = ">>>>> End Test Output"
)

var diffTargetPattern = regexp.MustCompile(`diff --git a/.* b/(.*)`)

// TestDirectives extracts the test targets touched by testPatch: every
// `diff --git a/... b/(path)` target that does not end in a non-test
// extension, with django/django's path-to-dotted-module rewrite applied
// as a named special case.
func TestDirectives(testPatch, repo string) []string {
	matches := diffTargetPattern.FindAllStringSubmatch(testPatch, -1)

	var directives []string
	for _, m := range matches {
		path := m[1]
		if hasNonTestExtension(path) {
			continue
		}
		directives = append(directives, path)
	}

	if repo == "django/django" {
		return rewriteDjangoDirectives(directives)
	}
	return directives
}

func hasNonTestExtension(path string) bool {
	for _, ext := range specdata.NonTestExtensions() {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func rewriteDjangoDirectives(directives []string) []string {
	out := make([]string, len(directives))
	for i, d := range directives {
		d = strings.TrimSuffix(d, ".py")
		d = strings.TrimPrefix(d, "tests/")
		d = strings.ReplaceAll(d, "/", ".")
		out[i] = d
	}
	return out
}
