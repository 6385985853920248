// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package dockerengine

import (
	"archive/tar"
	"io"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestTarFilesRoundTrips(t *testing.T) {
	files := BuildFiles{
		"Dockerfile":      "FROM scratch\n",
		"setup_env.sh":    "#!/bin/bash\n",
	}

	r, err := tarFiles(files)
	assert.NilError(t, err)

	tr := tar.NewReader(r)
	seen := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		assert.NilError(t, err)
		content, err := io.ReadAll(tr)
		assert.NilError(t, err)
		seen[hdr.Name] = string(content)
	}
	assert.DeepEqual(t, seen, map[string]string(files))
}

func TestReadBuildLogAccumulatesStreamAndStripsANSI(t *testing.T) {
	// The daemon JSON-escapes ESC as \u001b; the raw ESC bytes in the
	// literal below are escaped the same way before decoding.
	r := strings.NewReader(strings.ReplaceAll(`{"stream":"[31mStep 1/2[0m\n"}`+"\n"+`{"stream":"done\n"}`+"\n", "\x1b", `\u001b`))
	log, err := readBuildLog(r)
	assert.NilError(t, err)
	assert.Equal(t, log, "Step 1/2\ndone\n")
}

func TestReadBuildLogReturnsBuildError(t *testing.T) {
	r := strings.NewReader(`{"stream":"Step 1/2\n"}` + "\n" + `{"errorDetail":{"message":"compile failed"}}` + "\n")
	_, err := readBuildLog(r)
	assert.ErrorContains(t, err, "compile failed")

	buildErr, ok := err.(*BuildError)
	assert.Assert(t, ok)
	assert.Equal(t, buildErr.BuildLog, "Step 1/2\n")
}
