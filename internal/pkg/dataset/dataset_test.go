// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package dataset

import (
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

const sampleJSONL = `{"instance_id":"a-1","repo":"r/a","version":"1","base_commit":"c1","FAIL_TO_PASS":["t1"]}
{"instance_id":"a-2","repo":"r/a","version":"1","base_commit":"c2","FAIL_TO_PASS":"[\"t2\"]"}

{"instance_id":"a-3","repo":"r/a","version":"1","base_commit":"c3","FAIL_TO_PASS":["t3"]}
`

func drainAll(t *testing.T, s *JSONLSource) []string {
	t.Helper()
	var ids []string
	for {
		d, ok, err := s.Next(context.Background())
		assert.NilError(t, err)
		if !ok {
			break
		}
		ids = append(ids, d.InstanceID)
	}
	return ids
}

func TestJSONLSourceYieldsEveryRecordSkippingBlankLines(t *testing.T) {
	s := NewJSONLSource(strings.NewReader(sampleJSONL), Filter{})
	ids := drainAll(t, s)
	assert.DeepEqual(t, ids, []string{"a-1", "a-2", "a-3"})
}

func TestJSONLSourceDecodesStringEncodedFailToPass(t *testing.T) {
	s := NewJSONLSource(strings.NewReader(sampleJSONL), Filter{})
	d, ok, err := s.Next(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.DeepEqual(t, []string(d.FailToPass), []string{"t1"})

	d, ok, err = s.Next(context.Background())
	assert.NilError(t, err)
	assert.Assert(t, ok)
	assert.DeepEqual(t, []string(d.FailToPass), []string{"t2"})
}

func TestJSONLSourceFiltersByInstanceIDs(t *testing.T) {
	s := NewJSONLSource(strings.NewReader(sampleJSONL), Filter{InstanceIDs: []string{"a-2"}})
	ids := drainAll(t, s)
	assert.DeepEqual(t, ids, []string{"a-2"})
}

func TestJSONLSourceRespectsLimit(t *testing.T) {
	s := NewJSONLSource(strings.NewReader(sampleJSONL), Filter{Limit: 1})
	ids := drainAll(t, s)
	assert.DeepEqual(t, ids, []string{"a-1"})
}

func TestJSONLSourceReturnsErrorOnMalformedLine(t *testing.T) {
	s := NewJSONLSource(strings.NewReader("not json\n"), Filter{})
	_, ok, err := s.Next(context.Background())
	assert.Assert(t, !ok)
	assert.ErrorContains(t, err, "invalid JSON")
}
