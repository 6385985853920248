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
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// ErrNoCandidateManifest means every candidate path was tried, under
// retry, and none returned a 200.
var ErrNoCandidateManifest = errors.New("template: no candidate manifest path returned 200")

const swebenchRawURL = "https://raw.githubusercontent.com"

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_5) AppleWebKit/537.36"

// FetchManifest fetches the first candidate path under
// raw.githubusercontent.com/{repo}/{commit}/ that returns 200, inlining any
// "-r other.txt" line relative to the containing file's directory, and
// dropping "-e .", comment, and ".[test" lines. Inlining goes one level
// deep: "-r" lines inside an inlined file are kept as-is and not fetched.
// A single candidate's transient failure (connection reset, DNS flap) is
// retried up to 3 times before moving to the next candidate; a non-200
// response moves on without a retry.
func FetchManifest(ctx context.Context, repo, commit string, candidates []string) (string, error) {
	for _, candidate := range candidates {
		body, err := fetchWithRetry(ctx, path.Join(repo, commit, candidate))
		if err != nil {
			sylog.Debugf("template: candidate %s exhausted retries: %v", candidate, err)
			continue
		}

		dir := path.Dir(candidate)
		return inlineRequirements(ctx, repo, commit, dir, body), nil
	}
	return "", ErrNoCandidateManifest
}

func fetchWithRetry(ctx context.Context, urlPath string) (string, error) {
	var body string

	operation := func() error {
		resp, err := httpGet(ctx, swebenchRawURL+"/"+urlPath)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(errors.Errorf("template: %s returned status %d", urlPath, resp.StatusCode))
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = string(b)
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", err
	}
	return body, nil
}

func httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "template: building manifest request")
	}
	req.Header.Set("User-Agent", userAgent)
	return http.DefaultClient.Do(req)
}

func excludeManifestLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"-e .", "#", ".[test"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// inlineRequirements walks body line by line, inlining any "-r other.txt"
// reference relative to dir, and dropping excluded lines. A nested file
// that cannot be fetched is skipped rather than failing the whole
// manifest, matching the original's best-effort behavior.
func inlineRequirements(ctx context.Context, repo, commit, dir, body string) string {
	var originalLines, additional []string

	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "-r") {
			fileName := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-r"))
			nestedPath := path.Join(dir, fileName)
			nested, err := fetchWithRetry(ctx, path.Join(repo, commit, nestedPath))
			if err != nil {
				continue
			}
			for _, nestedLine := range strings.Split(nested, "\n") {
				if !excludeManifestLine(nestedLine) {
					additional = append(additional, nestedLine)
				}
			}
			continue
		}
		if !excludeManifestLine(line) {
			originalLines = append(originalLines, line)
		}
	}

	additional = append(additional, strings.Join(originalLines, "\n"))
	return strings.Join(additional, "\n")
}
