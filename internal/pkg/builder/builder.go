// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package builder drives the three-tier layered image build: base (shared
// per architecture), env (shared per content-addressed environment), and
// instance (one per base_commit). Base images build serially; env and
// instance images fan out across a bounded worker pool, deduplicated by
// image key before any work is submitted.
package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/r2e-gym/r2e-docker/internal/pkg/dockerengine"
	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/template"
	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// Builder builds base, env, and instance images for a batch of instance
// specs, deduplicating shared tiers by content-addressed key.
type Builder struct {
	Engine       *dockerengine.Client
	MaxWorkers   int
	ForceRebuild bool
	VerboseLogs  bool
	// LogDir roots failed_logs/ (always) and build_logs/ (when VerboseLogs).
	LogDir string
}

// safeName turns an image key into a single filesystem path segment,
// matching the failure-log naming convention: ':' and '/' become '__' and
// '_' respectively so a tag or commit hash never introduces a path
// separator.
func safeName(name string) string {
	name = strings.ReplaceAll(name, ":", "__")
	name = strings.ReplaceAll(name, "/", "_")
	return name
}

func (b *Builder) failedLogDir() string {
	return filepath.Join(b.LogDir, "failed_logs")
}

func (b *Builder) buildLogDir(category, name string) string {
	return filepath.Join(b.LogDir, "build_logs", category, safeName(name))
}

func (b *Builder) saveFailureLog(category, name, content string) error {
	dir := b.failedLogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, category+"_"+safeName(name)+".log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	sylog.Debugf("builder: wrote %s (%s)", path, units.HumanSize(float64(len(content))))
	return nil
}

// buildOne submits files to the daemon as an in-memory tar build context
// and persists the outcome: a failed build's error and log always go to
// failed_logs/, and with VerboseLogs every attempt's files and build log
// also go to build_logs/.
func (b *Builder) buildOne(ctx context.Context, category, logName, imageName string, files dockerengine.BuildFiles, platform string) error {
	tmpDir, err := os.MkdirTemp("", "r2e-docker-"+uuid.NewString())
	if err != nil {
		return errors.Wrap(err, "builder: creating build context directory")
	}
	defer os.RemoveAll(tmpDir)

	log, buildErr := b.Engine.Build(ctx, imageName, files, platform, b.ForceRebuild)

	if b.VerboseLogs {
		dir := b.buildLogDir(category, logName)
		if mkErr := os.MkdirAll(dir, 0o755); mkErr == nil {
			for name, fileContent := range files {
				_ = os.WriteFile(filepath.Join(dir, name), []byte(fileContent), 0o644)
			}
			content := log
			if buildErr != nil {
				content = "FAILED: " + buildErr.Error() + "\n\n--- Build Output ---\n" + log
			}
			_ = os.WriteFile(filepath.Join(dir, "build.log"), []byte(content), 0o644)
		}
	}
	if buildErr != nil {
		content := "Error: " + buildErr.Error() + "\n\n--- Build Output ---\n" + log
		if saveErr := b.saveFailureLog(category, logName, content); saveErr != nil {
			sylog.Debugf("builder: saving failure log for %s: %v", logName, saveErr)
		}
	}

	return buildErr
}

// ensureAbsent checks imageName; when present and ForceRebuild is set, it
// is removed so buildOne always creates a fresh layer; when present and
// ForceRebuild is unset, ensureAbsent reports that the build should be
// skipped.
func (b *Builder) ensureAbsent(ctx context.Context, imageName string) (skip bool, err error) {
	exists, err := b.Engine.ImageExists(ctx, imageName)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if !b.ForceRebuild {
		return true, nil
	}
	return false, b.Engine.RemoveImage(ctx, imageName)
}

func (b *Builder) workers() int {
	if b.MaxWorkers <= 0 {
		return 1
	}
	return b.MaxWorkers
}

// buildBases builds one base image per distinct architecture among specs,
// serially: base images are few and memory-heavy, so no pool is used.
func (b *Builder) buildBases(ctx context.Context, specs []*instancespec.Spec) error {
	type baseWork struct {
		dockerfile string
		platform   string
	}
	seen := make(map[string]baseWork)
	for _, s := range specs {
		key := s.BaseKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = baseWork{dockerfile: template.DockerfileBase(s), platform: s.PlatformString()}
	}

	for key, w := range seen {
		skip, err := b.ensureAbsent(ctx, key)
		if err != nil {
			return errors.Wrapf(err, "builder: checking base image %s", key)
		}
		if skip {
			sylog.Infof("Base image %s already exists, skipping.", key)
			continue
		}

		sylog.Infof("Building base image: %s", key)
		files := dockerengine.BuildFiles{"Dockerfile": w.dockerfile}
		if err := b.buildOne(ctx, "base", key, key, files, w.platform); err != nil {
			return errors.Wrapf(err, "builder: building base image %s", key)
		}
	}

	sylog.Infof("Base images built successfully.")
	return nil
}

type envWork struct {
	script     string
	dockerfile string
	platform   string
}

// buildEnvs builds base images first, then deduplicates and builds env
// images across a bounded worker pool. The returned set holds the env
// image keys that failed to build, so buildInstances can skip every
// instance that depends on one of them.
func (b *Builder) buildEnvs(ctx context.Context, specs []*instancespec.Spec) (map[string]bool, error) {
	if err := b.buildBases(ctx, specs); err != nil {
		return nil, err
	}

	envConfigs := make(map[string]envWork)
	for _, s := range specs {
		commands, exists := envCommandsCache(ctx, s)
		if exists != nil {
			return nil, exists
		}
		key := s.EnvKey(commands)
		if _, ok := envConfigs[key]; ok {
			continue
		}

		skip, err := b.ensureAbsent(ctx, key)
		if err != nil {
			return nil, errors.Wrapf(err, "builder: checking env image %s", key)
		}
		if skip {
			continue
		}

		script, _, err := template.EnvScript(ctx, s)
		if err != nil {
			return nil, errors.Wrapf(err, "builder: rendering env script for %s", s.Descriptor.InstanceID)
		}
		envConfigs[key] = envWork{
			script:     script,
			dockerfile: template.DockerfileEnv(s, s.BaseKey()),
			platform:   s.PlatformString(),
		}
	}

	if len(envConfigs) == 0 {
		sylog.Infof("No env images need to be built.")
		return nil, nil
	}

	sylog.Infof("Building %d env images (workers=%d)", len(envConfigs), b.workers())

	var mu sync.Mutex
	failed := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())

	for key, w := range envConfigs {
		key, w := key, w
		g.Go(func() error {
			files := dockerengine.BuildFiles{
				"Dockerfile":   w.dockerfile,
				"setup_env.sh": w.script,
			}
			if err := b.buildOne(gctx, "env", key, key, files, w.platform); err != nil {
				mu.Lock()
				failed[key] = true
				mu.Unlock()
				sylog.Errorf("  FAILED env image: %s: %v", key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		sylog.Infof("All env images built successfully.")
	} else {
		sylog.Infof("%d env images failed.", len(failed))
	}

	return failed, nil
}

// envCommandsCache renders an instance's env script once to obtain its
// command list for hashing. It is re-rendered per spec deliberately (no
// shared cache across specs): command lists depend on manifest content
// fetched over the network, and a stale cache would let one instance's
// env key silently diverge from what buildEnvs is about to build.
func envCommandsCache(ctx context.Context, s *instancespec.Spec) ([]string, error) {
	_, commands, err := template.EnvScript(ctx, s)
	if err != nil {
		return nil, errors.Wrapf(err, "builder: resolving env key for %s", s.Descriptor.InstanceID)
	}
	return commands, nil
}

// buildInstances builds instance images for every spec not skipped due to
// a failed env build, across the same bounded worker pool. Skipped specs
// are returned in failed.
func (b *Builder) buildInstances(ctx context.Context, specs []*instancespec.Spec, failedEnvKeys map[string]bool) (successful, failed []*instancespec.Spec) {
	runnable := specs
	if len(failedEnvKeys) > 0 {
		runnable = runnable[:0]
		skipped := 0
		for _, s := range specs {
			commands, err := envCommandsCache(ctx, s)
			if err == nil && failedEnvKeys[s.EnvKey(commands)] {
				skipped++
				failed = append(failed, s)
				continue
			}
			runnable = append(runnable, s)
		}
		if skipped > 0 {
			sylog.Infof("Skipping %d instances due to failed env builds", skipped)
		}
	}

	sylog.Infof("Building %d instance images (workers=%d)", len(runnable), b.workers())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())

	for _, s := range runnable {
		s := s
		g.Go(func() error {
			key := s.InstanceKey()

			if !b.ForceRebuild {
				exists, err := b.Engine.ImageExists(gctx, key)
				if err == nil && exists {
					mu.Lock()
					successful = append(successful, s)
					mu.Unlock()
					return nil
				}
			}

			envKey := s.EnvKey(mustEnvCommands(gctx, s))
			script := template.RepoScript(s)
			files := dockerengine.BuildFiles{
				"Dockerfile":     template.DockerfileInstance(s, envKey),
				"setup_repo.sh": script,
			}

			err := b.buildOne(gctx, "instance", s.Descriptor.InstanceID, key, files, s.PlatformString())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, s)
				sylog.Errorf("  FAILED instance: %s: %v", s.Descriptor.InstanceID, err)
			} else {
				successful = append(successful, s)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		sylog.Infof("All instance images built successfully.")
	} else {
		sylog.Infof("%d instance images failed to build.", len(failed))
	}

	return successful, failed
}

func mustEnvCommands(ctx context.Context, s *instancespec.Spec) []string {
	commands, err := envCommandsCache(ctx, s)
	if err != nil {
		return nil
	}
	return commands
}

// BuildAll builds every tier for specs in dependency order: bases, then
// envs, then instances. It returns the specs whose instance image built
// (or already existed) and those that failed, either at the env or the
// instance tier.
func (b *Builder) BuildAll(ctx context.Context, specs []*instancespec.Spec) (successful, failed []*instancespec.Spec, err error) {
	failedEnvKeys, err := b.buildEnvs(ctx, specs)
	if err != nil {
		return nil, nil, err
	}

	successful, failed = b.buildInstances(ctx, specs, failedEnvKeys)
	return successful, failed, nil
}
