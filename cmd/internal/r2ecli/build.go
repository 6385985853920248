// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package r2ecli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/r2e-gym/r2e-docker/internal/pkg/builder"
	"github.com/r2e-gym/r2e-docker/internal/pkg/dataset"
	"github.com/r2e-gym/r2e-docker/internal/pkg/dockerengine"
	"github.com/r2e-gym/r2e-docker/internal/pkg/pipeline"
	"github.com/r2e-gym/r2e-docker/internal/pkg/validator"
	"github.com/r2e-gym/r2e-docker/pkg/cmdline"
	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

const defaultRegistry = "namanjain12/"

var (
	buildDataset        string
	buildSplit          string
	buildRegistry       string
	buildMaxWorkers     int
	buildForceRebuild   bool
	buildLimit          int
	buildInstanceIDs    []string
	buildValidate       bool
	buildValidationSecs int
	buildVerboseLogs    bool
	buildOutputDir      string
	buildPush           bool
)

// --dataset
var buildDatasetFlag = cmdline.Flag{
	ID:           "buildDatasetFlag",
	Value:        &buildDataset,
	DefaultValue: "",
	Name:         "dataset",
	Usage:        "path to a newline-delimited JSON file of instance descriptors",
	EnvKeys:      []string{"R2E_DOCKER_DATASET"},
	Required:     true,
}

// --split
var buildSplitFlag = cmdline.Flag{
	ID:           "buildSplitFlag",
	Value:        &buildSplit,
	DefaultValue: "test",
	Name:         "split",
	Usage:        "dataset split name (accepted for interface compatibility; a JSONL file has no splits)",
}

// --registry
var buildRegistryFlag = cmdline.Flag{
	ID:           "buildRegistryFlag",
	Value:        &buildRegistry,
	DefaultValue: defaultRegistry,
	Name:         "registry",
	Usage:        "prefix applied to every built image name",
	EnvKeys:      []string{"R2E_DOCKER_REGISTRY"},
}

// --max-workers
var buildMaxWorkersFlag = cmdline.Flag{
	ID:           "buildMaxWorkersFlag",
	Value:        &buildMaxWorkers,
	DefaultValue: 4,
	Name:         "max-workers",
	Usage:        "maximum concurrent env/instance image builds",
}

// --force-rebuild
var buildForceRebuildFlag = cmdline.Flag{
	ID:           "buildForceRebuildFlag",
	Value:        &buildForceRebuild,
	DefaultValue: false,
	Name:         "force-rebuild",
	Usage:        "rebuild images even if they already exist",
}

// --limit
var buildLimitFlag = cmdline.Flag{
	ID:           "buildLimitFlag",
	Value:        &buildLimit,
	DefaultValue: 0,
	Name:         "limit",
	Usage:        "build at most this many instances (0 means no limit)",
}

// --instance-ids
var buildInstanceIDsFlag = cmdline.Flag{
	ID:           "buildInstanceIDsFlag",
	Value:        &buildInstanceIDs,
	DefaultValue: []string{},
	Name:         "instance-ids",
	Usage:        "comma-separated instance ids to restrict the build to",
}

// --validate
var buildValidateFlag = cmdline.Flag{
	ID:           "buildValidateFlag",
	Value:        &buildValidate,
	DefaultValue: false,
	Name:         "validate",
	Usage:        "run the differential validator against every successfully built instance",
}

// --validation-timeout
var buildValidationTimeoutFlag = cmdline.Flag{
	ID:           "buildValidationTimeoutFlag",
	Value:        &buildValidationSecs,
	DefaultValue: 600,
	Name:         "validation-timeout",
	Usage:        "seconds allowed for a single eval run inside the container",
}

// --verbose-logs
var buildVerboseLogsFlag = cmdline.Flag{
	ID:           "buildVerboseLogsFlag",
	Value:        &buildVerboseLogs,
	DefaultValue: false,
	Name:         "verbose-logs",
	Usage:        "persist Dockerfile, scripts and build log for every build attempt, not just failures",
}

// --output-dir
var buildOutputDirFlag = cmdline.Flag{
	ID:           "buildOutputDirFlag",
	Value:        &buildOutputDir,
	DefaultValue: "output",
	Name:         "output-dir",
	Usage:        "root directory for failed_logs/, build_logs/ and detailed_logs/",
}

// --push
var buildPushFlag = cmdline.Flag{
	ID:           "buildPushFlag",
	Value:        &buildPush,
	DefaultValue: false,
	Name:         "push",
	Usage:        "push every successfully built (and, with --validate, passing) instance image to its registry",
}

func init() {
	addCmdInit(func(cmdManager *cmdline.CommandManager) {
		cmdManager.RegisterCmd(BuildCmd)

		cmdManager.RegisterFlagForCmd(&buildDatasetFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildSplitFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildRegistryFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildMaxWorkersFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildForceRebuildFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildLimitFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildInstanceIDsFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildValidateFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildValidationTimeoutFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildVerboseLogsFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildOutputDirFlag, BuildCmd)
		cmdManager.RegisterFlagForCmd(&buildPushFlag, BuildCmd)
	})
}

// BuildCmd is `r2e-docker build`.
var BuildCmd = &cobra.Command{
	Use:                   "build",
	Short:                 "Build layered images for every instance in a dataset",
	DisableFlagsInUseLine: true,
	Args:                  cobra.NoArgs,
	RunE:                  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	source, closer, err := dataset.OpenJSONLFile(buildDataset, dataset.Filter{
		InstanceIDs: buildInstanceIDs,
		Limit:       buildLimit,
	})
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	defer closer.Close()

	engine, err := dockerengine.New()
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	defer engine.Close()

	b := &builder.Builder{
		Engine:       engine,
		MaxWorkers:   buildMaxWorkers,
		ForceRebuild: buildForceRebuild,
		VerboseLogs:  buildVerboseLogs,
		LogDir:       buildOutputDir,
	}

	var v *validator.Validator
	if buildValidate {
		v = &validator.Validator{Engine: engine, Timeout: time.Duration(buildValidationSecs) * time.Second}
	}

	progress := mpb.New(mpb.WithOutput(cmd.OutOrStderr()))

	driver := &pipeline.Driver{
		Source:    source,
		Builder:   b,
		Validator: v,
		Progress:  progress,
		Registry:  buildRegistry,
		LogDir:    filepath.Join(buildOutputDir, "detailed_logs"),
	}

	outcomes, err := driver.Run(ctx)
	progress.Wait()
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	var built, failed, validated, passed int
	for _, o := range outcomes {
		if o.Built {
			built++
		} else {
			failed++
		}
		if o.Validated {
			validated++
			if o.Passed {
				passed++
			}
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "instances=%d built=%d failed=%d validated=%d passed=%d\n",
		len(outcomes), built, failed, validated, passed)

	if buildPush {
		for _, o := range outcomes {
			if !o.Built || o.ImageKey == "" {
				continue
			}
			if buildValidate && !o.Passed {
				continue
			}
			if err := engine.Push(ctx, o.ImageKey); err != nil {
				sylog.Errorf("pushing %s: %v", o.ImageKey, err)
				continue
			}
			sylog.Infof("pushed %s", o.ImageKey)
		}
	}

	if buildValidate && validated > passed {
		sylog.Errorf("%d instance(s) failed validation", validated-passed)
		os.Exit(1)
	}

	return nil
}
