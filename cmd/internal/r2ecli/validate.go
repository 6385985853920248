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
	"time"

	"github.com/spf13/cobra"

	"github.com/r2e-gym/r2e-docker/internal/pkg/dataset"
	"github.com/r2e-gym/r2e-docker/internal/pkg/dockerengine"
	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/validator"
	"github.com/r2e-gym/r2e-docker/pkg/cmdline"
	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

var (
	validateDataset    string
	validateSplit      string
	validateRegistry   string
	validateInstanceID string
	validateTimeoutSec int
)

// --dataset
var validateDatasetFlag = cmdline.Flag{
	ID:           "validateDatasetFlag",
	Value:        &validateDataset,
	DefaultValue: "",
	Name:         "dataset",
	Usage:        "path to a newline-delimited JSON file of instance descriptors",
	EnvKeys:      []string{"R2E_DOCKER_DATASET"},
	Required:     true,
}

// --split
var validateSplitFlag = cmdline.Flag{
	ID:           "validateSplitFlag",
	Value:        &validateSplit,
	DefaultValue: "test",
	Name:         "split",
	Usage:        "dataset split name (accepted for interface compatibility; a JSONL file has no splits)",
}

// --registry
var validateRegistryFlag = cmdline.Flag{
	ID:           "validateRegistryFlag",
	Value:        &validateRegistry,
	DefaultValue: defaultRegistry,
	Name:         "registry",
	Usage:        "prefix the instance's image key is resolved under",
	EnvKeys:      []string{"R2E_DOCKER_REGISTRY"},
}

// --instance-id
var validateInstanceIDFlag = cmdline.Flag{
	ID:           "validateInstanceIDFlag",
	Value:        &validateInstanceID,
	DefaultValue: "",
	Name:         "instance-id",
	Usage:        "instance id whose descriptor drives the validation run",
	Required:     true,
}

// --timeout
var validateTimeoutFlag = cmdline.Flag{
	ID:           "validateTimeoutFlag",
	Value:        &validateTimeoutSec,
	DefaultValue: 600,
	Name:         "timeout",
	Usage:        "seconds allowed for a single eval run inside the container",
}

func init() {
	addCmdInit(func(cmdManager *cmdline.CommandManager) {
		cmdManager.RegisterCmd(ValidateCmd)

		cmdManager.RegisterFlagForCmd(&validateDatasetFlag, ValidateCmd)
		cmdManager.RegisterFlagForCmd(&validateSplitFlag, ValidateCmd)
		cmdManager.RegisterFlagForCmd(&validateRegistryFlag, ValidateCmd)
		cmdManager.RegisterFlagForCmd(&validateInstanceIDFlag, ValidateCmd)
		cmdManager.RegisterFlagForCmd(&validateTimeoutFlag, ValidateCmd)
	})
}

// ValidateCmd is `r2e-docker validate <image>`.
var ValidateCmd = &cobra.Command{
	Use:                   "validate <image>",
	Short:                 "Run the two-step differential validator against an already-built image",
	DisableFlagsInUseLine: true,
	Args:                  cobra.ExactArgs(1),
	RunE:                  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	image := args[0]

	source, closer, err := dataset.OpenJSONLFile(validateDataset, dataset.Filter{
		InstanceIDs: []string{validateInstanceID},
		Limit:       1,
	})
	if err != nil {
		return fmt.Errorf("opening dataset: %w", err)
	}
	defer closer.Close()

	desc, ok, err := source.Next(ctx)
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}
	if !ok {
		sylog.Errorf("instance %q not found in %s", validateInstanceID, validateDataset)
		os.Exit(2)
	}

	spec, err := instancespec.New(desc, validateRegistry)
	if err != nil {
		return fmt.Errorf("resolving instance: %w", err)
	}

	if spec.InstanceKey() != image {
		sylog.Warningf("provided image %q does not match the resolved instance key %q; validating %q", image, spec.InstanceKey(), spec.InstanceKey())
	}

	engine, err := dockerengine.New()
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	defer engine.Close()

	exists, err := engine.ImageExists(ctx, spec.InstanceKey())
	if err != nil {
		return fmt.Errorf("checking image %s: %w", spec.InstanceKey(), err)
	}
	if !exists {
		sylog.Errorf("image %q not found", spec.InstanceKey())
		os.Exit(2)
	}

	v := &validator.Validator{Engine: engine, Timeout: time.Duration(validateTimeoutSec) * time.Second}

	result, err := v.Validate(ctx, spec)
	if err != nil {
		return fmt.Errorf("validating %s: %w", validateInstanceID, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Summary())

	if !result.Passed {
		os.Exit(1)
	}

	return nil
}
