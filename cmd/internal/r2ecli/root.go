// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package r2ecli wires the build and validate subcommands onto a cobra
// root command, following the same registration pattern as the
// apptainer CLI: every flag is a package-scope *cmdline.Flag, every
// subcommand registers itself and its flags from an init() appended to
// cmdInits, and Init walks that list once at startup so registration
// order never matters.
package r2ecli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/r2e-gym/r2e-docker/pkg/cmdline"
	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// cmdInits holds every subcommand's registration func, appended by that
// subcommand's own init().
var cmdInits = make([]func(*cmdline.CommandManager), 0)

func addCmdInit(cmdInit func(*cmdline.CommandManager)) {
	cmdInits = append(cmdInits, cmdInit)
}

// rootCmd is the "r2e-docker" entry point; build and validate attach to
// it in their own init()s via addCmdInit.
var rootCmd = &cobra.Command{
	Use:           "r2e-docker",
	Short:         "Build and validate program-repair benchmark container images",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Init registers every flag and subcommand collected in cmdInits. It is
// called exactly once, from ExecuteR2EDocker.
func Init() error {
	cmdManager, err := cmdline.NewCommandManager(rootCmd)
	if err != nil {
		return err
	}

	for _, cmdInit := range cmdInits {
		cmdInit(cmdManager)
	}

	if errs := cmdManager.GetError(); len(errs) > 0 {
		return fmt.Errorf("%d error(s) registering flags: %v", len(errs), errs)
	}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return cmdManager.UpdateCmdFlagFromEnv(cmd, -1, nil)
	}

	return nil
}

// ExecuteR2EDocker is the process entry point: it initializes the
// command tree, runs it under a context cancelled on SIGINT, and maps
// the outcome to a process exit code.
func ExecuteR2EDocker() {
	if err := Init(); err != nil {
		sylog.Fatalf("initializing CLI: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
