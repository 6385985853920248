// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cmdline

import "github.com/spf13/cobra"

var (
	rootCmd = &cobra.Command{
		Use: "r2e-docker",
	}
	parentCmd = &cobra.Command{
		Use: "build",
	}
)

func init() {
	rootCmd.AddCommand(parentCmd)
}
