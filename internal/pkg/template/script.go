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
	"strings"

	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/specdata"
)

const envHeredocDelimiter = "EOF_59812759871"

// EnvScript renders the conda environment setup script for s, and returns
// the ordered list of shell commands it was built from. The command list,
// not the rendered text, is what instancespec.Spec.EnvKey hashes over.
func EnvScript(ctx context.Context, s *instancespec.Spec) (script string, commands []string, err error) {
	const envName = "testbed"
	specs := s.RepoSpec

	cmds := []string{"source /opt/miniconda3/bin/activate"}

	switch specs.Packages {
	case "requirements.txt":
		reqs, ferr := FetchManifest(ctx, s.Descriptor.Repo, s.Descriptor.ManifestCommit(), specdata.RequirementsCandidates(s.Descriptor.Repo))
		if ferr != nil {
			return "", nil, ferr
		}
		cmds = append(cmds,
			"conda create -n "+envName+" python="+specs.Python+" -y",
			"conda activate "+envName+" && python -m pip install -r $HOME/requirements.txt",
		)
		commands = heredocCommands(cmds, "$HOME/requirements.txt", reqs)
	case "environment.yml":
		reqs, ferr := FetchManifest(ctx, s.Descriptor.Repo, s.Descriptor.ManifestCommit(), specdata.EnvironmentYMLCandidates(s.Descriptor.Repo))
		if ferr != nil {
			return "", nil, ferr
		}
		reqs = rewriteEnvironmentYMLName(reqs, envName)
		if specs.NoUseEnv {
			cmds = append(cmds,
				"conda create -c conda-forge -n "+envName+" python="+specs.Python+" -y",
				"conda env update -f environment.yml",
			)
		} else {
			cmds = append(cmds,
				"conda env create --file environment.yml",
				"conda activate "+envName+" && conda install python="+specs.Python+" -y",
			)
		}
		commands = heredocCommands(cmds, "environment.yml", reqs)
	default:
		pkgs := specs.Packages
		cmd := "conda create -n " + envName + " python=" + specs.Python
		if pkgs != "" {
			cmd += " " + pkgs
		}
		cmd += " -y"
		commands = append(cmds, cmd)
	}

	commands = append(commands, "conda activate "+envName)
	if len(specs.PipPackages) > 0 {
		commands = append(commands, "python -m pip install "+strings.Join(specs.PipPackages, " "))
	}

	script = joinScript("set -euxo pipefail", commands)
	return script, commands, nil
}

// heredocCommands splices a heredoc-write-to-path command for content
// right after the first element of cmds (the miniconda activation), so the
// file exists before the env-creation and install commands that read it,
// and appends a final command that removes path.
func heredocCommands(cmds []string, path, content string) []string {
	out := make([]string, 0, len(cmds)+2)
	out = append(out, cmds[0])
	out = append(out, heredocWrite(path, content))
	out = append(out, cmds[1:]...)
	out = append(out, "rm "+path)
	return out
}

func heredocWrite(path, content string) string {
	return "cat <<'" + envHeredocDelimiter + "' > " + path + "\n" + content + "\n" + envHeredocDelimiter
}

func rewriteEnvironmentYMLName(text, envName string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "name:") {
			lines[i] = "name: " + envName
		}
	}
	return strings.Join(lines, "\n")
}

func joinScript(setFlags string, commands []string) string {
	lines := make([]string, 0, len(commands)+2)
	lines = append(lines, "#!/bin/bash", setFlags)
	lines = append(lines, commands...)
	return strings.Join(lines, "\n") + "\n"
}

// RepoScript renders the clone/checkout/install script for s.
func RepoScript(s *instancespec.Spec) string {
	const envName = "testbed"
	const repoDir = "/testbed"
	specs := s.RepoSpec

	cmds := []string{
		"git clone -o origin https://github.com/" + s.Descriptor.Repo + " " + repoDir,
		"chmod -R 777 " + repoDir,
		"cd " + repoDir,
		"git reset --hard " + s.Descriptor.BaseCommit,
		"git remote remove origin",
		"source /opt/miniconda3/bin/activate",
		"conda activate " + envName,
		`echo "Current environment: $CONDA_DEFAULT_ENV"`,
	}

	cmds = append(cmds, specs.PreInstall...)
	if specs.Install != "" {
		cmds = append(cmds, specs.Install)
	}

	cmds = append(cmds,
		"git config --global user.email setup@r2e-docker.config",
		"git config --global user.name r2e-docker",
		"git commit --allow-empty -am r2e-docker",
	)

	return joinScript("set -euxo pipefail", cmds)
}

const evalHeredocDelimiter = "EOF_114329324912"

// EvalScript renders the script used for both the pre-patch and post-patch
// validation steps: it resets the test files, applies test_patch, and
// runs the declared test command between the StartTestOutput/EndTestOutput
// sentinels. It is always built with "set -uxo pipefail" (no -e) so that
// a failing test does not prevent the trailing reset from running.
func EvalScript(s *instancespec.Spec) string {
	const envName = "testbed"
	const repoDir = "/testbed"
	specs := s.RepoSpec
	d := s.Descriptor

	testFiles := d.TestPatchFiles()
	resetTests := "git checkout " + d.BaseCommit + " " + strings.Join(testFiles, " ")
	applyTestPatch := "git apply -v - <<'" + evalHeredocDelimiter + "'\n" + d.TestPatch + "\n" + evalHeredocDelimiter

	directives := TestDirectives(d.TestPatch, d.Repo)
	testCommand := strings.Join(append([]string{specs.TestCmd}, directives...), " ")

	cmds := []string{
		"source /opt/miniconda3/bin/activate",
		"conda activate " + envName,
		"cd " + repoDir,
	}
	cmds = append(cmds, specs.EvalCommands...)
	cmds = append(cmds,
		"git config --global --add safe.directory "+repoDir,
		"cd "+repoDir,
		"git status",
		"git show",
		"git -c core.fileMode=false diff "+d.BaseCommit,
		"source /opt/miniconda3/bin/activate",
		"conda activate "+envName,
	)
	if specs.Install != "" {
		cmds = append(cmds, specs.Install)
	}
	cmds = append(cmds,
		resetTests,
		applyTestPatch,
		": '"+StartTestOutput+"'",
		testCommand,
		": '"+EndTestOutput+"'",
		resetTests,
	)

	return joinScript("set -uxo pipefail", cmds)
}
