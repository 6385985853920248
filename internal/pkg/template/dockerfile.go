// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package template renders the Dockerfile and shell-script text consumed
// by the layered image builder, and extracts test directives from a
// unified diff. Apart from EnvScript, which fetches dependency manifests
// over HTTP, every function here is pure: given the same InstanceSpec it
// always produces the same text.
package template

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
)

var dockerfileBaseTemplate = template.Must(template.New("dockerfile-base").Parse(`
FROM --platform={{.Platform}} ubuntu:{{.UbuntuVersion}}

ARG DEBIAN_FRONTEND=noninteractive
ENV TZ=Etc/UTC

RUN apt update && apt install -y \
wget \
git \
build-essential \
libffi-dev \
libtiff-dev \
python3 \
python3-pip \
python-is-python3 \
jq \
curl \
locales \
locales-all \
tzdata \
&& rm -rf /var/lib/apt/lists/*

# Download and install conda
RUN wget 'https://repo.anaconda.com/miniconda/Miniconda3-{{.CondaVersion}}-Linux-{{.CondaArch}}.sh' -O miniconda.sh \
    && bash miniconda.sh -b -p /opt/miniconda3
# Add conda to PATH
ENV PATH=/opt/miniconda3/bin:$PATH
# Add conda to shell startup scripts like .bashrc (DO NOT REMOVE THIS)
RUN conda init --all
RUN conda config --append channels conda-forge

RUN adduser --disabled-password --gecos 'dog' nonroot
`))

var dockerfileEnvTemplate = template.Must(template.New("dockerfile-env").Parse(`FROM --platform={{.Platform}} {{.BaseImageKey}}

COPY ./setup_env.sh /root/
RUN sed -i -e 's/\r$//' /root/setup_env.sh
RUN chmod +x /root/setup_env.sh
RUN /bin/bash -c "source ~/.bashrc && /root/setup_env.sh"

WORKDIR /testbed/

# Automatically activate the testbed environment
RUN echo "source /opt/miniconda3/etc/profile.d/conda.sh && conda activate testbed" > /root/.bashrc
`))

var dockerfileInstanceTemplate = template.Must(template.New("dockerfile-instance").Parse(`FROM --platform={{.Platform}} {{.EnvImageKey}}

COPY ./setup_repo.sh /root/
RUN sed -i -e 's/\r$//' /root/setup_repo.sh
RUN /bin/bash /root/setup_repo.sh

WORKDIR /testbed/
`))

func render(t *template.Template, data interface{}) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		// Every template here is a Must-parsed literal with a fixed set of
		// fields supplied below; a failure here means the template and
		// its data struct have drifted out of sync, a programmer error.
		panic(fmt.Sprintf("template: %v", err))
	}
	return buf.String()
}

// DockerfileBase renders the tier-1 base image's Dockerfile.
func DockerfileBase(s *instancespec.Spec) string {
	specs := s.DockerSpecs()
	arch := "x86_64"
	if s.Arch == "arm64" {
		arch = "aarch64"
	}
	return render(dockerfileBaseTemplate, struct {
		Platform      string
		UbuntuVersion string
		CondaVersion  string
		CondaArch     string
	}{
		Platform:      s.PlatformString(),
		UbuntuVersion: specs.UbuntuVersion,
		CondaVersion:  specs.CondaVersion,
		CondaArch:     arch,
	})
}

// DockerfileEnv renders the tier-2 env image's Dockerfile.
func DockerfileEnv(s *instancespec.Spec, baseImageKey string) string {
	return render(dockerfileEnvTemplate, struct {
		Platform     string
		BaseImageKey string
	}{
		Platform:     s.PlatformString(),
		BaseImageKey: baseImageKey,
	})
}

// DockerfileInstance renders the tier-3 instance image's Dockerfile.
func DockerfileInstance(s *instancespec.Spec, envImageKey string) string {
	return render(dockerfileInstanceTemplate, struct {
		Platform    string
		EnvImageKey string
	}{
		Platform:    s.PlatformString(),
		EnvImageKey: envImageKey,
	})
}
