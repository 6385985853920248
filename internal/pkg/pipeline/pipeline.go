// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pipeline wires the descriptor source, the builder, and the
// validator into a single run: read every descriptor, build the whole
// batch, then (when a validator is configured) validate every instance
// that built successfully, aggregating one outcome per descriptor.
package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/r2e-gym/r2e-docker/internal/pkg/builder"
	"github.com/r2e-gym/r2e-docker/internal/pkg/instancespec"
	"github.com/r2e-gym/r2e-docker/internal/pkg/validator"
	"github.com/r2e-gym/r2e-docker/pkg/descriptor"
	"github.com/r2e-gym/r2e-docker/pkg/sylog"
)

// DescriptorSource streams InstanceDescriptor records until exhausted.
type DescriptorSource interface {
	// Next returns the next descriptor, ok=false once the source is
	// exhausted, or an error if the source itself failed (malformed
	// record, read error) — distinct from "no more records".
	Next(ctx context.Context) (descriptor.InstanceDescriptor, bool, error)
}

// Driver runs one build(+validate) pass over everything DescriptorSource
// yields.
type Driver struct {
	Source    DescriptorSource
	Builder   *builder.Builder
	Validator *validator.Validator // nil: validation is skipped
	Progress  *mpb.Progress        // nil: no progress bars rendered
	Registry  string
	// LogDir, when set, receives one detailed_log file per failed
	// validation, named from a slugified instance id — this path has no
	// byte-exact contract with the builder's failure-log convention, so a
	// human-readable slug is used instead of the builder's strict
	// sanitization rule.
	LogDir string
}

// Outcome is the per-descriptor result of one driver run.
type Outcome struct {
	InstanceID string
	ImageKey   string // instance image tag, set when Built
	Built      bool
	Validated  bool
	Passed     bool
	Reason     string
}

// Run reads every descriptor from d.Source, constructs an
// instancespec.Spec for each (skipping, with a logged reason, any
// descriptor that fails validation or names an unknown repo/version),
// builds the whole batch, and validates every successfully built spec.
func (d *Driver) Run(ctx context.Context) ([]Outcome, error) {
	specs, outcomes := d.collectSpecs(ctx)

	if len(specs) == 0 {
		return outcomes, nil
	}

	buildBar := d.addBar("build", int64(len(specs)))

	successful, failed, err := d.Builder.BuildAll(ctx, specs)
	if err != nil {
		return outcomes, err
	}

	byInstanceID := make(map[string]*Outcome, len(outcomes))
	for i := range outcomes {
		byInstanceID[outcomes[i].InstanceID] = &outcomes[i]
	}

	for _, s := range failed {
		if o := byInstanceID[s.Descriptor.InstanceID]; o != nil {
			o.Built = false
			o.Reason = "image build failed"
		}
		incr(buildBar)
	}

	for _, s := range successful {
		if o := byInstanceID[s.Descriptor.InstanceID]; o != nil {
			o.Built = true
			o.ImageKey = s.InstanceKey()
		}
		incr(buildBar)
	}

	if d.Validator == nil {
		return outcomes, nil
	}

	validateBar := d.addBar("validate", int64(len(successful)))

	for _, s := range successful {
		result, err := d.Validator.Validate(ctx, s)
		o := byInstanceID[s.Descriptor.InstanceID]
		incr(validateBar)

		if err != nil {
			if o != nil {
				o.Validated = false
				o.Reason = err.Error()
			}
			sylog.Errorf("validation error for %s: %v", s.Descriptor.InstanceID, err)
			continue
		}

		if o != nil {
			o.Validated = true
			o.Passed = result.Passed
			o.Reason = result.Reason
		}

		if !result.Passed {
			if rmErr := d.Builder.Engine.RemoveImage(ctx, s.InstanceKey()); rmErr != nil {
				sylog.Debugf("pipeline: removing failed-validation image %s: %v", s.InstanceKey(), rmErr)
			}
			d.persistDetailedLog(s.Descriptor.InstanceID, result.DetailedLog())
		}
	}

	return outcomes, nil
}

// collectSpecs drains the descriptor source, returning the constructible
// specs alongside a pre-seeded Outcome for every descriptor encountered
// (including the ones that were skipped before ever reaching the
// builder).
func (d *Driver) collectSpecs(ctx context.Context) ([]*instancespec.Spec, []Outcome) {
	var specs []*instancespec.Spec
	var outcomes []Outcome

	for {
		desc, ok, err := d.Source.Next(ctx)
		if err != nil {
			sylog.Errorf("pipeline: descriptor source error: %v", err)
			break
		}
		if !ok {
			break
		}

		spec, err := instancespec.New(desc, d.Registry)
		if err != nil {
			sylog.Infof("skipping %s: %v", desc.InstanceID, err)
			outcomes = append(outcomes, Outcome{InstanceID: desc.InstanceID, Reason: err.Error()})
			continue
		}

		specs = append(specs, spec)
		outcomes = append(outcomes, Outcome{InstanceID: desc.InstanceID})
	}

	return specs, outcomes
}

// persistDetailedLog writes content under LogDir, named from a slugified
// instance id. A LogDir of "" disables persistence entirely.
func (d *Driver) persistDetailedLog(instanceID, content string) {
	if d.LogDir == "" {
		return
	}
	if err := os.MkdirAll(d.LogDir, 0o755); err != nil {
		sylog.Debugf("pipeline: creating log dir %s: %v", d.LogDir, err)
		return
	}
	path := filepath.Join(d.LogDir, slug.Make(instanceID)+".log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		sylog.Debugf("pipeline: writing detailed log %s: %v", path, err)
	}
}

func (d *Driver) addBar(name string, total int64) *mpb.Bar {
	if d.Progress == nil {
		return nil
	}
	return d.Progress.AddBar(total,
		mpb.PrependDecorators(decor.Name(name)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
}

func incr(bar *mpb.Bar) {
	if bar != nil {
		bar.Increment()
	}
}
