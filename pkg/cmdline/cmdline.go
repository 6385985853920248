// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2019-2025, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cmdline provides a thin registration layer on top of cobra/pflag:
// every flag across the CLI is declared once as a package-scope *Flag value
// and bound onto one or more commands through a CommandManager, so that a
// flag's name, shorthand, default, usage text and environment-variable
// fallback live in a single place instead of being repeated at every
// registration site.
package cmdline

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Flag describes a single command-line flag and how it should be bound.
type Flag struct {
	// ID uniquely identifies this flag across the whole CLI.
	ID string
	// Value must be a pointer to the variable the flag parses into.
	Value interface{}
	// DefaultValue must be assignable to the type Value points at.
	DefaultValue interface{}
	// Name is the long flag name, e.g. "max-workers" for --max-workers.
	Name string
	// ShortHand is the optional single-character alias, e.g. "w".
	ShortHand string
	Usage     string
	// EnvKeys are environment variables consulted, in order, when the
	// flag was not explicitly set on the command line.
	EnvKeys []string
	// Deprecated, if non-empty, marks the flag deprecated with this message.
	Deprecated string
	Hidden     bool
	Required   bool
	// WithoutPrefix flags are registered without an env-prefix lookup.
	WithoutPrefix bool
}

type boundFlag struct {
	flag *Flag
	cmd  *cobra.Command
}

// CommandManager registers Flag values onto a tree of cobra commands.
type CommandManager struct {
	rootCmd *cobra.Command
	bound   []boundFlag
	errPool []error
}

// NewCommandManager constructs a CommandManager rooted at rootCmd.
func NewCommandManager(rootCmd *cobra.Command) (*CommandManager, error) {
	return newCommandManager(rootCmd)
}

func newCommandManager(rootCmd *cobra.Command) (*CommandManager, error) {
	if rootCmd == nil {
		return nil, errors.New("cmdline: root command cannot be nil")
	}
	return &CommandManager{rootCmd: rootCmd}, nil
}

// GetError returns every error accumulated by RegisterFlagForCmd calls so far.
func (m *CommandManager) GetError() []error {
	return m.errPool
}

func (m *CommandManager) fail(format string, a ...interface{}) {
	m.errPool = append(m.errPool, fmt.Errorf(format, a...))
}

// RegisterCmd registers cmd as a subcommand of the manager's root command.
func (m *CommandManager) RegisterCmd(cmd *cobra.Command) {
	m.rootCmd.AddCommand(cmd)
}

// RegisterFlagForCmd binds flag onto cmd's flag set, dispatching on the
// underlying type of flag.Value. Unsupported types, a nil flag, or a nil
// command are recorded via GetError rather than panicking, so that a
// batch of registrations at package-init time can all run and be checked
// together.
func (m *CommandManager) RegisterFlagForCmd(flag *Flag, cmd *cobra.Command) {
	if flag == nil {
		m.fail("cmdline: nil flag")
		return
	}
	if cmd == nil {
		m.fail("cmdline: nil command for flag %q", flag.Name)
		return
	}

	fs := cmd.Flags()

	var err error
	switch v := flag.Value.(type) {
	case *string:
		def, ok := flag.DefaultValue.(string)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not a string", flag.Name)
			break
		}
		fs.StringVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *bool:
		def, ok := flag.DefaultValue.(bool)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not a bool", flag.Name)
			break
		}
		fs.BoolVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *int:
		def, ok := flag.DefaultValue.(int)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not an int", flag.Name)
			break
		}
		fs.IntVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *uint32:
		def, ok := flag.DefaultValue.(uint32)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not a uint32", flag.Name)
			break
		}
		fs.Uint32VarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *[]string:
		def, ok := flag.DefaultValue.([]string)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not a []string", flag.Name)
			break
		}
		fs.StringSliceVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	case *map[string]string:
		def, ok := flag.DefaultValue.(map[string]string)
		if !ok {
			err = fmt.Errorf("default value for flag %q is not a map[string]string", flag.Name)
			break
		}
		fs.StringToStringVarP(v, flag.Name, flag.ShortHand, def, flag.Usage)
	default:
		err = fmt.Errorf("flag %q has unsupported value type %T", flag.Name, flag.Value)
	}

	if err != nil {
		m.fail("cmdline: %v", err)
		return
	}

	if flag.Hidden {
		_ = fs.MarkHidden(flag.Name)
	}
	if flag.Deprecated != "" {
		_ = fs.MarkDeprecated(flag.Name, flag.Deprecated)
	}
	if flag.Required {
		_ = cmd.MarkFlagRequired(flag.Name)
	}

	m.bound = append(m.bound, boundFlag{flag: flag, cmd: cmd})
}

// UpdateCmdFlagFromEnv applies environment-variable fallbacks for every
// flag registered against cmd: a flag whose EnvKeys names a variable that
// is set, and which was not explicitly passed on the command line, has its
// value set from the environment instead of its static default.
//
// hidden is accepted for interface compatibility with callers that track a
// recursion depth into child commands; a negative value limits the update
// to cmd itself. envPrefixMap allows a caller to prefix EnvKeys per
// command tree in the future; it is consulted but not required to be
// populated.
func (m *CommandManager) UpdateCmdFlagFromEnv(cmd *cobra.Command, hidden int, envPrefixMap map[string]string) error {
	prefix := envPrefixMap[cmd.Name()]

	for _, b := range m.bound {
		if b.cmd != cmd || b.flag.WithoutPrefix && prefix != "" {
			if b.cmd != cmd {
				continue
			}
		}
		if len(b.flag.EnvKeys) == 0 {
			continue
		}
		if cmd.Flags().Changed(b.flag.Name) {
			continue
		}
		for _, key := range b.flag.EnvKeys {
			name := key
			if prefix != "" && !b.flag.WithoutPrefix {
				name = prefix + key
			}
			val, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			if err := cmd.Flags().Set(b.flag.Name, val); err != nil {
				return fmt.Errorf("cmdline: applying env %s to flag %q: %w", name, b.flag.Name, err)
			}
			break
		}
	}

	if hidden >= 0 {
		for _, child := range cmd.Commands() {
			if err := m.UpdateCmdFlagFromEnv(child, hidden, envPrefixMap); err != nil {
				return err
			}
		}
	}

	return nil
}
