// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// Copyright (c) 2018-2022, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package sylog

// messageLevel is the verbosity of a single log message, and also doubles
// as the currently configured logger verbosity threshold: a message is
// emitted only when its level is <= the threshold.
type messageLevel int

const (
	// FatalLevel messages abort the process after being logged.
	FatalLevel messageLevel = iota - 4
	// ErrorLevel messages report a failure being returned to the caller.
	ErrorLevel
	// WarnLevel messages report a recoverable anomaly.
	WarnLevel
	// LogLevel is the threshold at or below which Writer discards output
	// and INFO messages are suppressed.
	LogLevel
	// InfoLevel messages are emitted by default.
	InfoLevel
	// VerboseLevel messages require a logger level of at least VerboseLevel
	// (R2E_DOCKER_MESSAGELEVEL or SetLevel).
	VerboseLevel
	// DebugLevel messages require a logger level of DebugLevel and include
	// caller info.
	DebugLevel
)

func (l messageLevel) String() string {
	switch l {
	case FatalLevel:
		return "FATAL"
	case ErrorLevel:
		return "ERROR"
	case WarnLevel:
		return "WARNING"
	case LogLevel:
		return "LOG"
	case InfoLevel:
		return "INFO"
	case VerboseLevel:
		return "VERBOSE"
	case DebugLevel:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}
