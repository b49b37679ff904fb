/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vterrors provides the typed, wrapped error values used
// throughout the write session. It mirrors the construction style of
// vitess's own vterrors package (New/Errorf/Wrap/Code) but carries a
// small session-specific code enum instead of the full vtrpc code
// space, since this module owns no RPC wire format of its own.
package vterrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies the kind of failure the session surfaces. See
// spec §7 for the authoritative table this mirrors.
type Code int

const (
	// CodeUnknown is the zero value; never intentionally constructed.
	CodeUnknown Code = iota
	// CodeInvalidArgument covers a nil operation or a config change
	// attempted while the session has buffered state.
	CodeInvalidArgument
	// CodeBufferFull is returned in MANUAL mode when a batch is full.
	CodeBufferFull
	// CodeRetryExhausted marks an operation that used up its retry budget.
	CodeRetryExhausted
	// CodeInvalidResponse marks a dispatcher response that doesn't match
	// the expected write-response shape.
	CodeInvalidResponse
	// CodeServerError marks a top-level error surfaced by a write-response.
	CodeServerError
	// CodePerRowError marks a per-row error attached to one operation in
	// an otherwise-successful batch.
	CodePerRowError
	// CodeTransportError marks a dispatcher future that failed outright.
	CodeTransportError
)

func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeBufferFull:
		return "BufferFull"
	case CodeRetryExhausted:
		return "RetryExhausted"
	case CodeInvalidResponse:
		return "InvalidResponse"
	case CodeServerError:
		return "ServerError"
	case CodePerRowError:
		return "PerRowError"
	case CodeTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// SessionError is the concrete error type returned by the session. It
// is always constructed via New/Errorf/Wrap below so that Code is
// always reachable via CodeOf.
type SessionError struct {
	code Code
	err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.err)
}

func (e *SessionError) Unwrap() error {
	return e.err
}

// New builds a SessionError with a stack trace attached to msg.
func New(code Code, msg string) error {
	return &SessionError{code: code, err: errors.New(msg)}
}

// Errorf builds a SessionError the way vterrors.Errorf does.
func Errorf(code Code, format string, args ...any) error {
	return &SessionError{code: code, err: errors.Errorf(format, args...)}
}

// Wrap attaches code and a stack trace to an existing error. Wrap
// returns nil if err is nil, matching errors.Wrap's convention.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &SessionError{code: code, err: errors.Wrap(err, msg)}
}

// CodeOf extracts the Code from err, walking Unwrap chains. Returns
// CodeUnknown if err was not constructed through this package.
func CodeOf(err error) Code {
	var se *SessionError
	if errors.As(err, &se) {
		return se.code
	}
	return CodeUnknown
}

// Is reports whether the first SessionError in err's chain carries
// the given code (see CodeOf); codes of SessionErrors nested below it
// are not consulted.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
