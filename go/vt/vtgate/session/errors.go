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

package session

import (
	"fmt"

	"github.com/DanielCho/kudu/internal/vterrors"
)

// ThrottleError is the advisory backpressure signal raised when a
// batch overflows into a tablet whose prior batch is still in flight
// (§5 Backpressure, §7). Unlike the other error kinds, raising it
// does not fail the triggering Operation, but the op is not buffered
// either. Callers (and the retry continuation) detect it with
// errors.As, await Await, and then apply the op again.
type ThrottleError struct {
	Tablet TabletID
	Await  *Future
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttle: tablet %s has a batch in flight", e.Tablet)
}

// errInvalidArgument builds the InvalidArgument error kind (§7): nil
// operation, or a config change attempted with non-empty buffers.
// Kept under the InvalidArgument category per spec §9's note that the
// source's IllegalState would be more accurate but the category is
// preserved as-is.
func errInvalidArgument(format string, args ...any) error {
	return vterrors.Errorf(vterrors.CodeInvalidArgument, format, args...)
}

func errBufferFull(tablet TabletID) error {
	return vterrors.Errorf(vterrors.CodeBufferFull, "batch for tablet %s is full", tablet)
}

func errRetryExhausted(op *Operation) error {
	return vterrors.Errorf(vterrors.CodeRetryExhausted, "operation %s exceeded its retry budget", op.CorrelationID)
}

func errInvalidResponse(msg string) error {
	return vterrors.New(vterrors.CodeInvalidResponse, msg)
}

func errServerError(cause error) error {
	return vterrors.Wrap(cause, vterrors.CodeServerError, "server returned a top-level error")
}

func errPerRow(cause error) error {
	return vterrors.Wrap(cause, vterrors.CodePerRowError, "row failed")
}

func errTransport(cause error) error {
	return vterrors.Wrap(cause, vterrors.CodeTransportError, "dispatcher future failed")
}
