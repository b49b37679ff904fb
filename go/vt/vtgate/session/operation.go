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
	"sync/atomic"
	"time"
)

// Operation is an immutable description of a single row mutation,
// carrying the mutable attempt counter and resolved-tablet slot the
// session fills in as it moves through pendingLookup, a Batch, or a
// solo SYNC dispatch. Per spec §3 it is completed exactly once,
// regardless of which of those three paths it travels.
type Operation struct {
	Table   Table
	Key     []byte
	Payload []byte

	// Timeout is the per-operation deadline handed to the dispatcher.
	// In SYNC mode Apply overwrites it with the session timeout; a
	// buffered operation's deadline is its Batch's Deadline, which is
	// set from the session timeout at dispatch. Zero means no
	// deadline.
	Timeout time.Duration

	Consistency ConsistencyMode

	// CorrelationID is opaque, used only for logging/metrics; it has
	// no bearing on any invariant.
	CorrelationID string

	attempt int32
	tablet  atomic.Value // TabletID

	future *Future
}

// NewOperation constructs an Operation ready to hand to Session.Apply.
func NewOperation(table Table, key, payload []byte, timeout time.Duration, consistency ConsistencyMode) *Operation {
	return &Operation{
		Table:         table,
		Key:           append([]byte(nil), key...),
		Payload:       append([]byte(nil), payload...),
		Timeout:       timeout,
		Consistency:   consistency,
		CorrelationID: newCorrelationID(),
		future:        NewFuture(),
	}
}

// Future returns the completion future the application should await.
// It is stable for the lifetime of the Operation: Apply always
// returns this same pointer, however many times RC recurses.
func (op *Operation) Future() *Future {
	return op.future
}

// Tablet returns the resolved tablet, if any has been bound yet.
func (op *Operation) Tablet() (TabletID, bool) {
	v := op.tablet.Load()
	if v == nil {
		return "", false
	}
	return v.(TabletID), true
}

// BindTablet records the tablet a lookup (or cache hit) resolved to.
func (op *Operation) BindTablet(t TabletID) {
	op.tablet.Store(t)
}

// Attempt returns the current retry-attempt count.
func (op *Operation) Attempt() int {
	return int(atomic.LoadInt32(&op.attempt))
}

// IncrementAttempt bumps the retry-attempt count and returns the new
// value.
func (op *Operation) IncrementAttempt() int {
	return int(atomic.AddInt32(&op.attempt, 1))
}

// ExceededRetryBudget reports whether op has used up its retry budget.
// A zero or negative maxAttempts means unlimited retries.
func (op *Operation) ExceededRetryBudget(maxAttempts int) bool {
	if maxAttempts <= 0 {
		return false
	}
	return op.Attempt() >= maxAttempts
}
