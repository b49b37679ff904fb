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
	"context"
	"sync"
)

// Future is a one-shot, composable completion primitive. It replaces
// the mutable "deferred that gets reset" callback chains of the
// original client (see DESIGN.md / spec §9): a Future is created
// empty, completed exactly once, and never mutated afterward.
// Callbacks registered after completion run immediately (on the
// calling goroutine), matching the "it is safe to invoke multiple
// times" idempotence the retry continuation relies on.
type Future struct {
	mu        sync.Mutex
	done      bool
	val       any
	err       error
	waiters   []chan struct{}
	callbacks []func(any, error)
}

// NewFuture returns an empty, incomplete Future.
func NewFuture() *Future {
	return &Future{}
}

// Completed returns a Future that is already done, carrying val/err.
func Completed(val any, err error) *Future {
	f := &Future{done: true, val: val, err: err}
	return f
}

// Complete finishes f with val/err. Only the first call has any
// effect; subsequent calls are silently ignored, which is what lets
// the retry continuation call Complete defensively without a prior
// "is this already done" check.
func (f *Future) Complete(val any, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done = true
	f.val, f.err = val, err
	waiters := f.waiters
	callbacks := f.callbacks
	f.waiters = nil
	f.callbacks = nil
	f.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, cb := range callbacks {
		cb(val, err)
	}
}

// OnComplete registers cb to run when f completes. If f is already
// done, cb runs synchronously and immediately.
func (f *Future) OnComplete(cb func(val any, err error)) {
	f.mu.Lock()
	if f.done {
		val, err := f.val, f.err
		f.mu.Unlock()
		cb(val, err)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Done reports whether f has completed.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Wait blocks until f completes or ctx is done, whichever comes first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	f.mu.Lock()
	if f.done {
		val, err := f.val, f.err
		f.mu.Unlock()
		return val, err
	}
	ch := make(chan struct{})
	f.waiters = append(f.waiters, ch)
	f.mu.Unlock()

	select {
	case <-ch:
		f.mu.Lock()
		val, err := f.val, f.err
		f.mu.Unlock()
		return val, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// joinAll returns a Future that completes (with a nil value) once
// every Future in fs has completed, regardless of individual
// success/failure. This is the fan-in flush() needs: unlike
// golang.org/x/sync/errgroup, a single failed member must not cancel
// or short-circuit the wait for the others (see SPEC_FULL §5).
func joinAll(fs []*Future) *Future {
	out := NewFuture()
	if len(fs) == 0 {
		out.Complete(nil, nil)
		return out
	}
	var mu sync.Mutex
	remaining := len(fs)
	for _, f := range fs {
		f.OnComplete(func(any, error) {
			mu.Lock()
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				out.Complete(nil, nil)
			}
		})
	}
	return out
}
