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

// Package scheduler is the default session.Scheduler implementation
// (C5): a time.AfterFunc-based timer registry (each After call adds
// its own timer; timers are not keyed or replaced), plus a small
// backoff helper for retry-pacing built on golang.org/x/time/rate.
package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DanielCho/kudu/go/vt/vtgate/session"
)

// Timer is a registry of outstanding time.AfterFunc timers. Stop
// cancels every outstanding timer and causes subsequent After calls
// to be no-ops, matching close()'s "stops further timer firings"
// contract (§4.6).
type Timer struct {
	mu     sync.Mutex
	closed bool
	active map[*time.Timer]struct{}
}

// New returns an empty Timer registry.
func New() *Timer {
	return &Timer{active: make(map[*time.Timer]struct{})}
}

type handle struct {
	timer *time.Timer
}

func (h *handle) Cancel() {
	h.timer.Stop()
}

type noopHandle struct{}

func (noopHandle) Cancel() {}

// After implements session.Scheduler.
func (t *Timer) After(d time.Duration, task func()) session.Handle {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return noopHandle{}
	}
	var tm *time.Timer
	tm = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.active, tm)
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			task()
		}
	})
	t.active[tm] = struct{}{}
	t.mu.Unlock()
	return &handle{timer: tm}
}

// Stop implements session.Scheduler: every outstanding timer is
// cancelled and further After calls become no-ops.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for tm := range t.active {
		tm.Stop()
	}
	t.active = make(map[*time.Timer]struct{})
}

// RetryBackoff paces the lookup-retry path with a delay computed
// from a token-bucket reservation, grounded on the rate package's
// Reserve/Delay idiom rather than a hand-rolled random jitter
// calculation. The delay is deterministic; no jitter is added.
type RetryBackoff struct {
	limiter *rate.Limiter
}

// NewRetryBackoff builds a RetryBackoff allowing r retries/sec on
// average, with burst allowed immediately.
func NewRetryBackoff(r rate.Limit, burst int) *RetryBackoff {
	return &RetryBackoff{limiter: rate.NewLimiter(r, burst)}
}

// Delay reports how long the caller should wait before its next
// retry, reserving that slot in the underlying token bucket.
func (b *RetryBackoff) Delay() time.Duration {
	res := b.limiter.ReserveN(time.Now(), 1)
	if !res.OK() {
		return 0
	}
	return res.Delay()
}
