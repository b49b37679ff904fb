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
	"time"

	"github.com/DanielCho/kudu/internal/metrics"
	"github.com/DanielCho/kudu/internal/vtlog"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the mutable session-wide settings. FlushMode,
// BufferSizeLimit, and Consistency may only change while the session
// has no buffered state (§3 configuration mutation rule); Timeout and
// FlushInterval take effect on subsequent operations only.
type Config struct {
	FlushMode       FlushMode
	BufferSizeLimit int
	FlushInterval   time.Duration
	Timeout         time.Duration
	Consistency     ConsistencyMode
	// MaxRetries bounds Operation.Attempt; zero means unlimited.
	MaxRetries int
	// MaxConcurrentDispatches bounds how many SendOperation/SendBatch
	// calls may be outstanding at once; zero uses a default of 64.
	MaxConcurrentDispatches int64
}

const defaultMaxConcurrentDispatches = 64

// Session is the state machine combining Operation, Batch,
// TabletLocator, RpcDispatcher, and Scheduler: accept, buffer, flush,
// track, complete (C6). A single mutex serializes accumulating,
// inFlight, pendingLookup, and the config fields; no I/O runs inside
// the critical section (§5).
type Session struct {
	mu sync.Mutex

	cfg Config

	accumulating map[TabletID]*Batch
	inFlight     map[TabletID]*Future
	pendingLookup []*Operation

	closed bool

	locator     TabletLocator
	dispatcher  RpcDispatcher
	scheduler   Scheduler
	consistency ConsistencyTracker
	backoff     RetryPacer

	metrics *metrics.Registry
}

// NewSession wires a Session to its external collaborators. metrics
// may be nil, in which case the session builds its own private
// registry (so multiple Sessions in tests never collide on the
// default Prometheus registerer). backoff may be nil, in which case
// the retry continuation re-applies immediately with no pacing; pass
// scheduler.NewRetryBackoff to pace lookup retries with a
// token-bucket delay instead.
func NewSession(locator TabletLocator, dispatcher RpcDispatcher, scheduler Scheduler, consistency ConsistencyTracker, backoff RetryPacer, reg *metrics.Registry, cfg Config) *Session {
	if reg == nil {
		reg = metrics.NewRegistry(prometheus.NewRegistry())
	}
	maxConcurrent := cfg.MaxConcurrentDispatches
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentDispatches
	}
	// Wrapping unconditionally guarantees every RpcDispatcher
	// implementation completes its futures off the calling
	// goroutine, which is what lets flushTabletLocked call SendBatch
	// while still holding the session mutex without risking a
	// same-goroutine reentrant Lock() from a dispatcher that happens
	// to complete synchronously.
	bounded := NewBoundedDispatcher(dispatcher, maxConcurrent)
	return &Session{
		cfg:          cfg,
		accumulating: make(map[TabletID]*Batch),
		inFlight:     make(map[TabletID]*Future),
		locator:      locator,
		dispatcher:   bounded,
		scheduler:    scheduler,
		consistency:  consistency,
		backoff:      backoff,
		metrics:      reg,
	}
}

// Metrics exposes the Registry so a host application can register it
// under its own /metrics endpoint instead of the global one.
func (s *Session) Metrics() *metrics.Registry {
	return s.metrics
}

// emptyLocked reports whether accumulating, inFlight, and
// pendingLookup are all empty. Caller must hold s.mu.
func (s *Session) emptyLocked() bool {
	return len(s.accumulating) == 0 && len(s.inFlight) == 0 && len(s.pendingLookup) == 0
}

// HasPendingOperations implements §9's bug-fixed version of the
// source's always-false stub.
func (s *Session) HasPendingOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.emptyLocked()
}

// SetFlushMode changes the flush mode; fails with InvalidArgument
// unless the session is currently empty (§3).
func (s *Session) SetFlushMode(mode FlushMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.emptyLocked() {
		return errInvalidArgument("cannot change flush mode while operations are buffered or in flight")
	}
	s.cfg.FlushMode = mode
	return nil
}

// SetBufferSizeLimit changes the per-batch operation limit; same
// emptiness guard as SetFlushMode.
func (s *Session) SetBufferSizeLimit(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.emptyLocked() {
		return errInvalidArgument("cannot change buffer size limit while operations are buffered or in flight")
	}
	s.cfg.BufferSizeLimit = n
	return nil
}

// SetConsistencyMode changes the default consistency tag; same
// emptiness guard.
func (s *Session) SetConsistencyMode(mode ConsistencyMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.emptyLocked() {
		return errInvalidArgument("cannot change consistency mode while operations are buffered or in flight")
	}
	s.cfg.Consistency = mode
	return nil
}

// SetTimeout changes the per-operation/per-batch deadline seed.
// Takes effect on subsequently dispatched work; no emptiness guard.
func (s *Session) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.cfg.Timeout = d
	s.mu.Unlock()
}

// SetFlushInterval changes the BACKGROUND-mode timer interval. Takes
// effect on subsequently scheduled flushes; no emptiness guard.
func (s *Session) SetFlushInterval(d time.Duration) {
	s.mu.Lock()
	s.cfg.FlushInterval = d
	s.mu.Unlock()
}

// Apply accepts a single row mutation (§4.1). It never blocks on
// network I/O. The returned error is non-nil in exactly two cases:
// a synchronous rejection (the future is then unusable), or a
// *ThrottleError advisory (op was not buffered and is not failed;
// the returned future is still op's own, and completes once op is
// applied again after the ThrottleError's Await future completes).
func (s *Session) Apply(ctx context.Context, op *Operation) (*Future, error) {
	if op == nil {
		return nil, errInvalidArgument("apply called with a nil operation")
	}
	if s.isClosed() {
		vtlog.Warningf("session: apply called after close; behavior is undefined")
	}
	if op.ExceededRetryBudget(s.retryBudget()) {
		err := errRetryExhausted(op)
		op.future.Complete(nil, err)
		s.metrics.RetriesExhausted.WithLabelValues(string(tabletOrUnknown(op))).Inc()
		return op.future, nil
	}

	s.mu.Lock()
	mode := s.cfg.FlushMode
	timeout := s.cfg.Timeout
	consistency := s.cfg.Consistency
	s.mu.Unlock()

	if mode == ModeSync {
		op.Timeout = timeout
		op.Consistency = consistency
		dispatchFut := s.dispatcher.SendOperation(ctx, op)
		dispatchFut.OnComplete(func(val any, err error) {
			resp, _ := val.(*WriteResponse)
			s.completeFromResponse([]*Operation{op}, resp, err)
		})
		s.metrics.OpsApplied.WithLabelValues("sync_dispatched").Inc()
		return op.future, nil
	}

	if tablet, ok := s.locator.CachedTablet(op.Table, op.Key); ok {
		op.BindTablet(tablet)
		fut, throttle := s.addToBuffer(tablet, op)
		s.metrics.OpsApplied.WithLabelValues("buffered").Inc()
		return fut, throttle
	}

	s.mu.Lock()
	s.pendingLookup = append(s.pendingLookup, op)
	op.IncrementAttempt()
	s.mu.Unlock()
	s.metrics.OpsApplied.WithLabelValues("pending_lookup").Inc()

	var lookupFuture *Future
	createWait := s.locator.IsTableNotServed(op.Table)
	if createWait {
		lookupFuture = s.locator.WaitForTableCreation(ctx, op.Table)
	} else {
		lookupFuture = s.locator.Locate(ctx, op.Table, op.Key)
	}
	s.attachRetryContinuation(ctx, op, lookupFuture, createWait)
	return op.future, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) retryBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MaxRetries
}

func tabletOrUnknown(op *Operation) TabletID {
	if t, ok := op.Tablet(); ok {
		return t
	}
	return "unknown"
}

// attachRetryContinuation installs the RC described in §4.1 onto
// lookupFuture. RC is idempotent: only the call that successfully
// removes op from pendingLookup acts; a later/duplicate firing is a
// no-op because op is already gone (rescued by flush(), or already
// handled by an earlier firing).
func (s *Session) attachRetryContinuation(ctx context.Context, op *Operation, lookupFuture *Future, createWait bool) {
	lookupFuture.OnComplete(func(val any, err error) {
		s.mu.Lock()
		removed := removeOperation(&s.pendingLookup, op)
		s.mu.Unlock()
		if !removed {
			return
		}

		if !createWait {
			var lr *LocationResult
			switch {
			case err != nil:
				lr = &LocationResult{Err: err}
			case val != nil:
				lr, _ = val.(*LocationResult)
			}
			if lr != nil && lr.Err != nil {
				if recovery := s.locator.ClassifyLookupFailure(op, lr); recovery != nil {
					// recovery resolves once the locator's own
					// remediation (e.g. waiting for the table to
					// become servable) completes; op was never
					// dispatched, so it must be re-applied, not
					// completed from recovery's value directly. Apply
					// re-enqueues op into pendingLookup itself on a
					// cache miss.
					recovery.OnComplete(func(_ any, rerr error) {
						if rerr != nil {
							op.future.Complete(nil, rerr)
							return
						}
						s.retryApply(ctx, op)
					})
					return
				}
			}
		}

		s.retryApply(ctx, op)
	})
}

// retryApply re-applies op after optionally pacing with s.backoff,
// handling a subsequent Throttle the same way the first apply's
// caller would (re-enqueue and re-attach RC onto the in-flight
// batch's future).
func (s *Session) retryApply(ctx context.Context, op *Operation) {
	retry := func() {
		_, applyErr := s.Apply(ctx, op)
		if applyErr == nil {
			return
		}
		var throttle *ThrottleError
		if asThrottle(applyErr, &throttle) {
			s.mu.Lock()
			s.pendingLookup = append(s.pendingLookup, op)
			s.mu.Unlock()
			s.attachRetryContinuation(ctx, op, throttle.Await, false)
			return
		}
		op.future.Complete(nil, applyErr)
	}

	if s.backoff == nil {
		retry()
		return
	}
	if delay := s.backoff.Delay(); delay > 0 {
		s.scheduler.After(delay, retry)
		return
	}
	retry()
}

// removeOperation deletes op from *ops if present, reporting whether
// it was found. Order of the remaining elements is not preserved,
// matching pendingLookup's "order is irrelevant" invariant.
func removeOperation(ops *[]*Operation, op *Operation) bool {
	for i, o := range *ops {
		if o == op {
			last := len(*ops) - 1
			(*ops)[i] = (*ops)[last]
			*ops = (*ops)[:last]
			return true
		}
	}
	return false
}

func asThrottle(err error, target **ThrottleError) bool {
	te, ok := err.(*ThrottleError)
	if !ok {
		return false
	}
	*target = te
	return true
}

// addToBuffer implements §4.2 under the session lock. The returned
// error is nil, or a *ThrottleError advisory, in which case op was
// not buffered (the Future is always op's own regardless).
func (s *Session) addToBuffer(tablet TabletID, op *Operation) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.accumulating[tablet]
	if b != nil && b.Len()+1 > s.cfg.BufferSizeLimit {
		if s.cfg.FlushMode == ModeManual {
			err := errBufferFull(tablet)
			op.future.Complete(nil, err)
			s.metrics.BufferFullErrors.WithLabelValues(string(tablet)).Inc()
			return op.future, nil
		}
		s.flushTabletLocked(tablet, b, "size")
		if cur, stillAccumulating := s.accumulating[tablet]; stillAccumulating && cur == b {
			// The prior batch for this tablet is still in flight (I1:
			// at most one in-flight batch per tablet), so the flush
			// above was deferred rather than dispatched. b is still
			// the live, full accumulating batch; leave it in place
			// (replacing it would orphan its buffered operations)
			// and raise Throttle without buffering op.
			inflight := s.inFlight[tablet]
			s.metrics.ThrottleEvents.WithLabelValues(string(tablet)).Inc()
			vtlog.Warningf("session: throttled apply to tablet %s, prior batch still in flight", tablet)
			return op.future, &ThrottleError{Tablet: tablet, Await: inflight}
		}
		b = nil
	}

	if b == nil {
		b = newBatch(op.Table, tablet, s.cfg.Consistency)
		s.installBatchCallback(b)
		s.accumulating[tablet] = b
		b.append(op)
		if s.cfg.FlushMode == ModeBackground {
			tabletCopy, batchCopy := tablet, b
			s.scheduler.After(s.cfg.FlushInterval, func() {
				s.flushTablet(tabletCopy, batchCopy)
			})
		}
	} else {
		b.append(op)
	}
	s.metrics.AccumulatingOps.WithLabelValues(string(tablet)).Set(float64(b.Len()))

	return op.future, nil
}

// installBatchCallback wires the §4.3 batch-completion callback onto
// b's future, once, at batch-creation time.
func (s *Session) installBatchCallback(b *Batch) {
	b.future.OnComplete(func(val any, err error) {
		resp, _ := val.(*WriteResponse)
		s.completeFromResponse(b.Ops, resp, err)
	})
}

// completeFromResponse implements §4.3 steps 1-4, using the corrected
// per-row-error cursor from §9 (advance only on an exact index
// match, never unconditionally).
func (s *Session) completeFromResponse(ops []*Operation, resp *WriteResponse, transportErr error) {
	if transportErr != nil {
		vtlog.Errorf("session: dispatch failed for %d operation(s): %v", len(ops), transportErr)
		wrapped := errTransport(transportErr)
		for _, op := range ops {
			op.future.Complete(nil, wrapped)
		}
		return
	}
	if resp == nil {
		err := errInvalidResponse("dispatcher completed with no response")
		for _, op := range ops {
			op.future.Complete(nil, err)
		}
		return
	}
	if resp.TopLevelErr != nil {
		err := errServerError(resp.TopLevelErr)
		for _, op := range ops {
			op.future.Complete(nil, err)
		}
		return
	}
	if resp.WriteTimestamp != 0 && s.consistency != nil {
		s.consistency.UpdateLastPropagatedTimestamp(resp.WriteTimestamp)
	}

	errs := resp.PerRowErrors
	idx := 0
	for i, op := range ops {
		if idx < len(errs) && errs[idx].RowIndex == i {
			op.future.Complete(nil, errPerRow(errs[idx].Detail))
			idx++
		} else {
			op.future.Complete(struct{}{}, nil)
		}
	}
}

// flushTablet implements §4.4; it acquires the session lock itself
// and is safe to call from a scheduled timer task or from a
// completion callback.
func (s *Session) flushTablet(tablet TabletID, expected *Batch) *Future {
	return s.flushTabletTriggered(tablet, expected, "timer")
}

func (s *Session) flushTabletTriggered(tablet TabletID, expected *Batch, trigger string) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushTabletLocked(tablet, expected, trigger)
}

// flushTabletLocked is flushTablet's body; callers must already hold
// s.mu. Kept separate so addToBuffer can invoke it without the
// non-reentrant sync.Mutex deadlocking on itself.
func (s *Session) flushTabletLocked(tablet TabletID, expected *Batch, trigger string) *Future {
	cur, ok := s.accumulating[tablet]
	if !ok || cur != expected {
		return Completed(nil, nil)
	}

	if inflight, busy := s.inFlight[tablet]; busy {
		chained := NewFuture()
		// Deferred to a goroutine: inflight may already be complete,
		// in which case OnComplete would otherwise invoke flushTablet
		// (which re-acquires s.mu) synchronously on this very
		// goroutine, while s.mu is still held by our caller.
		inflight.OnComplete(func(any, error) {
			go func() {
				s.flushTabletTriggered(tablet, expected, trigger).OnComplete(func(v any, e error) {
					chained.Complete(v, e)
				})
			}()
		})
		return chained
	}

	delete(s.accumulating, tablet)
	s.metrics.AccumulatingOps.WithLabelValues(string(tablet)).Set(0)

	expected.future.OnComplete(func(any, error) {
		s.mu.Lock()
		if s.inFlight[tablet] == expected.future {
			delete(s.inFlight, tablet)
		}
		s.mu.Unlock()
		s.metrics.InFlightBatches.WithLabelValues(string(tablet)).Set(0)
	})
	s.inFlight[tablet] = expected.future
	s.metrics.InFlightBatches.WithLabelValues(string(tablet)).Set(1)

	if s.cfg.Timeout > 0 {
		expected.Deadline = time.Now().Add(s.cfg.Timeout)
	}
	dispatchFut := s.dispatcher.SendBatch(context.Background(), expected)
	dispatchFut.OnComplete(func(val any, err error) {
		expected.future.Complete(val, err)
	})
	s.metrics.BatchesFlushed.WithLabelValues(trigger).Inc()

	return expected.future
}

// Flush implements §4.5: snapshot and clear pendingLookup, snapshot
// (but do not clear) accumulating, release the lock, then dispatch
// the stragglers directly and flush every outstanding tablet batch,
// returning a future that completes once all of it has.
func (s *Session) Flush(ctx context.Context) *Future {
	s.mu.Lock()
	stragglers := s.pendingLookup
	s.pendingLookup = nil
	snapshot := make(map[TabletID]*Batch, len(s.accumulating))
	for t, b := range s.accumulating {
		snapshot[t] = b
	}
	s.mu.Unlock()

	futures := make([]*Future, 0, len(stragglers)+len(snapshot))
	for _, op := range stragglers {
		dispatchFut := s.dispatcher.SendOperation(ctx, op)
		dispatchFut.OnComplete(func(val any, err error) {
			resp, _ := val.(*WriteResponse)
			s.completeFromResponse([]*Operation{op}, resp, err)
		})
		futures = append(futures, op.future)
	}
	for tablet, batch := range snapshot {
		futures = append(futures, s.flushTabletTriggered(tablet, batch, "explicit"))
	}
	return joinAll(futures)
}

// Close implements §4.6: stop the scheduler, then behave like Flush.
// Subsequent Apply calls are undefined.
func (s *Session) Close(ctx context.Context) *Future {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.scheduler.Stop()
	return s.Flush(ctx)
}
