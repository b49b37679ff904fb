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

	"golang.org/x/sync/semaphore"
)

// BoundedDispatcher wraps an RpcDispatcher so that at most maxConcurrent
// sends are outstanding at once, grounded on message_manager.go's
// postponeSema pattern for bounding concurrent RPCs. Acquiring the
// semaphore happens off the caller's goroutine so SendOperation/
// SendBatch remain non-blocking, matching the "no I/O inside the
// critical section" rule flushTablet depends on.
type BoundedDispatcher struct {
	next RpcDispatcher
	sem  *semaphore.Weighted
}

// NewBoundedDispatcher bounds next to maxConcurrent outstanding sends.
func NewBoundedDispatcher(next RpcDispatcher, maxConcurrent int64) *BoundedDispatcher {
	return &BoundedDispatcher{next: next, sem: semaphore.NewWeighted(maxConcurrent)}
}

func (d *BoundedDispatcher) SendOperation(ctx context.Context, op *Operation) *Future {
	out := NewFuture()
	go func() {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			out.Complete(nil, err)
			return
		}
		defer d.sem.Release(1)
		val, err := d.next.SendOperation(ctx, op).Wait(ctx)
		out.Complete(val, err)
	}()
	return out
}

func (d *BoundedDispatcher) SendBatch(ctx context.Context, batch *Batch) *Future {
	out := NewFuture()
	go func() {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			out.Complete(nil, err)
			return
		}
		defer d.sem.Release(1)
		val, err := d.next.SendBatch(ctx, batch).Wait(ctx)
		out.Complete(val, err)
	}()
	return out
}
