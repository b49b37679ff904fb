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

package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/DanielCho/kudu/go/vt/vtgate/loopback"
	"github.com/DanielCho/kudu/go/vt/vtgate/scheduler"
	"github.com/DanielCho/kudu/go/vt/vtgate/session"
)

// racyLocator fails its first Locate (simulating the lookup race
// spec.md describes) and succeeds - caching the result - on every
// call after, so a session retrying through it converges instead of
// looping forever.
type racyLocator struct {
	mu       sync.Mutex
	cached   map[string]session.TabletID
	attempts int32
}

func newRacyLocator() *racyLocator {
	return &racyLocator{cached: make(map[string]session.TabletID)}
}

func (l *racyLocator) key(table session.Table, key []byte) string {
	return table.Name + "/" + string(key)
}

func (l *racyLocator) CachedTablet(table session.Table, key []byte) (session.TabletID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.cached[l.key(table, key)]
	return t, ok
}

func (l *racyLocator) Locate(ctx context.Context, table session.Table, key []byte) *session.Future {
	out := session.NewFuture()
	go func() {
		if atomic.AddInt32(&l.attempts, 1) == 1 {
			out.Complete(&session.LocationResult{Err: errRace{}}, nil)
			return
		}
		l.mu.Lock()
		l.cached[l.key(table, key)] = "tablet-A"
		l.mu.Unlock()
		out.Complete(&session.LocationResult{Tablet: "tablet-A"}, nil)
	}()
	return out
}

func (l *racyLocator) IsTableNotServed(session.Table) bool { return false }

func (l *racyLocator) WaitForTableCreation(ctx context.Context, table session.Table) *session.Future {
	return session.Completed(nil, nil)
}

func (l *racyLocator) ClassifyLookupFailure(*session.Operation, *session.LocationResult) *session.Future {
	return nil
}

type errRace struct{}

func (errRace) Error() string { return "tablet location still resolving" }

// TestRetryBackoff_PacesSessionRetryContinuation wires a real
// scheduler.RetryBackoff into a Session as its RetryPacer and proves
// it is load-bearing: with the token bucket's initial burst drained
// up front, the retry continuation's re-apply after a failed lookup
// is delayed by a measurable amount rather than firing immediately.
func TestRetryBackoff_PacesSessionRetryContinuation(t *testing.T) {
	backoff := scheduler.NewRetryBackoff(rate.Every(40*time.Millisecond), 1)
	backoff.Delay() // drain the initial burst so the next Delay() blocks

	var dispatched int32
	d := loopback.New(func(ctx context.Context, ops []*session.Operation) (*session.WriteResponse, error) {
		atomic.AddInt32(&dispatched, int32(len(ops)))
		return &session.WriteResponse{}, nil
	})
	sched := scheduler.New()
	defer sched.Stop()

	// BACKGROUND, so the buffered op is flushed by a timer once the
	// paced retry re-applies it (MANUAL would never dispatch it).
	s := session.NewSession(newRacyLocator(), d, sched, nil, backoff, nil, session.Config{
		FlushMode:       session.ModeBackground,
		BufferSizeLimit: 10,
		Timeout:         time.Second,
	})

	op := session.NewOperation(session.Table{Name: "t"}, []byte("k"), []byte("v"), 0, session.ConsistencyNone)
	start := time.Now()
	f, err := s.Apply(context.Background(), op)
	require.NoError(t, err)

	_, err = f.Wait(context.Background())
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, int32(1), atomic.LoadInt32(&dispatched))
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond, "retry should have been paced by RetryBackoff, not fired immediately")
}
