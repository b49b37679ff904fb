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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/DanielCho/kudu/go/vt/vtgate/scheduler"
)

func TestTimer_AfterFiresTask(t *testing.T) {
	timer := scheduler.New()
	done := make(chan struct{})
	timer.After(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}

func TestTimer_StopCancelsOutstandingAndFuture(t *testing.T) {
	timer := scheduler.New()
	var fired int32
	timer.After(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	timer.Stop()

	h := timer.After(time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	h.Cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestRetryBackoff_DelayGrowsUnderSustainedLoad(t *testing.T) {
	b := scheduler.NewRetryBackoff(rate.Limit(1), 1)

	first := b.Delay()
	second := b.Delay()

	require.GreaterOrEqual(t, second, first)
}
