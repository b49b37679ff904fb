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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_TabletBindingRoundTrip(t *testing.T) {
	op := NewOperation(Table{Name: "orders"}, []byte("k"), []byte("v"), time.Second, ConsistencyNone)

	_, ok := op.Tablet()
	assert.False(t, ok)

	op.BindTablet("tablet-A")
	tablet, ok := op.Tablet()
	assert.True(t, ok)
	assert.Equal(t, TabletID("tablet-A"), tablet)
}

func TestOperation_RetryBudget(t *testing.T) {
	op := NewOperation(Table{Name: "orders"}, []byte("k"), []byte("v"), 0, ConsistencyNone)

	assert.False(t, op.ExceededRetryBudget(0))
	for i := 0; i < 3; i++ {
		assert.False(t, op.ExceededRetryBudget(3))
		op.IncrementAttempt()
	}
	assert.True(t, op.ExceededRetryBudget(3))
}

func TestOperation_FuturePointerIsStable(t *testing.T) {
	op := NewOperation(Table{Name: "orders"}, []byte("k"), []byte("v"), 0, ConsistencyNone)
	assert.Same(t, op.Future(), op.Future())
}
