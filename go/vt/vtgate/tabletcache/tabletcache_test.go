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

package tabletcache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielCho/kudu/go/vt/vtgate/session"
	"github.com/DanielCho/kudu/go/vt/vtgate/tabletcache"
)

func TestCache_MissThenResolveCaches(t *testing.T) {
	table := session.Table{Name: "orders"}
	var calls int32
	resolver := func(ctx context.Context, table session.Table, key []byte) (session.TabletID, error) {
		atomic.AddInt32(&calls, 1)
		return "tablet-A", nil
	}
	c := tabletcache.New(resolver, time.Millisecond)

	_, ok := c.CachedTablet(table, []byte("k1"))
	assert.False(t, ok)

	f := c.Locate(context.Background(), table, []byte("k1"))
	val, err := f.Wait(context.Background())
	require.NoError(t, err)
	lr := val.(*session.LocationResult)
	require.NoError(t, lr.Err)
	assert.Equal(t, session.TabletID("tablet-A"), lr.Tablet)

	tablet, ok := c.CachedTablet(table, []byte("k1"))
	require.True(t, ok)
	assert.Equal(t, session.TabletID("tablet-A"), tablet)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCache_WaitForTableCreationRetriesUntilSuccess(t *testing.T) {
	table := session.Table{Name: "orders"}
	var calls int32
	resolver := func(ctx context.Context, table session.Table, key []byte) (session.TabletID, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return "", assertErr{"not yet"}
		}
		return "tablet-A", nil
	}
	c := tabletcache.New(resolver, time.Millisecond)
	c.MarkTableNotServed(table)
	assert.True(t, c.IsTableNotServed(table))

	f := c.WaitForTableCreation(context.Background(), table)
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, c.IsTableNotServed(table))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(3))
}

func TestCache_ClassifyLookupFailureRecoversForNotServedTable(t *testing.T) {
	table := session.Table{Name: "orders"}
	var ready int32
	resolver := func(ctx context.Context, table session.Table, key []byte) (session.TabletID, error) {
		if atomic.LoadInt32(&ready) == 0 {
			return "", assertErr{"not yet"}
		}
		return "tablet-A", nil
	}
	c := tabletcache.New(resolver, time.Millisecond)
	c.MarkTableNotServed(table)

	op := session.NewOperation(table, []byte("k1"), []byte("v"), 0, session.ConsistencyNone)
	recovery := c.ClassifyLookupFailure(op, &session.LocationResult{Err: assertErr{"lookup failed"}})
	require.NotNil(t, recovery)

	atomic.StoreInt32(&ready, 1)
	_, err := recovery.Wait(context.Background())
	require.NoError(t, err)
}

func TestCache_ClassifyLookupFailureReturnsNilForServedTable(t *testing.T) {
	table := session.Table{Name: "orders"}
	c := tabletcache.New(func(context.Context, session.Table, []byte) (session.TabletID, error) {
		return "", assertErr{"boom"}
	}, time.Millisecond)

	op := session.NewOperation(table, []byte("k1"), []byte("v"), 0, session.ConsistencyNone)
	recovery := c.ClassifyLookupFailure(op, &session.LocationResult{Err: assertErr{"boom"}})
	assert.Nil(t, recovery)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
