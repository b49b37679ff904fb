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

package loopback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielCho/kudu/go/vt/vtgate/loopback"
	"github.com/DanielCho/kudu/go/vt/vtgate/session"
)

func TestDispatcher_SendOperation(t *testing.T) {
	d := loopback.New(loopback.StaticHandler(&session.WriteResponse{WriteTimestamp: 7}, nil))
	op := session.NewOperation(session.Table{Name: "t"}, []byte("k"), []byte("v"), 0, session.ConsistencyNone)

	f := d.SendOperation(context.Background(), op)
	val, err := f.Wait(context.Background())
	require.NoError(t, err)
	resp, ok := val.(*session.WriteResponse)
	require.True(t, ok)
	assert.Equal(t, uint64(7), resp.WriteTimestamp)
}

func TestDispatcher_SendBatchPassesAllOps(t *testing.T) {
	var seen int
	handler := func(ctx context.Context, ops []*session.Operation) (*session.WriteResponse, error) {
		seen = len(ops)
		return &session.WriteResponse{}, nil
	}
	d := loopback.New(handler)

	table := session.Table{Name: "t"}
	b := &session.Batch{
		Table: table,
		Ops: []*session.Operation{
			session.NewOperation(table, []byte("k1"), []byte("v1"), 0, session.ConsistencyNone),
			session.NewOperation(table, []byte("k2"), []byte("v2"), 0, session.ConsistencyNone),
		},
	}
	f := d.SendBatch(context.Background(), b)
	_, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(b.Ops), seen)
}
