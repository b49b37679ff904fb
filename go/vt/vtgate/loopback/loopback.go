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

// Package loopback is an in-process RpcDispatcher reference
// implementation. Real wire transport (gRPC, HTTP, a custom TCP
// protocol) is out of scope for this module (see SPEC_FULL.md §4);
// loopback exists so tests and callers without a transport of their
// own can still exercise Session's dispatch, per-row-error, and
// completion-callback machinery end to end.
package loopback

import (
	"context"

	"github.com/DanielCho/kudu/go/vt/vtgate/session"
)

// ServerHandler executes ops (a single-Operation slice for a solo
// SYNC dispatch, or a Batch's ops for a buffered flush) and returns
// the write-response the real tablet server would. Implementations
// model per-row failures by returning PerRowErrors indexed into ops.
type ServerHandler func(ctx context.Context, ops []*session.Operation) (*session.WriteResponse, error)

// Dispatcher adapts a ServerHandler to session.RpcDispatcher.
type Dispatcher struct {
	handler ServerHandler
}

// New builds a Dispatcher around handler.
func New(handler ServerHandler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// SendOperation implements session.RpcDispatcher.
func (d *Dispatcher) SendOperation(ctx context.Context, op *session.Operation) *session.Future {
	out := session.NewFuture()
	go func() {
		resp, err := d.handler(ctx, []*session.Operation{op})
		out.Complete(resp, err)
	}()
	return out
}

// SendBatch implements session.RpcDispatcher.
func (d *Dispatcher) SendBatch(ctx context.Context, batch *session.Batch) *session.Future {
	out := session.NewFuture()
	go func() {
		resp, err := d.handler(ctx, batch.Ops)
		out.Complete(resp, err)
	}()
	return out
}

// StaticHandler returns a ServerHandler that always answers resp/err,
// regardless of ops. Useful for tests that only care about Session's
// own buffering/flush behavior, not response shaping.
func StaticHandler(resp *session.WriteResponse, err error) ServerHandler {
	return func(context.Context, []*session.Operation) (*session.WriteResponse, error) {
		return resp, err
	}
}
