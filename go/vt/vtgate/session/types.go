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

// Package session implements the client-side, tablet-addressed write
// session: it accumulates row mutations into per-tablet batches,
// flushes them on size/time triggers, tracks in-flight state per
// tablet, and coalesces retries while a tablet's location is being
// resolved. The design is grounded on vitess's vtgate write path
// (ScatterConn's scatter/gather dispatch, the consistent_lookup
// vindex's id-resolution shape, and messageManager's cache/sender
// state machine) rather than on any one of those types directly.
package session

import "github.com/google/uuid"

// TabletID identifies the tablet server owning a contiguous key range
// of a table. The session treats it as an opaque comparable handle;
// TabletLocator implementations decide what it actually encodes
// (host:port, alias, etc).
type TabletID string

// Table is the opaque handle applications address mutations to.
type Table struct {
	Keyspace string
	Name     string
}

// ConsistencyMode is an opaque tag conveying cross-session ordering
// requirements, propagated to the server and refreshed from the
// write-response timestamp.
type ConsistencyMode int

const (
	// ConsistencyNone requests no external-consistency guarantee.
	ConsistencyNone ConsistencyMode = iota
	// ConsistencyClientPropagated carries the last observed write
	// timestamp forward on every subsequent operation.
	ConsistencyClientPropagated
	// ConsistencyCommitWait blocks server-side until the write
	// timestamp is provably in the past before acknowledging.
	ConsistencyCommitWait
)

// FlushMode governs when Operations leave the session.
type FlushMode int

const (
	// ModeSync dispatches every operation immediately, solo; the
	// session never buffers.
	ModeSync FlushMode = iota
	// ModeBackground buffers per tablet and flushes on size or timer.
	ModeBackground
	// ModeManual buffers per tablet and never flushes on a timer;
	// overflow is a terminal BufferFull error instead of an
	// automatic flush.
	ModeManual
)

func newCorrelationID() string {
	return uuid.NewString()
}
