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

import "time"

// Batch is the mutable aggregate of Operations bound to one tablet.
// Insertion order is significant: the server's per-row errors are
// positionally aligned to it (§4.3). A Batch owns exactly one future,
// installed once at construction time (§4.2 step 3) and completed
// exactly once, whenever it is eventually dispatched and answered.
type Batch struct {
	Table       Table
	Tablet      TabletID
	Consistency ConsistencyMode
	Ops         []*Operation
	Deadline    time.Time

	CorrelationID string

	future *Future
}

// newBatch creates an empty Batch for tablet, with its completion
// future already wired (callers install the §4.3 callback on it
// immediately after construction).
func newBatch(table Table, tablet TabletID, consistency ConsistencyMode) *Batch {
	return &Batch{
		Table:         table,
		Tablet:        tablet,
		Consistency:   consistency,
		CorrelationID: newCorrelationID(),
		future:        NewFuture(),
	}
}

// Future returns the Batch's completion future.
func (b *Batch) Future() *Future {
	return b.future
}

// Len reports the number of buffered Operations.
func (b *Batch) Len() int {
	return len(b.Ops)
}

func (b *Batch) append(op *Operation) {
	b.Ops = append(b.Ops, op)
}
