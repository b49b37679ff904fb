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

// Package tabletcache is a patrickmn/go-cache-backed TabletLocator
// reference implementation. Its shape is grounded on
// vindexes.ConsistentLookup: a cache of previously resolved ids
// (here, tablet assignments) in front of a pluggable lookup function,
// with the same "resolve, then remember" split clCommon.Map makes
// between cache hits and a query against the backing lookup table.
package tabletcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/DanielCho/kudu/go/vt/vtgate/session"
	"github.com/DanielCho/kudu/internal/vterrors"
)

// Resolver looks up the tablet owning (table, key), the way
// clCommon.lookupInternal resolves an id against the lookup table.
type Resolver func(ctx context.Context, table session.Table, key []byte) (session.TabletID, error)

// Cache is a TabletLocator with no cache eviction (tablet assignment
// is cache-forever until explicitly invalidated) and a pluggable
// Resolver for cache misses.
type Cache struct {
	cache    *gocache.Cache
	resolve  Resolver
	pollTick time.Duration

	mu        sync.Mutex
	notServed map[string]bool
}

// New builds a Cache that calls resolve on a miss. pollInterval
// governs how often WaitForTableCreation retries resolve while a
// table is marked not-yet-served; zero selects a 200ms default.
func New(resolve Resolver, pollInterval time.Duration) *Cache {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Cache{
		cache:     gocache.New(gocache.NoExpiration, gocache.NoExpiration),
		resolve:   resolve,
		pollTick:  pollInterval,
		notServed: make(map[string]bool),
	}
}

func cacheKey(table session.Table, key []byte) string {
	return fmt.Sprintf("%s/%s/%s", table.Keyspace, table.Name, key)
}

func tableKey(table session.Table) string {
	return table.Keyspace + "/" + table.Name
}

// MarkTableNotServed records that table is known not to exist yet;
// IsTableNotServed will report true until MarkTableServed is called.
// Grounded on consistent_lookup's handling of a lookup row that
// hasn't been created/reconciled yet.
func (c *Cache) MarkTableNotServed(table session.Table) {
	c.mu.Lock()
	c.notServed[tableKey(table)] = true
	c.mu.Unlock()
}

// MarkTableServed clears a prior MarkTableNotServed.
func (c *Cache) MarkTableServed(table session.Table) {
	c.mu.Lock()
	delete(c.notServed, tableKey(table))
	c.mu.Unlock()
}

// CachedTablet implements session.TabletLocator.
func (c *Cache) CachedTablet(table session.Table, key []byte) (session.TabletID, bool) {
	v, ok := c.cache.Get(cacheKey(table, key))
	if !ok {
		return "", false
	}
	return v.(session.TabletID), true
}

// Locate implements session.TabletLocator: resolves asynchronously
// and, on success, populates the cache the way a ConsistentLookup.Map
// caches resolved keyspace ids.
func (c *Cache) Locate(ctx context.Context, table session.Table, key []byte) *session.Future {
	out := session.NewFuture()
	go func() {
		tablet, err := c.resolve(ctx, table, key)
		if err != nil {
			out.Complete(&session.LocationResult{Err: err}, nil)
			return
		}
		c.cache.Set(cacheKey(table, key), tablet, gocache.NoExpiration)
		out.Complete(&session.LocationResult{Tablet: tablet}, nil)
	}()
	return out
}

// IsTableNotServed implements session.TabletLocator.
func (c *Cache) IsTableNotServed(table session.Table) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notServed[tableKey(table)]
}

// WaitForTableCreation implements session.TabletLocator by polling
// resolve at pollTick until it stops failing or ctx is done.
func (c *Cache) WaitForTableCreation(ctx context.Context, table session.Table) *session.Future {
	out := session.NewFuture()
	go func() {
		ticker := time.NewTicker(c.pollTick)
		defer ticker.Stop()
		for {
			if _, err := c.resolve(ctx, table, nil); err == nil {
				c.MarkTableServed(table)
				out.Complete(nil, nil)
				return
			}
			select {
			case <-ctx.Done():
				out.Complete(nil, ctx.Err())
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// ClassifyLookupFailure implements session.TabletLocator. A failed
// lookup against a table this Cache already knows is not-yet-served
// is treated as recoverable: the returned future resolves once
// WaitForTableCreation succeeds. Any other failure returns nil,
// telling the session to just retry apply() directly.
func (c *Cache) ClassifyLookupFailure(op *session.Operation, result *session.LocationResult) *session.Future {
	if result == nil || result.Err == nil {
		return nil
	}
	if !c.IsTableNotServed(op.Table) {
		return nil
	}
	recovery := session.NewFuture()
	wait := c.WaitForTableCreation(context.Background(), op.Table)
	wait.OnComplete(func(_ any, err error) {
		if err != nil {
			recovery.Complete(nil, vterrors.Wrap(err, vterrors.CodeTransportError, "wait for table creation failed"))
			return
		}
		recovery.Complete(nil, nil)
	})
	return recovery
}
