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

// Package metrics exports the write session's operational counters.
// It plays the role vitess's internal `go/stats` package plays for
// ScatterConn (per-tablet timings, error counters) and for
// messageManager's MessageStats, re-expressed with the third-party
// Prometheus client instead of vitess's home-grown stats registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the counters/gauges a Session reports. A Session
// owns exactly one Registry; tests construct their own to avoid
// colliding on the global Prometheus default registry.
type Registry struct {
	OpsApplied       *prometheus.CounterVec
	BatchesFlushed   *prometheus.CounterVec
	ThrottleEvents   *prometheus.CounterVec
	BufferFullErrors *prometheus.CounterVec
	RetriesExhausted *prometheus.CounterVec
	InFlightBatches  *prometheus.GaugeVec
	AccumulatingOps  *prometheus.GaugeVec
}

// NewRegistry builds a Registry and registers every metric with reg.
// Pass prometheus.NewRegistry() in tests; pass
// prometheus.DefaultRegisterer in production code that wants the
// global /metrics endpoint.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		OpsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "write_session_ops_applied_total",
			Help: "Operations accepted by Session.apply, by outcome.",
		}, []string{"outcome"}),
		BatchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "write_session_batches_flushed_total",
			Help: "Batches handed to the RpcDispatcher, by trigger.",
		}, []string{"trigger"}),
		ThrottleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "write_session_throttle_events_total",
			Help: "Throttle signals raised because a tablet's prior batch was still in flight.",
		}, []string{"tablet"}),
		BufferFullErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "write_session_buffer_full_total",
			Help: "MANUAL-mode operations rejected because their batch was full.",
		}, []string{"tablet"}),
		RetriesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "write_session_retries_exhausted_total",
			Help: "Operations that failed terminally after exceeding their retry budget.",
		}, []string{"tablet"}),
		InFlightBatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "write_session_in_flight_batches",
			Help: "Number of tablets with a batch currently dispatched.",
		}, []string{"tablet"}),
		AccumulatingOps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "write_session_accumulating_ops",
			Help: "Operations currently buffered per tablet, awaiting flush.",
		}, []string{"tablet"}),
	}
	for _, c := range []prometheus.Collector{
		r.OpsApplied, r.BatchesFlushed, r.ThrottleEvents,
		r.BufferFullErrors, r.RetriesExhausted, r.InFlightBatches, r.AccumulatingOps,
	} {
		reg.MustRegister(c)
	}
	return r
}
