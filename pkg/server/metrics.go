// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
)

// hookBuckets resolve latencies around the submission hook budget.
var hookBuckets = []float64{.005, .01, .025, .05, .1, .15, .2, .3, .5, 1, 2.5, 10}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbridge_http_requests_total",
			Help: "Bridge API requests, by route and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbridge_http_request_duration_seconds",
			Help:    "Bridge API request latency in seconds",
			Buckets: hookBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsOverBudget = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbridge_http_requests_over_budget_total",
			Help: "Bridge API requests slower than the submission hook budget, by route",
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbridge_http_requests_in_flight",
			Help: "Bridge API requests being served",
		},
	)

	rateLimitRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbridge_http_rate_limit_rejects_total",
			Help: "Bridge API requests refused by the server rate limiter",
		},
	)

	panicRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbridge_http_panic_recoveries_total",
			Help: "Handler panics turned into 500 responses",
		},
	)
)

// metricsMiddleware records per-route request counts and latency. Routes are
// labelled by their mux pattern, so every job status URL shares one series.
func (s *Server) metricsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		observeRequest(r.Method, routeOf(r), rw.Status(), time.Since(start))
	}
}

func observeRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	if elapsed > defaults.GateBudget {
		httpRequestsOverBudget.WithLabelValues(method, route).Inc()
	}
}

// routeOf returns the mux pattern that matched r. Unmatched requests share
// a single label.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}
