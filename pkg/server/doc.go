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

// Package server provides the HTTP server the bridge daemon exposes its hook,
// status and metrics endpoints on.
//
// # Architecture
//
// Handlers registered with WithHandler are wrapped in a middleware chain:
//
//   - Per-route request metrics (sbridge_http_*), with latency buckets
//     around the submission hook budget
//   - API version negotiation (X-API-Version header)
//   - Request ID tracking (X-Request-Id, UUID)
//   - Panic recovery
//   - Token bucket rate limiting (golang.org/x/time/rate)
//   - Request logging
//
// System endpoints bypass the chain:
//
//	GET /health   liveness, always 200
//	GET /ready    readiness, 503 until the server is started
//	GET /metrics  Prometheus exposition
//
// Handler keys are http.ServeMux patterns, so they may carry a method:
//
//	s := server.New(
//	    server.WithName("sbridge"),
//	    server.WithHandler(map[string]http.HandlerFunc{
//	        "POST /v1/submit": submit,
//	    }),
//	)
//	err := s.Run(ctx)
//
// # Error Handling
//
// All errors return a consistent JSON structure:
//
//	{
//	  "code": "RATE_LIMIT_EXCEEDED",
//	  "message": "Rate limit exceeded",
//	  "details": {"limit": 100, "burst": 200},
//	  "requestId": "550e8400-e29b-41d4-a716-446655440000",
//	  "timestamp": "2025-12-22T12:00:00Z",
//	  "retryable": true
//	}
//
// WriteErrorFromErr derives status code, code and retryability from a
// pkg/errors StructuredError.
//
// # Configuration
//
// NewConfig reads PORT and SHUTDOWN_TIMEOUT_SECONDS from the environment; the
// remaining values default from pkg/defaults.
package server
