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

package defaults

import "time"

// Submission hook timeouts.
const (
	// GateBudget is the latency budget of the synchronous submission hook.
	// The scheduler stalls while it waits, so the handler gives up after this.
	GateBudget = 200 * time.Millisecond

	// HookClientTimeout bounds `sbridge submit` calls made from the scheduler plugin.
	// Slightly above GateBudget to leave room for connection setup.
	HookClientTimeout = 500 * time.Millisecond
)

// Control-plane timeouts for Kubernetes API operations.
const (
	// ControlPlaneCallTimeout bounds every individual create/get/delete call.
	ControlPlaneCallTimeout = 10 * time.Second

	// K8sCleanupTimeout is the timeout for best-effort workload deletion.
	K8sCleanupTimeout = 30 * time.Second
)

// Status tracking intervals.
const (
	// StatusPollInterval is the default interval of the poll-based status source.
	StatusPollInterval = 15 * time.Second

	// StatusResyncInterval is how often the watch-based status source re-reads the
	// workload so long-running jobs keep producing observations.
	StatusResyncInterval = 20 * time.Second

	// StalenessTimeout is the default time without an observation before a
	// dispatched job is marked Lost. Must exceed both intervals above.
	StalenessTimeout = 60 * time.Second

	// SweepInterval is how often the reconciler checks staleness and retention.
	SweepInterval = 5 * time.Second

	// RecordRetention is how long terminal records are kept after reporting.
	RecordRetention = 1 * time.Hour
)

// Server timeouts for HTTP server configuration.
const (
	// ServerReadTimeout is the maximum duration for reading request headers.
	ServerReadTimeout = 10 * time.Second

	// ServerReadHeaderTimeout prevents slow header attacks.
	ServerReadHeaderTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration for writing a response.
	ServerWriteTimeout = 30 * time.Second

	// ServerIdleTimeout is the maximum duration to wait for the next request.
	ServerIdleTimeout = 120 * time.Second

	// ServerShutdownTimeout is the maximum duration for graceful shutdown.
	ServerShutdownTimeout = 30 * time.Second
)

// HTTP client timeouts for outbound requests.
const (
	// HTTPClientTimeout is the default total timeout for HTTP requests.
	HTTPClientTimeout = 30 * time.Second

	// WebhookTimeout bounds accounting webhook deliveries.
	WebhookTimeout = 10 * time.Second
)

// CLI timeouts and intervals.
const (
	// WaitPollInterval is the default interval of the `sbridge wait` stub.
	WaitPollInterval = 15 * time.Second
)
