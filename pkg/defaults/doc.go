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

// Package defaults provides centralized configuration constants for the bridge.
//
// This package defines timeout values and intervals used across the codebase.
// Values that the bridge cannot sensibly guess, such as retry attempt counts,
// backoff delays and resource mappings, are not defaulted here; they are
// required configuration (see pkg/config).
//
// # Timeout Categories
//
//   - Hook timeouts: the synchronous submission path
//   - Control-plane timeouts: per-call bounds for Kubernetes API operations
//   - Status tracking: poll/resync intervals, staleness and retention
//   - Server timeouts: HTTP server configuration
//   - HTTP client timeouts: outbound requests (webhooks, CLI to daemon)
//   - Server endpoint: default port and URL of the hook surface
//
// # Usage
//
//	ctx, cancel := context.WithTimeout(ctx, defaults.ControlPlaneCallTimeout)
//	defer cancel()
package defaults
