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

// Package bridge wires the submission gate, dispatcher, reconciler, metrics,
// accounting and HTTP surface into one runnable process.
//
// New builds every component from a validated config.Config and a set of
// dependencies (store, control plane, status source). Open builds those
// dependencies for production from the same configuration. Run starts the
// dispatcher workers, the reconciler and the HTTP server under one errgroup
// and returns when the context is cancelled or any of them fails.
//
//	cfg, err := config.Load("/etc/sbridge/config.yaml")
//	...
//	deps, err := bridge.Open(ctx, cfg)
//	...
//	b, err := bridge.New(cfg, deps, bridge.WithVersion(version))
//	...
//	return b.Run(ctx)
package bridge
