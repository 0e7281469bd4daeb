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

// Package k8s provides Kubernetes integration for the bridge.
//
// # Sub-packages
//
// client: Kubernetes clients with automatic authentication
//
//	clients, err := client.Build(client.Options{UserAgent: "sbridge"})
//	if err != nil {
//	    return err
//	}
//	// clients.Kube for typed calls, clients.Dynamic for JobSets
//
// A process-wide instance is available through client.Get, built once with
// default options.
//
// workload: the orchestration control plane of delegated jobs
//
//	wc := workload.NewClient(clients.Kube, clients.Dynamic, opts)
//	ref, err := wc.Create(ctx, spec)
//
// It renders WorkloadSpecs into batch/v1 Jobs and JobSets, reads their state
// back as observations (watch or poll), checks and renders the RBAC the bridge
// needs, and reports node capacity for the mapped resources.
//
// # Authentication
//
// The kubeconfig is taken from the --kubeconfig flag, KUBECONFIG, or
// ~/.kube/config in that order. When none exists the in-cluster service
// account is used.
package k8s
