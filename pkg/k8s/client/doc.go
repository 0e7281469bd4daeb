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

// Package client builds the Kubernetes clients used by the bridge.
//
// The typed clientset renders and watches batch/v1 Jobs; the dynamic client
// handles JobSets, which have no typed client in client-go. Both share one
// rest.Config so QPS and Burst bound the bridge's total request rate.
//
//	clients, err := client.Build(client.Options{QPS: 20, Burst: 40})
//	if err != nil {
//	    return fmt.Errorf("failed to build kubernetes clients: %w", err)
//	}
//
// Kubeconfig discovery checks the explicit path, then KUBECONFIG, then
// ~/.kube/config, and finally the in-cluster service account.
//
// Tests pass k8s.io/client-go/kubernetes/fake and
// k8s.io/client-go/dynamic/fake clients directly instead.
package client
