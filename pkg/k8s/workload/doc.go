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

// Package workload talks to the orchestration control plane on behalf of the
// bridge.
//
// It renders WorkloadSpecs into batch/v1 Jobs (single node) and
// jobset.x-k8s.io/v1alpha2 JobSets (multi node), creates, reads and deletes
// them, and maps their status onto job phases.
//
// Two status sources feed the reconciler:
//
//	WatchSource: watches the object and re-reads it every resync interval
//	PollSource:  re-reads the object every poll interval
//
// Both emit a job.Observation on every phase change and on every periodic
// read, so a healthy but long-running job keeps producing observations.
//
// Errors from the control plane are returned wrapped but unmodified so
// callers can classify them with k8s.io/apimachinery/pkg/api/errors.
package workload
