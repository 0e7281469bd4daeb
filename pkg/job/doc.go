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

// Package job defines the data model shared by the bridge components.
//
// A SubmissionDescriptor is the scheduler's view of a job request. The
// translator turns it into a WorkloadSpec, the orchestration-side description
// of the object to create. DispatchRecord tracks the mapping from a job
// identity to the created object and its last known Phase.
//
// Identity, idempotency key and object name are all derived from the
// descriptor alone, so a re-submitted or retried job always maps onto the same
// workload object.
package job
