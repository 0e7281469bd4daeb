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

package job

// Label and annotation keys stamped on every workload object.
const (
	LabelManagedBy      = "app.kubernetes.io/managed-by"
	LabelIdempotencyKey = "sbridge.nvidia.com/idempotency-key"
	LabelCluster        = "sbridge.nvidia.com/cluster"
	LabelJobID          = "sbridge.nvidia.com/job-id"
	LabelUser           = "sbridge.nvidia.com/user"
	LabelPartition      = "sbridge.nvidia.com/partition"

	AnnotationIdentity = "sbridge.nvidia.com/identity"
	AnnotationGRES     = "sbridge.nvidia.com/gres"
	AnnotationAccount  = "sbridge.nvidia.com/account"

	// ManagedByValue is the LabelManagedBy value of bridge-created objects.
	ManagedByValue = "sbridge"
)
