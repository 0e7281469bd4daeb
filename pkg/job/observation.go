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

import "time"

// Observation is one status reading of a workload object.
type Observation struct {
	Ref ObjectRef `json:"ref"`
	// IdempotencyKey is read back from the object's labels.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	// Phase is Dispatching while the object exists but nothing runs yet.
	Phase  Phase  `json:"phase"`
	Reason string `json:"reason,omitempty"`
	// Gone reports the object no longer exists.
	Gone bool      `json:"gone,omitempty"`
	At   time.Time `json:"at"`
}
