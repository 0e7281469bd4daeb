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

// DispatchRecord tracks a delegated job from its first dispatch attempt to
// its terminal phase. Exactly one record exists per Identity.
type DispatchRecord struct {
	Identity       Identity     `json:"identity"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Spec           WorkloadSpec `json:"spec"`
	Object         ObjectRef    `json:"object,omitempty"`
	Phase          Phase        `json:"phase"`
	Attempts       int          `json:"attempts"`
	LastError      string       `json:"lastError,omitempty"`
	// ErrorCode is the failure category of LastError.
	ErrorCode string `json:"errorCode,omitempty"`
	// Reported is set once the terminal phase reached scheduler accounting.
	Reported bool `json:"reported"`

	SubmittedAt    time.Time `json:"submittedAt"`
	DispatchedAt   time.Time `json:"dispatchedAt,omitzero"`
	RunningAt      time.Time `json:"runningAt,omitzero"`
	LastObservedAt time.Time `json:"lastObservedAt,omitzero"`
	TerminalAt     time.Time `json:"terminalAt,omitzero"`
}

// NewRecord creates a Pending record for a translated submission.
func NewRecord(id Identity, spec WorkloadSpec, now time.Time) *DispatchRecord {
	return &DispatchRecord{
		Identity:       id,
		IdempotencyKey: id.IdempotencyKey(),
		Spec:           spec.DeepCopy(),
		Phase:          PhasePending,
		SubmittedAt:    now,
	}
}

// Clone returns a deep copy of the record.
func (r *DispatchRecord) Clone() *DispatchRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Spec = r.Spec.DeepCopy()
	return &out
}

// IsDispatched reports whether a workload object has been created.
func (r *DispatchRecord) IsDispatched() bool {
	return !r.Object.IsZero()
}

// SetPhase moves the record to phase p if the transition is allowed and
// stamps the matching timestamp. It reports whether the phase changed.
func (r *DispatchRecord) SetPhase(p Phase, now time.Time) bool {
	if r.Phase == p || !CanTransition(r.Phase, p) {
		return false
	}
	r.Phase = p
	switch {
	case p == PhaseRunning:
		r.RunningAt = now
	case p.IsTerminal():
		r.TerminalAt = now
	}
	return true
}
