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

// Phase is the scheduler-visible state of a delegated job.
type Phase string

const (
	PhasePending     Phase = "Pending"
	PhaseDispatching Phase = "Dispatching"
	PhaseRunning     Phase = "Running"
	PhaseSucceeded   Phase = "Succeeded"
	PhaseFailed      Phase = "Failed"
	PhaseLost        Phase = "Lost"
)

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseLost:
		return true
	default:
		return false
	}
}

func (p Phase) IsValid() bool {
	switch p {
	case PhasePending, PhaseDispatching, PhaseRunning, PhaseSucceeded, PhaseFailed, PhaseLost:
		return true
	default:
		return false
	}
}

func (p Phase) String() string { return string(p) }

// transitions lists the allowed moves. Phases only advance, except for
// Dispatching -> Pending between retry attempts.
var transitions = map[Phase][]Phase{
	PhasePending:     {PhaseDispatching, PhaseFailed},
	PhaseDispatching: {PhasePending, PhaseRunning, PhaseSucceeded, PhaseFailed, PhaseLost},
	PhaseRunning:     {PhaseSucceeded, PhaseFailed, PhaseLost},
}

// CanTransition reports whether a record may move from one phase to another.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
