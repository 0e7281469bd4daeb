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

// Package accounting reports terminal job outcomes back to the scheduler side.
//
// The Board keeps outcomes in memory for the polling stub the scheduler runs in
// place of a delegated job. The Webhook posts outcomes to an external receiver.
// Multi fans out to several accountants.
package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Outcome is the terminal result of a delegated job.
type Outcome struct {
	Identity  job.Identity  `json:"identity"`
	Phase     job.Phase     `json:"phase"`
	Object    job.ObjectRef `json:"object,omitzero"`
	Reason    string        `json:"reason,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	Attempts  int           `json:"attempts"`
	At        time.Time     `json:"at"`
}

// OutcomeOf builds the Outcome of a terminal record.
func OutcomeOf(rec *job.DispatchRecord) Outcome {
	return Outcome{
		Identity:  rec.Identity,
		Phase:     rec.Phase,
		Object:    rec.Object,
		Reason:    rec.LastError,
		ErrorCode: rec.ErrorCode,
		Attempts:  rec.Attempts,
		At:        rec.TerminalAt,
	}
}

// ExitCode maps a terminal phase to the polling stub's exit status.
func (o Outcome) ExitCode() int {
	switch o.Phase {
	case job.PhaseSucceeded:
		return 0
	case job.PhaseLost:
		return 3
	default:
		return 1
	}
}

// Accountant receives terminal outcomes.
type Accountant interface {
	Report(ctx context.Context, o Outcome) error
}

// Multi reports to every accountant and joins their errors.
type Multi []Accountant

func (m Multi) Report(ctx context.Context, o Outcome) error {
	var errs []error
	for _, a := range m {
		if err := a.Report(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
