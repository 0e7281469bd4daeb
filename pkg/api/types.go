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

package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/gate"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Request paths.
const (
	PathSubmit  = "/v1/submit"
	PathJobs    = "/v1/jobs"
	PathRecords = "/v1/records"
)

// Plugin actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// JobPath returns the status path of a job.
func JobPath(id job.Identity) string {
	return fmt.Sprintf("%s/%s/%s", PathJobs, url.PathEscape(id.Cluster()), url.PathEscape(id.ID()))
}

// CancelPath returns the cancel path of a job.
func CancelPath(id job.Identity) string {
	return JobPath(id) + "/cancel"
}

// SubmitResponse is the hook answer.
type SubmitResponse struct {
	// Action is what the scheduler plugin does with the submission.
	Action   string       `json:"action"`
	Verdict  gate.Verdict `json:"verdict"`
	Identity job.Identity `json:"identity,omitempty"`
	// Script replaces the batch script when set.
	Script    string              `json:"script,omitempty"`
	Object    *job.ObjectRef      `json:"object,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Code      apperrors.ErrorCode `json:"code,omitempty"`
	Retryable bool                `json:"retryable,omitempty"`
}

// NewSubmitResponse converts a gate decision.
func NewSubmitResponse(d gate.Decision) SubmitResponse {
	resp := SubmitResponse{
		Action:    ActionAccept,
		Verdict:   d.Verdict,
		Identity:  d.Identity,
		Script:    d.Script,
		Reason:    d.Reason,
		Code:      d.Code,
		Retryable: d.Retryable,
	}
	if d.Verdict == gate.VerdictReject {
		resp.Action = ActionReject
	}
	if d.Spec != nil {
		ref := d.Spec.Ref()
		resp.Object = &ref
	}
	return resp
}

// JobStatus is what the polling stub reads.
type JobStatus struct {
	Identity  job.Identity  `json:"identity"`
	Phase     job.Phase     `json:"phase"`
	Terminal  bool          `json:"terminal"`
	Object    job.ObjectRef `json:"object,omitzero"`
	Reason    string        `json:"reason,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	Attempts  int           `json:"attempts"`
	// ExitCode is set once the job is terminal.
	ExitCode     *int      `json:"exitCode,omitempty"`
	SubmittedAt  time.Time `json:"submittedAt"`
	DispatchedAt time.Time `json:"dispatchedAt,omitzero"`
	TerminalAt   time.Time `json:"terminalAt,omitzero"`
}

// StatusOf builds the JobStatus of a record.
func StatusOf(rec *job.DispatchRecord) JobStatus {
	st := JobStatus{
		Identity:     rec.Identity,
		Phase:        rec.Phase,
		Terminal:     rec.Phase.IsTerminal(),
		Object:       rec.Object,
		Reason:       rec.LastError,
		ErrorCode:    rec.ErrorCode,
		Attempts:     rec.Attempts,
		SubmittedAt:  rec.SubmittedAt,
		DispatchedAt: rec.DispatchedAt,
		TerminalAt:   rec.TerminalAt,
	}
	if st.Terminal {
		code := accounting.OutcomeOf(rec).ExitCode()
		st.ExitCode = &code
	}
	return st
}

// RecordList is the body of GET /v1/records.
type RecordList struct {
	Count   int                   `json:"count"`
	Records []*job.DispatchRecord `json:"records"`
}
