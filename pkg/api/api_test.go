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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/gate"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

func TestPaths(t *testing.T) {
	id := job.NewIdentity("hpc east", "42")
	assert.Equal(t, "/v1/jobs/hpc%20east/42", JobPath(id))
	assert.Equal(t, "/v1/jobs/hpc%20east/42/cancel", CancelPath(id))
}

func TestNewSubmitResponse(t *testing.T) {
	spec := job.WorkloadSpec{Kind: job.KindBatchJob, Name: "hpc-east-42", Namespace: "slurm-jobs"}

	tests := []struct {
		name       string
		decision   gate.Decision
		wantAction string
		wantObject bool
	}{
		{
			name:       "accept",
			decision:   gate.Decision{Verdict: gate.VerdictAccept, Identity: "hpc-east/1"},
			wantAction: ActionAccept,
		},
		{
			name:       "delegate",
			decision:   gate.Decision{Verdict: gate.VerdictDelegate, Identity: "hpc-east/42", Spec: &spec, Script: "#!/bin/sh"},
			wantAction: ActionAccept,
			wantObject: true,
		},
		{
			name: "reject",
			decision: gate.Decision{
				Verdict: gate.VerdictReject, Identity: "hpc-east/2",
				Reason: "no image", Code: apperrors.ErrCodeMissingImage,
			},
			wantAction: ActionReject,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewSubmitResponse(tt.decision)
			assert.Equal(t, tt.wantAction, resp.Action)
			assert.Equal(t, tt.decision.Verdict, resp.Verdict)
			assert.Equal(t, tt.decision.Code, resp.Code)
			if tt.wantObject {
				require.NotNil(t, resp.Object)
				assert.Equal(t, "slurm-jobs", resp.Object.Namespace)
				assert.Equal(t, "hpc-east-42", resp.Object.Name)
			} else {
				assert.Nil(t, resp.Object)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		phase    job.Phase
		wantExit *int
	}{
		{phase: job.PhaseRunning},
		{phase: job.PhaseSucceeded, wantExit: intPtr(0)},
		{phase: job.PhaseFailed, wantExit: intPtr(1)},
		{phase: job.PhaseLost, wantExit: intPtr(3)},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			st := StatusOf(&job.DispatchRecord{Identity: "hpc-east/42", Phase: tt.phase, LastError: "why"})
			assert.Equal(t, tt.phase.IsTerminal(), st.Terminal)
			assert.Equal(t, "why", st.Reason)
			assert.Equal(t, tt.wantExit, st.ExitCode)
		})
	}
}

func TestClientRecordsFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		serializer.RespondJSON(w, http.StatusOK, RecordList{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	_, err := c.Records(context.Background(), job.PhaseLost)
	require.NoError(t, err)
	assert.Equal(t, "phase=Lost", gotQuery)

	_, err = c.Records(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, gotQuery)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		serializer.RespondJSON(w, http.StatusNotFound, map[string]any{"code": "NOT_FOUND", "message": "job not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background(), "hpc-east/42")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func intPtr(i int) *int { return &i }
