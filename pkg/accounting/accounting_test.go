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

package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

func outcome(id string, phase job.Phase) Outcome {
	return Outcome{
		Identity: job.NewIdentity("hpc", id),
		Phase:    phase,
		At:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		phase job.Phase
		want  int
	}{
		{job.PhaseSucceeded, 0},
		{job.PhaseFailed, 1},
		{job.PhaseLost, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.want, outcome("1", tt.phase).ExitCode())
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	rec := job.NewRecord(job.NewIdentity("hpc", "7"), job.WorkloadSpec{Name: "slurm-hpc-7", Namespace: "ns"}, time.Now())
	rec.SetPhase(job.PhaseDispatching, time.Now())
	rec.SetPhase(job.PhaseFailed, time.Now())
	rec.LastError = "quota exceeded"
	rec.ErrorCode = "REJECTED"
	rec.Attempts = 1

	o := OutcomeOf(rec)
	assert.Equal(t, rec.Identity, o.Identity)
	assert.Equal(t, job.PhaseFailed, o.Phase)
	assert.Equal(t, "quota exceeded", o.Reason)
	assert.Equal(t, "REJECTED", o.ErrorCode)
	assert.Equal(t, rec.TerminalAt, o.At)
}

func TestBoard(t *testing.T) {
	b := NewBoard()
	ctx := context.Background()

	require.NoError(t, b.Report(ctx, outcome("2", job.PhaseFailed)))
	require.NoError(t, b.Report(ctx, outcome("1", job.PhaseSucceeded)))

	got, ok := b.Lookup(job.NewIdentity("hpc", "1"))
	require.True(t, ok)
	assert.Equal(t, job.PhaseSucceeded, got.Phase)

	list := b.List()
	require.Len(t, list, 2)
	assert.Equal(t, job.Identity("hpc/1"), list[0].Identity)

	b.Forget(job.NewIdentity("hpc", "1"))
	_, ok = b.Lookup(job.NewIdentity("hpc", "1"))
	assert.False(t, ok)
}

func TestWebhook(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, serializer.WithHTTPClient(srv.Client()))
	require.NoError(t, wh.Report(context.Background(), outcome("9", job.PhaseLost)))

	body := <-received
	assert.Equal(t, "hpc/9", body["identity"])
	assert.Equal(t, "Lost", body["phase"])
	assert.NotEmpty(t, body["delivery"])
}

func TestWebhookRetryKeepsDeliveryID(t *testing.T) {
	received := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Delivery string `json:"delivery"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body.Delivery
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, serializer.WithHTTPClient(srv.Client()))
	o := outcome("9", job.PhaseSucceeded)
	require.NoError(t, wh.Report(context.Background(), o))
	require.NoError(t, wh.Report(context.Background(), o))
	require.NoError(t, wh.Report(context.Background(), outcome("9", job.PhaseFailed)))

	first, second, other := <-received, <-received, <-received
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, DeliveryID(o), first)
	assert.NotEqual(t, first, other)
}

func TestWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, serializer.WithHTTPClient(srv.Client()))
	err := wh.Report(context.Background(), outcome("9", job.PhaseFailed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hpc/9")
}

type failing struct{ err error }

func (f failing) Report(context.Context, Outcome) error { return f.err }

func TestMulti(t *testing.T) {
	b := NewBoard()
	boom := errors.New("boom")
	m := Multi{failing{boom}, b}

	err := m.Report(context.Background(), outcome("3", job.PhaseSucceeded))
	assert.ErrorIs(t, err, boom)

	_, ok := b.Lookup(job.NewIdentity("hpc", "3"))
	assert.True(t, ok, "later accountants still receive the outcome")

	assert.NoError(t, Multi{b}.Report(context.Background(), outcome("4", job.PhaseSucceeded)))
}
