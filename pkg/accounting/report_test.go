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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

type flakyAccountant struct {
	fail  bool
	calls int
}

func (f *flakyAccountant) Report(context.Context, Outcome) error {
	f.calls++
	if f.fail {
		return errors.New("receiver down")
	}
	return nil
}

func TestReportOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := job.NewIdentity("hpc", "1001")

	st := store.NewMemory()
	require.NoError(t, st.Create(job.NewRecord(id, job.WorkloadSpec{}, now)))
	acct := &flakyAccountant{}

	delivered, err := ReportOnce(ctx, st, acct, id)
	require.NoError(t, err)
	assert.False(t, delivered, "non-terminal records are not reported")

	_, err = st.Update(id, func(r *job.DispatchRecord) error {
		r.SetPhase(job.PhaseFailed, now)
		return nil
	})
	require.NoError(t, err)

	acct.fail = true
	delivered, err = ReportOnce(ctx, st, acct, id)
	require.Error(t, err)
	assert.False(t, delivered)
	rec, err := st.Get(id)
	require.NoError(t, err)
	assert.False(t, rec.Reported, "claim is released after a failed delivery")

	acct.fail = false
	delivered, err = ReportOnce(ctx, st, acct, id)
	require.NoError(t, err)
	assert.True(t, delivered)

	delivered, err = ReportOnce(ctx, st, acct, id)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 2, acct.calls)
}

func TestReportOnceMissingRecord(t *testing.T) {
	_, err := ReportOnce(context.Background(), store.NewMemory(), &flakyAccountant{}, job.NewIdentity("hpc", "9"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
