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

package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource forwards observations pushed with send to the subscriber.
type fakeSource struct {
	mu         sync.Mutex
	inputs     map[job.ObjectRef]chan job.Observation
	subscribed chan job.ObjectRef
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		inputs:     map[job.ObjectRef]chan job.Observation{},
		subscribed: make(chan job.ObjectRef, 16),
	}
}

func (f *fakeSource) input(ref job.ObjectRef) chan job.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.inputs[ref]
	if !ok {
		in = make(chan job.Observation, 8)
		f.inputs[ref] = in
	}
	return in
}

func (f *fakeSource) Subscribe(ctx context.Context, ref job.ObjectRef) (<-chan job.Observation, error) {
	in := f.input(ref)
	out := make(chan job.Observation)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case obs := <-in:
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	f.subscribed <- ref
	return out, nil
}

func (f *fakeSource) send(ref job.ObjectRef, obs job.Observation) {
	obs.Ref = ref
	f.input(ref) <- obs
}

type recordingAccountant struct {
	mu       sync.Mutex
	outcomes []accounting.Outcome
}

func (r *recordingAccountant) Report(_ context.Context, o accounting.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *recordingAccountant) list() []accounting.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]accounting.Outcome(nil), r.outcomes...)
}

type recordingRequeuer struct {
	mu  sync.Mutex
	ids []job.Identity
}

func (q *recordingRequeuer) Offer(id job.Identity) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingRequeuer) list() []job.Identity {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]job.Identity(nil), q.ids...)
}

// seedRecord stores a record for jobID in phase, dispatched when dispatched is set.
func seedRecord(t *testing.T, st store.Store, jobID string, phase job.Phase, dispatched bool) *job.DispatchRecord {
	t.Helper()
	id := job.NewIdentity("hpc", jobID)
	spec := job.WorkloadSpec{
		Kind:           job.KindBatchJob,
		Name:           job.ObjectName(id),
		Namespace:      "slurm-jobs",
		IdempotencyKey: id.IdempotencyKey(),
	}
	rec := job.NewRecord(id, spec, epoch)
	rec.Phase = phase
	if dispatched {
		rec.Object = spec.Ref()
		rec.DispatchedAt = epoch
		rec.LastObservedAt = epoch
	}
	if phase.IsTerminal() {
		rec.TerminalAt = epoch
	}
	require.NoError(t, st.Create(rec))
	return rec
}

func get(t *testing.T, st store.Store, id job.Identity) *job.DispatchRecord {
	t.Helper()
	rec, err := st.Get(id)
	require.NoError(t, err)
	return rec
}

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		phase     job.Phase
		obs       job.Observation
		want      job.Phase
		wantDone  bool
		wantCode  apperrors.ErrorCode
		wantError string
	}{
		{
			name:  "dispatching to running",
			phase: job.PhaseDispatching,
			obs:   job.Observation{Phase: job.PhaseRunning},
			want:  job.PhaseRunning,
		},
		{
			name:     "running to succeeded",
			phase:    job.PhaseRunning,
			obs:      job.Observation{Phase: job.PhaseSucceeded},
			want:     job.PhaseSucceeded,
			wantDone: true,
		},
		{
			name:      "running to failed",
			phase:     job.PhaseRunning,
			obs:       job.Observation{Phase: job.PhaseFailed, Reason: "BackoffLimitExceeded"},
			want:      job.PhaseFailed,
			wantDone:  true,
			wantError: "BackoffLimitExceeded",
		},
		{
			name:      "object deleted externally",
			phase:     job.PhaseRunning,
			obs:       job.Observation{Gone: true, Reason: "workload object not found"},
			want:      job.PhaseFailed,
			wantDone:  true,
			wantCode:  apperrors.ErrCodeNotFound,
			wantError: "workload object not found",
		},
		{
			name:     "object replaced by another owner",
			phase:    job.PhaseRunning,
			obs:      job.Observation{Phase: job.PhaseRunning, IdempotencyKey: "other"},
			want:     job.PhaseFailed,
			wantDone: true,
			wantCode: apperrors.ErrCodeRejected,
		},
		{
			name:  "no regression",
			phase: job.PhaseRunning,
			obs:   job.Observation{Phase: job.PhaseDispatching},
			want:  job.PhaseRunning,
		},
		{
			name:     "terminal records are final",
			phase:    job.PhaseSucceeded,
			obs:      job.Observation{Phase: job.PhaseFailed},
			want:     job.PhaseSucceeded,
			wantDone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			acct := &recordingAccountant{}
			fc := clocktesting.NewFakeClock(epoch.Add(10 * time.Second))
			r := New(newFakeSource(), st, Config{}, WithClock(fc), WithAccountant(acct))

			rec := seedRecord(t, st, "1001", tt.phase, true)
			done := r.Apply(context.Background(), rec.Identity, tt.obs)
			assert.Equal(t, tt.wantDone, done)

			got := get(t, st, rec.Identity)
			assert.Equal(t, tt.want, got.Phase)
			if tt.wantCode != "" {
				assert.Equal(t, string(tt.wantCode), got.ErrorCode)
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, got.LastError)
			}
			if tt.phase.IsTerminal() {
				assert.Empty(t, acct.list())
				return
			}
			assert.Equal(t, fc.Now(), got.LastObservedAt)
			if tt.want.IsTerminal() {
				require.Len(t, acct.list(), 1)
				assert.Equal(t, tt.want, acct.list()[0].Phase)
				assert.True(t, got.Reported)
			}
		})
	}
}

func TestSweepMarksStaleRecordsLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	acct := &recordingAccountant{}
	fc := clocktesting.NewFakeClock(epoch)
	r := New(newFakeSource(), st, Config{StalenessTimeout: 60 * time.Second}, WithClock(fc), WithAccountant(acct))

	rec := seedRecord(t, st, "1001", job.PhaseRunning, true)

	fc.SetTime(epoch.Add(60 * time.Second))
	r.Sweep(ctx)
	assert.Equal(t, job.PhaseRunning, get(t, st, rec.Identity).Phase, "exactly the timeout is not stale yet")

	fc.SetTime(epoch.Add(61 * time.Second))
	r.Sweep(ctx)
	got := get(t, st, rec.Identity)
	assert.Equal(t, job.PhaseLost, got.Phase)
	assert.Equal(t, string(apperrors.ErrCodeStale), got.ErrorCode)
	assert.Contains(t, got.LastError, "1m1s")
	require.Len(t, acct.list(), 1)
	assert.Equal(t, 3, acct.list()[0].ExitCode())

	// A late observation does not revive a lost job.
	assert.True(t, r.Apply(ctx, rec.Identity, job.Observation{Phase: job.PhaseRunning}))
	assert.Equal(t, job.PhaseLost, get(t, st, rec.Identity).Phase)
}

func TestObservationsPreventStaleness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	fc := clocktesting.NewFakeClock(epoch)
	r := New(newFakeSource(), st, Config{StalenessTimeout: 60 * time.Second}, WithClock(fc))
	rec := seedRecord(t, st, "1001", job.PhaseRunning, true)

	for range 5 {
		fc.Step(40 * time.Second)
		r.Apply(ctx, rec.Identity, job.Observation{Phase: job.PhaseRunning})
		r.Sweep(ctx)
	}
	assert.Equal(t, job.PhaseRunning, get(t, st, rec.Identity).Phase)
}

func TestStalenessWithoutObservationsIsLostAndNotRequeued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemory()
	src := newFakeSource()
	q := &recordingRequeuer{}
	fc := clocktesting.NewFakeClock(epoch)
	r := New(src, st, Config{StalenessTimeout: 60 * time.Second, SweepInterval: 5 * time.Second},
		WithClock(fc), WithRequeuer(q))

	rec := seedRecord(t, st, "1001", job.PhaseDispatching, true)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	<-src.subscribed
	require.Eventually(t, fc.HasWaiters, 5*time.Second, time.Millisecond)
	fc.Step(61 * time.Second)

	require.Eventually(t, func() bool {
		return get(t, st, rec.Identity).Phase == job.PhaseLost
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.Tracking() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, q.list(), "lost jobs are never dispatched again")
}

func TestResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemory()
	src := newFakeSource()
	q := &recordingRequeuer{}
	acct := &recordingAccountant{}
	fc := clocktesting.NewFakeClock(epoch.Add(10 * time.Minute))
	r := New(src, st, Config{}, WithClock(fc), WithRequeuer(q), WithAccountant(acct))

	pending := seedRecord(t, st, "1", job.PhasePending, false)
	interrupted := seedRecord(t, st, "2", job.PhaseDispatching, false)
	running := seedRecord(t, st, "3", job.PhaseRunning, true)
	finished := seedRecord(t, st, "4", job.PhaseSucceeded, true)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	assert.Equal(t, running.Object, <-src.subscribed)
	require.Eventually(t, func() bool { return len(q.list()) == 2 }, 5*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []job.Identity{pending.Identity, interrupted.Identity}, q.list())

	require.Eventually(t, func() bool { return len(acct.list()) == 1 }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, job.PhasePending, get(t, st, interrupted.Identity).Phase)
	assert.Equal(t, fc.Now(), get(t, st, running.Identity).LastObservedAt, "staleness restarts on resume")
	assert.True(t, get(t, st, finished.Identity).Reported)
	assert.Equal(t, finished.Identity, acct.list()[0].Identity)
	assert.Equal(t, 1, r.Tracking())
}

func TestTrackFollowsToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	st := store.NewMemory()
	src := newFakeSource()
	acct := &recordingAccountant{}
	fc := clocktesting.NewFakeClock(epoch)
	r := New(src, st, Config{}, WithClock(fc), WithAccountant(acct))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	rec := seedRecord(t, st, "1001", job.PhaseDispatching, true)
	r.Track(rec)
	ref := <-src.subscribed
	assert.Equal(t, rec.Object, ref)

	src.send(ref, job.Observation{Phase: job.PhaseRunning})
	src.send(ref, job.Observation{Phase: job.PhaseSucceeded})

	require.Eventually(t, func() bool {
		return get(t, st, rec.Identity).Phase == job.PhaseSucceeded
	}, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.Tracking() == 0 }, 5*time.Second, 5*time.Millisecond)

	got := get(t, st, rec.Identity)
	assert.False(t, got.RunningAt.IsZero())
	assert.True(t, got.Reported)
	require.Len(t, acct.list(), 1)
	assert.Equal(t, 0, acct.list()[0].ExitCode())
}

func TestSweepRetention(t *testing.T) {
	st := store.NewMemory()
	fc := clocktesting.NewFakeClock(epoch.Add(30 * time.Minute))
	var removed []job.Identity
	r := New(newFakeSource(), st, Config{RetentionWindow: time.Hour}, WithClock(fc),
		OnRemoved(func(id job.Identity) { removed = append(removed, id) }))

	unreported := seedRecord(t, st, "1", job.PhaseFailed, false)
	reported := seedRecord(t, st, "2", job.PhaseSucceeded, true)
	_, err := st.Update(reported.Identity, func(r *job.DispatchRecord) error {
		r.Reported = true
		return nil
	})
	require.NoError(t, err)

	r.Sweep(context.Background())
	_, err = st.Get(reported.Identity)
	require.NoError(t, err, "kept inside the retention window")
	assert.True(t, get(t, st, unreported.Identity).Reported, "sweep retries pending reports")

	fc.SetTime(epoch.Add(61 * time.Minute))
	r.Sweep(context.Background())
	recs, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.ElementsMatch(t, []job.Identity{unreported.Identity, reported.Identity}, removed)
}
