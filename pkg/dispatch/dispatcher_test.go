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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/k8s/workload"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

// fakeControlPlane keeps objects in memory and can inject errors.
type fakeControlPlane struct {
	mu        sync.Mutex
	objects   map[job.ObjectRef]string
	creates   int
	deletes   []job.ObjectRef
	createErr func(n int) error
	// conflictKey, when set, makes the first create lose a race against an
	// object carrying this key.
	conflictKey string
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{objects: map[job.ObjectRef]string{}}
}

func (f *fakeControlPlane) Create(_ context.Context, spec job.WorkloadSpec) (job.ObjectRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	ref := spec.Ref()
	if f.createErr != nil {
		if err := f.createErr(f.creates); err != nil {
			return job.ObjectRef{}, err
		}
	}
	if f.conflictKey != "" {
		f.objects[ref] = f.conflictKey
		f.conflictKey = ""
	}
	if _, ok := f.objects[ref]; ok {
		return job.ObjectRef{}, apierrors.NewAlreadyExists(batchv1.Resource("jobs"), ref.Name)
	}
	f.objects[ref] = spec.IdempotencyKey
	return ref, nil
}

func (f *fakeControlPlane) Observe(_ context.Context, ref job.ObjectRef) (job.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.objects[ref]
	if !ok {
		return job.Observation{Ref: ref, Gone: true}, nil
	}
	return job.Observation{Ref: ref, IdempotencyKey: key, Phase: job.PhaseDispatching}, nil
}

func (f *fakeControlPlane) Delete(_ context.Context, ref job.ObjectRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ref)
	delete(f.objects, ref)
	return nil
}

func (f *fakeControlPlane) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
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

func testConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   8,
		MaxAttempts: 5,
		Backoff:     wait.Backoff{Duration: time.Millisecond, Factor: 2, Jitter: 0.1, Cap: 10 * time.Millisecond},
	}
}

func testSpec(id job.Identity) job.WorkloadSpec {
	return job.WorkloadSpec{
		Kind:           job.KindBatchJob,
		Name:           job.ObjectName(id),
		Namespace:      "slurm-jobs",
		Image:          "quay.io/myrepo/ml-image:latest",
		Limits:         map[string]string{"nvidia.com/gpu": "2"},
		RestartPolicy:  job.RestartPolicyNever,
		Replicas:       1,
		IdempotencyKey: id.IdempotencyKey(),
	}
}

func seed(t *testing.T, st store.Store, id job.Identity) {
	t.Helper()
	require.NoError(t, st.Create(job.NewRecord(id, testSpec(id), time.Now())))
}

func startDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForPhase(t *testing.T, st store.Store, id job.Identity, want job.Phase) *job.DispatchRecord {
	t.Helper()
	var rec *job.DispatchRecord
	require.Eventually(t, func() bool {
		r, err := st.Get(id)
		if err != nil {
			return false
		}
		rec = r
		return r.Phase == want && (want != job.PhaseDispatching || r.IsDispatched())
	}, 5*time.Second, 5*time.Millisecond, "record never reached %s", want)
	return rec
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: true},
		{name: "no backoff", mutate: func(c *Config) { c.Backoff.Duration = 0 }, wantErr: true},
		{name: "shrinking backoff", mutate: func(c *Config) { c.Backoff.Factor = 0.5 }, wantErr: true},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidRequest))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDispatchCreatesOnce(t *testing.T) {
	cp := newFakeControlPlane()
	d, err := New(cp, store.NewMemory(), testConfig())
	require.NoError(t, err)

	id := job.NewIdentity("hpc", "1001")
	spec := testSpec(id)

	for range 3 {
		ref, err := d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
		require.NoError(t, err)
		assert.Equal(t, spec.Ref(), ref)
	}
	assert.Equal(t, 1, cp.createCount())
}

func TestDispatchConcurrentSingleCreate(t *testing.T) {
	kube := fake.NewClientset()
	d, err := New(workload.NewClient(kube, nil, workload.Options{}), store.NewMemory(), testConfig())
	require.NoError(t, err)

	id := job.NewIdentity("hpc", "1001")
	spec := testSpec(id)

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			_, errs[i] = d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
		})
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	creates := 0
	for _, a := range kube.Actions() {
		if a.GetVerb() == "create" && a.GetResource().Resource == "jobs" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, d.objects.len())
}

func TestDispatchAdoptsRaceWinner(t *testing.T) {
	id := job.NewIdentity("hpc", "1001")
	spec := testSpec(id)

	cp := newFakeControlPlane()
	cp.conflictKey = spec.IdempotencyKey
	d, err := New(cp, store.NewMemory(), testConfig())
	require.NoError(t, err)

	ref, err := d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, spec.Ref(), ref)
}

func TestDispatchRejectsForeignObject(t *testing.T) {
	id := job.NewIdentity("hpc", "1001")
	spec := testSpec(id)

	cp := newFakeControlPlane()
	cp.conflictKey = "someone-else"
	d, err := New(cp, store.NewMemory(), testConfig())
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRejected))

	// Existing foreign objects are detected on the initial read too.
	_, err = d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRejected))
	assert.Equal(t, 1, cp.createCount())
}

func TestWorkerDispatchesAndNotifies(t *testing.T) {
	cp := newFakeControlPlane()
	st := store.NewMemory()
	notified := make(chan job.Identity, 1)
	d, err := New(cp, st, testConfig(), OnDispatched(func(rec *job.DispatchRecord) {
		notified <- rec.Identity
	}))
	require.NoError(t, err)
	startDispatcher(t, d)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	require.NoError(t, d.Offer(id))

	select {
	case got := <-notified:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch callback not called")
	}

	rec, err := st.Get(id)
	require.NoError(t, err)
	assert.Equal(t, job.PhaseDispatching, rec.Phase)
	assert.Equal(t, testSpec(id).Ref(), rec.Object)
	assert.Equal(t, 1, rec.Attempts)
	assert.False(t, rec.DispatchedAt.IsZero())
}

func TestDuplicateIntentsCreateOnce(t *testing.T) {
	cp := newFakeControlPlane()
	st := store.NewMemory()
	d, err := New(cp, st, testConfig())
	require.NoError(t, err)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	for range 3 {
		require.NoError(t, d.Offer(id))
	}
	startDispatcher(t, d)

	rec := waitForPhase(t, st, id, job.PhaseDispatching)
	require.Eventually(t, func() bool { return d.Pending() == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, 1, cp.createCount())
}

func TestRetryBound(t *testing.T) {
	cp := newFakeControlPlane()
	cp.createErr = func(int) error {
		return apierrors.NewServiceUnavailable("apiserver overloaded")
	}
	st := store.NewMemory()
	acct := &recordingAccountant{}
	d, err := New(cp, st, testConfig(), WithAccountant(acct))
	require.NoError(t, err)
	startDispatcher(t, d)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	require.NoError(t, d.Offer(id))

	rec := waitForPhase(t, st, id, job.PhaseFailed)
	assert.Equal(t, 5, rec.Attempts)
	assert.Equal(t, string(apperrors.ErrCodeTransient), rec.ErrorCode)
	assert.Equal(t, 5, cp.createCount())

	require.Eventually(t, func() bool { return len(acct.list()) == 1 }, 5*time.Second, 5*time.Millisecond)
	out := acct.list()[0]
	assert.Equal(t, job.PhaseFailed, out.Phase)
	assert.Equal(t, 5, out.Attempts)
}

func TestRetryRecovers(t *testing.T) {
	cp := newFakeControlPlane()
	cp.createErr = func(n int) error {
		if n < 3 {
			return apierrors.NewTooManyRequests("slow down", 1)
		}
		return nil
	}
	st := store.NewMemory()
	d, err := New(cp, st, testConfig())
	require.NoError(t, err)
	startDispatcher(t, d)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	require.NoError(t, d.Offer(id))

	rec := waitForPhase(t, st, id, job.PhaseDispatching)
	assert.Equal(t, 3, rec.Attempts)
	assert.Empty(t, rec.LastError)
}

func TestRejectedFailsImmediately(t *testing.T) {
	cp := newFakeControlPlane()
	cp.createErr = func(int) error {
		return apierrors.NewForbidden(batchv1.Resource("jobs"), "slurm-hpc-1001",
			errors.New(`exceeded quota: gpu-quota, requested: requests.nvidia.com/gpu=2`))
	}
	st := store.NewMemory()
	acct := &recordingAccountant{}
	d, err := New(cp, st, testConfig(), WithAccountant(acct))
	require.NoError(t, err)
	startDispatcher(t, d)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	require.NoError(t, d.Offer(id))

	rec := waitForPhase(t, st, id, job.PhaseFailed)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, string(apperrors.ErrCodeRejected), rec.ErrorCode)
	assert.Contains(t, rec.LastError, "exceeded quota")
	assert.True(t, rec.Reported)
}

func TestOfferQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d, err := New(newFakeControlPlane(), store.NewMemory(), cfg)
	require.NoError(t, err)

	require.NoError(t, d.Offer(job.NewIdentity("hpc", "1")))
	err = d.Offer(job.NewIdentity("hpc", "2"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimitExceeded))
}

func TestReserveHoldsSlot(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	d, err := New(newFakeControlPlane(), store.NewMemory(), cfg)
	require.NoError(t, err)

	require.NoError(t, d.Reserve())
	err = d.Offer(job.NewIdentity("hpc", "1"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimitExceeded), "reserved slot counts against capacity")
	assert.Equal(t, 0, d.Pending())

	d.Release()
	require.NoError(t, d.Reserve())
	d.Commit(job.NewIdentity("hpc", "2"))
	assert.Equal(t, 1, d.Pending())
	assert.Error(t, d.Reserve())
}

func TestCancel(t *testing.T) {
	cp := newFakeControlPlane()
	st := store.NewMemory()
	acct := &recordingAccountant{}
	d, err := New(cp, st, testConfig(), WithAccountant(acct))
	require.NoError(t, err)

	id := job.NewIdentity("hpc", "1001")
	seed(t, st, id)
	spec := testSpec(id)
	ref, err := d.Dispatch(context.Background(), spec, spec.IdempotencyKey)
	require.NoError(t, err)

	rec, err := d.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, job.PhaseFailed, rec.Phase)
	assert.Equal(t, ReasonCancelled, rec.LastError)
	assert.True(t, rec.Reported)
	assert.Equal(t, []job.ObjectRef{ref}, cp.deletes)
	assert.Empty(t, acct.list(), "cancellation is not reported to accounting")

	again, err := d.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, rec.TerminalAt, again.TerminalAt)
	assert.Len(t, cp.deletes, 1)

	_, err = d.Cancel(context.Background(), job.NewIdentity("hpc", "404"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClassify(t *testing.T) {
	gr := batchv1.Resource("jobs")
	tests := []struct {
		name string
		err  error
		want apperrors.ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "server timeout", err: apierrors.NewServerTimeout(gr, "create", 1), want: apperrors.ErrCodeTransient},
		{name: "timeout", err: apierrors.NewTimeoutError("slow", 1), want: apperrors.ErrCodeTransient},
		{name: "too many requests", err: apierrors.NewTooManyRequests("slow down", 1), want: apperrors.ErrCodeTransient},
		{name: "unavailable", err: apierrors.NewServiceUnavailable("down"), want: apperrors.ErrCodeTransient},
		{name: "internal", err: apierrors.NewInternalError(errors.New("etcd")), want: apperrors.ErrCodeTransient},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: apperrors.ErrCodeTransient},
		{name: "forbidden", err: apierrors.NewForbidden(gr, "x", errors.New("quota")), want: apperrors.ErrCodeRejected},
		{name: "unauthorized", err: apierrors.NewUnauthorized("who"), want: apperrors.ErrCodeRejected},
		{name: "invalid", err: apierrors.NewInvalid(batchv1.SchemeGroupVersion.WithKind("Job").GroupKind(), "x", nil), want: apperrors.ErrCodeRejected},
		{name: "bad request", err: apierrors.NewBadRequest("bad"), want: apperrors.ErrCodeRejected},
		{name: "missing namespace", err: apierrors.NewNotFound(gr, "x"), want: apperrors.ErrCodeRejected},
		{name: "structured transient", err: apperrors.New(apperrors.ErrCodeTransient, "x"), want: apperrors.ErrCodeTransient},
		{name: "structured invalid", err: apperrors.New(apperrors.ErrCodeInvalidRequest, "x"), want: apperrors.ErrCodeRejected},
		{name: "unknown", err: errors.New("boom"), want: apperrors.ErrCodeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestKeyedMutex(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Go(func() {
			unlock := k.Lock("a")
			counter++
			unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.len())
}
