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

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/validation"
)

func TestDescriptorIdentity(t *testing.T) {
	base := SubmissionDescriptor{Cluster: "hpc", Name: "train", User: "alice", GRES: "gpu:2"}

	withID := base
	withID.JobID = "1234"
	assert.Equal(t, Identity("hpc/1234"), withID.Identity())

	withKey := base
	withKey.SubmitKey = "abc"
	assert.Equal(t, Identity("hpc/abc"), withKey.Identity())

	noCluster := SubmissionDescriptor{JobID: "7"}
	assert.Equal(t, Identity("default/7"), noCluster.Identity())

	// content digest is stable and sensitive to content
	a := base.Identity()
	assert.Equal(t, a, base.Identity())
	assert.True(t, strings.HasPrefix(a.ID(), "sub-"))
	changed := base
	changed.GRES = "gpu:4"
	assert.NotEqual(t, a, changed.Identity())

	// a resubmission of the same content at a later time is a new job
	first := base
	first.SubmitTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	again := base
	again.SubmitTime = first.SubmitTime.Add(time.Second)
	assert.NotEqual(t, first.Identity(), again.Identity())
	assert.NotEqual(t, a, first.Identity())
	sameInstant := base
	sameInstant.SubmitTime = first.SubmitTime.In(time.FixedZone("CEST", 2*3600))
	assert.Equal(t, first.Identity(), sameInstant.Identity())
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("hpc/42")
	require.NoError(t, err)
	assert.Equal(t, "hpc", id.Cluster())
	assert.Equal(t, "42", id.ID())

	for _, bad := range []string{"", "hpc", "/42", "hpc/", "a/b/c"} {
		_, err := ParseIdentity(bad)
		assert.Error(t, err, bad)
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := NewIdentity("hpc", "1")
	b := NewIdentity("hpc", "2")
	assert.Len(t, a.IdempotencyKey(), 20)
	assert.Equal(t, a.IdempotencyKey(), NewIdentity("hpc", "1").IdempotencyKey())
	assert.NotEqual(t, a.IdempotencyKey(), b.IdempotencyKey())
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want string
	}{
		{name: "simple", id: "hpc/1234", want: "slurm-hpc-1234"},
		{name: "case and symbols", id: "HPC_East/Job.99", want: "slurm-hpc-east-job-99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectName(tt.id))
		})
	}

	long := NewIdentity("cluster", strings.Repeat("x", 100))
	name := ObjectName(long)
	assert.LessOrEqual(t, len(name), validation.DNS1123LabelMaxLength)
	assert.Empty(t, validation.IsDNS1123Label(name))
	assert.True(t, strings.HasSuffix(name, long.IdempotencyKey()[:10]))
	assert.NotEqual(t, name, ObjectName(NewIdentity("cluster", strings.Repeat("x", 101))))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhasePending, PhaseDispatching, true},
		{PhaseDispatching, PhasePending, true},
		{PhaseDispatching, PhaseRunning, true},
		{PhaseRunning, PhaseSucceeded, true},
		{PhaseRunning, PhaseFailed, true},
		{PhaseRunning, PhaseLost, true},
		{PhaseRunning, PhasePending, false},
		{PhaseRunning, PhaseDispatching, false},
		{PhasePending, PhaseRunning, false},
		{PhaseSucceeded, PhaseFailed, false},
		{PhaseLost, PhaseRunning, false},
		{PhaseFailed, PhasePending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRecordSetPhase(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecord("hpc/1", WorkloadSpec{Name: "slurm-hpc-1", Limits: map[string]string{"nvidia.com/gpu": "2"}}, now)

	assert.Equal(t, PhasePending, r.Phase)
	assert.Equal(t, NewIdentity("hpc", "1").IdempotencyKey(), r.IdempotencyKey)

	assert.True(t, r.SetPhase(PhaseDispatching, now))
	assert.False(t, r.SetPhase(PhaseDispatching, now), "same phase is a no-op")
	assert.True(t, r.SetPhase(PhaseRunning, now.Add(time.Second)))
	assert.Equal(t, now.Add(time.Second), r.RunningAt)
	assert.False(t, r.SetPhase(PhasePending, now), "running cannot go back")
	assert.True(t, r.SetPhase(PhaseSucceeded, now.Add(2*time.Second)))
	assert.Equal(t, now.Add(2*time.Second), r.TerminalAt)
	assert.False(t, r.SetPhase(PhaseFailed, now))
}

func TestRecordClone(t *testing.T) {
	r := NewRecord("hpc/1", WorkloadSpec{Limits: map[string]string{"nvidia.com/gpu": "2"}}, time.Now())
	c := r.Clone()
	c.Spec.Limits["nvidia.com/gpu"] = "4"
	c.Attempts = 3
	assert.Equal(t, "2", r.Spec.Limits["nvidia.com/gpu"])
	assert.Equal(t, 0, r.Attempts)
}

func TestFingerprintStable(t *testing.T) {
	a := WorkloadSpec{Name: "x", Limits: map[string]string{"a": "1", "b": "2", "c": "3"}}
	b := WorkloadSpec{Name: "x", Limits: map[string]string{"c": "3", "b": "2", "a": "1"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	b.Limits["a"] = "5"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}
