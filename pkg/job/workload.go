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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Kind is the orchestration workload kind.
type Kind string

const (
	// KindBatchJob is a single-replica batch job (batch/v1 Job).
	KindBatchJob Kind = "BatchJob"
	// KindDistributedJob is a multi-node training job (JobSet).
	KindDistributedJob Kind = "DistributedJob"
)

// RestartPolicyNever is the only restart policy the bridge produces; the
// scheduler owns requeue decisions.
const RestartPolicyNever = "Never"

// ObjectRef identifies an orchestration object.
type ObjectRef struct {
	Kind      Kind   `json:"kind" yaml:"kind"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// IsZero reports whether the reference is unset.
func (r ObjectRef) IsZero() bool {
	return r.Name == ""
}

func (r ObjectRef) String() string {
	return r.Namespace + "/" + r.Name
}

// EnvVar is a single environment variable.
type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Toleration mirrors the orchestration toleration fields the bridge sets.
type Toleration struct {
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Effect   string `json:"effect,omitempty" yaml:"effect,omitempty"`
}

// WorkloadSpec describes the orchestration object created for a job.
// It is a deterministic function of its SubmissionDescriptor.
type WorkloadSpec struct {
	Kind                  Kind              `json:"kind" yaml:"kind"`
	Name                  string            `json:"name" yaml:"name"`
	Namespace             string            `json:"namespace" yaml:"namespace"`
	Image                 string            `json:"image" yaml:"image"`
	Command               []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Args                  []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env                   []EnvVar          `json:"env,omitempty" yaml:"env,omitempty"`
	Limits                map[string]string `json:"limits,omitempty" yaml:"limits,omitempty"`
	Requests              map[string]string `json:"requests,omitempty" yaml:"requests,omitempty"`
	RestartPolicy         string            `json:"restartPolicy" yaml:"restartPolicy"`
	Replicas              int32             `json:"replicas" yaml:"replicas"`
	ActiveDeadlineSeconds int64             `json:"activeDeadlineSeconds,omitempty" yaml:"activeDeadlineSeconds,omitempty"`
	NodeSelector          map[string]string `json:"nodeSelector,omitempty" yaml:"nodeSelector,omitempty"`
	Tolerations           []Toleration      `json:"tolerations,omitempty" yaml:"tolerations,omitempty"`
	Labels                map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations           map[string]string `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	IdempotencyKey        string            `json:"idempotencyKey" yaml:"idempotencyKey"`
}

// Ref returns the object reference the spec will be created under.
func (w WorkloadSpec) Ref() ObjectRef {
	return ObjectRef{Kind: w.Kind, Namespace: w.Namespace, Name: w.Name}
}

// Fingerprint returns a SHA-256 over the canonical JSON encoding. Map keys are
// emitted sorted, so equal specs always share a fingerprint.
func (w WorkloadSpec) Fingerprint() string {
	b, err := json.Marshal(w)
	if err != nil {
		panic(fmt.Sprintf("workload spec is not JSON encodable: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DeepCopy returns a copy that shares no mutable state with w.
func (w WorkloadSpec) DeepCopy() WorkloadSpec {
	out := w
	out.Command = slices.Clone(w.Command)
	out.Args = slices.Clone(w.Args)
	out.Env = slices.Clone(w.Env)
	out.Tolerations = slices.Clone(w.Tolerations)
	out.Limits = maps.Clone(w.Limits)
	out.Requests = maps.Clone(w.Requests)
	out.NodeSelector = maps.Clone(w.NodeSelector)
	out.Labels = maps.Clone(w.Labels)
	out.Annotations = maps.Clone(w.Annotations)
	return out
}
