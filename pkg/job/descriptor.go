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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultCluster is used when a descriptor does not name its cluster.
const DefaultCluster = "default"

// SubmissionDescriptor is an immutable record of a scheduler job request.
type SubmissionDescriptor struct {
	// Cluster is the scheduler cluster name.
	Cluster string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	// JobID is the scheduler job id, when already assigned.
	JobID string `json:"jobId,omitempty" yaml:"jobId,omitempty"`
	// SubmitKey is an opaque token the hook caller uses to identify a submission
	// before the scheduler assigns a job id.
	SubmitKey string `json:"submitKey,omitempty" yaml:"submitKey,omitempty"`
	// SubmitTime is when the scheduler received the submission. It separates
	// resubmissions of the same script in the content digest.
	SubmitTime time.Time `json:"submitTime,omitzero" yaml:"submitTime,omitempty"`
	// Name is the job name.
	Name string `json:"name" yaml:"name"`
	// User is the submitting user name.
	User string `json:"user,omitempty" yaml:"user,omitempty"`
	// UID is the submitting user id.
	UID int64 `json:"uid,omitempty" yaml:"uid,omitempty"`
	// Partition and Account are copied into workload labels.
	Partition string `json:"partition,omitempty" yaml:"partition,omitempty"`
	Account   string `json:"account,omitempty" yaml:"account,omitempty"`
	// GRES is the generic resource request, e.g. "gpu:a100:2,gpu:1".
	GRES string `json:"gres,omitempty" yaml:"gres,omitempty"`
	// Image is the requested container image.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
	// Namespace is the target orchestration namespace.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	// Nodes is the requested node count; more than one selects a distributed workload.
	Nodes int32 `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	// CPUsPerTask and MemoryMB become per-replica resource requests.
	CPUsPerTask int64 `json:"cpusPerTask,omitempty" yaml:"cpusPerTask,omitempty"`
	MemoryMB    int64 `json:"memoryMB,omitempty" yaml:"memoryMB,omitempty"`
	// TimeLimitMinutes becomes the workload's active deadline.
	TimeLimitMinutes int64 `json:"timeLimitMinutes,omitempty" yaml:"timeLimitMinutes,omitempty"`
	// Script is the batch script body submitted to the scheduler.
	Script  string `json:"script,omitempty" yaml:"script,omitempty"`
	WorkDir string `json:"workDir,omitempty" yaml:"workDir,omitempty"`
	// Command and Args override the image entrypoint.
	Command []string          `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Identity uniquely names a submission: "<cluster>/<id>".
type Identity string

// NewIdentity builds an identity from its parts.
func NewIdentity(cluster, id string) Identity {
	if cluster == "" {
		cluster = DefaultCluster
	}
	return Identity(cluster + "/" + id)
}

// ParseIdentity splits an identity into cluster and id.
func ParseIdentity(s string) (Identity, error) {
	cluster, id, ok := strings.Cut(s, "/")
	if !ok || cluster == "" || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid job identity %q, expected <cluster>/<id>", s)
	}
	return Identity(s), nil
}

// Cluster returns the cluster part of the identity.
func (i Identity) Cluster() string {
	c, _, _ := strings.Cut(string(i), "/")
	return c
}

// ID returns the job part of the identity.
func (i Identity) ID() string {
	_, id, _ := strings.Cut(string(i), "/")
	return id
}

func (i Identity) String() string { return string(i) }

// IdempotencyKey returns the deterministic key used to detect an existing
// workload for this identity.
func (i Identity) IdempotencyKey() string {
	sum := sha256.Sum256([]byte(i))
	return hex.EncodeToString(sum[:])[:20]
}

// Identity returns the job identity of the descriptor. It prefers the
// scheduler job id, then the caller's submit key, and finally a digest of the
// submission content and submit time.
func (d SubmissionDescriptor) Identity() Identity {
	switch {
	case d.JobID != "":
		return NewIdentity(d.Cluster, d.JobID)
	case d.SubmitKey != "":
		return NewIdentity(d.Cluster, d.SubmitKey)
	default:
		return NewIdentity(d.Cluster, "sub-"+d.contentDigest())
	}
}

func (d SubmissionDescriptor) contentDigest() string {
	h := sha256.New()
	for _, part := range []string{d.User, strconv.FormatInt(d.UID, 10), d.Name, d.WorkDir, d.GRES, d.Image, d.Namespace, d.Script} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + "=" + d.Env[k]))
		h.Write([]byte{0})
	}
	if !d.SubmitTime.IsZero() {
		h.Write([]byte(d.SubmitTime.UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Resources parses the descriptor's GRES request.
func (d SubmissionDescriptor) Resources() ([]GRES, error) {
	return ParseGRES(d.GRES)
}
