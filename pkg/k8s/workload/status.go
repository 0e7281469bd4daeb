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

package workload

import (
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// JobSet condition types.
const (
	jobSetCompleted = "Completed"
	jobSetFailed    = "Failed"
)

// ObserveJob maps a Job's status onto a phase.
func ObserveJob(j *batchv1.Job, now time.Time) job.Observation {
	obs := job.Observation{
		Ref:            job.ObjectRef{Kind: job.KindBatchJob, Namespace: j.Namespace, Name: j.Name},
		IdempotencyKey: j.Labels[job.LabelIdempotencyKey],
		Phase:          job.PhaseDispatching,
		At:             now,
	}

	for _, c := range j.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete, batchv1.JobSuccessCriteriaMet:
			obs.Phase = job.PhaseSucceeded
			obs.Reason = c.Reason
			return obs
		case batchv1.JobFailed, batchv1.JobFailureTarget:
			obs.Phase = job.PhaseFailed
			obs.Reason = conditionReason(c.Reason, c.Message)
			return obs
		}
	}

	ready := int32(0)
	if j.Status.Ready != nil {
		ready = *j.Status.Ready
	}
	if j.Status.Active > 0 || ready > 0 {
		obs.Phase = job.PhaseRunning
	}
	return obs
}

// ObserveJobSet maps a JobSet's status onto a phase.
func ObserveJobSet(u *unstructured.Unstructured, now time.Time) job.Observation {
	obs := job.Observation{
		Ref:            job.ObjectRef{Kind: job.KindDistributedJob, Namespace: u.GetNamespace(), Name: u.GetName()},
		IdempotencyKey: u.GetLabels()[job.LabelIdempotencyKey],
		Phase:          job.PhaseDispatching,
		At:             now,
	}

	conditions, _, _ := unstructured.NestedSlice(u.Object, "status", "conditions")
	for _, raw := range conditions {
		c, ok := raw.(map[string]any)
		if !ok || c["status"] != string(corev1.ConditionTrue) {
			continue
		}
		reason, _ := c["reason"].(string)
		message, _ := c["message"].(string)
		switch c["type"] {
		case jobSetCompleted:
			obs.Phase = job.PhaseSucceeded
			obs.Reason = reason
			return obs
		case jobSetFailed:
			obs.Phase = job.PhaseFailed
			obs.Reason = conditionReason(reason, message)
			return obs
		}
	}

	statuses, _, _ := unstructured.NestedSlice(u.Object, "status", "replicatedJobsStatus")
	for _, raw := range statuses {
		s, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if count(s["active"]) > 0 || count(s["ready"]) > 0 {
			obs.Phase = job.PhaseRunning
			break
		}
	}
	return obs
}

func conditionReason(reason, message string) string {
	switch {
	case reason != "" && message != "":
		return reason + ": " + message
	case message != "":
		return message
	default:
		return reason
	}
}

// count reads a JSON number that may have decoded as int64 or float64.
func count(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
