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
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Create renders spec and creates the workload object. An AlreadyExists error
// is returned unchanged; callers decide whether the existing object is theirs.
func (c *Client) Create(ctx context.Context, spec job.WorkloadSpec) (job.ObjectRef, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ref := spec.Ref()
	switch spec.Kind {
	case job.KindBatchJob:
		obj, err := BuildJob(spec, c.opts)
		if err != nil {
			return job.ObjectRef{}, err
		}
		if _, err := c.kube.BatchV1().Jobs(spec.Namespace).Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return job.ObjectRef{}, fmt.Errorf("failed to create Job %s: %w", ref, err)
		}

	case job.KindDistributedJob:
		res, err := c.jobSets(spec.Namespace)
		if err != nil {
			return job.ObjectRef{}, err
		}
		obj, err := BuildJobSet(spec, c.opts)
		if err != nil {
			return job.ObjectRef{}, err
		}
		if _, err := res.Create(ctx, obj, metav1.CreateOptions{}); err != nil {
			return job.ObjectRef{}, fmt.Errorf("failed to create JobSet %s: %w", ref, err)
		}

	default:
		return job.ObjectRef{}, apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported workload kind %q", spec.Kind))
	}

	return ref, nil
}

// Observe reads the object and maps its status. A missing object yields an
// observation with Gone set and no error.
func (c *Client) Observe(ctx context.Context, ref job.ObjectRef) (job.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	now := c.clock.Now()
	switch ref.Kind {
	case job.KindBatchJob:
		obj, err := c.kube.BatchV1().Jobs(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			return gone(ref, now), nil
		}
		if err != nil {
			return job.Observation{}, fmt.Errorf("failed to get Job %s: %w", ref, err)
		}
		return ObserveJob(obj, now), nil

	case job.KindDistributedJob:
		res, err := c.jobSets(ref.Namespace)
		if err != nil {
			return job.Observation{}, err
		}
		obj, err := res.Get(ctx, ref.Name, metav1.GetOptions{})
		if errors.IsNotFound(err) {
			return gone(ref, now), nil
		}
		if err != nil {
			return job.Observation{}, fmt.Errorf("failed to get JobSet %s: %w", ref, err)
		}
		return ObserveJobSet(obj, now), nil

	default:
		return job.Observation{}, apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported workload kind %q", ref.Kind))
	}
}

// Delete removes the object and lets the garbage collector remove its pods.
// Deleting a missing object succeeds.
func (c *Client) Delete(ctx context.Context, ref job.ObjectRef) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	propagationPolicy := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &propagationPolicy}

	var err error
	switch ref.Kind {
	case job.KindBatchJob:
		err = c.kube.BatchV1().Jobs(ref.Namespace).Delete(ctx, ref.Name, opts)
	case job.KindDistributedJob:
		res, rerr := c.jobSets(ref.Namespace)
		if rerr != nil {
			return rerr
		}
		err = res.Delete(ctx, ref.Name, opts)
	default:
		return apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported workload kind %q", ref.Kind))
	}
	if err := ignoreNotFound(err); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", ref.Kind, ref, err)
	}
	return nil
}

// Watch opens a watch scoped to the object's name.
func (c *Client) Watch(ctx context.Context, ref job.ObjectRef) (watch.Interface, error) {
	opts := metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", ref.Name).String(),
		Watch:         true,
	}
	switch ref.Kind {
	case job.KindBatchJob:
		return c.kube.BatchV1().Jobs(ref.Namespace).Watch(ctx, opts)
	case job.KindDistributedJob:
		res, err := c.jobSets(ref.Namespace)
		if err != nil {
			return nil, err
		}
		return res.Watch(ctx, opts)
	default:
		return nil, apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("unsupported workload kind %q", ref.Kind))
	}
}

func (c *Client) jobSets(namespace string) (dynamic.ResourceInterface, error) {
	if c.dynamic == nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "dynamic client not configured for JobSet workloads")
	}
	return c.dynamic.Resource(JobSetGVR).Namespace(namespace), nil
}

func gone(ref job.ObjectRef, now time.Time) job.Observation {
	return job.Observation{Ref: ref, Gone: true, Reason: "workload object not found", At: now}
}

// ignoreNotFound returns nil if the error is "not found", otherwise returns the error.
func ignoreNotFound(err error) error {
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}
