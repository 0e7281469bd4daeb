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
	"fmt"
	"maps"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// BuildJob renders a BatchJob spec into a batch/v1 Job.
func BuildJob(spec job.WorkloadSpec, opts Options) (*batchv1.Job, error) {
	pod, err := buildPodTemplate(spec, opts)
	if err != nil {
		return nil, err
	}

	j := &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: batchv1.SchemeGroupVersion.String(),
			Kind:       "Job",
		},
		ObjectMeta: objectMeta(spec, opts),
		Spec:       buildJobSpec(spec, pod, 1),
	}
	if opts.TTLSecondsAfterFinished > 0 {
		j.Spec.TTLSecondsAfterFinished = ptr.To(opts.TTLSecondsAfterFinished)
	}
	return j, nil
}

// BuildJobSet renders a DistributedJob spec into a JobSet with one replicated
// job running Replicas indexed pods. Any pod failure fails the whole set.
func BuildJobSet(spec job.WorkloadSpec, opts Options) (*unstructured.Unstructured, error) {
	pod, err := buildPodTemplate(spec, opts)
	if err != nil {
		return nil, err
	}

	replicas := max(spec.Replicas, 1)
	jobSpec := buildJobSpec(spec, pod, replicas)
	jobSpec.CompletionMode = ptr.To(batchv1.IndexedCompletion)

	template, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&batchv1.JobTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: maps.Clone(pod.Labels)},
		Spec:       jobSpec,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to convert job template: %w", err)
	}
	pruneNulls(template)

	meta := objectMeta(spec, opts)
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": jobSetAPIVersion,
		"kind":       jobSetKind,
		"spec": map[string]any{
			"failurePolicy": map[string]any{
				"maxRestarts": int64(0),
			},
			"replicatedJobs": []any{
				map[string]any{
					"name":     ReplicatedJobName,
					"replicas": int64(1),
					"template": template,
				},
			},
		},
	}}
	obj.SetName(meta.Name)
	obj.SetNamespace(meta.Namespace)
	obj.SetLabels(meta.Labels)
	obj.SetAnnotations(meta.Annotations)
	if opts.TTLSecondsAfterFinished > 0 {
		if err := unstructured.SetNestedField(obj.Object, int64(opts.TTLSecondsAfterFinished),
			"spec", "ttlSecondsAfterFinished"); err != nil {
			return nil, fmt.Errorf("failed to set ttlSecondsAfterFinished: %w", err)
		}
	}
	return obj, nil
}

func objectMeta(spec job.WorkloadSpec, opts Options) metav1.ObjectMeta {
	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	labels[job.LabelIdempotencyKey] = spec.IdempotencyKey
	if opts.QueueName != "" {
		labels[LabelQueueName] = opts.QueueName
	}
	return metav1.ObjectMeta{
		Name:        spec.Name,
		Namespace:   spec.Namespace,
		Labels:      labels,
		Annotations: maps.Clone(spec.Annotations),
	}
}

func buildJobSpec(spec job.WorkloadSpec, pod corev1.PodTemplateSpec, parallelism int32) batchv1.JobSpec {
	js := batchv1.JobSpec{
		Completions:  ptr.To(parallelism),
		Parallelism:  ptr.To(parallelism),
		BackoffLimit: ptr.To(int32(0)),
		Template:     pod,
	}
	if spec.ActiveDeadlineSeconds > 0 {
		js.ActiveDeadlineSeconds = ptr.To(spec.ActiveDeadlineSeconds)
	}
	return js
}

func buildPodTemplate(spec job.WorkloadSpec, opts Options) (corev1.PodTemplateSpec, error) {
	limits, err := resourceList(spec.Limits)
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}
	requests, err := resourceList(spec.Requests)
	if err != nil {
		return corev1.PodTemplateSpec{}, err
	}

	env := make([]corev1.EnvVar, 0, len(spec.Env)+1)
	for _, e := range spec.Env {
		env = append(env, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}
	env = append(env, corev1.EnvVar{
		Name: "NODE_NAME",
		ValueFrom: &corev1.EnvVarSource{
			FieldRef: &corev1.ObjectFieldSelector{FieldPath: "spec.nodeName"},
		},
	})

	restart := corev1.RestartPolicy(spec.RestartPolicy)
	if restart == "" {
		restart = corev1.RestartPolicyNever
	}

	labels := map[string]string{
		job.LabelManagedBy:      job.ManagedByValue,
		job.LabelIdempotencyKey: spec.IdempotencyKey,
	}
	if v, ok := spec.Labels[job.LabelCluster]; ok {
		labels[job.LabelCluster] = v
	}
	if v, ok := spec.Labels[job.LabelJobID]; ok {
		labels[job.LabelJobID] = v
	}

	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: labels},
		Spec: corev1.PodSpec{
			RestartPolicy:      restart,
			ServiceAccountName: opts.ServiceAccountName,
			PriorityClassName:  opts.PriorityClassName,
			NodeSelector:       maps.Clone(spec.NodeSelector),
			Tolerations:        toTolerations(spec.Tolerations),
			ImagePullSecrets:   toLocalObjectReferences(opts.ImagePullSecrets),
			Containers: []corev1.Container{
				{
					Name:    ContainerName,
					Image:   spec.Image,
					Command: spec.Command,
					Args:    spec.Args,
					Env:     env,
					Resources: corev1.ResourceRequirements{
						Limits:   limits,
						Requests: requests,
					},
				},
			},
		},
	}, nil
}

func resourceList(in map[string]string) (corev1.ResourceList, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(corev1.ResourceList, len(in))
	for name, value := range in {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeInvalidRequest,
				fmt.Sprintf("invalid quantity %q for resource %s", value, name), err)
		}
		out[corev1.ResourceName(name)] = q
	}
	return out, nil
}

func toTolerations(in []job.Toleration) []corev1.Toleration {
	if len(in) == 0 {
		return nil
	}
	out := make([]corev1.Toleration, len(in))
	for i, t := range in {
		out[i] = corev1.Toleration{
			Key:      t.Key,
			Operator: corev1.TolerationOperator(t.Operator),
			Value:    t.Value,
			Effect:   corev1.TaintEffect(t.Effect),
		}
	}
	return out
}

// toLocalObjectReferences converts a slice of secret names to LocalObjectReferences.
func toLocalObjectReferences(names []string) []corev1.LocalObjectReference {
	if len(names) == 0 {
		return nil
	}
	refs := make([]corev1.LocalObjectReference, len(names))
	for i, name := range names {
		refs[i] = corev1.LocalObjectReference{Name: name}
	}
	return refs
}

// pruneNulls drops the null fields ToUnstructured emits for empty structs
// such as creationTimestamp.
func pruneNulls(m map[string]any) {
	for k, v := range m {
		switch tv := v.(type) {
		case nil:
			delete(m, k)
		case map[string]any:
			pruneNulls(tv)
		case []any:
			for _, item := range tv {
				if im, ok := item.(map[string]any); ok {
					pruneNulls(im)
				}
			}
		}
	}
}
