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

// Package translator maps scheduler submissions onto orchestration workload
// specifications. Translation is pure: no I/O, and the same descriptor always
// produces the same WorkloadSpec.
package translator

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/distribution/reference"
	"k8s.io/apimachinery/pkg/util/validation"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// ResourceMapping maps a generic resource tag onto an orchestration resource.
type ResourceMapping struct {
	// Resource is the orchestration resource name, e.g. nvidia.com/gpu.
	Resource string `json:"resource" yaml:"resource"`
	// NodeSelector is merged into the workload's node selector.
	NodeSelector map[string]string `json:"nodeSelector,omitempty" yaml:"nodeSelector,omitempty"`
	// Tolerations are added to the workload.
	Tolerations []job.Toleration `json:"tolerations,omitempty" yaml:"tolerations,omitempty"`
}

// Config holds translation settings.
type Config struct {
	// DefaultImage is used when a descriptor does not request one.
	DefaultImage string `json:"defaultImage,omitempty" yaml:"defaultImage,omitempty"`
	// DefaultNamespace is used when a descriptor does not name one.
	DefaultNamespace string `json:"defaultNamespace,omitempty" yaml:"defaultNamespace,omitempty"`
	// Resources maps "name" or "name:type" GRES keys to orchestration resources.
	// The typed key wins over the bare name.
	Resources map[string]ResourceMapping `json:"resources" yaml:"resources"`
	// Labels are added to every workload.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Resources) == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "translator: at least one resource mapping is required")
	}
	for key, m := range c.Resources {
		if m.Resource == "" {
			return apperrors.New(apperrors.ErrCodeInvalidRequest,
				fmt.Sprintf("translator: resource mapping %q has no resource name", key))
		}
		if errs := validation.IsQualifiedName(m.Resource); len(errs) > 0 {
			return apperrors.New(apperrors.ErrCodeInvalidRequest,
				fmt.Sprintf("translator: resource %q for %q is invalid: %s", m.Resource, key, strings.Join(errs, "; ")))
		}
	}
	if c.DefaultImage != "" {
		if _, err := reference.ParseNormalizedNamed(c.DefaultImage); err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "translator: invalid default image", err)
		}
	}
	return nil
}

// Translator converts SubmissionDescriptors into WorkloadSpecs.
type Translator struct {
	config Config
}

// New returns a Translator for the given configuration.
func New(config Config) *Translator {
	return &Translator{config: config}
}

// lookup returns the most specific mapping for a GRES tag.
func (t *Translator) lookup(g job.GRES) (ResourceMapping, bool) {
	if m, ok := t.config.Resources[g.Key()]; ok {
		return m, true
	}
	m, ok := t.config.Resources[g.Name]
	return m, ok
}

// Recognizes reports whether the descriptor requests at least one mapped
// accelerator resource, which is what makes a job eligible for delegation.
func (t *Translator) Recognizes(d job.SubmissionDescriptor) bool {
	gres, err := d.Resources()
	if err != nil {
		return false
	}
	for _, g := range gres {
		if _, ok := t.lookup(g); ok {
			return true
		}
	}
	return false
}

// Translate maps a descriptor to the workload that runs it.
//
// It fails with ErrCodeUnsupportedResource when a requested GRES tag has no
// mapping and with ErrCodeMissingImage when neither the descriptor nor the
// configuration provides an image.
func (t *Translator) Translate(d job.SubmissionDescriptor) (job.WorkloadSpec, error) {
	id := d.Identity()

	gres, err := d.Resources()
	if err != nil {
		return job.WorkloadSpec{}, apperrors.Wrap(apperrors.ErrCodeInvalidRequest, "invalid GRES request", err)
	}

	image := d.Image
	if image == "" {
		image = t.config.DefaultImage
	}
	if image == "" {
		return job.WorkloadSpec{}, apperrors.NewWithContext(apperrors.ErrCodeMissingImage,
			"no container image requested and no default image configured",
			map[string]any{"job": id.String()})
	}
	if _, err := reference.ParseNormalizedNamed(image); err != nil {
		return job.WorkloadSpec{}, apperrors.Wrap(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("invalid container image %q", image), err)
	}

	namespace := d.Namespace
	if namespace == "" {
		namespace = t.config.DefaultNamespace
	}
	if errs := validation.IsDNS1123Label(namespace); len(errs) > 0 {
		return job.WorkloadSpec{}, apperrors.New(apperrors.ErrCodeInvalidRequest,
			fmt.Sprintf("invalid namespace %q: %s", namespace, strings.Join(errs, "; ")))
	}

	limits := map[string]string{}
	counts := map[string]int64{}
	nodeSelector := map[string]string{}
	var tolerations []job.Toleration
	for _, g := range gres {
		m, ok := t.lookup(g)
		if !ok {
			return job.WorkloadSpec{}, apperrors.NewWithContext(apperrors.ErrCodeUnsupportedResource,
				fmt.Sprintf("generic resource %q has no orchestration mapping", g.Key()),
				map[string]any{"job": id.String(), "gres": g.String()})
		}
		counts[m.Resource] += g.Count
		maps.Copy(nodeSelector, m.NodeSelector)
		tolerations = append(tolerations, m.Tolerations...)
	}
	for res, n := range counts {
		limits[res] = strconv.FormatInt(n, 10)
	}

	requests := map[string]string{}
	if d.CPUsPerTask > 0 {
		requests["cpu"] = strconv.FormatInt(d.CPUsPerTask, 10)
	}
	if d.MemoryMB > 0 {
		mem := strconv.FormatInt(d.MemoryMB, 10) + "Mi"
		requests["memory"] = mem
		limits["memory"] = mem
	}

	spec := job.WorkloadSpec{
		Kind:           job.KindBatchJob,
		Name:           job.ObjectName(id),
		Namespace:      namespace,
		Image:          image,
		Env:            buildEnv(d, id),
		Limits:         nilIfEmpty(limits),
		Requests:       nilIfEmpty(requests),
		RestartPolicy:  job.RestartPolicyNever,
		Replicas:       1,
		NodeSelector:   nilIfEmpty(nodeSelector),
		Tolerations:    normalizeTolerations(tolerations),
		Labels:         t.buildLabels(d, id),
		Annotations:    buildAnnotations(d, id),
		IdempotencyKey: id.IdempotencyKey(),
	}

	if d.Nodes > 1 {
		spec.Kind = job.KindDistributedJob
		spec.Replicas = d.Nodes
	}
	if d.TimeLimitMinutes > 0 {
		spec.ActiveDeadlineSeconds = d.TimeLimitMinutes * 60
	}

	switch {
	case len(d.Command) > 0:
		spec.Command = slices.Clone(d.Command)
		spec.Args = slices.Clone(d.Args)
	case d.Script != "":
		spec.Command = []string{"/bin/bash", "-c"}
		spec.Args = []string{d.Script}
	default:
		spec.Args = slices.Clone(d.Args)
	}

	return spec, nil
}

func buildEnv(d job.SubmissionDescriptor, id job.Identity) []job.EnvVar {
	env := map[string]string{}
	maps.Copy(env, d.Env)
	env["SLURM_CLUSTER_NAME"] = id.Cluster()
	env["SBRIDGE_JOB_IDENTITY"] = id.String()
	if d.JobID != "" {
		env["SLURM_JOB_ID"] = d.JobID
	}
	if d.Name != "" {
		env["SLURM_JOB_NAME"] = d.Name
	}
	if d.User != "" {
		env["SLURM_JOB_USER"] = d.User
	}
	if d.WorkDir != "" {
		env["SLURM_SUBMIT_DIR"] = d.WorkDir
	}

	out := make([]job.EnvVar, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, job.EnvVar{Name: k, Value: env[k]})
	}
	return out
}

func (t *Translator) buildLabels(d job.SubmissionDescriptor, id job.Identity) map[string]string {
	labels := map[string]string{}
	maps.Copy(labels, t.config.Labels)
	labels[job.LabelManagedBy] = job.ManagedByValue
	labels[job.LabelIdempotencyKey] = id.IdempotencyKey()
	labels[job.LabelCluster] = labelValue(id.Cluster())
	labels[job.LabelJobID] = labelValue(id.ID())
	if d.User != "" {
		labels[job.LabelUser] = labelValue(d.User)
	}
	if d.Partition != "" {
		labels[job.LabelPartition] = labelValue(d.Partition)
	}
	return labels
}

func buildAnnotations(d job.SubmissionDescriptor, id job.Identity) map[string]string {
	ann := map[string]string{
		job.AnnotationIdentity: id.String(),
	}
	if d.GRES != "" {
		ann[job.AnnotationGRES] = d.GRES
	}
	if d.Account != "" {
		ann[job.AnnotationAccount] = d.Account
	}
	return ann
}

var invalidLabelChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// labelValue folds s into a valid label value.
func labelValue(s string) string {
	if len(validation.IsValidLabelValue(s)) == 0 {
		return s
	}
	v := invalidLabelChars.ReplaceAllString(s, "_")
	if len(v) > validation.LabelValueMaxLength {
		v = v[:validation.LabelValueMaxLength]
	}
	return strings.Trim(v, "._-")
}

func normalizeTolerations(in []job.Toleration) []job.Toleration {
	if len(in) == 0 {
		return nil
	}
	seen := map[job.Toleration]bool{}
	out := make([]job.Toleration, 0, len(in))
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		if a.Effect != b.Effect {
			return a.Effect < b.Effect
		}
		if a.Operator != b.Operator {
			return a.Operator < b.Operator
		}
		return a.Value < b.Value
	})
	return out
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
