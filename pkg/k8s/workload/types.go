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
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
)

// JobSetGVR identifies the JobSet resource.
var JobSetGVR = schema.GroupVersionResource{
	Group:    "jobset.x-k8s.io",
	Version:  "v1alpha2",
	Resource: "jobsets",
}

const (
	jobSetAPIVersion = "jobset.x-k8s.io/v1alpha2"
	jobSetKind       = "JobSet"

	// ContainerName is the name of the workload container.
	ContainerName = "job"
	// ReplicatedJobName is the single replicated job of a rendered JobSet.
	ReplicatedJobName = "workers"
	// LabelQueueName routes the workload to a Kueue LocalQueue.
	LabelQueueName = "kueue.x-k8s.io/queue-name"
)

// Options tune rendering and control-plane calls.
type Options struct {
	// ServiceAccountName runs workload pods under this account.
	ServiceAccountName string `json:"serviceAccountName,omitempty" yaml:"serviceAccountName,omitempty"`
	// ImagePullSecrets are attached to workload pods.
	ImagePullSecrets []string `json:"imagePullSecrets,omitempty" yaml:"imagePullSecrets,omitempty"`
	// PriorityClassName is set on workload pods.
	PriorityClassName string `json:"priorityClassName,omitempty" yaml:"priorityClassName,omitempty"`
	// QueueName adds the Kueue queue label.
	QueueName string `json:"queueName,omitempty" yaml:"queueName,omitempty"`
	// TTLSecondsAfterFinished lets the control plane garbage collect
	// finished objects. Zero keeps them.
	TTLSecondsAfterFinished int32 `json:"ttlSecondsAfterFinished,omitempty" yaml:"ttlSecondsAfterFinished,omitempty"`
}

// Client creates, reads and deletes workload objects.
type Client struct {
	kube    kubernetes.Interface
	dynamic dynamic.Interface
	opts    Options
	clock   clock.PassiveClock
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock overrides the clock used to stamp observations.
func WithClock(c clock.PassiveClock) ClientOption {
	return func(cl *Client) {
		cl.clock = c
	}
}

// NewClient returns a Client. dyn may be nil when no DistributedJob is ever
// dispatched.
func NewClient(kube kubernetes.Interface, dyn dynamic.Interface, opts Options, options ...ClientOption) *Client {
	c := &Client{
		kube:    kube,
		dynamic: dyn,
		opts:    opts,
		clock:   clock.RealClock{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// callTimeout bounds every single control-plane request.
var callTimeout = defaults.ControlPlaneCallTimeout
