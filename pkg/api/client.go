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

package api

import (
	"context"
	"net/url"
	"strings"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
)

// Client talks to a running bridge.
type Client struct {
	base string
	http *serializer.Client
}

// NewClient returns a Client for the bridge at base, e.g. http://localhost:8080.
func NewClient(base string, options ...serializer.ClientOption) *Client {
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: serializer.NewClient(options...),
	}
}

// Submit runs the submission hook for d.
func (c *Client) Submit(ctx context.Context, d job.SubmissionDescriptor) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.http.PostJSON(ctx, c.base+PathSubmit, d, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the status of a delegated job.
func (c *Client) Status(ctx context.Context, id job.Identity) (*JobStatus, error) {
	var st JobStatus
	if err := c.http.GetJSON(ctx, c.base+JobPath(id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel cancels a delegated job and returns its resulting status.
func (c *Client) Cancel(ctx context.Context, id job.Identity) (*JobStatus, error) {
	var st JobStatus
	if err := c.http.PostJSON(ctx, c.base+CancelPath(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Records lists the bridge's dispatch records, optionally only those in phase.
func (c *Client) Records(ctx context.Context, phase job.Phase) (*RecordList, error) {
	u := c.base + PathRecords
	if phase != "" {
		u += "?" + url.Values{"phase": {string(phase)}}.Encode()
	}
	var list RecordList
	if err := c.http.GetJSON(ctx, u, &list); err != nil {
		return nil, err
	}
	return &list, nil
}
