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

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"k8s.io/utils/clock"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/metrics"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/translator"
)

// Verdict is the gate's answer to a submission.
type Verdict string

const (
	VerdictAccept   Verdict = metrics.VerdictAccept
	VerdictDelegate Verdict = metrics.VerdictDelegate
	VerdictReject   Verdict = metrics.VerdictReject
)

// Decision is the result of evaluating one submission.
type Decision struct {
	Verdict  Verdict      `json:"verdict"`
	Identity job.Identity `json:"identity,omitempty"`
	// Spec is the translated workload of a delegated job.
	Spec *job.WorkloadSpec `json:"spec,omitempty"`
	// Script replaces the batch script of a delegated job.
	Script string `json:"script,omitempty"`
	// Reason explains a rejection.
	Reason string              `json:"reason,omitempty"`
	Code   apperrors.ErrorCode `json:"code,omitempty"`
	// Retryable is set when resubmitting later may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// Queue accepts delegation intents without blocking. A slot is claimed with
// Reserve before the submission is recorded, so a recorded submission always
// has its intent queued.
type Queue interface {
	// Reserve claims a slot or fails when the queue is full.
	Reserve() error
	// Commit queues id into a reserved slot. It never blocks.
	Commit(id job.Identity)
	// Release returns a reserved slot unused.
	Release()
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithMetrics counts gate decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithStub sets how the stub script reaches the bridge.
func WithStub(s Stub) Option {
	return func(g *Gate) { g.stub = s }
}

// Gate evaluates scheduler submissions.
type Gate struct {
	translator *translator.Translator
	store      store.Store
	queue      Queue
	clock      clock.PassiveClock
	metrics    *metrics.Metrics
	stub       Stub
}

// New creates a Gate.
func New(tr *translator.Translator, st store.Store, q Queue, opts ...Option) *Gate {
	g := &Gate{
		translator: tr,
		store:      st,
		queue:      q,
		clock:      clock.RealClock{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate decides what happens to a submission. It is safe for concurrent use.
func (g *Gate) Evaluate(ctx context.Context, d job.SubmissionDescriptor) Decision {
	dec := g.evaluate(ctx, d)
	g.metrics.GateDecision(string(dec.Verdict))

	log := slog.With("verdict", string(dec.Verdict), "job", d.Name)
	if dec.Identity != "" {
		log = log.With("identity", dec.Identity.String())
	}
	switch dec.Verdict {
	case VerdictReject:
		log.Warn("submission rejected", "reason", dec.Reason, "code", string(dec.Code), "retryable", dec.Retryable)
	case VerdictDelegate:
		log.Info("submission delegated", "object", dec.Spec.Ref().String())
	default:
		log.Debug("submission accepted unchanged")
	}
	return dec
}

func (g *Gate) evaluate(ctx context.Context, d job.SubmissionDescriptor) Decision {
	if !g.translator.Recognizes(d) {
		return Decision{Verdict: VerdictAccept}
	}

	if d.JobID == "" && d.SubmitKey == "" && d.SubmitTime.IsZero() {
		d.SubmitTime = g.clock.Now()
	}
	id := d.Identity()
	spec, err := g.translator.Translate(d)
	if err != nil {
		return reject(id, err, false)
	}
	if err := ctx.Err(); err != nil {
		return reject(id, apperrors.Wrap(apperrors.ErrCodeTimeout, "submission budget exhausted", err), true)
	}

	script, err := g.stub.Render(id, spec.Ref())
	if err != nil {
		return reject(id, err, false)
	}
	dec := Decision{Verdict: VerdictDelegate, Identity: id, Spec: &spec, Script: script}

	if err := g.queue.Reserve(); err != nil {
		return reject(id, fmt.Errorf("dispatch queue unavailable, resubmit later: %w", err), true)
	}
	err = g.store.Create(job.NewRecord(id, spec, g.clock.Now()))
	if errors.Is(err, store.ErrExists) {
		g.queue.Release()
		slog.Debug("submission already delegated", "identity", id.String())
		return dec
	}
	if err != nil {
		g.queue.Release()
		return reject(id, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to record submission", err), true)
	}
	g.queue.Commit(id)
	return dec
}

func reject(id job.Identity, err error, retryable bool) Decision {
	code := apperrors.CodeOf(err)
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	return Decision{
		Verdict:   VerdictReject,
		Identity:  id,
		Reason:    err.Error(),
		Code:      code,
		Retryable: retryable,
	}
}
