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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/accounting"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/metrics"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

// ReasonCancelled is the failure reason of records cancelled by the scheduler.
const ReasonCancelled = "cancelled"

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// ControlPlane is the subset of the orchestration API the dispatcher uses.
// *workload.Client implements it.
type ControlPlane interface {
	Create(ctx context.Context, spec job.WorkloadSpec) (job.ObjectRef, error)
	Observe(ctx context.Context, ref job.ObjectRef) (job.Observation, error)
	Delete(ctx context.Context, ref job.ObjectRef) error
}

// Intent asks for one dispatch of the record with Identity.
type Intent struct {
	ID         string
	Identity   job.Identity
	EnqueuedAt time.Time
}

// Config tunes the dispatcher.
type Config struct {
	// Workers is the number of goroutines consuming intents.
	Workers int
	// QueueSize bounds the intent queue.
	QueueSize int
	// MaxAttempts bounds dispatch attempts per record, including the first.
	MaxAttempts int
	// Backoff is the delay schedule between attempts.
	Backoff wait.Backoff
	// QPS and Burst limit control-plane calls. Zero QPS disables the limit.
	QPS   float64
	Burst int
}

// Validate checks the retry settings, which have no defaults.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "dispatch maxAttempts must be at least 1")
	}
	if c.Backoff.Duration <= 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "dispatch backoff duration must be positive")
	}
	if c.Backoff.Factor < 1 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "dispatch backoff factor must be at least 1")
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.QPS < 0 || c.Burst < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidRequest, "dispatch workers, queueSize, qps and burst must not be negative")
	}
	return nil
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used for timestamps and backoff delays.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAccountant sets where terminal dispatch failures are reported.
func WithAccountant(a accounting.Accountant) Option {
	return func(d *Dispatcher) { d.accountant = a }
}

// OnDispatched registers a callback run after a workload object is created
// and recorded. The reconciler uses it to start tracking status.
func OnDispatched(fn func(rec *job.DispatchRecord)) Option {
	return func(d *Dispatcher) { d.onDispatched = fn }
}

// Dispatcher turns delegation intents into workload objects.
type Dispatcher struct {
	cp           ControlPlane
	store        store.Store
	cfg          Config
	queue        chan Intent
	slots        *semaphore.Weighted
	limiter      *rate.Limiter
	clock        clock.Clock
	metrics      *metrics.Metrics
	accountant   accounting.Accountant
	onDispatched func(rec *job.DispatchRecord)

	records keyedMutex
	objects keyedMutex
}

// New creates a Dispatcher. Call Run to start the workers.
func New(cp ControlPlane, st store.Store, cfg Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Backoff.Steps < cfg.MaxAttempts {
		cfg.Backoff.Steps = cfg.MaxAttempts
	}

	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 1
	}

	d := &Dispatcher{
		cp:      cp,
		store:   st,
		cfg:     cfg,
		queue:   make(chan Intent, cfg.QueueSize),
		slots:   semaphore.NewWeighted(int64(cfg.QueueSize)),
		limiter: rate.NewLimiter(limit, burst),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Offer enqueues a dispatch of id without blocking. A full queue returns an
// ErrCodeRateLimitExceeded error.
func (d *Dispatcher) Offer(id job.Identity) error {
	if err := d.Reserve(); err != nil {
		return err
	}
	d.Commit(id)
	return nil
}

// Reserve claims a queue slot without blocking. A full queue returns an
// ErrCodeRateLimitExceeded error. The slot is held until Commit or Release.
func (d *Dispatcher) Reserve() error {
	if !d.slots.TryAcquire(1) {
		return apperrors.NewWithContext(apperrors.ErrCodeRateLimitExceeded, "dispatch queue is full",
			map[string]any{"capacity": cap(d.queue)})
	}
	return nil
}

// Commit enqueues a dispatch of id into a slot claimed by Reserve.
func (d *Dispatcher) Commit(id job.Identity) {
	in := Intent{ID: uuid.NewString(), Identity: id, EnqueuedAt: d.clock.Now()}
	d.queue <- in
	slog.Debug("dispatch intent queued", "identity", id.String(), "intent", in.ID)
}

// Release returns a slot claimed by Reserve that was not committed.
func (d *Dispatcher) Release() {
	d.slots.Release(1)
}

// Pending returns the number of queued intents.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run starts the worker pool and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher started", "workers", d.cfg.Workers, "queue", d.cfg.QueueSize,
		"maxAttempts", d.cfg.MaxAttempts)

	g, gctx := errgroup.WithContext(ctx)
	for range d.cfg.Workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case in := <-d.queue:
					d.slots.Release(1)
					d.process(gctx, in)
				}
			}
		})
	}
	err := g.Wait()
	slog.Info("dispatcher stopped")
	return err
}

// Dispatch makes sure the object described by spec exists and carries key.
// It reads before it creates; when a create races with another one it reads
// the winner and verifies its idempotency label. An object with a different
// label is never adopted.
func (d *Dispatcher) Dispatch(ctx context.Context, spec job.WorkloadSpec, key string) (job.ObjectRef, error) {
	unlock := d.objects.Lock(key)
	defer unlock()

	ref := spec.Ref()
	obs, err := d.observe(ctx, ref)
	if err != nil {
		return job.ObjectRef{}, err
	}
	if !obs.Gone {
		return verify(ref, obs, key)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return job.ObjectRef{}, classify(err, "rate limiter wait failed")
	}
	created, err := d.cp.Create(ctx, spec)
	if err == nil {
		slog.Info("created workload object", "object", created.String(), "key", key)
		return created, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return job.ObjectRef{}, classify(err, "failed to create workload object")
	}

	obs, err = d.observe(ctx, ref)
	if err != nil {
		return job.ObjectRef{}, err
	}
	if obs.Gone {
		return job.ObjectRef{}, apperrors.New(apperrors.ErrCodeTransient,
			fmt.Sprintf("workload object %s disappeared after a create conflict", ref))
	}
	return verify(ref, obs, key)
}

func (d *Dispatcher) observe(ctx context.Context, ref job.ObjectRef) (job.Observation, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return job.Observation{}, classify(err, "rate limiter wait failed")
	}
	obs, err := d.cp.Observe(ctx, ref)
	if err != nil {
		return job.Observation{}, classify(err, "failed to read workload object")
	}
	return obs, nil
}

func verify(ref job.ObjectRef, obs job.Observation, key string) (job.ObjectRef, error) {
	if obs.IdempotencyKey != key {
		return job.ObjectRef{}, apperrors.NewWithContext(apperrors.ErrCodeRejected,
			"workload object exists with a different idempotency key",
			map[string]any{"object": ref.String(), "expected": key, "found": obs.IdempotencyKey})
	}
	return ref, nil
}

// process runs the attempt loop for one intent.
func (d *Dispatcher) process(ctx context.Context, in Intent) {
	unlock := d.records.Lock(in.Identity.String())
	defer unlock()

	log := slog.With("identity", in.Identity.String(), "intent", in.ID)
	backoff := d.cfg.Backoff

	for {
		rec, err := d.store.Update(in.Identity, func(r *job.DispatchRecord) error {
			if r.Phase != job.PhasePending {
				return store.ErrUnchanged
			}
			r.SetPhase(job.PhaseDispatching, d.clock.Now())
			r.Attempts++
			return nil
		})
		if errors.Is(err, store.ErrUnchanged) {
			log.Debug("record is not pending, skipping intent")
			return
		}
		if err != nil {
			log.Error("failed to claim dispatch record", "error", err)
			return
		}

		d.metrics.DispatchAttempt()
		ref, err := d.Dispatch(ctx, rec.Spec, rec.IdempotencyKey)
		if err == nil {
			d.dispatched(ctx, rec, ref)
			return
		}

		if ctx.Err() != nil {
			d.requeue(in.Identity, err)
			return
		}

		code := Classify(err)
		if code == apperrors.ErrCodeRejected || rec.Attempts >= d.cfg.MaxAttempts {
			d.fail(ctx, in.Identity, code, err)
			return
		}

		delay := backoff.Step()
		log.Warn("dispatch attempt failed, retrying",
			"attempt", rec.Attempts, "maxAttempts", d.cfg.MaxAttempts, "delay", delay, "error", err)
		d.requeue(in.Identity, err)
		d.metrics.DispatchRetry()

		select {
		case <-ctx.Done():
			return
		case <-d.clock.After(delay):
		}
	}
}

// dispatched records the created object. A record cancelled while the create
// was in flight gets its object removed again.
func (d *Dispatcher) dispatched(ctx context.Context, rec *job.DispatchRecord, ref job.ObjectRef) {
	now := d.clock.Now()
	updated, err := d.store.Update(rec.Identity, func(r *job.DispatchRecord) error {
		if r.Phase.IsTerminal() {
			return store.ErrUnchanged
		}
		r.Object = ref
		r.DispatchedAt = now
		r.LastObservedAt = now
		r.LastError = ""
		r.ErrorCode = ""
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		slog.Info("record finished while dispatching, removing workload object",
			"identity", rec.Identity.String(), "object", ref.String())
		d.deleteObject(ctx, ref)
		return
	}
	if err != nil {
		slog.Error("failed to record dispatched object", "identity", rec.Identity.String(), "error", err)
		return
	}

	d.metrics.DispatchSucceeded(updated.SubmittedAt, now)
	slog.Info("job dispatched", "identity", rec.Identity.String(), "object", ref.String(),
		"attempts", updated.Attempts)
	if d.onDispatched != nil {
		d.onDispatched(updated)
	}
}

// requeue moves a record back to Pending after a failed attempt.
func (d *Dispatcher) requeue(id job.Identity, cause error) {
	_, err := d.store.Update(id, func(r *job.DispatchRecord) error {
		if !r.SetPhase(job.PhasePending, d.clock.Now()) {
			return store.ErrUnchanged
		}
		r.LastError = cause.Error()
		r.ErrorCode = string(Classify(cause))
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrUnchanged) {
		slog.Error("failed to reset dispatch record", "identity", id.String(), "error", err)
	}
}

// fail marks the record Failed and reports the outcome.
func (d *Dispatcher) fail(ctx context.Context, id job.Identity, code apperrors.ErrorCode, cause error) {
	_, err := d.store.Update(id, func(r *job.DispatchRecord) error {
		if !r.SetPhase(job.PhaseFailed, d.clock.Now()) {
			return store.ErrUnchanged
		}
		r.LastError = cause.Error()
		r.ErrorCode = string(code)
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return
	}
	if err != nil {
		slog.Error("failed to mark dispatch record failed", "identity", id.String(), "error", err)
		return
	}

	slog.Error("job dispatch failed", "identity", id.String(), "category", string(code), "error", cause)
	d.metrics.DispatchFailed(string(code))
	d.metrics.Terminal(job.PhaseFailed)

	if d.accountant == nil {
		return
	}
	if _, err := accounting.ReportOnce(ctx, d.store, d.accountant, id); err != nil {
		slog.Warn("failed to report dispatch failure", "identity", id.String(), "error", err)
	}
}

// Cancel fails the record for id and deletes its workload object on a
// best-effort basis. Deletion failures are logged. Cancelling a terminal
// record is a no-op that returns the record unchanged.
func (d *Dispatcher) Cancel(ctx context.Context, id job.Identity) (*job.DispatchRecord, error) {
	rec, err := d.store.Update(id, func(r *job.DispatchRecord) error {
		if !r.SetPhase(job.PhaseFailed, d.clock.Now()) {
			return store.ErrUnchanged
		}
		r.LastError = ReasonCancelled
		r.ErrorCode = ""
		r.Reported = true
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return d.store.Get(id)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("job cancelled", "identity", id.String())
	d.metrics.Terminal(job.PhaseFailed)
	d.deleteObject(ctx, rec.Spec.Ref())
	return rec, nil
}

func (d *Dispatcher) deleteObject(ctx context.Context, ref job.ObjectRef) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaults.K8sCleanupTimeout)
	defer cancel()

	if err := d.cp.Delete(ctx, ref); err != nil {
		slog.Warn("failed to delete workload object", "object", ref.String(), "error", err)
	}
}
