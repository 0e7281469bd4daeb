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
	"log/slog"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/defaults"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Source mode names.
const (
	ModeWatch = "watch"
	ModePoll  = "poll"
)

// WatchSource streams observations from a watch, re-reading the object every
// resync interval. A broken watch is re-opened on the next resync.
type WatchSource struct {
	client *Client
	resync time.Duration
	clock  clock.WithTicker
}

// NewWatchSource returns a WatchSource. A zero resync uses
// defaults.StatusResyncInterval.
func NewWatchSource(c *Client, resync time.Duration, clk clock.WithTicker) *WatchSource {
	if resync <= 0 {
		resync = defaults.StatusResyncInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &WatchSource{client: c, resync: resync, clock: clk}
}

// Subscribe streams observations of ref until ctx is done or the object
// reaches a terminal phase or disappears. The channel is closed on return.
func (s *WatchSource) Subscribe(ctx context.Context, ref job.ObjectRef) (<-chan job.Observation, error) {
	w, err := s.client.Watch(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make(chan job.Observation, 1)
	go s.run(ctx, ref, w, out)
	return out, nil
}

func (s *WatchSource) run(ctx context.Context, ref job.ObjectRef, w watch.Interface, out chan<- job.Observation) {
	defer close(out)
	defer func() {
		if w != nil {
			w.Stop()
		}
	}()

	ticker := s.clock.NewTicker(s.resync)
	defer ticker.Stop()

	em := emitter{ctx: ctx, out: out}
	if !em.read(s.client, ref) {
		return
	}

	for {
		var events <-chan watch.Event
		if w != nil {
			events = w.ResultChan()
		}

		select {
		case <-ctx.Done():
			return

		case <-ticker.C():
			if w == nil {
				nw, err := s.client.Watch(ctx, ref)
				if err != nil {
					slog.Debug("re-opening watch failed", "object", ref.String(), "error", err)
				} else {
					w = nw
				}
			}
			if !em.read(s.client, ref) {
				return
			}

		case ev, ok := <-events:
			if !ok {
				slog.Debug("watch closed", "object", ref.String())
				w = nil
				continue
			}
			obs, match := s.fromEvent(ref, ev)
			if !match {
				continue
			}
			if ev.Type == watch.Error {
				slog.Debug("watch error", "object", ref.String(), "event", ev.Object)
				w.Stop()
				w = nil
				continue
			}
			if !em.emit(obs, false) {
				return
			}
		}
	}
}

func (s *WatchSource) fromEvent(ref job.ObjectRef, ev watch.Event) (job.Observation, bool) {
	if ev.Type == watch.Error {
		return job.Observation{}, true
	}
	if ev.Type == watch.Bookmark {
		return job.Observation{}, false
	}

	now := s.client.clock.Now()
	var obs job.Observation
	switch obj := ev.Object.(type) {
	case *batchv1.Job:
		if obj.Name != ref.Name || obj.Namespace != ref.Namespace {
			return obs, false
		}
		obs = ObserveJob(obj, now)
	case *unstructured.Unstructured:
		if obj.GetName() != ref.Name || obj.GetNamespace() != ref.Namespace {
			return obs, false
		}
		obs = ObserveJobSet(obj, now)
	default:
		return obs, false
	}

	if ev.Type == watch.Deleted {
		return gone(ref, now), true
	}
	return obs, true
}

// PollSource re-reads the object every interval.
type PollSource struct {
	client   *Client
	interval time.Duration
	clock    clock.WithTicker
}

// NewPollSource returns a PollSource. A zero interval uses
// defaults.StatusPollInterval.
func NewPollSource(c *Client, interval time.Duration, clk clock.WithTicker) *PollSource {
	if interval <= 0 {
		interval = defaults.StatusPollInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &PollSource{client: c, interval: interval, clock: clk}
}

// Subscribe polls ref until ctx is done or the object reaches a terminal
// phase or disappears. The channel is closed on return.
func (s *PollSource) Subscribe(ctx context.Context, ref job.ObjectRef) (<-chan job.Observation, error) {
	out := make(chan job.Observation, 1)
	go func() {
		defer close(out)
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		em := emitter{ctx: ctx, out: out}
		if !em.read(s.client, ref) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if !em.read(s.client, ref) {
					return
				}
			}
		}
	}()
	return out, nil
}

// emitter delivers observations, suppressing repeats from watch events.
type emitter struct {
	ctx  context.Context
	out  chan<- job.Observation
	last *job.Observation
}

// read observes ref and emits the result. Read failures are skipped so
// that an unreachable control plane shows up as missing observations.
// It reports whether the subscription should continue.
func (e *emitter) read(c *Client, ref job.ObjectRef) bool {
	obs, err := c.Observe(e.ctx, ref)
	if err != nil {
		if e.ctx.Err() != nil {
			return false
		}
		slog.Debug("status read failed", "object", ref.String(), "error", err)
		return true
	}
	return e.emit(obs, true)
}

func (e *emitter) emit(obs job.Observation, force bool) bool {
	if !force && e.last != nil && e.last.Phase == obs.Phase && e.last.Gone == obs.Gone && e.last.Reason == obs.Reason {
		return true
	}
	select {
	case e.out <- obs:
	case <-e.ctx.Done():
		return false
	}
	e.last = &obs
	return !obs.Gone && !obs.Phase.IsTerminal()
}
