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

package store

import (
	"maps"
	"slices"
	"sync"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Memory is an in-process Store. Records do not survive a restart.
type Memory struct {
	mu      sync.RWMutex
	records map[job.Identity]*job.DispatchRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[job.Identity]*job.DispatchRecord)}
}

func (m *Memory) Create(rec *job.DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.Identity]; ok {
		return exists(rec.Identity)
	}
	m.records[rec.Identity] = rec.Clone()
	return nil
}

func (m *Memory) Get(id job.Identity) (*job.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec.Clone(), nil
}

func (m *Memory) Update(id job.Identity, fn UpdateFunc) (*job.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[id]
	if !ok {
		return nil, notFound(id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Identity = id
	m.records[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(id job.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) List() ([]*job.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.DispatchRecord, 0, len(m.records))
	for _, id := range slices.Sorted(maps.Keys(m.records)) {
		out = append(out, m.records[id].Clone())
	}
	return out, nil
}

func (m *Memory) InFlight() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.records {
		if !rec.Phase.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
