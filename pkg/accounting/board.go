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

package accounting

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

// Board holds the latest outcome per identity.
type Board struct {
	mu       sync.RWMutex
	outcomes map[job.Identity]Outcome
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{outcomes: make(map[job.Identity]Outcome)}
}

func (b *Board) Report(_ context.Context, o Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes[o.Identity] = o
	return nil
}

// Lookup returns the outcome reported for id.
func (b *Board) Lookup(id job.Identity) (Outcome, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.outcomes[id]
	return o, ok
}

// Forget drops the outcome for id.
func (b *Board) Forget(id job.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.outcomes, id)
}

// List returns all outcomes ordered by identity.
func (b *Board) List() []Outcome {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Outcome, 0, len(b.outcomes))
	for _, id := range slices.Sorted(maps.Keys(b.outcomes)) {
		out = append(out, b.outcomes[id])
	}
	return out
}
