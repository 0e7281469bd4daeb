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

// Package store holds the DispatchRecord table shared by the gate, the
// dispatcher and the reconciler.
//
// There is exactly one record per job identity: Create is create-if-absent and
// Update applies a read-modify-write atomically per record. Records handed out
// by a Store are copies; mutating them has no effect until written back with
// Update.
package store

import (
	"errors"
	"fmt"

	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
)

var (
	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = apperrors.New(apperrors.ErrCodeNotFound, "dispatch record not found")
	// ErrExists is returned by Create when a record already exists.
	ErrExists = apperrors.New(apperrors.ErrCodeConflict, "dispatch record already exists")
	// ErrUnchanged may be returned by an UpdateFunc to leave the record as is.
	// Update passes it through so callers can tell a skip from a failure.
	ErrUnchanged = errors.New("record unchanged")
)

// UpdateFunc mutates a record in place. Returning an error aborts the update.
type UpdateFunc func(rec *job.DispatchRecord) error

// Store is the DispatchRecord table.
type Store interface {
	// Create inserts rec unless a record with the same identity exists.
	Create(rec *job.DispatchRecord) error
	// Get returns a copy of the record for id.
	Get(id job.Identity) (*job.DispatchRecord, error)
	// Update atomically applies fn to the record for id and returns the result.
	Update(id job.Identity, fn UpdateFunc) (*job.DispatchRecord, error)
	// Delete removes the record for id. Deleting a missing record is not an error.
	Delete(id job.Identity) error
	// List returns copies of all records ordered by identity.
	List() ([]*job.DispatchRecord, error)
	// InFlight counts records in a non-terminal phase.
	InFlight() (int, error)
	// Close releases resources held by the store.
	Close() error
}

func notFound(id job.Identity) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func exists(id job.Identity) error {
	return fmt.Errorf("%w: %s", ErrExists, id)
}
