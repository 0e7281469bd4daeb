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
	"errors"
	"fmt"
	"log/slog"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

// ReportOnce delivers the terminal outcome of the record for id at most once.
// The record's Reported flag is claimed under the store's atomic update before
// delivery and released again when delivery fails, so a later call retries.
// It reports whether this call delivered the outcome.
func ReportOnce(ctx context.Context, st store.Store, acct Accountant, id job.Identity) (bool, error) {
	rec, err := st.Update(id, func(r *job.DispatchRecord) error {
		if !r.Phase.IsTerminal() || r.Reported {
			return store.ErrUnchanged
		}
		r.Reported = true
		return nil
	})
	if errors.Is(err, store.ErrUnchanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := acct.Report(ctx, OutcomeOf(rec)); err != nil {
		if _, uerr := st.Update(id, func(r *job.DispatchRecord) error {
			r.Reported = false
			return nil
		}); uerr != nil {
			slog.Warn("failed to release report claim", "identity", id.String(), "error", uerr)
		}
		return false, fmt.Errorf("failed to report outcome of %s: %w", id, err)
	}

	slog.Info("reported job outcome", "identity", id.String(), "phase", rec.Phase.String())
	return true, nil
}
