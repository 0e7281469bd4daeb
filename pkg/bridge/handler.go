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

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/NVIDIA/slurm-k8s-bridge/pkg/api"
	apperrors "github.com/NVIDIA/slurm-k8s-bridge/pkg/errors"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/job"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/serializer"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/server"
	"github.com/NVIDIA/slurm-k8s-bridge/pkg/store"
)

// maxSubmitBody bounds a submission body; batch scripts are small.
const maxSubmitBody = 1 << 20

// handleSubmit evaluates a scheduler submission within the gate budget.
// Every verdict is answered with 200 so the plugin always gets an action.
func (b *Bridge) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), b.cfg.Server.GateBudget.D())
	defer cancel()
	defer r.Body.Close()

	var d job.SubmissionDescriptor
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody)).Decode(&d); err != nil {
		server.WriteError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest,
			"Invalid submission descriptor", false, map[string]any{
				"error": err.Error(),
			})
		return
	}
	if d.Cluster == "" {
		d.Cluster = b.cfg.Cluster
	}

	decision := b.gate.Evaluate(ctx, d)
	serializer.RespondJSON(w, http.StatusOK, api.NewSubmitResponse(decision))
}

// handleStatus reports the phase of a delegated job. A record already
// removed by retention is answered from the status board while it lasts.
func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	rec, err := b.deps.Store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		if o, found := b.board.Lookup(id); found {
			code := o.ExitCode()
			serializer.RespondJSON(w, http.StatusOK, api.JobStatus{
				Identity:   o.Identity,
				Phase:      o.Phase,
				Terminal:   true,
				Object:     o.Object,
				Reason:     o.Reason,
				ErrorCode:  o.ErrorCode,
				Attempts:   o.Attempts,
				ExitCode:   &code,
				TerminalAt: o.At,
			})
			return
		}
	}
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "Failed to read job status", map[string]any{"identity": id.String()})
		return
	}

	serializer.RespondJSON(w, http.StatusOK, api.StatusOf(rec))
}

// handleCancel cancels a delegated job on behalf of the scheduler.
func (b *Bridge) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(w, r)
	if !ok {
		return
	}

	rec, err := b.dispatcher.Cancel(r.Context(), id)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "Failed to cancel job", map[string]any{"identity": id.String()})
		return
	}

	slog.Debug("cancel handled", "identity", id.String(), "phase", rec.Phase)
	serializer.RespondJSON(w, http.StatusOK, api.StatusOf(rec))
}

// handleRecords lists dispatch records, optionally filtered by ?phase=.
func (b *Bridge) handleRecords(w http.ResponseWriter, r *http.Request) {
	phase := job.Phase(r.URL.Query().Get("phase"))
	if phase != "" && !phase.IsValid() {
		server.WriteError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest,
			"Invalid phase", false, map[string]any{"phase": string(phase)})
		return
	}

	recs, err := b.deps.Store.List()
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "Failed to list records", nil)
		return
	}

	out := make([]*job.DispatchRecord, 0, len(recs))
	for _, rec := range recs {
		if phase == "" || rec.Phase == phase {
			out = append(out, rec)
		}
	}
	serializer.RespondJSON(w, http.StatusOK, api.RecordList{Count: len(out), Records: out})
}

func identityFrom(w http.ResponseWriter, r *http.Request) (job.Identity, bool) {
	cluster, id := r.PathValue("cluster"), r.PathValue("id")
	if cluster == "" || id == "" {
		server.WriteError(w, r, http.StatusBadRequest, apperrors.ErrCodeInvalidRequest,
			"Job identity requires a cluster and an id", false, nil)
		return "", false
	}
	return job.NewIdentity(cluster, id), true
}
